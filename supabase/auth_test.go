package supabase_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iorgasnack/snackapp/supabase"
	"github.com/iorgasnack/snackapp/supabase/supabasetest"
)

// =============================================================================
// Sign Up / Sign In
// =============================================================================

func TestSignUpAndSignIn(t *testing.T) {
	srv := supabasetest.New()
	defer srv.Close()
	client := srv.Client()
	ctx := context.Background()

	session, err := client.Auth().SignUp(ctx, supabase.SignUpRequest{
		Email:    "a@x.com",
		Password: "secret1",
		Data:     map[string]any{"full_name": "Ann"},
	})
	require.NoError(t, err)
	require.NotNil(t, session.User)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, "a@x.com", session.User.Email)
	assert.Equal(t, "Ann", session.User.UserMetadata["full_name"])

	_, err = client.Auth().SignUp(ctx, supabase.SignUpRequest{Email: "a@x.com", Password: "other"})
	require.Error(t, err, "duplicate email is rejected")

	_, err = client.Auth().SignInWithPassword(ctx, "a@x.com", "wrong")
	require.Error(t, err)
	var apiErr *supabase.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Invalid login credentials", apiErr.Message)

	signed, err := client.Auth().SignInWithPassword(ctx, "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, signed.User.ID)
}

func TestRefreshToken(t *testing.T) {
	srv := supabasetest.New()
	defer srv.Close()
	client := srv.Client()
	ctx := context.Background()

	session, err := client.Auth().SignUp(ctx, supabase.SignUpRequest{Email: "b@x.com", Password: "secret1"})
	require.NoError(t, err)

	refreshed, err := client.Auth().RefreshToken(ctx, session.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, refreshed.User.ID)
	assert.NotEqual(t, session.RefreshToken, refreshed.RefreshToken, "refresh tokens rotate")

	_, err = client.Auth().RefreshToken(ctx, session.RefreshToken)
	require.Error(t, err, "a used refresh token is dead")
}

func TestGetUser(t *testing.T) {
	srv := supabasetest.New()
	defer srv.Close()
	client := srv.Client()
	ctx := context.Background()

	session, err := client.Auth().SignUp(ctx, supabase.SignUpRequest{Email: "c@x.com", Password: "secret1"})
	require.NoError(t, err)

	user, err := client.Auth().GetUser(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "c@x.com", user.Email)

	_, err = client.Auth().GetUser(ctx, "garbage")
	require.Error(t, err)
}

// =============================================================================
// Auth State Listeners
// =============================================================================

func TestAuthStateListeners(t *testing.T) {
	srv := supabasetest.New()
	defer srv.Close()
	client := srv.Client()
	ctx := context.Background()

	var mu sync.Mutex
	var events []supabase.AuthEvent
	var lastSession *supabase.Session
	unsubscribe := client.Auth().OnAuthStateChange(func(ev supabase.AuthEvent, s *supabase.Session) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
		lastSession = s
	})

	session, err := client.Auth().SignUp(ctx, supabase.SignUpRequest{Email: "d@x.com", Password: "secret1"})
	require.NoError(t, err)

	_, err = client.Auth().RefreshToken(ctx, session.RefreshToken)
	require.NoError(t, err)

	require.NoError(t, client.Auth().SignOut(ctx, session.AccessToken))

	mu.Lock()
	assert.Equal(t, []supabase.AuthEvent{
		supabase.AuthSignedIn,
		supabase.AuthTokenRefreshed,
		supabase.AuthSignedOut,
	}, events)
	assert.Nil(t, lastSession, "signed out delivers a nil session")
	mu.Unlock()

	unsubscribe()
	_, err = client.Auth().SignInWithPassword(ctx, "d@x.com", "secret1")
	require.NoError(t, err)

	mu.Lock()
	assert.Len(t, events, 3, "no delivery after unsubscribe")
	mu.Unlock()
}
