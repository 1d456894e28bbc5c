package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/http/httputil"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iorgasnack/snackapp/pkg/logger"
	"github.com/iorgasnack/snackapp/supabase"
	"github.com/iorgasnack/snackapp/supabase/supabasetest"
)

func newStore(t *testing.T) (*supabasetest.Server, *Store) {
	t.Helper()
	srv := supabasetest.New()
	t.Cleanup(srv.Close)

	store := NewStore(srv.Client(), logger.NewNop())
	t.Cleanup(store.Close)
	return srv, store
}

func nextChange(t *testing.T, store *Store) Change {
	t.Helper()
	select {
	case c := <-store.Changes():
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no session change arrived")
		return Change{}
	}
}

// =============================================================================
// Startup Restore
// =============================================================================

func TestStartWithoutToken(t *testing.T) {
	_, store := newStore(t)
	require.Equal(t, StateLoading, store.State())

	store.Start(context.Background(), "")
	assert.Equal(t, StateReady, store.State())
	assert.Nil(t, store.Session(), "no token means signed out, not failed")

	c := nextChange(t, store)
	assert.Equal(t, StateReady, c.State)
	assert.Nil(t, c.Session)
}

func TestStartRestoresSession(t *testing.T) {
	srv, store := newStore(t)
	ctx := context.Background()

	seed, err := srv.Client().Auth().SignUp(ctx, supabase.SignUpRequest{Email: "a@x.com", Password: "secret1"})
	require.NoError(t, err)

	store.Start(ctx, seed.RefreshToken)
	require.Equal(t, StateReady, store.State())
	require.NotNil(t, store.Session())
	assert.Equal(t, seed.User.ID, store.Session().User.ID)
}

func TestStartWithRejectedToken(t *testing.T) {
	_, store := newStore(t)

	store.Start(context.Background(), "expired-or-revoked")
	assert.Equal(t, StateReady, store.State(), "a rejected token is signed out, not an outage")
	assert.Nil(t, store.Session())
}

func TestStartFailureAndRetry(t *testing.T) {
	var broken atomic.Bool
	backend := supabasetest.New()
	defer backend.Close()

	target, err := url.Parse(backend.URL)
	require.NoError(t, err)
	forward := httputil.NewSingleHostReverseProxy(target)

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if broken.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"message":"unavailable"}`))
			return
		}
		forward.ServeHTTP(w, r)
	}))
	defer proxy.Close()

	client, err := supabase.New(supabase.Config{URL: proxy.URL, APIKey: supabasetest.AnonKey})
	require.NoError(t, err)
	ctx := context.Background()

	seed, err := client.Auth().SignUp(ctx, supabase.SignUpRequest{Email: "b@x.com", Password: "secret1"})
	require.NoError(t, err)

	store := NewStore(client, logger.NewNop())
	defer store.Close()

	broken.Store(true)
	store.Start(ctx, seed.RefreshToken)
	require.Equal(t, StateFailed, store.State())
	require.Error(t, store.Err())

	broken.Store(false)
	store.Retry(ctx)
	assert.Equal(t, StateReady, store.State())
	require.NotNil(t, store.Session())
	assert.Equal(t, seed.User.ID, store.Session().User.ID)
}

func TestRetryOnlyFromFailed(t *testing.T) {
	_, store := newStore(t)
	store.Start(context.Background(), "")
	require.Equal(t, StateReady, store.State())

	store.Retry(context.Background())
	assert.Equal(t, StateReady, store.State(), "retry outside StateFailed is a no-op")
}

// =============================================================================
// Sign In / Sign Up / Sign Out
// =============================================================================

func TestSignInAndOut(t *testing.T) {
	srv, store := newStore(t)
	ctx := context.Background()

	_, err := srv.Client().Auth().SignUp(ctx, supabase.SignUpRequest{Email: "c@x.com", Password: "secret1"})
	require.NoError(t, err)

	store.Start(ctx, "")

	err = store.SignIn(ctx, "c@x.com", "nope")
	require.Error(t, err)
	assert.Equal(t, StateReady, store.State(), "a failed sign-in leaves the store usable")
	assert.Nil(t, store.Session())

	require.NoError(t, store.SignIn(ctx, "c@x.com", "secret1"))
	require.NotNil(t, store.Session())
	assert.Equal(t, "c@x.com", store.Session().User.Email)

	require.NoError(t, store.SignOut(ctx))
	assert.Nil(t, store.Session())
	assert.Equal(t, StateReady, store.State())

	assert.ErrorIs(t, store.SignOut(ctx), ErrNotSignedIn)
}

func TestSignUpCreatesProfile(t *testing.T) {
	srv, store := newStore(t)
	ctx := context.Background()

	store.Start(ctx, "")
	require.NoError(t, store.SignUp(ctx, "ann@x.com", "secret1", "Ann"))

	require.NotNil(t, store.Session())
	profiles := srv.Rows("profiles")
	require.Len(t, profiles, 1)
	assert.Equal(t, srv.UserID("ann@x.com"), profiles[0]["id"])
	assert.Equal(t, "Ann", profiles[0]["full_name"])
}

func TestSignUpProfileWriteFailure(t *testing.T) {
	srv, store := newStore(t)
	ctx := context.Background()

	store.Start(ctx, "")
	srv.FailNext("profiles", http.MethodPost, http.StatusInternalServerError, "out of disk")

	err := store.SignUp(ctx, "bob@x.com", "secret1", "Bob")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create profile")
	assert.NotNil(t, store.Session(), "the account exists even though the profile write failed")
	assert.Empty(t, srv.Rows("profiles"))
}

// =============================================================================
// Token Refresh
// =============================================================================

func TestBackgroundRefresh(t *testing.T) {
	srv := supabasetest.New()
	defer srv.Close()
	srv.TokenTTL = time.Second // forces a refresh almost immediately

	store := NewStore(srv.Client(), logger.NewNop())
	defer store.Close()
	ctx := context.Background()

	store.Start(ctx, "")
	require.NoError(t, store.SignUp(ctx, "d@x.com", "secret1", "Dee"))
	first := store.Session().AccessToken

	require.Eventually(t, func() bool {
		s := store.Session()
		return s != nil && s.AccessToken != first
	}, 5*time.Second, 50*time.Millisecond, "the session should rotate before expiry")
	assert.Equal(t, StateReady, store.State())
}
