// Package session owns the auth session: restoring it at startup,
// keeping it fresh, and broadcasting every transition to consumers.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/iorgasnack/snackapp/pkg/logger"
	"github.com/iorgasnack/snackapp/supabase"
)

// State is the store's readiness state. Consumers gate rendering on it:
// nothing session-dependent happens before the store leaves StateLoading.
type State int

const (
	// StateLoading means the initial restore has not finished.
	StateLoading State = iota
	// StateReady means the restore finished; the session may be nil.
	StateReady
	// StateFailed means the restore errored. Retry re-runs it.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Change is a session transition. Session is nil when signed out.
type Change struct {
	State   State
	Session *supabase.Session
}

// refreshLeeway is how long before token expiry a refresh is scheduled.
const refreshLeeway = 30 * time.Second

// ErrNotSignedIn is returned by operations that need a session.
var ErrNotSignedIn = errors.New("not signed in")

// Store holds the current session and keeps it fresh. All transitions
// flow through the auth client's state listener, so a sign-in performed
// anywhere lands here exactly once.
type Store struct {
	client *supabase.Client
	log    *logger.Logger

	mu           sync.Mutex
	state        State
	session      *supabase.Session
	lastErr      error
	refreshToken string
	timer        *time.Timer
	unsubscribe  func()
	closed       bool

	changes chan Change
}

// NewStore creates a session store over client.
func NewStore(client *supabase.Client, log *logger.Logger) *Store {
	return &Store{
		client:  client,
		log:     log,
		state:   StateLoading,
		changes: make(chan Change, 16),
	}
}

// Start registers the store's auth listener and restores the previous
// session from refreshToken. An empty token resolves immediately to a
// signed-out ready state. Start must be called once.
func (s *Store) Start(ctx context.Context, refreshToken string) {
	s.mu.Lock()
	if s.unsubscribe == nil {
		s.unsubscribe = s.client.Auth().OnAuthStateChange(s.onAuthChange)
	}
	s.refreshToken = refreshToken
	s.mu.Unlock()

	s.restore(ctx)
}

// Retry re-runs the initial restore after a failure. It is a no-op unless
// the store is in StateFailed.
func (s *Store) Retry(ctx context.Context) {
	s.mu.Lock()
	if s.state != StateFailed {
		s.mu.Unlock()
		return
	}
	s.state = StateLoading
	s.lastErr = nil
	s.mu.Unlock()

	s.emit(Change{State: StateLoading})
	s.restore(ctx)
}

// restore exchanges the stored refresh token for a session. The listener
// moves the store to ready on success; failures land in StateFailed so
// the caller can distinguish "signed out" from "could not find out".
func (s *Store) restore(ctx context.Context) {
	s.mu.Lock()
	token := s.refreshToken
	s.mu.Unlock()

	if token == "" {
		s.setReady(nil)
		return
	}

	if _, err := s.client.Auth().RefreshToken(ctx, token); err != nil {
		var apiErr *supabase.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			// The token was rejected, not lost in transit. Treat the
			// user as signed out rather than blocking the app.
			s.log.Warn("stored session rejected, starting signed out", "error", err)
			s.setReady(nil)
			return
		}
		s.log.Error("session restore failed", "error", err)
		s.setFailed(err)
	}
}

// onAuthChange is the single auth-state listener. It must not be invoked
// while holding s.mu; the auth client emits outside its own lock.
func (s *Store) onAuthChange(event supabase.AuthEvent, session *supabase.Session) {
	switch event {
	case supabase.AuthSignedIn, supabase.AuthTokenRefreshed:
		s.mu.Lock()
		if session != nil {
			s.refreshToken = session.RefreshToken
		}
		s.mu.Unlock()
		s.setReady(session)
		s.scheduleRefresh(session)
	case supabase.AuthSignedOut:
		s.mu.Lock()
		s.refreshToken = ""
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.mu.Unlock()
		s.setReady(nil)
	}
}

// SignIn authenticates with email and password. State flows through the
// auth listener.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	_, err := s.client.Auth().SignInWithPassword(ctx, email, password)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

// SignUp registers a new account with a display name, then writes the
// matching profiles row. The account exists even if the profile write
// fails, so that error is surfaced separately by the caller.
func (s *Store) SignUp(ctx context.Context, email, password, fullName string) error {
	session, err := s.client.Auth().SignUp(ctx, supabase.SignUpRequest{
		Email:    email,
		Password: password,
		Data:     map[string]any{"full_name": fullName},
	})
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	if session.AccessToken == "" {
		// Email confirmation is on; no session until the user confirms.
		return nil
	}

	profile := map[string]any{"id": session.User.ID, "full_name": fullName}
	_, err = s.client.From("profiles").Insert(profile).WithToken(session.AccessToken).Execute(ctx)
	if err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// SignOut ends the session.
func (s *Store) SignOut(ctx context.Context) error {
	s.mu.Lock()
	session := s.session
	s.mu.Unlock()
	if session == nil {
		return ErrNotSignedIn
	}
	if err := s.client.Auth().SignOut(ctx, session.AccessToken); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Session returns the current session, nil when signed out.
func (s *Store) Session() *supabase.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// State returns the store's readiness state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error behind StateFailed, nil otherwise.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Changes returns the transition stream. Slow consumers drop transitions
// rather than block the store; each Change carries the full state so a
// dropped intermediate is recoverable.
func (s *Store) Changes() <-chan Change {
	return s.changes
}

// Close deregisters the listener and stops the refresh timer. No
// transitions are delivered after Close returns.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsub != nil {
		unsub()
	}
}

func (s *Store) setReady(session *supabase.Session) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	s.session = session
	s.lastErr = nil
	s.mu.Unlock()

	s.emit(Change{State: StateReady, Session: session})
}

func (s *Store) setFailed(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.session = nil
	s.lastErr = err
	s.mu.Unlock()

	s.emit(Change{State: StateFailed})
}

func (s *Store) emit(c Change) {
	select {
	case s.changes <- c:
	default:
		s.log.Warn("session change dropped, consumer too slow", "state", c.State.String())
	}
}

// scheduleRefresh arms a timer to refresh the session shortly before the
// access token expires. The expiry is read from the token's unverified
// claims; the server remains the authority on validity.
func (s *Store) scheduleRefresh(session *supabase.Session) {
	if session == nil || session.RefreshToken == "" {
		return
	}

	var expiry time.Time
	if session.ExpiresAt > 0 {
		expiry = time.Unix(session.ExpiresAt, 0)
	} else {
		claims := jwt.MapClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(session.AccessToken, claims); err != nil {
			s.log.Warn("cannot schedule refresh, opaque access token", "error", err)
			return
		}
		exp, err := claims.GetExpirationTime()
		if err != nil || exp == nil {
			return
		}
		expiry = exp.Time
	}

	delay := time.Until(expiry) - refreshLeeway
	if delay < time.Second {
		delay = time.Second
	}

	token := session.RefreshToken
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}
		if _, err := s.client.Auth().RefreshToken(context.Background(), token); err != nil {
			s.log.Error("session refresh failed, signing out", "error", err)
			s.mu.Lock()
			s.refreshToken = ""
			s.mu.Unlock()
			s.setReady(nil)
		}
	})
	s.mu.Unlock()
}
