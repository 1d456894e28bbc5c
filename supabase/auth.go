package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// AuthClient handles GoTrue auth operations and fans session lifecycle
// transitions out to registered auth-state listeners.
type AuthClient struct {
	client *Client

	mu        sync.Mutex
	listeners map[int]AuthStateHandler
	nextID    int
}

// OnAuthStateChange registers a listener for session lifecycle events.
// The returned function deregisters it.
func (a *AuthClient) OnAuthStateChange(h AuthStateHandler) (unsubscribe func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listeners == nil {
		a.listeners = make(map[int]AuthStateHandler)
	}
	id := a.nextID
	a.nextID++
	a.listeners[id] = h

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.listeners, id)
	}
}

// emit delivers an event to every registered listener, synchronously and
// outside the registry lock so listeners may deregister themselves.
func (a *AuthClient) emit(event AuthEvent, session *Session) {
	a.mu.Lock()
	handlers := make([]AuthStateHandler, 0, len(a.listeners))
	for _, h := range a.listeners {
		handlers = append(handlers, h)
	}
	a.mu.Unlock()

	for _, h := range handlers {
		h(event, session)
	}
}

// SignUp creates a new user. When email confirmation is disabled on the
// project a session is returned immediately.
func (a *AuthClient) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	session, err := a.tokenRequest(ctx, a.client.baseURL+"/auth/v1/signup", req)
	if err != nil {
		return nil, err
	}
	if session.AccessToken != "" {
		a.emit(AuthSignedIn, session)
	}
	return session, nil
}

// SignInWithPassword authenticates a user with email/password.
func (a *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	body := map[string]string{"email": email, "password": password}
	session, err := a.tokenRequest(ctx, a.client.baseURL+"/auth/v1/token?grant_type=password", body)
	if err != nil {
		return nil, err
	}
	a.emit(AuthSignedIn, session)
	return session, nil
}

// RefreshToken exchanges a refresh token for a fresh session.
func (a *AuthClient) RefreshToken(ctx context.Context, refreshToken string) (*Session, error) {
	body := map[string]string{"refresh_token": refreshToken}
	session, err := a.tokenRequest(ctx, a.client.baseURL+"/auth/v1/token?grant_type=refresh_token", body)
	if err != nil {
		return nil, err
	}
	a.emit(AuthTokenRefreshed, session)
	return session, nil
}

// GetUser retrieves the user for an access token.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.client.setHeaders(req, accessToken)

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &user, nil
}

// SignOut revokes the session's refresh token.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	a.client.setHeaders(req, accessToken)

	resp, err := a.client.do(req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}

	a.emit(AuthSignedOut, nil)
	return nil
}

// tokenRequest posts a JSON body to an auth endpoint and decodes a session.
func (a *AuthClient) tokenRequest(ctx context.Context, url string, body any) (*Session, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	a.client.setHeaders(req, "")
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &session, nil
}
