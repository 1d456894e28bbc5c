// Package supabase provides a client for a hosted Supabase project:
// GoTrue auth, PostgREST row access and realtime change subscriptions.
package supabase

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Auth Types
// =============================================================================

// User represents an authenticated user.
type User struct {
	ID               string         `json:"id"`
	Aud              string         `json:"aud,omitempty"`
	Role             string         `json:"role,omitempty"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time     `json:"last_sign_in_at,omitempty"`
	AppMetadata      map[string]any `json:"app_metadata,omitempty"`
	UserMetadata     map[string]any `json:"user_metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Session represents an auth session. The access token is opaque to the
// application beyond the contained user identity.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user,omitempty"`
}

// SignUpRequest for user registration. Data becomes the user metadata.
type SignUpRequest struct {
	Email    string         `json:"email"`
	Password string         `json:"password"`
	Data     map[string]any `json:"data,omitempty"`
}

// AuthEvent identifies a session lifecycle transition.
type AuthEvent string

const (
	AuthSignedIn       AuthEvent = "SIGNED_IN"
	AuthSignedOut      AuthEvent = "SIGNED_OUT"
	AuthTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
)

// AuthStateHandler receives auth state change events. The session is nil
// for AuthSignedOut.
type AuthStateHandler func(event AuthEvent, session *Session)

// =============================================================================
// Database Types
// =============================================================================

// OrderDirection for sorting.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// =============================================================================
// Realtime Types
// =============================================================================

// ChangeType identifies a row change kind.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
	ChangeAll    ChangeType = "*"
)

// ChangeEvent is a row change delivered over a realtime channel.
type ChangeEvent struct {
	Type      ChangeType      `json:"type"`
	Schema    string          `json:"schema"`
	Table     string          `json:"table"`
	Record    json.RawMessage `json:"record,omitempty"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// =============================================================================
// Error Types
// =============================================================================

// Error represents a Supabase API error.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	Hint       string `json:"hint,omitempty"`
	StatusCode int    `json:"status_code"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

// NewError creates a new API error.
func NewError(code, message string, statusCode int) *Error {
	return &Error{Code: code, Message: message, StatusCode: statusCode}
}

// Common errors.
var (
	ErrUnauthorized = NewError("unauthorized", "unauthorized", 401)
	ErrForbidden    = NewError("forbidden", "forbidden", 403)
	ErrNotFound     = NewError("not_found", "resource not found", 404)
	ErrConflict     = NewError("conflict", "resource already exists", 409)
)

// parseError parses an error response body into an *Error.
func parseError(body []byte, statusCode int) error {
	var errResp struct {
		Code             string `json:"code"`
		Message          string `json:"message"`
		Details          string `json:"details"`
		Hint             string `json:"hint"`
		Err              string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
	}

	if err := json.Unmarshal(body, &errResp); err != nil {
		return &Error{Code: "unknown", Message: string(body), StatusCode: statusCode}
	}

	msg := errResp.Message
	if msg == "" {
		msg = errResp.Msg
	}
	if msg == "" {
		msg = errResp.ErrorDescription
	}
	if msg == "" {
		msg = errResp.Err
	}

	return &Error{
		Code:       errResp.Code,
		Message:    msg,
		Details:    errResp.Details,
		Hint:       errResp.Hint,
		StatusCode: statusCode,
	}
}
