package supabase

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Client Construction
// =============================================================================

func TestNewValidation(t *testing.T) {
	_, err := New(Config{APIKey: "key"})
	assert.Error(t, err, "URL is required")

	_, err = New(Config{URL: "https://example.supabase.co"})
	assert.Error(t, err, "APIKey is required")

	c, err := New(Config{URL: "https://example.supabase.co/", APIKey: "key"})
	require.NoError(t, err)
	assert.Equal(t, "https://example.supabase.co", c.baseURL, "trailing slash is trimmed")
	assert.NotNil(t, c.Auth())
	assert.NotNil(t, c.Realtime())
}

// =============================================================================
// Headers
// =============================================================================

func TestSetHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	c, err := New(Config{URL: srv.URL, APIKey: "anon-key"})
	require.NoError(t, err)

	_, err = c.From("food_items").Select("*").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "anon-key", got.Get("apikey"))
	assert.Equal(t, "Bearer anon-key", got.Get("Authorization"), "anon key doubles as bearer token")

	_, err = c.From("orders").Select("*").WithToken("user-token").Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "anon-key", got.Get("apikey"))
	assert.Equal(t, "Bearer user-token", got.Get("Authorization"), "user token replaces the key")
}

// =============================================================================
// Error Parsing
// =============================================================================

func TestParseError(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"postgrest", `{"code":"42P01","message":"relation does not exist","details":"d"}`, "relation does not exist: d"},
		{"gotrue msg", `{"msg":"User already registered"}`, "User already registered"},
		{"gotrue oauth", `{"error":"invalid_grant","error_description":"Invalid login credentials"}`, "Invalid login credentials"},
		{"not json", `gateway timeout`, "gateway timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseError([]byte(tt.body), 400)
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())

			var apiErr *Error
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 400, apiErr.StatusCode)
		})
	}
}

func TestResponseErr(t *testing.T) {
	ok := &Response{StatusCode: 200, Body: []byte(`[]`)}
	assert.NoError(t, ok.Err())

	bad := &Response{StatusCode: 404, Body: []byte(`{"message":"not found"}`)}
	err := bad.Err()
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
}
