package supabase

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a Supabase project client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	auth     *AuthClient
	realtime *RealtimeClient
}

// Config holds client configuration.
type Config struct {
	// URL is the project URL, e.g. https://xxx.supabase.co.
	URL string
	// APIKey is the anon (publishable) key sent on every request.
	APIKey string
	// HTTPClient overrides the default HTTP client.
	HTTPClient *http.Client
	// Timeout for the default HTTP client. Ignored when HTTPClient is set.
	Timeout time.Duration
}

// New creates a new Supabase client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
	c.auth = &AuthClient{client: c}
	c.realtime = newRealtimeClient(c.baseURL, c.apiKey)
	return c, nil
}

// Auth returns the auth client.
func (c *Client) Auth() *AuthClient {
	return c.auth
}

// Realtime returns the realtime client.
func (c *Client) Realtime() *RealtimeClient {
	return c.realtime
}

// From starts a query builder for a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table}
}

// =============================================================================
// Response Types
// =============================================================================

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// JSON unmarshals the response body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Err returns an *Error if the response indicates failure.
func (r *Response) Err() error {
	if r.StatusCode >= 400 {
		return parseError(r.Body, r.StatusCode)
	}
	return nil
}

// =============================================================================
// Internal Methods
// =============================================================================

// setHeaders applies the api key headers. An access token, when present,
// replaces the key in the Authorization header so RLS sees the user.
func (c *Client) setHeaders(req *http.Request, accessToken string) {
	req.Header.Set("apikey", c.apiKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Body:       body,
		Headers:    resp.Header,
	}, nil
}
