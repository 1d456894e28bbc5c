package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// heartbeatInterval matches the Phoenix server's expected cadence.
const heartbeatInterval = 30 * time.Second

// RealtimeClient maintains a WebSocket connection to the Realtime server
// and multiplexes postgres change channels over it.
type RealtimeClient struct {
	mu          sync.Mutex
	url         string
	apiKey      string
	accessToken string
	conn        *websocket.Conn
	channels    map[string]*Channel
	done        chan struct{}
	ref         int
}

// ChangeHandler handles row change events.
type ChangeHandler func(event ChangeEvent)

// PostgresChangesConfig scopes a subscription to a table and filter.
// The filter is baked into the subscription at join time.
type PostgresChangesConfig struct {
	Event  ChangeType // INSERT, UPDATE, DELETE or *
	Schema string
	Table  string
	Filter string // optional PostgREST-style filter, e.g. "user_id=eq.abc"
}

// Channel is a joined realtime channel.
type Channel struct {
	client  *RealtimeClient
	topic   string
	config  PostgresChangesConfig
	handler ChangeHandler
	joined  bool
	joinRef string
}

// Topic returns the channel's topic string.
func (c *Channel) Topic() string { return c.topic }

func newRealtimeClient(baseURL, apiKey string) *RealtimeClient {
	wsURL := baseURL
	if strings.HasPrefix(wsURL, "https") {
		wsURL = "wss" + wsURL[len("https"):]
	} else if strings.HasPrefix(wsURL, "http") {
		wsURL = "ws" + wsURL[len("http"):]
	}
	wsURL += "/realtime/v1/websocket?apikey=" + apiKey + "&vsn=1.0.0"

	return &RealtimeClient{
		url:      wsURL,
		apiKey:   apiKey,
		channels: make(map[string]*Channel),
	}
}

// SetAuth sets the user access token attached to subsequent joins, so the
// server applies row level security to delivered changes.
func (r *RealtimeClient) SetAuth(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accessToken = token
}

// Connect establishes the WebSocket connection. It is a no-op when already
// connected.
func (r *RealtimeClient) Connect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, r.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	r.conn = conn
	r.done = make(chan struct{})

	go r.readLoop(conn, r.done)
	go r.heartbeat(r.done)

	return nil
}

// Connected reports whether the WebSocket connection is up.
func (r *RealtimeClient) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// Disconnect closes the connection and forgets all channels.
func (r *RealtimeClient) Disconnect() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}

	close(r.done)
	_ = r.conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	err := r.conn.Close()
	r.conn = nil
	r.channels = make(map[string]*Channel)
	return err
}

// SubscribeToPostgresChanges joins a channel scoped to cfg and dispatches
// matching change events to handler.
func (r *RealtimeClient) SubscribeToPostgresChanges(ctx context.Context, cfg PostgresChangesConfig, handler ChangeHandler) (*Channel, error) {
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.Event == "" {
		cfg.Event = ChangeAll
	}

	topic := fmt.Sprintf("realtime:%s:%s", cfg.Schema, cfg.Table)
	if cfg.Filter != "" {
		topic += ":" + cfg.Filter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil, fmt.Errorf("realtime not connected")
	}
	if ch, ok := r.channels[topic]; ok {
		return ch, nil
	}

	r.ref++
	ref := fmt.Sprintf("%d", r.ref)

	join := map[string]any{
		"topic": topic,
		"event": "phx_join",
		"payload": map[string]any{
			"config": map[string]any{
				"postgres_changes": []map[string]any{{
					"event":  string(cfg.Event),
					"schema": cfg.Schema,
					"table":  cfg.Table,
					"filter": cfg.Filter,
				}},
			},
			"access_token": r.accessToken,
		},
		"ref":      ref,
		"join_ref": ref,
	}
	if err := r.conn.WriteJSON(join); err != nil {
		return nil, fmt.Errorf("send join: %w", err)
	}

	ch := &Channel{
		client:  r,
		topic:   topic,
		config:  cfg,
		handler: handler,
		joined:  true,
		joinRef: ref,
	}
	r.channels[topic] = ch
	return ch, nil
}

// Unsubscribe leaves the channel.
func (c *Channel) Unsubscribe(ctx context.Context) error {
	r := c.client
	r.mu.Lock()
	defer r.mu.Unlock()

	if !c.joined {
		return nil
	}
	c.joined = false
	delete(r.channels, c.topic)

	if r.conn == nil {
		return nil
	}
	r.ref++
	leave := map[string]any{
		"topic":    c.topic,
		"event":    "phx_leave",
		"payload":  map[string]any{},
		"ref":      fmt.Sprintf("%d", r.ref),
		"join_ref": c.joinRef,
	}
	if err := r.conn.WriteJSON(leave); err != nil {
		return fmt.Errorf("send leave: %w", err)
	}
	return nil
}

// ActiveChannels returns the number of joined channels.
func (r *RealtimeClient) ActiveChannels() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// readLoop reads server messages until the connection goes away. Delivery
// order is whatever the transport delivers; events are not buffered,
// reordered or deduplicated.
func (r *RealtimeClient) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		r.dispatch(message)
	}
}

// dispatch routes a postgres change message to the owning channel's handler.
func (r *RealtimeClient) dispatch(message []byte) {
	event := gjson.GetBytes(message, "event").String()
	if event != "postgres_changes" {
		return // phx_reply, presence and system messages are not surfaced
	}

	topic := gjson.GetBytes(message, "topic").String()
	data := gjson.GetBytes(message, "payload.data")

	ev := ChangeEvent{
		Type:      ChangeType(data.Get("type").String()),
		Schema:    data.Get("schema").String(),
		Table:     data.Get("table").String(),
		Timestamp: time.Now().UTC(),
	}
	if rec := data.Get("record"); rec.Exists() {
		ev.Record = json.RawMessage(rec.Raw)
	}
	if old := data.Get("old_record"); old.Exists() {
		ev.OldRecord = json.RawMessage(old.Raw)
	}

	r.mu.Lock()
	ch := r.channels[topic]
	r.mu.Unlock()

	if ch == nil || ch.handler == nil {
		return
	}
	if ch.config.Event != ChangeAll && ch.config.Event != ev.Type {
		return
	}
	go ch.handler(ev)
}

func (r *RealtimeClient) heartbeat(done chan struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.mu.Lock()
			if r.conn != nil {
				r.ref++
				_ = r.conn.WriteJSON(map[string]any{
					"topic":   "phoenix",
					"event":   "heartbeat",
					"payload": map[string]any{},
					"ref":     fmt.Sprintf("%d", r.ref),
				})
			}
			r.mu.Unlock()
		}
	}
}
