// Package supabasetest provides an in-memory fake Supabase project for
// tests: GoTrue auth endpoints, PostgREST row access for the snack schema
// (profiles, food_items, orders, order_items) and a realtime WebSocket
// endpoint that tests can push change events through.
package supabasetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iorgasnack/snackapp/supabase"
)

// AnonKey is the fake project's anon key.
const AnonKey = "test-anon-key"

// Row is a table row.
type Row = map[string]any

type fakeUser struct {
	id       string
	email    string
	password string
	metadata map[string]any
	created  time.Time
}

type failure struct {
	status  int
	message string
}

// Server is a fake Supabase project.
type Server struct {
	hs *httptest.Server

	// URL is the project URL to point clients at.
	URL string
	// JWTSecret signs minted access tokens.
	JWTSecret []byte
	// TokenTTL is the lifetime of minted access tokens.
	TokenTTL time.Duration

	mu           sync.Mutex
	usersByEmail map[string]*fakeUser
	usersByID    map[string]*fakeUser
	tokens       map[string]string // access token -> user id
	refresh      map[string]string // refresh token -> user id
	tables       map[string][]Row
	failures     map[string]failure // "table|METHOD" -> one-shot failure

	upgrader websocket.Upgrader
	conns    map[*wsConn]struct{}
}

type wsConn struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]bool
}

// New starts a fake project server.
func New() *Server {
	s := &Server{
		JWTSecret:    []byte("supabasetest-secret"),
		TokenTTL:     time.Hour,
		usersByEmail: make(map[string]*fakeUser),
		usersByID:    make(map[string]*fakeUser),
		tokens:       make(map[string]string),
		refresh:      make(map[string]string),
		tables:       make(map[string][]Row),
		failures:     make(map[string]failure),
		conns:        make(map[*wsConn]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", s.handleSignUp)
	mux.HandleFunc("/auth/v1/token", s.handleToken)
	mux.HandleFunc("/auth/v1/user", s.handleUser)
	mux.HandleFunc("/auth/v1/logout", s.handleLogout)
	mux.HandleFunc("/realtime/v1/websocket", s.handleRealtime)
	mux.HandleFunc("/rest/v1/", s.handleRest)

	s.hs = httptest.NewServer(mux)
	s.URL = s.hs.URL
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.hs.Close()
}

// Client returns a supabase client pointed at this server.
func (s *Server) Client() *supabase.Client {
	c, err := supabase.New(supabase.Config{URL: s.URL, APIKey: AnonKey})
	if err != nil {
		panic(err)
	}
	return c
}

// Seed appends rows to a table.
func (s *Server) Seed(table string, rows ...Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[table] = append(s.tables[table], rows...)
}

// Rows returns a snapshot of a table.
func (s *Server) Rows(table string) []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.tables[table]))
	copy(out, s.tables[table])
	return out
}

// SetRow replaces the value of a column in every row matching id.
func (s *Server) SetRow(table, id, column string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.tables[table] {
		if fmt.Sprint(row["id"]) == id {
			row[column] = value
		}
	}
}

// FailNext makes the next request for table+method fail once.
func (s *Server) FailNext(table, method string, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[table+"|"+method] = failure{status: status, message: message}
}

// UserID returns the id of a registered user.
func (s *Server) UserID(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.usersByEmail[email]; ok {
		return u.id
	}
	return ""
}

// =============================================================================
// Auth Endpoints
// =============================================================================

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string         `json:"email"`
		Password string         `json:"password"`
		Data     map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "invalid body"})
		return
	}

	s.mu.Lock()
	if _, exists := s.usersByEmail[req.Email]; exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"msg": "User already registered"})
		return
	}
	u := &fakeUser{
		id:       uuid.NewString(),
		email:    req.Email,
		password: req.Password,
		metadata: req.Data,
		created:  time.Now().UTC(),
	}
	s.usersByEmail[u.email] = u
	s.usersByID[u.id] = u
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, s.mintSession(u))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	grant := r.URL.Query().Get("grant_type")

	var req struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "invalid body"})
		return
	}

	switch grant {
	case "password":
		s.mu.Lock()
		u, ok := s.usersByEmail[req.Email]
		s.mu.Unlock()
		if !ok || u.password != req.Password {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid login credentials",
			})
			return
		}
		writeJSON(w, http.StatusOK, s.mintSession(u))
	case "refresh_token":
		s.mu.Lock()
		uid, ok := s.refresh[req.RefreshToken]
		if ok {
			delete(s.refresh, req.RefreshToken)
		}
		u := s.usersByID[uid]
		s.mu.Unlock()
		if !ok || u == nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid Refresh Token",
			})
			return
		}
		writeJSON(w, http.StatusOK, s.mintSession(u))
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "unsupported grant type"})
	}
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u := s.userForRequest(r)
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "invalid token"})
		return
	}
	writeJSON(w, http.StatusOK, s.userJSON(u))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) mintSession(u *fakeUser) *supabase.Session {
	now := time.Now()
	expiry := now.Add(s.TokenTTL)

	claims := jwt.MapClaims{
		"sub":   u.id,
		"email": u.email,
		"role":  "authenticated",
		"iat":   now.Unix(),
		"exp":   expiry.Unix(),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.JWTSecret)
	if err != nil {
		panic(err)
	}
	refreshToken := uuid.NewString()

	s.mu.Lock()
	s.tokens[access] = u.id
	s.refresh[refreshToken] = u.id
	s.mu.Unlock()

	return &supabase.Session{
		AccessToken:  access,
		TokenType:    "bearer",
		ExpiresIn:    int(s.TokenTTL.Seconds()),
		ExpiresAt:    expiry.Unix(),
		RefreshToken: refreshToken,
		User:         s.userJSON(u),
	}
}

func (s *Server) userJSON(u *fakeUser) *supabase.User {
	return &supabase.User{
		ID:           u.id,
		Aud:          "authenticated",
		Role:         "authenticated",
		Email:        u.email,
		UserMetadata: u.metadata,
		CreatedAt:    u.created,
		UpdatedAt:    u.created,
	}
}

func (s *Server) userForRequest(r *http.Request) *fakeUser {
	authz := r.Header.Get("Authorization")
	token := strings.TrimPrefix(authz, "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	if uid, ok := s.tokens[token]; ok {
		return s.usersByID[uid]
	}
	return nil
}

// =============================================================================
// PostgREST Endpoints
// =============================================================================

func (s *Server) handleRest(w http.ResponseWriter, r *http.Request) {
	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if table == "" || strings.Contains(table, "/") {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "unknown table"})
		return
	}
	if r.Header.Get("apikey") == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "No API key found in request"})
		return
	}

	s.mu.Lock()
	f, failing := s.failures[table+"|"+r.Method]
	if failing {
		delete(s.failures, table+"|"+r.Method)
	}
	s.mu.Unlock()
	if failing {
		writeJSON(w, f.status, map[string]any{"message": f.message})
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleSelect(w, r, table)
	case http.MethodPost:
		s.handleInsert(w, r, table)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"message": "method not supported"})
	}
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, table string) {
	q := r.URL.Query()

	s.mu.Lock()
	rows := make([]Row, 0, len(s.tables[table]))
	for _, row := range s.tables[table] {
		if matchFilters(row, q) {
			rows = append(rows, cloneRow(row))
		}
	}
	s.mu.Unlock()

	if order := q.Get("order"); order != "" {
		sortRows(rows, order)
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n < len(rows) {
			rows = rows[:n]
		}
	}

	sel := q.Get("select")
	for _, row := range rows {
		s.applyEmbeds(table, row, sel)
	}

	if wantsSingleObject(r) {
		if len(rows) != 1 {
			writeJSON(w, http.StatusNotAcceptable, map[string]any{
				"message": fmt.Sprintf("JSON object requested, multiple (or no) rows returned: %d", len(rows)),
			})
			return
		}
		writeJSON(w, http.StatusOK, rows[0])
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request, table string) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
		return
	}

	var rows []Row
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &rows); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
			return
		}
	} else {
		var row Row
		if err := json.Unmarshal(raw, &row); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid body"})
			return
		}
		rows = []Row{row}
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	s.mu.Lock()
	for _, row := range rows {
		if _, ok := row["id"]; !ok {
			row["id"] = uuid.NewString()
		}
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = now
		}
		if _, ok := row["updated_at"]; !ok {
			row["updated_at"] = now
		}
		s.tables[table] = append(s.tables[table], row)
	}
	s.mu.Unlock()

	out := make([]Row, len(rows))
	for i, row := range rows {
		out[i] = cloneRow(row)
	}

	if wantsSingleObject(r) {
		if len(out) != 1 {
			writeJSON(w, http.StatusNotAcceptable, map[string]any{"message": "JSON object requested"})
			return
		}
		writeJSON(w, http.StatusCreated, out[0])
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// applyEmbeds resolves the embedded resources used by the snack schema:
// orders -> order_items (order_id) and order_items -> food_item (food_items).
func (s *Server) applyEmbeds(table string, row Row, sel string) {
	if table != "orders" || !strings.Contains(sel, "order_items") {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Row, 0)
	for _, item := range s.tables["order_items"] {
		if fmt.Sprint(item["order_id"]) != fmt.Sprint(row["id"]) {
			continue
		}
		item = cloneRow(item)
		if strings.Contains(sel, "food_item") {
			for _, food := range s.tables["food_items"] {
				if fmt.Sprint(food["id"]) == fmt.Sprint(item["food_item_id"]) {
					item["food_item"] = cloneRow(food)
					break
				}
			}
		}
		items = append(items, item)
	}
	row["order_items"] = items
}

func matchFilters(row Row, q map[string][]string) bool {
	for col, vals := range q {
		switch col {
		case "select", "order", "limit", "offset":
			continue
		}
		for _, val := range vals {
			switch {
			case strings.HasPrefix(val, "eq."):
				if fmt.Sprint(row[col]) != strings.TrimPrefix(val, "eq.") {
					return false
				}
			case strings.HasPrefix(val, "in.("):
				want := strings.TrimSuffix(strings.TrimPrefix(val, "in.("), ")")
				found := false
				for _, v := range strings.Split(want, ",") {
					if fmt.Sprint(row[col]) == v {
						found = true
						break
					}
				}
				if !found {
					return false
				}
			}
		}
	}
	return true
}

func sortRows(rows []Row, order string) {
	parts := strings.SplitN(order, ".", 2)
	col := parts[0]
	desc := len(parts) == 2 && parts[1] == "desc"
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := fmt.Sprint(rows[i][col]), fmt.Sprint(rows[j][col])
		if desc {
			return a > b
		}
		return a < b
	})
}

func wantsSingleObject(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "vnd.pgrst.object")
}

func cloneRow(row Row) Row {
	out := make(Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// =============================================================================
// Realtime Endpoint
// =============================================================================

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	wc := &wsConn{conn: conn, topics: make(map[string]bool)}
	s.mu.Lock()
	s.conns[wc] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, wc)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		topic, _ := msg["topic"].(string)
		event, _ := msg["event"].(string)
		ref := msg["ref"]

		switch event {
		case "phx_join":
			wc.mu.Lock()
			wc.topics[topic] = true
			wc.mu.Unlock()
			wc.write(map[string]any{
				"topic":   topic,
				"event":   "phx_reply",
				"payload": map[string]any{"status": "ok", "response": map[string]any{}},
				"ref":     ref,
			})
		case "phx_leave":
			wc.mu.Lock()
			delete(wc.topics, topic)
			wc.mu.Unlock()
			wc.write(map[string]any{
				"topic":   topic,
				"event":   "phx_reply",
				"payload": map[string]any{"status": "ok", "response": map[string]any{}},
				"ref":     ref,
			})
		case "heartbeat":
			wc.write(map[string]any{
				"topic":   "phoenix",
				"event":   "phx_reply",
				"payload": map[string]any{"status": "ok", "response": map[string]any{}},
				"ref":     ref,
			})
		}
	}
}

func (wc *wsConn) write(v any) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	_ = wc.conn.WriteJSON(v)
}

// PushChange delivers a postgres change event to every connection joined to
// the topic. Filters are part of the topic string, matching how the real
// server scopes subscriptions.
func (s *Server) PushChange(topic string, changeType supabase.ChangeType, table string, record Row) {
	msg := map[string]any{
		"topic": topic,
		"event": "postgres_changes",
		"payload": map[string]any{
			"data": map[string]any{
				"type":   string(changeType),
				"schema": "public",
				"table":  table,
				"record": record,
			},
		},
		"ref": nil,
	}

	s.mu.Lock()
	conns := make([]*wsConn, 0, len(s.conns))
	for wc := range s.conns {
		conns = append(conns, wc)
	}
	s.mu.Unlock()

	for _, wc := range conns {
		wc.mu.Lock()
		joined := wc.topics[topic]
		wc.mu.Unlock()
		if joined {
			wc.write(msg)
		}
	}
}

// JoinedTopics returns all topics currently joined across connections.
func (s *Server) JoinedTopics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var topics []string
	for wc := range s.conns {
		wc.mu.Lock()
		for t := range wc.topics {
			topics = append(topics, t)
		}
		wc.mu.Unlock()
	}
	sort.Strings(topics)
	return topics
}
