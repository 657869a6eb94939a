package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/linklight/internal/auth"
	"github.com/nerrad567/linklight/internal/bus"
	"github.com/nerrad567/linklight/internal/infrastructure/config"
	"github.com/nerrad567/linklight/internal/infrastructure/logging"
	"github.com/nerrad567/linklight/internal/journal"
	"github.com/nerrad567/linklight/internal/lifecycle"
)

type fakeController struct {
	mu    sync.Mutex
	state lifecycle.State
	calls []string
	err   error
}

func (f *fakeController) State() lifecycle.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) do(name string, to lifecycle.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.err != nil {
		return f.err
	}
	f.state = to
	return nil
}

func (f *fakeController) Start() error { return f.do("start", lifecycle.StateAssociating) }
func (f *fakeController) Stop() error  { return f.do("stop", lifecycle.StateIdle) }
func (f *fakeController) Reset() error { return f.do("reset", lifecycle.StateAssociating) }

type fakeJournal struct {
	entries  []journal.Entry
	err      error
	gotLimit int
}

func (f *fakeJournal) Recent(_ context.Context, limit int) ([]journal.Entry, error) {
	f.gotLimit = limit
	return f.entries, f.err
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Host:    "127.0.0.1",
		Port:    0,
		Timeouts: config.APITimeoutConfig{
			Read: 5 * time.Second, Write: 5 * time.Second, Idle: 5 * time.Second,
		},
		WebSocket: config.WebSocketConfig{
			MaxMessageSize: 4096,
			PingInterval:   time.Second,
			PongTimeout:    time.Second,
		},
	}
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(io.Discard, config.LoggingConfig{Level: "error"}, "test")
}

func newTestServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = testLogger()
	}
	if deps.Config.WebSocket.PingInterval == 0 {
		deps.Config = testAPIConfig()
	}
	s, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(s.buildRouter())
	t.Cleanup(ts.Close)
	return s, ts
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close() //nolint:errcheck // Test cleanup
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Deps{Controller: &fakeController{}}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: testLogger()}); err == nil {
		t.Error("New() without controller should fail")
	}
}

func TestGetState(t *testing.T) {
	tests := []struct {
		state lifecycle.State
		color string
		on    bool
	}{
		{lifecycle.StateIdle, "off", false},
		{lifecycle.StateSessionConnecting, "blue", true},
		{lifecycle.StateSessionActive, "green", true},
		{lifecycle.StateFaulted, "red", true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			_, ts := newTestServer(t, Deps{Controller: &fakeController{state: tt.state}, DeviceID: "porch"})

			resp, err := http.Get(ts.URL + "/api/v1/state")
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			got := decode[StateResponse](t, resp)
			if got.State != tt.state || got.DeviceID != "porch" {
				t.Errorf("got %+v", got)
			}
			if got.Indicator.Color != tt.color || got.Indicator.On != tt.on {
				t.Errorf("indicator = %+v, want %s/%v", got.Indicator, tt.color, tt.on)
			}
		})
	}
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t, Deps{Controller: &fakeController{}, Version: "1.2.3"})

	resp, err := http.Get(ts.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[map[string]any](t, resp)
	if got["status"] != "ok" || got["version"] != "1.2.3" {
		t.Errorf("health = %v", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}
}

func TestCommands(t *testing.T) {
	tests := []struct {
		command    string
		wantStatus int
		wantState  lifecycle.State
	}{
		{"start", http.StatusOK, lifecycle.StateAssociating},
		{"stop", http.StatusOK, lifecycle.StateIdle},
		{"reset", http.StatusOK, lifecycle.StateAssociating},
		{"explode", http.StatusNotFound, lifecycle.StateFaulted},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			ctrl := &fakeController{state: lifecycle.StateFaulted}
			_, ts := newTestServer(t, Deps{Controller: ctrl})

			resp, err := http.Post(ts.URL+"/api/v1/lifecycle/"+tt.command, "application/json", nil)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close() //nolint:errcheck // Test cleanup
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := ctrl.State(); got != tt.wantState {
				t.Errorf("state = %v, want %v", got, tt.wantState)
			}
		})
	}
}

func TestCommand_ControllerClosed(t *testing.T) {
	_, ts := newTestServer(t, Deps{Controller: &fakeController{err: lifecycle.ErrClosed}})

	resp, err := http.Post(ts.URL+"/api/v1/lifecycle/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	got := decode[Error](t, resp)
	if resp.StatusCode != http.StatusServiceUnavailable || got.Code != ErrCodeUnavailable {
		t.Errorf("status = %d, body = %+v", resp.StatusCode, got)
	}
}

func TestCommand_Token(t *testing.T) {
	secret := strings.Repeat("k", 32)
	mint := func(role auth.Role, key string) string {
		t.Helper()
		tok, err := auth.GenerateToken("tester", role, key, time.Hour)
		if err != nil {
			t.Fatal(err)
		}
		return tok
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + mint(auth.RoleOperator, secret), http.StatusUnauthorized},
		{"garbage", "Bearer nope", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + mint(auth.RoleOperator, strings.Repeat("x", 32)), http.StatusUnauthorized},
		{"viewer", "Bearer " + mint(auth.RoleViewer, secret), http.StatusForbidden},
		{"operator", "Bearer " + mint(auth.RoleOperator, secret), http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testAPIConfig()
			cfg.JWT.Secret = secret
			ctrl := &fakeController{}
			_, ts := newTestServer(t, Deps{Config: cfg, Controller: ctrl})

			req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/lifecycle/start", nil)
			if err != nil {
				t.Fatal(err)
			}
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close() //nolint:errcheck // Test cleanup
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want != http.StatusOK && len(ctrl.calls) != 0 {
				t.Errorf("controller called without an operator token: %v", ctrl.calls)
			}
		})
	}
}

func TestCommand_TokenNotNeededForReads(t *testing.T) {
	cfg := testAPIConfig()
	cfg.JWT.Secret = strings.Repeat("k", 32)
	_, ts := newTestServer(t, Deps{Config: cfg, Controller: &fakeController{}})

	resp, err := http.Get(ts.URL + "/api/v1/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestListTransitions(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j := &fakeJournal{entries: []journal.Entry{{
		ID: 7,
		Transition: lifecycle.Transition{
			From: lifecycle.StateSessionActive, To: lifecycle.StateDegraded,
			Cause: lifecycle.CauseBrokerDrop, At: at,
		},
	}}}
	_, ts := newTestServer(t, Deps{Controller: &fakeController{}, Journal: j})

	resp, err := http.Get(ts.URL + "/api/v1/transitions?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[TransitionsResponse](t, resp)
	if got.Count != 1 || got.Transitions[0].ID != 7 || got.Transitions[0].To != lifecycle.StateDegraded {
		t.Errorf("got %+v", got)
	}
	if j.gotLimit != 5 {
		t.Errorf("limit = %d, want 5", j.gotLimit)
	}
}

func TestListTransitions_Errors(t *testing.T) {
	tests := []struct {
		name    string
		journal Journal
		query   string
		want    int
	}{
		{"no journal", nil, "", http.StatusServiceUnavailable},
		{"bad limit", &fakeJournal{}, "?limit=abc", http.StatusBadRequest},
		{"negative limit", &fakeJournal{}, "?limit=-1", http.StatusBadRequest},
		{"store failure", &fakeJournal{err: errors.New("disk gone")}, "", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ts := newTestServer(t, Deps{Controller: &fakeController{}, Journal: tt.journal})

			resp, err := http.Get(ts.URL + "/api/v1/transitions" + tt.query)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close() //nolint:errcheck // Test cleanup
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestListTransitions_EmptyIsArray(t *testing.T) {
	_, ts := newTestServer(t, Deps{Controller: &fakeController{}, Journal: &fakeJournal{}})

	resp, err := http.Get(ts.URL + "/api/v1/transitions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // Test cleanup
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), `"transitions":[]`) {
		t.Errorf("body = %s, want an empty array", body)
	}
}

func TestNotFound(t *testing.T) {
	_, ts := newTestServer(t, Deps{Controller: &fakeController{}})

	resp, err := http.Get(ts.URL + "/nowhere")
	if err != nil {
		t.Fatal(err)
	}
	got := decode[Error](t, resp)
	if resp.StatusCode != http.StatusNotFound || got.Code != ErrCodeNotFound {
		t.Errorf("status = %d, body = %+v", resp.StatusCode, got)
	}
}

func TestPanelMounted(t *testing.T) {
	cfg := testAPIConfig()
	cfg.Panel.Enabled = true
	_, ts := newTestServer(t, Deps{Config: cfg, Controller: &fakeController{}})

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close() //nolint:errcheck // Test cleanup
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "<!DOCTYPE html>") {
		t.Errorf("GET / = %d, want the status page", resp.StatusCode)
	}

	// API routes still win over the page.
	resp, err = http.Get(ts.URL + "/api/v1/state")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close() //nolint:errcheck // Test cleanup
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("GET /api/v1/state Content-Type = %q", ct)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	s, err := New(Deps{Logger: testLogger(), Controller: &fakeController{}})
	if err != nil {
		t.Fatal(err)
	}
	h := s.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestHealthCheck(t *testing.T) {
	s, err := New(Deps{Config: testAPIConfig(), Logger: testLogger(), Controller: &fakeController{}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() before Start should fail")
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close() before Start error = %v", err)
	}
}

// readWS reads the next message, failing the test after a timeout.
func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	//nolint:errcheck // Test deadline
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading websocket: %v", err)
	}
	return msg
}

func TestWebSocket_StreamsTransitions(t *testing.T) {
	b := bus.New(nil)
	defer b.Close()

	s, err := New(Deps{Config: testAPIConfig(), Logger: testLogger(), Controller: &fakeController{}, Bus: b})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // Test cleanup

	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+s.Addr()+"/api/v1/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup
	resp.Body.Close()  //nolint:errcheck // Test cleanup

	if err := conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelTransitions}},
	}); err != nil {
		t.Fatal(err)
	}
	if ack := readWS(t, conn); ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	b.Publish(bus.TopicTransitions, lifecycle.Transition{
		From: lifecycle.StateIdle, To: lifecycle.StateAssociating,
		Cause: lifecycle.CauseStart, At: time.Now().UTC(),
	})

	ev := readWS(t, conn)
	if ev.Type != WSTypeEvent || ev.EventType != ChannelTransitions {
		t.Fatalf("event = %+v", ev)
	}
	payload, ok := ev.Payload.(map[string]any)
	if !ok || payload["to"] != "associating" || payload["cause"] != "start" {
		t.Errorf("payload = %v", ev.Payload)
	}
}

func TestWebSocket_Messages(t *testing.T) {
	s, ts := newTestServer(t, Deps{Controller: &fakeController{}})
	defer s.hub.closeAll()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close() //nolint:errcheck // Test cleanup
	resp.Body.Close()  //nolint:errcheck // Test cleanup

	tests := []struct {
		send string
		want string
	}{
		{`{"type":"ping","id":"p"}`, WSTypePong},
		{`{"type":"teleport"}`, WSTypeError},
		{`not json`, WSTypeError},
		{`{"type":"unsubscribe","payload":{"channels":["x"]}}`, WSTypeResponse},
	}
	for _, tt := range tests {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(tt.send)); err != nil {
			t.Fatal(err)
		}
		if got := readWS(t, conn); got.Type != tt.want {
			t.Errorf("reply to %s = %+v, want type %s", tt.send, got, tt.want)
		}
	}

	// Unsubscribed clients receive no events.
	s.hub.Broadcast(ChannelTransitions, "ignored")
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping","id":"after"}`)); err != nil {
		t.Fatal(err)
	}
	if got := readWS(t, conn); got.Type != WSTypePong || got.ID != "after" {
		t.Errorf("next message = %+v, want the pong", got)
	}
}
