package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ares-project/aresnet/internal/config"
	"github.com/ares-project/aresnet/internal/db"
	"github.com/ares-project/aresnet/internal/events"
	"github.com/ares-project/aresnet/internal/netgame"
	"github.com/ares-project/aresnet/internal/transport"
)

func newTestServer(t *testing.T, token string, history History) (*Server, *netgame.Manager) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Player.Name = "Tester"
	cfg.Network.TickRate = 120
	cfg.ApplicationData.API.Enabled = false
	cfg.ApplicationData.API.RateLimitRPS = 0
	cfg.ApplicationData.API.Token = token

	bus := events.NewEventBus()
	mgr := netgame.New(netgame.Options{Config: cfg, Bus: bus, Transport: transport.NewHub().Endpoint()})
	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-mgr.Done()
		bus.Stop()
	})
	return NewServer(cfg, bus, mgr, history), mgr
}

func do(t *testing.T, s *Server, method, path string, body interface{}, token string) (int, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	out := map[string]interface{}{}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: body is not JSON: %q", method, path, w.Body.String())
		}
	}
	return w.Code, out
}

func TestPing(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	code, body := do(t, s, http.MethodGet, "/api/public/ping", nil, "")
	if code != http.StatusOK || body["service"] != "aresnet" {
		t.Fatalf("ping = %d %v", code, body)
	}
}

func TestVersionReportsWireLimits(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	code, body := do(t, s, http.MethodGet, "/api/public/version", nil, "")
	if code != http.StatusOK || body["version"] != Version {
		t.Fatalf("version = %d %v", code, body)
	}
	wire, ok := body["wire"].(map[string]interface{})
	if !ok || wire["max_players"] != float64(16) || wire["max_backup_ticks"] != float64(2) {
		t.Fatalf("wire = %v", body["wire"])
	}
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	code, body := do(t, s, http.MethodGet, "/api/nope", nil, "")
	if code != http.StatusNotFound || body["error"] == nil {
		t.Fatalf("unknown route = %d %v", code, body)
	}
}

func TestControlRequiresToken(t *testing.T) {
	s, _ := newTestServer(t, "s3cret", nil)
	keys := map[string]interface{}{"keys": []string{"thrust", "fire"}}

	if code, _ := do(t, s, http.MethodPost, "/api/control/keys", keys, ""); code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/control/keys", keys, "wrong"); code != http.StatusForbidden {
		t.Fatalf("wrong token: %d", code)
	}
	code, body := do(t, s, http.MethodPost, "/api/control/keys", keys, "s3cret")
	if code != http.StatusOK {
		t.Fatalf("good token: %d %v", code, body)
	}
	if got, _ := body["keys"].([]interface{}); len(got) != 2 {
		t.Fatalf("keys = %v", body["keys"])
	}

	if code, _ := do(t, s, http.MethodGet, "/api/session", nil, ""); code != http.StatusOK {
		t.Fatalf("monitor routes should stay open: %d", code)
	}
}

func TestControlRejectsBadInput(t *testing.T) {
	s, _ := newTestServer(t, "", nil)

	if code, _ := do(t, s, http.MethodPost, "/api/control/keys", map[string]interface{}{"keys": []string{"hyperdrive"}}, ""); code != http.StatusBadRequest {
		t.Fatalf("unknown key: %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/control/menu", map[string]interface{}{"page": 0, "line": 1}, ""); code != http.StatusConflict {
		t.Fatalf("menu while idle: %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/control/chat", map[string]interface{}{}, ""); code != http.StatusBadRequest {
		t.Fatalf("empty chat: %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/control/join", nil, ""); code != http.StatusBadRequest {
		t.Fatalf("join without address: %d", code)
	}
}

func TestSoloGameOverAPI(t *testing.T) {
	s, mgr := newTestServer(t, "", nil)

	code, body := do(t, s, http.MethodPost, "/api/control/host", map[string]interface{}{"listen_addr": "solo", "game_name": "Solo"}, "")
	if code != http.StatusOK {
		t.Fatalf("host = %d %v", code, body)
	}
	if code, body := do(t, s, http.MethodPost, "/api/control/begin", nil, ""); code != http.StatusOK {
		t.Fatalf("begin = %d %v", code, body)
	}
	if code, body := do(t, s, http.MethodPost, "/api/control/menu", map[string]interface{}{"page": 0, "line": 0}, ""); code != http.StatusOK {
		t.Fatalf("menu = %d %v", code, body)
	}

	deadline := time.Now().Add(5 * time.Second)
	for mgr.Status().World.Fleets[0].Ships != 2 {
		if time.Now().After(deadline) {
			t.Fatal("menu build never executed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	code, body = do(t, s, http.MethodGet, "/api/engine", nil, "")
	if code != http.StatusOK {
		t.Fatalf("engine = %d", code)
	}
	if engine, _ := body["engine"].(map[string]interface{}); engine["running"] != true {
		t.Fatalf("engine not running: %v", body)
	}

	if code, body := do(t, s, http.MethodPost, "/api/control/leave", map[string]interface{}{"reason": "done"}, ""); code != http.StatusOK {
		t.Fatalf("leave = %d %v", code, body)
	}
}

func TestSessionSettings(t *testing.T) {
	s, mgr := newTestServer(t, "", nil)

	code, body := do(t, s, http.MethodPost, "/api/configure/session",
		map[string]interface{}{"registration_level": 2, "bandwidth_reduction": true, "resend_delay": 3}, "")
	if code != http.StatusOK {
		t.Fatalf("session settings = %d %v", code, body)
	}
	sess := mgr.Session()
	if sess.Level() != 2 || !sess.Flags().BandwidthReduction || sess.ResendDelay() != 3 {
		t.Fatalf("settings not applied: level=%d flags=%+v delay=%d", sess.Level(), sess.Flags(), sess.ResendDelay())
	}

	if code, _ := do(t, s, http.MethodPost, "/api/configure/session", map[string]interface{}{"resend_delay": 0}, ""); code != http.StatusBadRequest {
		t.Fatalf("zero delay: %d", code)
	}
}

func TestNetworkSetting(t *testing.T) {
	s, _ := newTestServer(t, "", nil)

	code, body := do(t, s, http.MethodPost, "/api/configure/network", map[string]interface{}{"key": "game_name", "value": "Nebula"}, "")
	if code != http.StatusOK {
		t.Fatalf("update = %d %v", code, body)
	}
	if s.cfg.GetNetwork().GameName != "Nebula" {
		t.Fatal("game name not updated")
	}

	if code, _ := do(t, s, http.MethodPost, "/api/configure/network", map[string]interface{}{"key": "no_such", "value": 1}, ""); code != http.StatusBadRequest {
		t.Fatalf("unknown key: %d", code)
	}
	if code, _ := do(t, s, http.MethodPost, "/api/configure/network", map[string]interface{}{"key": "tick_rate", "value": 0}, ""); code != http.StatusBadRequest {
		t.Fatalf("invalid value: %d", code)
	}
	if s.cfg.GetNetwork().TickRate != 120 {
		t.Fatal("invalid update was not rolled back")
	}
}

func TestHistory(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	if code, _ := do(t, s, http.MethodGet, "/api/history", nil, ""); code != http.StatusServiceUnavailable {
		t.Fatalf("without store: %d", code)
	}

	store, err := db.OpenStore(":memory:", config.Preferences{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	s, _ = newTestServer(t, "", store)
	code, body := do(t, s, http.MethodGet, "/api/history?limit=5", nil, "")
	if code != http.StatusOK {
		t.Fatalf("history = %d %v", code, body)
	}
	if sessions, ok := body["sessions"].([]interface{}); !ok || len(sessions) != 0 {
		t.Fatalf("sessions = %v", body["sessions"])
	}
	if code, _ := do(t, s, http.MethodGet, "/api/history?limit=0", nil, ""); code != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", code)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1)
	now := time.Now()
	if !rl.allow("a", now) || !rl.allow("a", now) {
		t.Fatal("burst of two should pass")
	}
	if rl.allow("a", now) {
		t.Fatal("third request in the same instant should be limited")
	}
	if !rl.allow("b", now) {
		t.Fatal("clients are limited separately")
	}
	if !rl.allow("a", now.Add(time.Second)) {
		t.Fatal("tokens should refill")
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"":           "",
		"Bearer abc": "abc",
		"bearer abc": "abc",
		"Basic abc":  "",
		"Bearerabc":  "",
		"Bearer a b": "a b",
	}
	for in, want := range cases {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestEventStream(t *testing.T) {
	s, _ := newTestServer(t, "", nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.eventBus.HandlerCount(events.EventChatMessage) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.eventBus.Emit(context.Background(), events.Event{
		Type:    events.EventChatMessage,
		Source:  "test",
		Payload: map[string]interface{}{"text": "hi"},
	})

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg streamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Event != string(events.EventChatMessage) || msg.Source != "test" {
		t.Fatalf("msg = %+v", msg)
	}
}
