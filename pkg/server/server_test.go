package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicebridge/internal/log"
	"github.com/teslashibe/go-voicebridge/pkg/realtime"
	"github.com/teslashibe/go-voicebridge/pkg/scope"
	"github.com/teslashibe/go-voicebridge/pkg/session"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
)

func newTestServer(t *testing.T, peers PeerFactory) *Server {
	t.Helper()
	if peers == nil {
		peers = func() (realtime.Peer, error) { return realtime.NewMock(), nil }
	}
	srv := New(Config{
		Version: "test",
		Session: session.DefaultConfig(),
		Catalog: scope.NewCatalog([]scope.Scope{{Name: "luggage", Keywords: []string{"maleta"}}}),
		Logger:  log.Discard(),
	}, session.Deps{Tools: tools.New(nil, tools.WithLogger(log.Discard()))}, peers)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func get(t *testing.T, srv *Server, path string) (int, string) {
	t.Helper()
	resp, err := srv.App().Test(httptest.NewRequest("GET", path, nil))
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRESTRoutes(t *testing.T) {
	srv := newTestServer(t, nil)

	tests := []struct {
		path     string
		status   int
		contains []string
	}{
		{"/health", 200, []string{`"status":"ok"`, `"connections":0`}},
		{"/api/stats", 200, []string{`"connections":0`, `"connections_total":0`}},
		{"/api/connections", 200, []string{`"count":0`}},
		{"/api/connections/nope", 404, []string{"session not found"}},
		{"/api/tools", 200, []string{"end_call", "set_voice", "lookup_booking", "create_ticket"}},
		{"/api/scopes", 200, []string{"luggage", "billing", `"default":"general"`}},
		{"/metrics", 200, []string{"voicebridge_connections_active", "go_goroutines"}},
		{"/ws", 426, nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := get(t, srv, tt.path)
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			for _, want := range tt.contains {
				if !strings.Contains(body, want) {
					t.Errorf("body missing %q: %s", want, body)
				}
			}
		})
	}
}

func TestMetricsObserver(t *testing.T) {
	m := NewMetrics("test", []string{"lookup_booking"})
	m.ConnectionOpened()
	m.TurnStarted()
	m.TurnCancelled("barge_in")
	m.ToolCalled("lookup_booking", "succeeded")
	m.ToolCalled("rm -rf /", "failed")
	m.ToolCalled("launch_rocket", "failed")
	m.UtteranceProcessed("filler")
	m.ConnectionClosed(3 * time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"test_connections_active 0",
		"test_connections_total 1",
		"test_turns_total 1",
		`test_turn_cancellations_total{reason="barge_in"} 1`,
		`test_tool_calls_total{status="succeeded",tool="lookup_booking"} 1`,
		`test_tool_calls_total{status="failed",tool="unknown"} 2`,
		`test_utterances_total{outcome="filler"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
	if strings.Contains(body, "launch_rocket") {
		t.Error("unregistered tool name leaked into labels")
	}
}

func readType(t *testing.T, ws *websocket.Conn, typ string) map[string]any {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read waiting for %s: %v", typ, err)
		}
		var msg map[string]any
		if json.Unmarshal(data, &msg) == nil && msg["type"] == typ {
			return msg
		}
	}
}

func TestClientSession(t *testing.T) {
	peer := realtime.NewMock()
	srv := newTestServer(t, func() (realtime.Peer, error) { return peer, nil })

	go srv.Listen(":18091")
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18091/ws", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()

	if msg := readType(t, ws, "call.status"); msg["status"] != "idle" {
		t.Errorf("call.status = %v", msg)
	}
	if srv.Registry().Count() != 1 {
		t.Errorf("Count = %d, want 1", srv.Registry().Count())
	}

	ws.WriteJSON(map[string]any{"type": "client.stats.request"})
	if msg := readType(t, ws, "server.stats"); msg["connections"] != float64(1) {
		t.Errorf("server.stats = %v", msg)
	}

	ws.WriteJSON(map[string]any{"type": "user_message", "text": "hola"})
	deadline := time.Now().Add(2 * time.Second)
	for len(peer.Texts()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := peer.Texts(); len(got) != 1 || got[0] != "hola" {
		t.Errorf("upstream texts = %v", got)
	}

	_, body := get(t, srv, "/api/connections")
	if !strings.Contains(body, `"count":1`) {
		t.Errorf("connections = %s", body)
	}

	ws.Close()
	time.Sleep(200 * time.Millisecond)
	if srv.Registry().Count() != 0 {
		t.Errorf("Count = %d, want 0 after disconnect", srv.Registry().Count())
	}
	if stats := srv.Registry().Stats(); stats.ConnectionsTotal != 1 {
		t.Errorf("ConnectionsTotal = %d", stats.ConnectionsTotal)
	}
}

func TestShutdownWaitsForSessions(t *testing.T) {
	notify := make(chan session.Notification, 16)
	srv := New(Config{
		Version: "test",
		Session: session.DefaultConfig(),
		Logger:  log.Discard(),
	}, session.Deps{Notify: notify}, func() (realtime.Peer, error) { return realtime.NewMock(), nil })

	go srv.Listen(":18092")
	time.Sleep(100 * time.Millisecond)

	ws, _, err := websocket.DefaultDialer.Dial("ws://localhost:18092/ws", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer ws.Close()
	readType(t, ws, "call.status")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	var final *session.Notification
	for len(notify) > 0 {
		n := <-notify
		if n.Kind == session.SessionUpdated {
			final = &n
		}
	}
	if final == nil || final.Status != session.StatusClosed {
		t.Errorf("final notification = %+v, want closed before Shutdown returns", final)
	}
	if srv.Registry().Count() != 0 {
		t.Errorf("Count = %d after Shutdown", srv.Registry().Count())
	}
}
