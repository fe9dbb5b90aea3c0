package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicebridge/internal/log"
)

func TestNewHub(t *testing.T) {
	h := New(log.Discard())
	if h.Watchers() != 0 {
		t.Error("Watchers should be 0 initially")
	}
	if h.IsRunning() {
		t.Error("hub should not be running before Run")
	}
}

func TestBroadcastWithoutWatchers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := New(log.Discard())
	go h.Run(ctx)

	h.Broadcast("conn-1", []byte(`{"type":"tool.log"}`))
	h.Broadcast("conn-1", []byte(`not json`))

	cancel()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if h.IsRunning() {
		t.Error("hub should report stopped")
	}
}

func TestBroadcastQueueFull(t *testing.T) {
	h := New(log.Discard())
	for i := 0; i < eventQueue+44; i++ {
		h.Broadcast("conn-1", []byte("{}"))
	}
	if h.Dropped() != 44 {
		t.Errorf("Dropped = %d, want 44", h.Dropped())
	}
}

func TestWatcherFilter(t *testing.T) {
	w := &watcher{session: "conn-1"}
	if !w.wants("conn-1") || w.wants("conn-2") {
		t.Error("filtered watcher should only want conn-1")
	}
	if all := (&watcher{}); !all.wants("conn-2") {
		t.Error("unfiltered watcher should want everything")
	}
}

func TestMonitorReceivesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := New(log.Discard())
	go h.Run(ctx)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Get("/ws/monitor", h.Handler())
	go app.Listen(":18090")
	defer app.Shutdown()
	time.Sleep(100 * time.Millisecond)

	all, _, err := websocket.DefaultDialer.Dial("ws://localhost:18090/ws/monitor", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer all.Close()
	one, _, err := websocket.DefaultDialer.Dial("ws://localhost:18090/ws/monitor?session=conn-2", nil)
	if err != nil {
		t.Fatalf("WebSocket dial error: %v", err)
	}
	defer one.Close()

	time.Sleep(50 * time.Millisecond)
	if h.Watchers() != 2 {
		t.Fatalf("Watchers = %d, want 2", h.Watchers())
	}

	h.Broadcast("conn-1", []byte(`{"type":"tool.log","name":"lookup_booking","status":"started"}`))
	h.Broadcast("conn-2", []byte(`{"type":"call.status","status":"in_call"}`))

	read := func(ws *websocket.Conn) (string, map[string]any) {
		t.Helper()
		ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		mt, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("Read error: %v", err)
		}
		if mt != websocket.TextMessage {
			t.Fatalf("message type = %d", mt)
		}
		var env struct {
			SessionID string         `json:"session_id"`
			Event     map[string]any `json:"event"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("frame %s: %v", data, err)
		}
		return env.SessionID, env.Event
	}

	if id, ev := read(all); id != "conn-1" || ev["name"] != "lookup_booking" {
		t.Errorf("first event = %s %v", id, ev)
	}
	if id, ev := read(all); id != "conn-2" || ev["type"] != "call.status" {
		t.Errorf("second event = %s %v", id, ev)
	}
	if id, ev := read(one); id != "conn-2" || ev["status"] != "in_call" {
		t.Errorf("filtered watcher got %s %v, want only conn-2", id, ev)
	}

	all.Close()
	one.Close()
	time.Sleep(100 * time.Millisecond)
	if h.Watchers() != 0 {
		t.Errorf("Watchers = %d, want 0 after disconnect", h.Watchers())
	}
}
