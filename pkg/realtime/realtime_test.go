package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicebridge/internal/log"
)

func TestMockPeer(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		m := NewMock()
		if err := m.SendUserText("hola"); !errors.Is(err, ErrNotConnected) {
			t.Errorf("expected ErrNotConnected, got %v", err)
		}
	})

	t.Run("captures calls", func(t *testing.T) {
		m := NewMock()
		_ = m.Connect(context.Background())

		_ = m.SendUserText("hola")
		_ = m.CreateResponse()
		_ = m.CancelResponse("resp_1")
		_ = m.SubmitToolResult("call_1", `{"ok":true}`)

		if got := m.Texts(); len(got) != 1 || got[0] != "hola" {
			t.Errorf("texts = %v", got)
		}
		if m.ResponsesCreated() != 1 {
			t.Errorf("responses = %d, want 1", m.ResponsesCreated())
		}
		if got := m.Cancels(); len(got) != 1 || got[0] != "resp_1" {
			t.Errorf("cancels = %v", got)
		}
		if got := m.ToolResults(); len(got) != 1 || got[0].CallID != "call_1" {
			t.Errorf("tool results = %v", got)
		}

		m.Reset()
		if len(m.Texts()) != 0 || m.ResponsesCreated() != 0 {
			t.Error("Reset should clear captures")
		}
	})

	t.Run("simulate event", func(t *testing.T) {
		m := NewMock()
		var got string
		m.OnEvent(func(data []byte) { got = string(data) })
		m.SimulateJSON(map[string]string{"type": "response.created"})
		if !strings.Contains(got, `"response.created"`) {
			t.Errorf("event = %s", got)
		}
	})
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI(); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestOpenAIRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan map[string]any, 16)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if r.Header.Get("OpenAI-Beta") != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q", r.Header.Get("OpenAI-Beta"))
		}
		if r.URL.Query().Get("model") != "test-model" {
			t.Errorf("model = %q", r.URL.Query().Get("model"))
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg map[string]any
			json.Unmarshal(data, &msg)
			received <- msg
		}
	}))
	defer server.Close()

	peer, err := NewOpenAI(
		WithAPIKey("sk-test"),
		WithURL("ws"+strings.TrimPrefix(server.URL, "http")),
		WithModel("test-model"),
		WithPingInterval(0),
		WithLogger(log.Discard()),
	)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}

	events := make(chan string, 4)
	peer.OnEvent(func(data []byte) { events <- string(data) })

	if err := peer.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer peer.Close()

	if !peer.IsConnected() {
		t.Fatal("should be connected")
	}
	if err := peer.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}

	select {
	case ev := <-events:
		if !strings.Contains(ev, "session.created") {
			t.Errorf("event = %s", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	next := func() map[string]any {
		t.Helper()
		select {
		case msg := <-received:
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("server received nothing")
			return nil
		}
	}

	if err := peer.ConfigureSession(SessionOptions{
		Instructions: "Be brief.",
		Tools:        []ToolSpec{{Name: "get_weather", Description: "Weather"}},
	}); err != nil {
		t.Fatalf("ConfigureSession: %v", err)
	}
	msg := next()
	session, _ := msg["session"].(map[string]any)
	if msg["type"] != "session.update" || session["voice"] != DefaultVoice || session["turn_detection"] != nil {
		t.Errorf("session.update = %v", msg)
	}
	if tools, _ := session["tools"].([]any); len(tools) != 1 {
		t.Errorf("tools = %v", session["tools"])
	}

	_ = peer.CancelResponse("resp_9")
	msg = next()
	if msg["type"] != "response.cancel" || msg["response_id"] != "resp_9" {
		t.Errorf("cancel = %v", msg)
	}

	_ = peer.SubmitToolResult("call_7", `{"temp":21}`)
	msg = next()
	item, _ := msg["item"].(map[string]any)
	if msg["type"] != "conversation.item.create" || item["call_id"] != "call_7" || item["output"] != `{"temp":21}` {
		t.Errorf("tool output = %v", msg)
	}

	_ = peer.CreateResponse()
	msg = next()
	id, _ := msg["event_id"].(string)
	if msg["type"] != "response.create" || !IsCreateEvent(id) {
		t.Errorf("create = %v, want tagged response.create", msg)
	}

	if err := peer.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if peer.IsConnected() {
		t.Error("should be disconnected after Close")
	}
	if err := peer.CreateResponse(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("send after close = %v, want ErrNotConnected", err)
	}
}

func TestEventIDs(t *testing.T) {
	if id := eventID("response.create", 3); id != "response_create_3" || !IsCreateEvent(id) {
		t.Errorf("eventID = %q", id)
	}
	if IsCreateEvent(eventID("response.cancel", 4)) {
		t.Error("cancel event should not count as a create")
	}
	if IsCreateEvent("") {
		t.Error("empty id")
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(NewConnectionError("read failed", errors.New("eof"), true)) {
		t.Error("retryable connection error")
	}
	if IsRetryable(&APIError{Code: "invalid_value"}) {
		t.Error("invalid_value should not be retryable")
	}
	if !IsNotConnected(ErrConnectionClosed) {
		t.Error("ErrConnectionClosed is a not-connected error")
	}
}
