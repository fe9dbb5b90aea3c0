package tools

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/teslashibe/go-voicebridge/internal/log"
)

func collect() (*[]Log, LogFunc) {
	var logs []Log
	return &logs, func(l Log) { logs = append(logs, l) }
}

func TestDispatchSimulated(t *testing.T) {
	d := New(nil, WithLogger(log.Discard()))
	logs, notify := collect()

	out := d.Dispatch(context.Background(), "lookup_booking", map[string]any{"locator": "XYZ"}, notify)

	if out["locator"] != "XYZ" {
		t.Errorf("locator = %v, want XYZ", out["locator"])
	}
	if out["simulated"] != true {
		t.Error("expected simulated payload")
	}
	if len(*logs) != 2 || (*logs)[0].Status != StatusStarted || (*logs)[1].Status != StatusSucceeded {
		t.Errorf("unexpected logs: %+v", *logs)
	}
	if (*logs)[0].Args["locator"] != "XYZ" {
		t.Error("log should carry the call arguments")
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := New(nil, WithLogger(log.Discard()))
	logs, notify := collect()

	out := d.Dispatch(context.Background(), "launch_rocket", nil, notify)

	if out["error"] != "Unknown tool: launch_rocket" {
		t.Errorf("error = %v", out["error"])
	}
	last := (*logs)[len(*logs)-1]
	if last.Status != StatusFailed || last.Message == "" {
		t.Errorf("last log = %+v, want failed with message", last)
	}

	if _, err := d.Invoke(context.Background(), "launch_rocket", nil); !errors.Is(err, ErrUnknownTool) {
		t.Errorf("Invoke() error = %v, want ErrUnknownTool", err)
	}
}

func TestDispatchRoutesWithoutBaseURL(t *testing.T) {
	defs := []Definition{{Name: "lookup_booking", Routes: &Route{Method: "GET", Path: "/bookings/:locator"}}}
	d := New(defs, WithLogger(log.Discard()))

	out := d.Dispatch(context.Background(), "lookup_booking", map[string]any{"locator": "XYZ"}, nil)
	if out["locator"] != "XYZ" || out["simulated"] != true {
		t.Errorf("expected simulation fallback, got %v", out)
	}
}

func TestDispatchHTTPGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.EscapedPath() != "/api/bookings/AB%2FC" {
			t.Errorf("path = %s", r.URL.EscapedPath())
		}
		if r.URL.Query().Get("lang") != "es" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if r.URL.Query().Has("locator") {
			t.Error("path params must not leak into the query")
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(map[string]any{"status": "confirmed"})
	}))
	defer server.Close()

	defs := []Definition{{Name: "lookup_booking", Routes: &Route{Method: "get", Path: "/bookings/:locator"}}}
	d := New(defs, WithBaseURL(server.URL+"/api/"), WithToken("secret"), WithLogger(log.Discard()))

	out, err := d.Invoke(context.Background(), "lookup_booking", map[string]any{"locator": "AB/C", "lang": "es"})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out["status"] != "confirmed" {
		t.Errorf("out = %v", out)
	}
}

func TestDispatchHTTPPost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/tickets" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["subject"] != "broken" || body["priority"] != float64(2) {
			t.Errorf("body = %v", body)
		}
		if r.Header.Get("Authorization") != "" {
			t.Error("no token configured, no Authorization header expected")
		}
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "created")
	}))
	defer server.Close()

	defs := []Definition{{Name: "create_ticket", Routes: &Route{Method: "POST", Path: "/tickets"}}}
	d := New(defs, WithBaseURL(server.URL), WithLogger(log.Discard()))

	out, err := d.Invoke(context.Background(), "create_ticket", map[string]any{"subject": "broken", "priority": 2})
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if out["text"] != "created" {
		t.Errorf("out = %v", out)
	}
}

func TestDispatchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, "no such booking")
	}))
	defer server.Close()

	defs := []Definition{{Name: "lookup_booking", Routes: &Route{Method: "GET", Path: "/bookings/:locator"}}}
	d := New(defs, WithBaseURL(server.URL), WithLogger(log.Discard()))

	_, err := d.Invoke(context.Background(), "lookup_booking", map[string]any{"locator": "NOPE"})
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("error = %v, want *HTTPError", err)
	}
	if httpErr.StatusCode != 404 || httpErr.Body != "no such booking" {
		t.Errorf("HTTPError = %+v", httpErr)
	}

	logs, notify := collect()
	out := d.Dispatch(context.Background(), "lookup_booking", map[string]any{"locator": "NOPE"}, notify)
	if msg, _ := out["error"].(string); !strings.Contains(msg, "404") {
		t.Errorf("error output = %v", out)
	}
	if (*logs)[1].Status != StatusFailed {
		t.Errorf("logs = %+v", *logs)
	}
}

func TestDispatchMissingPathParam(t *testing.T) {
	defs := []Definition{{Name: "lookup_booking", Routes: &Route{Method: "GET", Path: "/bookings/:locator"}}}
	d := New(defs, WithBaseURL("http://127.0.0.1:1"), WithLogger(log.Discard()))

	_, err := d.Invoke(context.Background(), "lookup_booking", map[string]any{})
	if !errors.Is(err, ErrMissingPathParam) {
		t.Fatalf("error = %v, want ErrMissingPathParam", err)
	}
}

func TestDefinitionsOrder(t *testing.T) {
	d := New(nil)
	defs := d.Definitions()
	if len(defs) != 4 || defs[0].Name != "lookup_booking" || defs[3].Name != "create_ticket" {
		t.Errorf("unexpected defaults: %+v", defs)
	}
	if _, ok := d.Lookup("get_weather"); !ok {
		t.Error("Lookup(get_weather) failed")
	}
}

func TestSimulateCreateTicket(t *testing.T) {
	out := Simulate("create_ticket", map[string]any{"subject": "refund"})
	id, _ := out["ticket_id"].(string)
	if !strings.HasPrefix(id, "TCK-") || len(id) != 12 {
		t.Errorf("ticket_id = %q", id)
	}
	if out["subject"] != "refund" {
		t.Errorf("subject = %v", out["subject"])
	}
}
