// Package hub fans session events out to monitoring dashboards over
// websocket using a channel-based broadcast loop.
package hub

import (
	"encoding/json"

	"github.com/bytedance/sonic"
)

// Event is one session event queued for every watcher.
type Event struct {
	SessionID string
	Data      []byte
}

// envelope is the frame a watcher receives.
type envelope struct {
	SessionID string          `json:"session_id"`
	Event     json.RawMessage `json:"event"`
}

// encode wraps the event with its session id. Data must be valid JSON.
func (e Event) encode() ([]byte, error) {
	return sonic.Marshal(envelope{SessionID: e.SessionID, Event: e.Data})
}
