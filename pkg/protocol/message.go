// Package protocol defines the JSON-over-WebSocket messages exchanged between
// browser clients and the bridge, plus the upstream realtime event envelope.
package protocol

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

// MessageType identifies the type of a WebSocket message.
type MessageType string

const (
	// Client → Server messages
	TypeUserMessage    MessageType = "user_message"
	TypeAudioStart     MessageType = "client.audio.start"
	TypeAudioChunk     MessageType = "client.audio.chunk"
	TypeAudioStop      MessageType = "client.audio.stop"
	TypeResponseCancel MessageType = "response.cancel"
	TypeStatsRequest   MessageType = "client.stats.request"
	TypeClientMute     MessageType = "client.mute"

	// Server → Client messages
	TypeToolLog           MessageType = "tool.log"
	TypeServerStats       MessageType = "server.stats"
	TypeUICommand         MessageType = "ui.command"
	TypeCallStatus        MessageType = "call.status"
	TypeTranscriptPending MessageType = "user.transcript.pending"
	TypeTranscriptFinal   MessageType = "user.transcript.final"
	TypeTranscriptDiscard MessageType = "user.transcript.discard"
	TypeScopeChanged      MessageType = "scope.changed"
	TypeSystemNotice      MessageType = "system.notice"
	TypeError             MessageType = "error"
)

var (
	// ErrMalformed indicates a payload that is not a JSON object.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrMissingType indicates a message without a type field.
	ErrMissingType = errors.New("protocol: missing type")

	// ErrUnknownType indicates a client message type the server does not handle.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// ClientMessage is the tagged union of every client → server message.
// Only the fields relevant to Type are populated.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// user_message
	Text           string         `json:"text,omitempty"`
	Scope          string         `json:"scope,omitempty"`
	ConversationID string         `json:"conversationId,omitempty"`
	AssistantID    string         `json:"assistantId,omitempty"`
	Meta           map[string]any `json:"meta,omitempty"`

	// client.audio.start / client.audio.chunk
	Audio      string `json:"audio,omitempty"`       // base64
	Format     string `json:"format,omitempty"`      // "pcm16", "g711_ulaw", "g711_alaw", "opus"
	SampleRate int    `json:"sample_rate,omitempty"` // Hz

	// response.cancel
	ResponseID string `json:"response_id,omitempty"`

	// client.mute
	Speaker *bool `json:"speaker,omitempty"`
	Mic     *bool `json:"mic,omitempty"`
}

var clientTypes = map[MessageType]bool{
	TypeUserMessage:    true,
	TypeAudioStart:     true,
	TypeAudioChunk:     true,
	TypeAudioStop:      true,
	TypeResponseCancel: true,
	TypeStatsRequest:   true,
	TypeClientMute:     true,
}

// ParseClient decodes a client message. Unknown types are rejected so the
// caller can ignore them.
func ParseClient(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	if !clientTypes[msg.Type] {
		return &msg, fmt.Errorf("%w: %s", ErrUnknownType, msg.Type)
	}
	return &msg, nil
}

// Encode serializes any outbound message.
func Encode(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode: %w", err)
	}
	return data, nil
}

// NormalizeFormat maps empty or unknown casing to a canonical audio format name.
func NormalizeFormat(format string) string {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		return "pcm16"
	}
	return f
}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// ToolLog is a one-way observability notification about a tool invocation.
type ToolLog struct {
	Type      MessageType    `json:"type"`
	Name      string         `json:"name"`
	Status    string         `json:"status"` // "started", "succeeded", "failed"
	Args      map[string]any `json:"args"`
	Message   string         `json:"message,omitempty"`
	Timestamp int64          `json:"timestamp"` // Unix milliseconds
}

// ServerStats answers client.stats.request.
type ServerStats struct {
	Type        MessageType `json:"type"`
	Connections int         `json:"connections"`
}

// UICommand is out-of-band control for the client (mute, end_call, set_voice,
// stop_playback).
type UICommand struct {
	Type    MessageType    `json:"type"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

// CallStatus reports a call lifecycle transition.
type CallStatus struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

// TranscriptPending announces a placeholder for an utterance that is being
// transcribed.
type TranscriptPending struct {
	Type          MessageType `json:"type"`
	PlaceholderID string      `json:"placeholder_id"`
}

// TranscriptFinal carries the accepted user transcript for a placeholder.
type TranscriptFinal struct {
	Type          MessageType `json:"type"`
	PlaceholderID string      `json:"placeholder_id,omitempty"`
	Text          string      `json:"text"`
	Scope         string      `json:"scope,omitempty"`
}

// TranscriptDiscard removes a placeholder from the client UI.
type TranscriptDiscard struct {
	Type          MessageType `json:"type"`
	PlaceholderID string      `json:"placeholder_id"`
	Reason        string      `json:"reason"`
}

// ScopeChanged reports a new active scope.
type ScopeChanged struct {
	Type  MessageType `json:"type"`
	Scope string      `json:"scope"`
}

// SystemNotice is a generic user-facing notice such as "could not connect".
type SystemNotice struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// ErrorMessage mirrors the upstream error event shape.
type ErrorMessage struct {
	Type  MessageType `json:"type"`
	Error ErrorBody   `json:"error"`
}

// ErrorBody is the payload of an error event.
type ErrorBody struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`

	// EventID echoes the client event that caused the error, when it had one.
	EventID string `json:"event_id,omitempty"`
}

// TranscriptDone is the sanitized final assistant transcript of a turn.
// Type is either response.audio_transcript.done or response.text.done.
type TranscriptDone struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`
}
