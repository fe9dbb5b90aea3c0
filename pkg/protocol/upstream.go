package protocol

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Upstream realtime event types the bridge reacts to. Anything else is
// forwarded to the client untouched.
const (
	UpstreamSessionCreated     = "session.created"
	UpstreamSessionUpdated     = "session.updated"
	UpstreamResponseCreated    = "response.created"
	UpstreamResponseDone       = "response.done"
	UpstreamAudioDelta         = "response.audio.delta"
	UpstreamAudioDone          = "response.audio.done"
	UpstreamTranscriptDelta    = "response.audio_transcript.delta"
	UpstreamTranscriptDone     = "response.audio_transcript.done"
	UpstreamTextDelta          = "response.text.delta"
	UpstreamTextDone           = "response.text.done"
	UpstreamOutputItemAdded    = "response.output_item.added"
	UpstreamFunctionArgsDelta  = "response.function_call_arguments.delta"
	UpstreamFunctionArgsDone   = "response.function_call_arguments.done"
	UpstreamSpeechStarted      = "input_audio_buffer.speech_started"
	UpstreamInputTranscription = "conversation.item.input_audio_transcription.completed"
	UpstreamError              = "error"
)

// UpstreamEvent is the envelope of every event received from the realtime
// peer. Fields not used by a given type stay zero.
type UpstreamEvent struct {
	Type       string        `json:"type"`
	EventID    string        `json:"event_id,omitempty"`
	ResponseID string        `json:"response_id,omitempty"`
	ItemID     string        `json:"item_id,omitempty"`
	CallID     string        `json:"call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
	Delta      string        `json:"delta,omitempty"`
	Arguments  string        `json:"arguments,omitempty"`
	Transcript string        `json:"transcript,omitempty"`
	Text       string        `json:"text,omitempty"`
	Response   *ResponseInfo `json:"response,omitempty"`
	Item       *ItemInfo     `json:"item,omitempty"`
	Error      *ErrorBody    `json:"error,omitempty"`
}

// ResponseInfo is the response object of response.created / response.done.
type ResponseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status,omitempty"`
}

// ItemInfo is the item object of response.output_item.added.
type ItemInfo struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
}

// ParseUpstream decodes an upstream event.
func ParseUpstream(data []byte) (*UpstreamEvent, error) {
	var ev UpstreamEvent
	if err := sonic.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Type == "" {
		return nil, ErrMissingType
	}
	return &ev, nil
}

// RespID returns the response id an event refers to, whether carried at the
// top level or inside the response object.
func (e *UpstreamEvent) RespID() string {
	if e.ResponseID != "" {
		return e.ResponseID
	}
	if e.Response != nil {
		return e.Response.ID
	}
	return ""
}

// FinalText returns the text of a transcript-done or text-done event.
func (e *UpstreamEvent) FinalText() string {
	if e.Transcript != "" {
		return e.Transcript
	}
	return e.Text
}
