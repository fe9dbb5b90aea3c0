// Package realtime talks to the upstream realtime model over a websocket.
//
// The peer is deliberately thin: outbound calls map one-to-one to client
// events, and every inbound frame is handed to OnEvent as raw bytes. Turn
// bookkeeping (response ids, drop flags, tool argument accumulation) lives
// in the session that owns the peer.
package realtime

import "context"

// Peer is one upstream realtime connection.
type Peer interface {
	// Connect dials the upstream and starts the read loop.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// IsConnected returns true if connected.
	IsConnected() bool

	// ConfigureSession sends instructions, voice, tools and turn detection.
	ConfigureSession(opts SessionOptions) error

	// SendUserText adds a user text item to the conversation.
	SendUserText(text string) error

	// AppendAudio appends PCM16 to the upstream input buffer.
	AppendAudio(pcm []byte) error

	// ClearAudio empties the upstream input buffer.
	ClearAudio() error

	// CreateResponse asks the model to respond.
	CreateResponse() error

	// CancelResponse cancels the response with the given id. An empty id
	// cancels whatever is in progress.
	CancelResponse(responseID string) error

	// SubmitToolResult adds a function call output to the conversation. It
	// does not request a response; the caller does once the response that
	// issued the call is done.
	SubmitToolResult(callID, output string) error

	// OnEvent sets the callback for every inbound frame.
	OnEvent(fn func(data []byte))

	// OnError sets the callback for transport and API errors. A read loop
	// failure is reported once, after which the peer is disconnected.
	OnError(fn func(err error))
}

// ToolSpec describes a function the model may call.
type ToolSpec struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object.
	Parameters map[string]any
}

// SessionOptions configures the upstream session.
type SessionOptions struct {
	Instructions string
	Voice        string
	Tools        []ToolSpec

	// ServerVAD enables upstream turn detection. Off when the bridge
	// segments utterances itself.
	ServerVAD bool

	// InputTranscriptionModel enables upstream transcription of the input
	// buffer when non-empty.
	InputTranscriptionModel string
}
