package session

import (
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicebridge/pkg/rag"
	"github.com/teslashibe/go-voicebridge/pkg/realtime"
	"github.com/teslashibe/go-voicebridge/pkg/sanitize"
	"github.com/teslashibe/go-voicebridge/pkg/scope"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
	"github.com/teslashibe/go-voicebridge/pkg/transcribe"
	"github.com/teslashibe/go-voicebridge/pkg/vad"
)

// ErrMissingPeer indicates Deps has no upstream peer.
var ErrMissingPeer = errors.New("session: upstream peer is required")

// Config holds per-session settings shared by every connection.
type Config struct {
	// SystemPrompt is sent as the upstream session instructions.
	SystemPrompt string

	// Voice is the initial output voice.
	Voice string

	// IdleTimeout closes a session with no traffic while not in a call.
	IdleTimeout time.Duration

	// Transcribe enables local transcription of segmented utterances. When
	// false, mic audio is streamed to the upstream buffer instead.
	Transcribe bool

	// InputTranscriptionModel asks the upstream to transcribe its input
	// buffer when Transcribe is false.
	InputTranscriptionModel string

	VAD     *vad.Config
	BargeIn vad.BargeInConfig

	// Template wraps user questions with retrieved context.
	Template rag.Template

	// OutboundBuffer is the writer queue depth in frames.
	OutboundBuffer int

	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Voice:          realtime.DefaultVoice,
		IdleTimeout:    5 * time.Minute,
		Transcribe:     true,
		VAD:            vad.DefaultConfig(),
		BargeIn:        vad.DefaultBargeInConfig(),
		Template:       rag.DefaultTemplate(),
		OutboundBuffer: 256,
	}
}

func (c *Config) fill() {
	def := DefaultConfig()
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = def.IdleTimeout
	}
	if c.VAD == nil {
		c.VAD = def.VAD
	}
	if c.BargeIn.MinDuration <= 0 && c.BargeIn.MinSamples <= 0 {
		c.BargeIn = def.BargeIn
	}
	if c.OutboundBuffer <= 0 {
		c.OutboundBuffer = def.OutboundBuffer
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Broadcaster fans server events out to monitoring dashboards, tagged with
// the session they belong to.
type Broadcaster interface {
	Broadcast(sessionID string, data []byte)
}

// Observer receives counters for metrics.
type Observer interface {
	TurnStarted()
	TurnCancelled(reason string)
	ToolCalled(name, status string)
	UtteranceProcessed(outcome string)
}

type nopObserver struct{}

func (nopObserver) TurnStarted()                      {}
func (nopObserver) TurnCancelled(reason string)       {}
func (nopObserver) ToolCalled(name, status string)    {}
func (nopObserver) UtteranceProcessed(outcome string) {}

// Deps are the collaborators of a session. Everything except Peer is
// optional. All of them except Peer are shared read-only across sessions.
type Deps struct {
	Peer realtime.Peer

	Pipeline  *transcribe.Pipeline
	Router    *scope.Router
	Context   *rag.Builder
	Tools     *tools.Dispatcher
	Sanitizer *sanitize.Sanitizer

	// Notify receives persistence events. Sends never block.
	Notify chan<- Notification

	Monitor  Broadcaster
	Observer Observer

	// Connections reports the live connection count for server.stats.
	Connections func() int
}
