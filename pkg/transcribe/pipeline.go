package transcribe

import (
	"context"
	"log/slog"
)

// Action is what the session should do with a processed utterance.
type Action int

const (
	// ActionForward sends the text to the model as a user turn.
	ActionForward Action = iota

	// ActionDropEmpty drops an utterance that transcribed to nothing.
	ActionDropEmpty

	// ActionDropFiller drops a filler sound.
	ActionDropFiller

	// ActionDropIgnored drops text the classifier marked IGNORE.
	ActionDropIgnored

	// ActionDropDisabled drops every utterance when transcription is off.
	ActionDropDisabled
)

func (a Action) String() string {
	switch a {
	case ActionForward:
		return "forward"
	case ActionDropEmpty:
		return "empty"
	case ActionDropFiller:
		return "filler"
	case ActionDropIgnored:
		return "ignored"
	case ActionDropDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// Result of processing one utterance.
type Result struct {
	Text   string
	Action Action

	// Interrupt is set when a user turn was confirmed while the assistant
	// was talking; the session re-triggers interruption.
	Interrupt bool
}

// Pipeline chains transcription, the filler heuristic and intent
// classification.
type Pipeline struct {
	transcriber Transcriber
	classifier  Classifier
	enabled     bool
	sampleRate  int
	logger      *slog.Logger
}

// NewPipeline creates a pipeline. A nil classifier forwards every
// non-filler transcript. When enabled is false no network call is made.
func NewPipeline(t Transcriber, c Classifier, enabled bool, sampleRate int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		transcriber: t,
		classifier:  c,
		enabled:     enabled && t != nil,
		sampleRate:  sampleRate,
		logger:      logger.With("component", "transcribe.pipeline"),
	}
}

// Enabled reports whether utterances are transcribed.
func (p *Pipeline) Enabled() bool {
	return p != nil && p.enabled
}

// Process transcribes pcm and decides its fate. Transcription errors are
// returned; classifier errors fail open to a user turn.
func (p *Pipeline) Process(ctx context.Context, pcm []byte, assistantTalking bool) (Result, error) {
	if !p.Enabled() {
		return Result{Action: ActionDropDisabled}, nil
	}

	text, err := p.transcriber.Transcribe(ctx, pcm, p.sampleRate)
	if err != nil {
		return Result{}, err
	}
	if text == "" {
		return Result{Action: ActionDropEmpty}, nil
	}
	if IsFiller(text) {
		p.logger.Debug("dropping filler", "text", text)
		return Result{Text: text, Action: ActionDropFiller}, nil
	}

	if p.classifier != nil && NeedsClassification(text, assistantTalking) {
		intent, err := p.classifier.Classify(ctx, text, assistantTalking)
		if err != nil {
			p.logger.Warn("classifier failed, treating as user turn", "error", err)
			intent = IntentUserTurn
		}
		if intent == IntentIgnore {
			return Result{Text: text, Action: ActionDropIgnored}, nil
		}
	}

	return Result{Text: text, Action: ActionForward, Interrupt: assistantTalking}, nil
}
