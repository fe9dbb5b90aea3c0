package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-voicebridge/pkg/inference"
)

// Intent is the classifier verdict for a transcript.
type Intent string

const (
	IntentUserTurn Intent = "USER_TURN"
	IntentIgnore   Intent = "IGNORE"
)

// Classifier decides whether a transcript is addressed to the assistant.
type Classifier interface {
	Classify(ctx context.Context, text string, assistantTalking bool) (Intent, error)
}

// NeedsClassification reports whether a transcript is ambiguous enough to
// classify: a single word, or speech while the assistant is talking.
func NeedsClassification(text string, assistantTalking bool) bool {
	return assistantTalking || len(strings.Fields(text)) == 1
}

const classifierPrompt = `You filter speech captured by a voice assistant's microphone.
Decide whether the transcript is the user deliberately addressing the assistant
(a question, request, answer or command) or incidental noise: backchannel
("ok", "yeah", "mhm"), coughs, background talk, or the assistant's own voice
picked up by the microphone.
Reply with exactly one word: USER_TURN or IGNORE.`

// ChatClassifier asks a chat model for the intent.
type ChatClassifier struct {
	chat   inference.Chatter
	model  string
	logger *slog.Logger
}

// NewChatClassifier creates a classifier. model may be empty to use the
// client's default.
func NewChatClassifier(chat inference.Chatter, model string, logger *slog.Logger) *ChatClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatClassifier{
		chat:   chat,
		model:  model,
		logger: logger.With("component", "transcribe.classifier"),
	}
}

// Classify implements Classifier.
func (c *ChatClassifier) Classify(ctx context.Context, text string, assistantTalking bool) (Intent, error) {
	user := fmt.Sprintf("assistant_speaking: %t\ntranscript: %q", assistantTalking, text)
	resp, err := c.chat.Chat(ctx, &inference.ChatRequest{
		Model: c.model,
		Messages: []inference.Message{
			inference.NewSystemMessage(classifierPrompt),
			inference.NewUserMessage(user),
		},
		MaxTokens:   4,
		Temperature: 0.01,
	})
	if err != nil {
		return IntentUserTurn, fmt.Errorf("transcribe: classify: %w", err)
	}

	intent := ParseIntent(resp.Message.Content)
	c.logger.Debug("classified", "text", text, "intent", intent, "assistant_talking", assistantTalking)
	return intent, nil
}

// ParseIntent maps a model reply to an Intent. Anything other than an
// explicit IGNORE is a user turn.
func ParseIntent(reply string) Intent {
	if strings.Contains(strings.ToUpper(reply), string(IntentIgnore)) {
		return IntentIgnore
	}
	return IntentUserTurn
}

var _ Classifier = (*ChatClassifier)(nil)
