// Package persist stores sessions and transcripts. Sessions emit
// notifications; Forward drains them into a Sink so the conversation loop
// never waits on a database.
package persist

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teslashibe/go-voicebridge/pkg/session"
)

// ErrMissingURL indicates no database URL was configured.
var ErrMissingURL = errors.New("persist: database URL is required")

// Session is a stored session row.
type Session struct {
	ID             string
	ConversationID string
	Status         string
	Scope          string
	StartedAt      time.Time
}

// Message is one user or assistant utterance.
type Message struct {
	SessionID      string
	ConversationID string
	From           string
	Text           string
	Meta           map[string]any
	CreatedAt      time.Time
}

// Sink receives persistence side effects.
type Sink interface {
	CreateSession(ctx context.Context, s Session) error
	UpdateSession(ctx context.Context, id, status, scope string) error
	AppendMessage(ctx context.Context, m Message) error
	Close() error
}

// drainTimeout bounds the sink calls made for notifications still queued
// when Forward is stopped.
const drainTimeout = 3 * time.Second

// Forward applies notifications to sink until events is closed or ctx is
// done. On ctx done, notifications already queued are still written under a
// fresh deadline so final session updates survive shutdown. Sink failures
// are logged and otherwise ignored.
func Forward(ctx context.Context, events <-chan session.Notification, sink Sink, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "persist.forward")

	write := func(ctx context.Context, n session.Notification) {
		if err := apply(ctx, sink, n); err != nil {
			logger.Warn("persist failed", "kind", n.Kind, "session_id", n.SessionID, "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain(ctx, events, write, logger)
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				drain(ctx, events, write, logger, n)
				return
			}
			write(ctx, n)
		}
	}
}

func drain(ctx context.Context, events <-chan session.Notification, write func(context.Context, session.Notification), logger *slog.Logger, pending ...session.Notification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()

	for _, n := range pending {
		write(ctx, n)
	}
	drained := len(pending)
	defer func() {
		if drained > 0 {
			logger.Info("drained notifications", "count", drained)
		}
	}()
	for {
		select {
		case n, ok := <-events:
			if !ok {
				return
			}
			write(ctx, n)
			drained++
		default:
			return
		}
	}
}

func apply(ctx context.Context, sink Sink, n session.Notification) error {
	switch n.Kind {
	case session.SessionStarted:
		return sink.CreateSession(ctx, Session{
			ID:             n.SessionID,
			ConversationID: n.ConversationID,
			Status:         n.Status,
			Scope:          n.Scope,
			StartedAt:      n.Time,
		})
	case session.SessionUpdated:
		return sink.UpdateSession(ctx, n.SessionID, n.Status, n.Scope)
	case session.UserMessage, session.AssistantMessage:
		return sink.AppendMessage(ctx, Message{
			SessionID:      n.SessionID,
			ConversationID: n.ConversationID,
			From:           n.From,
			Text:           n.Text,
			Meta:           n.Meta,
			CreatedAt:      n.Time,
		})
	}
	return nil
}

// LogSink writes persistence events to the log. It is used when no
// database is configured.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "persist.log")}
}

func (l *LogSink) CreateSession(ctx context.Context, s Session) error {
	l.logger.Info("session created", "session_id", s.ID, "conversation_id", s.ConversationID, "status", s.Status)
	return nil
}

func (l *LogSink) UpdateSession(ctx context.Context, id, status, scope string) error {
	l.logger.Info("session updated", "session_id", id, "status", status, "scope", scope)
	return nil
}

func (l *LogSink) AppendMessage(ctx context.Context, m Message) error {
	l.logger.Debug("message", "session_id", m.SessionID, "from", m.From, "chars", len(m.Text))
	return nil
}

func (l *LogSink) Close() error { return nil }

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Postgres)(nil)
)
