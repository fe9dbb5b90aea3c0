package session

import "time"

// NotificationKind identifies a persistence event.
type NotificationKind string

const (
	SessionStarted   NotificationKind = "session_started"
	SessionUpdated   NotificationKind = "session_updated"
	UserMessage      NotificationKind = "user_message"
	AssistantMessage NotificationKind = "assistant_message"
)

// StatusClosed is the stored status of a session whose client went away or
// whose server shut down. It never reaches the client as a call status.
const StatusClosed = "closed"

// Message authors.
const (
	FromUser      = "user"
	FromAssistant = "assistant"
)

// Notification is a fire-and-forget side effect emitted by the session for
// the persistence collaborator. The session never waits on its consumer.
type Notification struct {
	Kind           NotificationKind
	SessionID      string
	ConversationID string

	// Messages
	From string
	Text string
	Meta map[string]any

	// Session updates
	Status string
	Scope  string

	Time time.Time
}
