package protocol

import "time"

// Call statuses carried by call.status.
const (
	CallIdle    = "idle"
	CallCalling = "calling"
	CallInCall  = "in_call"
	CallExpired = "expired"
)

// Tool log statuses.
const (
	ToolStarted   = "started"
	ToolSucceeded = "succeeded"
	ToolFailed    = "failed"
)

// UI commands.
const (
	CommandStopPlayback = "stop_playback"
	CommandEndCall      = "end_call"
	CommandMute         = "mute_audio"
	CommandUnmute       = "unmute_audio"
	CommandSetVoice     = "set_voice"
)

// NewToolLog creates a tool.log notification. Args always encode as an
// object.
func NewToolLog(name, status string, args map[string]any, message string, at time.Time) ToolLog {
	if args == nil {
		args = map[string]any{}
	}
	return ToolLog{
		Type:      TypeToolLog,
		Name:      name,
		Status:    status,
		Args:      args,
		Message:   message,
		Timestamp: at.UnixMilli(),
	}
}

// NewServerStats creates a server.stats reply.
func NewServerStats(connections int) ServerStats {
	return ServerStats{Type: TypeServerStats, Connections: connections}
}

// NewUICommand creates a ui.command message.
func NewUICommand(command string, args map[string]any) UICommand {
	if args == nil {
		args = map[string]any{}
	}
	return UICommand{Type: TypeUICommand, Command: command, Args: args}
}

// NewCallStatus creates a call.status message.
func NewCallStatus(status string) CallStatus {
	return CallStatus{Type: TypeCallStatus, Status: status}
}

// NewTranscriptPending creates a user.transcript.pending message.
func NewTranscriptPending(placeholderID string) TranscriptPending {
	return TranscriptPending{Type: TypeTranscriptPending, PlaceholderID: placeholderID}
}

// NewTranscriptFinal creates a user.transcript.final message.
func NewTranscriptFinal(placeholderID, text, scope string) TranscriptFinal {
	return TranscriptFinal{Type: TypeTranscriptFinal, PlaceholderID: placeholderID, Text: text, Scope: scope}
}

// NewTranscriptDiscard creates a user.transcript.discard message.
func NewTranscriptDiscard(placeholderID, reason string) TranscriptDiscard {
	return TranscriptDiscard{Type: TypeTranscriptDiscard, PlaceholderID: placeholderID, Reason: reason}
}

// NewScopeChanged creates a scope.changed message.
func NewScopeChanged(scope string) ScopeChanged {
	return ScopeChanged{Type: TypeScopeChanged, Scope: scope}
}

// NewSystemNotice creates a system.notice message.
func NewSystemNotice(code, message string) SystemNotice {
	return SystemNotice{Type: TypeSystemNotice, Code: code, Message: message}
}

// NewError creates an error event.
func NewError(code, message string) ErrorMessage {
	return ErrorMessage{Type: TypeError, Error: ErrorBody{Type: "server_error", Code: code, Message: message}}
}
