package session

import (
	"context"
	"slices"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-voicebridge/pkg/protocol"
	"github.com/teslashibe/go-voicebridge/pkg/realtime"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
)

// Control tools are handled by the session itself and surface to the client
// as ui.command messages.
var controlTools = []realtime.ToolSpec{
	{
		Name:        protocol.CommandEndCall,
		Description: "End the current voice call when the user says goodbye or asks to hang up.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        protocol.CommandMute,
		Description: "Mute the assistant's audio output.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        protocol.CommandUnmute,
		Description: "Unmute the assistant's audio output.",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
	},
	{
		Name:        protocol.CommandSetVoice,
		Description: "Change the assistant's voice.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"voice": map[string]any{"type": "string", "description": "Voice name"},
			},
			"required": []string{"voice"},
		},
	},
}

// ControlTools returns the built-in tools every session registers.
func ControlTools() []realtime.ToolSpec {
	return slices.Clone(controlTools)
}

func (s *Session) sessionOptions() realtime.SessionOptions {
	specs := make([]realtime.ToolSpec, 0, len(controlTools)+4)
	specs = append(specs, controlTools...)
	if s.deps.Tools != nil {
		for _, d := range s.deps.Tools.Definitions() {
			specs = append(specs, realtime.ToolSpec{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			})
		}
	}

	opts := realtime.SessionOptions{
		Instructions: s.cfg.SystemPrompt,
		Voice:        s.cfg.Voice,
		Tools:        specs,
		ServerVAD:    !s.cfg.Transcribe,
	}
	if !s.cfg.Transcribe {
		opts.InputTranscriptionModel = s.cfg.InputTranscriptionModel
	}
	return opts
}

func (s *Session) handleToolCall(ev *protocol.UpstreamEvent) {
	callID := ev.CallID
	name, raw := ev.Name, ev.Arguments
	if c, ok := s.turn.takeCall(callID); ok {
		if name == "" {
			name = c.name
		}
		if raw == "" {
			raw = c.args.String()
		}
	}

	args := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := sonic.UnmarshalString(raw, &args); err != nil {
			s.logger.Warn("bad tool arguments", "tool", name, "error", err)
			s.submitToolResult(callID, map[string]any{"error": "invalid arguments: " + err.Error()})
			return
		}
	}

	s.logger.Info("tool call", "tool", name, "call_id", callID)

	if s.handleControlTool(callID, name, args) {
		return
	}
	if s.deps.Tools == nil {
		s.submitToolResult(callID, map[string]any{"error": "Unknown tool: " + name})
		return
	}

	epoch := s.turn.epoch
	dispatcher := s.deps.Tools
	s.submit(func(ctx context.Context) {
		out := dispatcher.Dispatch(ctx, name, args, func(l tools.Log) {
			s.post(func() { s.toolLog(l) })
		})
		s.post(func() {
			if s.turn.epoch != epoch {
				s.logger.Debug("turn cancelled during tool call, dropping result", "tool", name)
				return
			}
			s.submitToolResult(callID, out)
		})
	})
}

// handleControlTool runs built-in tools. It returns false for other names.
func (s *Session) handleControlTool(callID, name string, args map[string]any) bool {
	switch name {
	case protocol.CommandEndCall:
		s.send(protocol.NewUICommand(protocol.CommandEndCall, nil))
		s.interrupt("end_call")
		s.endCall()
	case protocol.CommandMute:
		s.playback.SetMuted(true)
		s.send(protocol.NewUICommand(protocol.CommandMute, nil))
		s.submitToolResult(callID, map[string]any{"ok": true})
	case protocol.CommandUnmute:
		s.playback.SetMuted(false)
		s.send(protocol.NewUICommand(protocol.CommandUnmute, nil))
		s.submitToolResult(callID, map[string]any{"ok": true})
	case protocol.CommandSetVoice:
		s.send(protocol.NewUICommand(protocol.CommandSetVoice, args))
		s.submitToolResult(callID, map[string]any{"ok": true})
	default:
		return false
	}
	s.toolLog(tools.Log{Name: name, Status: tools.StatusSucceeded, Args: args, Timestamp: s.now()})
	return true
}

func (s *Session) submitToolResult(callID string, out map[string]any) {
	data, err := sonic.MarshalString(out)
	if err != nil {
		data = `{"error":"unencodable tool output"}`
	}
	if err := s.deps.Peer.SubmitToolResult(callID, data); err != nil {
		s.logger.Error("submit tool result failed", "call_id", callID, "error", err)
		return
	}
	if s.turn.busy() {
		s.turn.resume = true
		return
	}
	s.requestResponse()
}

func (s *Session) toolLog(l tools.Log) {
	msg := protocol.NewToolLog(l.Name, l.Status, l.Args, l.Message, l.Timestamp)
	s.send(msg)
	s.broadcast(msg)
	if l.Status != tools.StatusStarted {
		s.deps.Observer.ToolCalled(l.Name, l.Status)
	}
}
