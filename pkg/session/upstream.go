package session

import (
	"encoding/base64"

	"github.com/teslashibe/go-voicebridge/pkg/protocol"
	"github.com/teslashibe/go-voicebridge/pkg/realtime"
)

// handleUpstream applies one upstream event to the turn state. Events are
// matched on type; anything unrecognized or malformed is forwarded to the
// client verbatim.
func (s *Session) handleUpstream(data []byte) {
	ev, err := protocol.ParseUpstream(data)
	if err != nil {
		s.logger.Warn("malformed upstream event, forwarding raw", "error", err)
		s.sendRaw(data)
		return
	}

	switch ev.Type {
	case protocol.UpstreamSessionCreated, protocol.UpstreamSessionUpdated:
		s.logger.Debug("upstream session", "type", ev.Type)

	case protocol.UpstreamResponseCreated:
		id := ev.RespID()
		if !s.turn.created(id) {
			s.logger.Debug("cancelling orphaned response", "response_id", id)
			_ = s.deps.Peer.CancelResponse(id)
			return
		}
		s.logger.Debug("turn created", "response_id", id)
		s.sendRaw(data)

	case protocol.UpstreamAudioDelta:
		if !s.turn.live(ev.RespID()) {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			s.logger.Warn("bad audio delta", "error", err)
			return
		}
		s.sendAudio(s.playback.Schedule(pcm, s.now()))

	case protocol.UpstreamTranscriptDelta, protocol.UpstreamTextDelta:
		if !s.turn.live(ev.RespID()) {
			return
		}
		s.turn.text.WriteString(ev.Delta)
		s.sendRaw(data)

	case protocol.UpstreamTranscriptDone, protocol.UpstreamTextDone:
		if !s.turn.live(ev.RespID()) {
			return
		}
		s.deliverFinal(ev)

	case protocol.UpstreamResponseDone, protocol.UpstreamAudioDone:
		id := ev.RespID()
		if !s.turn.live(id) {
			return
		}
		s.sendRaw(data)
		if ev.Type == protocol.UpstreamResponseDone {
			resume := s.turn.done(id)
			s.logger.Debug("turn closed", "response_id", id)
			if resume {
				s.requestResponse()
			}
		}

	case protocol.UpstreamOutputItemAdded:
		if ev.Item != nil && ev.Item.Type == "function_call" && s.turn.live(ev.RespID()) {
			s.turn.call(ev.Item.CallID, ev.Item.Name)
		}

	case protocol.UpstreamFunctionArgsDelta:
		if s.turn.live(ev.RespID()) {
			s.turn.call(ev.CallID, ev.Name).args.WriteString(ev.Delta)
		}

	case protocol.UpstreamFunctionArgsDone:
		if !s.turn.live(ev.RespID()) {
			s.logger.Debug("dropping tool call from cancelled turn", "call_id", ev.CallID)
			return
		}
		s.handleToolCall(ev)

	case protocol.UpstreamSpeechStarted:
		if s.talking() || s.turn.active() {
			s.interrupt("upstream_vad")
		}

	case protocol.UpstreamInputTranscription:
		if ev.Transcript != "" {
			s.send(protocol.NewTranscriptFinal("", ev.Transcript, s.scope))
			s.notify(Notification{Kind: UserMessage, From: FromUser, Text: ev.Transcript, Meta: s.meta})
		}

	case protocol.UpstreamError:
		eventID := ""
		if ev.Error != nil {
			eventID = ev.Error.EventID
			s.logger.Warn("upstream error event", "code", ev.Error.Code, "message", ev.Error.Message, "event_id", eventID)
		}
		// Errors name the client event they answer when it carried an id;
		// untagged errors are taken to answer the oldest pending create.
		if (eventID == "" || realtime.IsCreateEvent(eventID)) && s.turn.rejected() {
			s.logger.Info("response request rejected", "pending", s.turn.requested)
			if s.turn.resume && !s.turn.busy() {
				s.turn.resume = false
				s.requestResponse()
			}
		}
		s.sendRaw(data)

	default:
		s.sendRaw(data)
	}
}

// deliverFinal sanitizes and delivers the assistant's final text once per
// turn, even when both a text-done and a transcript-done arrive.
func (s *Session) deliverFinal(ev *protocol.UpstreamEvent) {
	text := ev.FinalText()
	if text == "" {
		text = s.turn.text.String()
	}
	text = s.deps.Sanitizer.Sanitize(text)

	id := ev.RespID()
	if !s.turn.final(id, text) {
		s.logger.Debug("duplicate final suppressed", "response_id", id)
		return
	}

	out := protocol.TranscriptDone{Type: ev.Type, ResponseID: id}
	if ev.Type == protocol.UpstreamTextDone {
		out.Text = text
	} else {
		out.Transcript = text
	}
	s.send(out)
	s.notify(Notification{Kind: AssistantMessage, From: FromAssistant, Text: text})
}
