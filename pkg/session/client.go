package session

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicebridge/pkg/audio"
	"github.com/teslashibe/go-voicebridge/pkg/protocol"
	"github.com/teslashibe/go-voicebridge/pkg/transcribe"
	"github.com/teslashibe/go-voicebridge/pkg/vad"
)

// Transcript discard reasons.
const (
	discardTooShort = "too_short"
	discardMuted    = "muted"
	discardError    = "error"
	discardCallEnd  = "call_ended"
)

// handleClient dispatches one client frame. Malformed and unknown messages
// are logged and ignored; the client gets no reply.
func (s *Session) handleClient(f clientFrame) {
	if f.messageType != websocket.TextMessage {
		s.logger.Debug("ignoring non-text client frame", "type", f.messageType)
		return
	}

	msg, err := protocol.ParseClient(f.data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			s.logger.Debug("ignoring unknown client message", "type", msg.Type)
		} else {
			s.logger.Warn("malformed client message", "error", err)
		}
		return
	}

	switch msg.Type {
	case protocol.TypeUserMessage:
		s.handleUserMessage(msg)
	case protocol.TypeAudioStart:
		s.startCall(msg)
	case protocol.TypeAudioChunk:
		s.handleAudioChunk(msg)
	case protocol.TypeAudioStop:
		s.endCall()
	case protocol.TypeResponseCancel:
		s.interrupt("client")
	case protocol.TypeStatsRequest:
		n := 0
		if s.deps.Connections != nil {
			n = s.deps.Connections()
		}
		s.send(protocol.NewServerStats(n))
	case protocol.TypeClientMute:
		if msg.Speaker != nil {
			s.playback.SetMuted(*msg.Speaker)
		}
		if msg.Mic != nil {
			s.micMuted = *msg.Mic
		}
		s.logger.Debug("mute updated", "speaker", s.playback.Muted(), "mic", s.micMuted)
	}
}

func (s *Session) handleUserMessage(msg *protocol.ClientMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	if msg.ConversationID != "" {
		s.conversationID = msg.ConversationID
		s.syncInfo()
	}
	if msg.AssistantID != "" || len(msg.Meta) > 0 {
		meta := make(map[string]any, len(msg.Meta)+1)
		for k, v := range msg.Meta {
			meta[k] = v
		}
		if msg.AssistantID != "" {
			meta["assistantId"] = msg.AssistantID
		}
		s.meta = meta
	}
	s.userTurn(text, msg.Scope)
}

// userTurn accepts a user question: it interrupts a talking assistant,
// detects the scope, builds retrieval context off-loop and then forwards
// the wrapped question upstream.
func (s *Session) userTurn(text, scopeHint string) {
	if s.talking() || s.turn.active() {
		s.interrupt("user_turn")
	}
	s.notify(Notification{Kind: UserMessage, From: FromUser, Text: text, Meta: s.meta})

	current := s.scope
	router, builder, tpl := s.deps.Router, s.deps.Context, s.cfg.Template

	s.submit(func(ctx context.Context) {
		next, changed := current, false
		switch {
		case router != nil:
			next, changed = router.Resolve(ctx, text, scopeHint, current)
		case scopeHint != "":
			next = strings.ToLower(scopeHint)
			changed = next != current
		}

		prompt := tpl.Wrap(builder.Build(ctx, text, next), text)

		s.post(func() {
			if changed && next != s.scope {
				s.scope = next
				s.syncInfo()
				s.send(protocol.NewScopeChanged(next))
				s.notify(Notification{Kind: SessionUpdated, Status: s.callStatus, Scope: next})
			}
			s.forward(prompt)
		})
	})
}

// forward sends a user item and requests a response.
func (s *Session) forward(prompt string) {
	if err := s.deps.Peer.SendUserText(prompt); err != nil {
		s.logger.Error("send user text failed", "error", err)
		s.send(protocol.NewSystemNotice("upstream_unavailable", "Could not reach the assistant."))
		return
	}
	if !s.requestResponse() {
		return
	}
	s.deps.Observer.TurnStarted()
	s.logger.Debug("turn requested", "chars", len(prompt))
}

// requestResponse sends response.create and marks the request pending.
func (s *Session) requestResponse() bool {
	if err := s.deps.Peer.CreateResponse(); err != nil {
		s.logger.Error("create response failed", "error", err)
		return false
	}
	s.turn.open()
	return true
}

// interrupt cancels the live turn: upstream cancel, local drop flags,
// playback stop. Calling it twice leaves the same state as once.
func (s *Session) interrupt(reason string) {
	wasActive := s.turn.active()
	id := s.turn.cancel()

	if wasActive {
		if err := s.deps.Peer.CancelResponse(id); err != nil {
			s.logger.Debug("upstream cancel failed", "error", err)
		}
		s.deps.Observer.TurnCancelled(reason)
		s.logger.Info("turn cancelled", "response_id", id, "reason", reason)
	}
	if !s.cfg.Transcribe && s.inCall() {
		_ = s.deps.Peer.ClearAudio()
	}

	s.playback.Stop()
	s.send(protocol.NewUICommand(protocol.CommandStopPlayback, nil))
}

func (s *Session) startCall(msg *protocol.ClientMessage) {
	dec, err := audio.NewDecoder(protocol.NormalizeFormat(msg.Format), msg.SampleRate)
	if err != nil {
		s.logger.Warn("unsupported audio format", "format", msg.Format, "error", err)
		s.send(protocol.NewError("unsupported_audio_format", "Unsupported audio format: "+msg.Format))
		return
	}
	s.decoder = dec
	s.segmenter.Reset()

	if s.callStatus == protocol.CallInCall {
		return
	}
	s.setCallStatus(protocol.CallCalling)
	if !s.deps.Peer.IsConnected() {
		s.send(protocol.NewSystemNotice("upstream_unavailable", "Could not connect to the assistant."))
		s.setCallStatus(protocol.CallIdle)
		return
	}
	s.setCallStatus(protocol.CallInCall)
}

// endCall returns to idle and releases capture state. The upstream socket
// stays open for the next call.
func (s *Session) endCall() {
	if !s.inCall() {
		return
	}
	if s.turn.active() || s.talking() {
		s.interrupt("call_end")
	}
	s.segmenter.Reset()
	s.decoder = nil
	s.setCallStatus(protocol.CallIdle)
}

func (s *Session) handleAudioChunk(msg *protocol.ClientMessage) {
	if s.callStatus != protocol.CallInCall || s.decoder == nil {
		return
	}
	payload, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		s.logger.Warn("bad audio chunk", "error", err)
		return
	}
	pcm, err := s.decoder.Decode(payload)
	if err != nil {
		s.logger.Warn("audio decode failed", "format", s.decoder.Format(), "error", err)
		return
	}

	if !s.cfg.Transcribe && !s.micMuted {
		if err := s.deps.Peer.AppendAudio(pcm); err != nil {
			s.logger.Debug("append audio failed", "error", err)
		}
	}

	for _, ev := range s.segmenter.Write(pcm, s.micMuted) {
		s.handleSegment(ev)
	}
}

func (s *Session) handleSegment(ev vad.Event) {
	switch ev.Type {
	case vad.EventStart:
		s.logger.Debug("speech started", "clock", s.segmenter.Clock())

	case vad.EventPlaceholder:
		if s.cfg.Transcribe {
			s.send(protocol.NewTranscriptPending(ev.PlaceholderID))
		}

	case vad.EventBargeIn:
		s.logger.Info("barge-in")
		s.interrupt("barge_in")

	case vad.EventDiscard:
		reason := discardTooShort
		if s.micMuted {
			reason = discardMuted
		}
		s.deps.Observer.UtteranceProcessed(reason)
		if ev.PlaceholderID != "" && s.cfg.Transcribe {
			s.send(protocol.NewTranscriptDiscard(ev.PlaceholderID, reason))
		}

	case vad.EventEnd:
		if !s.cfg.Transcribe || s.deps.Pipeline == nil {
			s.deps.Observer.UtteranceProcessed(transcribe.ActionDropDisabled.String())
			return
		}
		s.transcribe(ev.Utterance)
	}
}

// transcribe hands a finalized utterance to the worker.
func (s *Session) transcribe(u *vad.Utterance) {
	pcm := u.PCM()
	placeholder := u.PlaceholderID
	talking := s.talking()
	pipeline := s.deps.Pipeline

	s.submit(func(ctx context.Context) {
		res, err := pipeline.Process(ctx, pcm, talking)
		s.post(func() { s.transcribed(placeholder, res, err) })
	})
}

func (s *Session) transcribed(placeholder string, res transcribe.Result, err error) {
	if err != nil {
		s.logger.Warn("transcription failed", "error", err)
		s.deps.Observer.UtteranceProcessed(discardError)
		s.send(protocol.NewTranscriptDiscard(placeholder, discardError))
		return
	}
	s.deps.Observer.UtteranceProcessed(res.Action.String())

	if !s.inCall() {
		s.send(protocol.NewTranscriptDiscard(placeholder, discardCallEnd))
		return
	}
	if res.Action != transcribe.ActionForward {
		s.logger.Debug("utterance dropped", "action", res.Action, "text", res.Text)
		s.send(protocol.NewTranscriptDiscard(placeholder, res.Action.String()))
		return
	}

	if res.Interrupt && (s.talking() || s.turn.active()) {
		s.interrupt("confirmed_turn")
	}
	s.send(protocol.NewTranscriptFinal(placeholder, res.Text, s.scope))
	s.userTurn(res.Text, "")
}
