// Package session runs one client connection: the call lifecycle, the
// per-turn state machine against the upstream realtime peer, local voice
// segmentation, barge-in, retrieval and tool dispatch.
//
// Each Session owns its state on a single loop goroutine. Slow I/O
// (transcription, classification, scope detection, retrieval, tool HTTP)
// runs on a serial worker goroutine whose results are posted back to the
// loop, so audio frames are never held up behind a network call. Outbound
// frames are written by a dedicated writer goroutine.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-voicebridge/pkg/audio"
	"github.com/teslashibe/go-voicebridge/pkg/playback"
	"github.com/teslashibe/go-voicebridge/pkg/protocol"
	"github.com/teslashibe/go-voicebridge/pkg/realtime"
	"github.com/teslashibe/go-voicebridge/pkg/scope"
	"github.com/teslashibe/go-voicebridge/pkg/vad"
)

const writeWait = 10 * time.Second

// Conn is the client socket. Both gorilla and fiber websocket connections
// satisfy it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Info is a point-in-time view of a session for the connection registry.
type Info struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	CallStatus     string    `json:"call_status"`
	Scope          string    `json:"scope"`
	StartedAt      time.Time `json:"started_at"`
	LastActivity   time.Time `json:"last_activity"`
}

type frame struct {
	binary bool
	data   []byte
}

type clientFrame struct {
	messageType int
	data        []byte
}

// Session is one client connection.
type Session struct {
	id     string
	cfg    Config
	deps   Deps
	conn   Conn
	logger *slog.Logger
	now    func() time.Time

	// ctx is set by Run and cancelled when the session ends.
	ctx context.Context

	// Loop-owned state.
	callStatus     string
	scope          string
	conversationID string
	meta           map[string]any
	micMuted       bool
	lastActivity   time.Time
	turn           *turn
	segmenter      *vad.Segmenter
	arbiter        *vad.Arbiter
	decoder        audio.Decoder
	playback       *playback.Scheduler

	// Channels between goroutines.
	inbound  chan clientFrame
	upstream chan []byte
	posted   chan func()
	jobs     chan func(context.Context)
	outbound chan frame
	closed   chan error

	infoMu sync.RWMutex
	info   Info
}

// New creates a session for conn. Run starts it.
func New(conn Conn, deps Deps, cfg Config) (*Session, error) {
	if deps.Peer == nil {
		return nil, ErrMissingPeer
	}
	cfg.fill()
	if err := cfg.VAD.Validate(); err != nil {
		return nil, err
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}

	id := uuid.NewString()
	now := time.Now()
	s := &Session{
		id:           id,
		cfg:          cfg,
		deps:         deps,
		conn:         conn,
		logger:       cfg.Logger.With("component", "session", "session_id", id),
		now:          time.Now,
		callStatus:   protocol.CallIdle,
		scope:        scope.General,
		lastActivity: now,
		turn:         newTurn(),
		playback:     playback.New(audio.SampleRate),
		inbound:      make(chan clientFrame, 64),
		upstream:     make(chan []byte, 256),
		posted:       make(chan func(), 64),
		jobs:         make(chan func(context.Context), 32),
		outbound:     make(chan frame, cfg.OutboundBuffer),
		closed:       make(chan error, 1),
	}

	s.segmenter = vad.NewSegmenter(cfg.VAD)
	s.arbiter = vad.NewArbiter(cfg.BargeIn)
	s.segmenter.AttachArbiter(s.arbiter, s.talking, cfg.Transcribe)

	s.info = Info{ID: id, CallStatus: s.callStatus, Scope: s.scope, StartedAt: now, LastActivity: now}
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Info returns a snapshot safe to call from any goroutine.
func (s *Session) Info() Info {
	s.infoMu.RLock()
	defer s.infoMu.RUnlock()
	return s.info
}

// Run connects the upstream peer and serves the client until the socket
// closes, the session expires or ctx is cancelled. It closes both sockets
// before returning.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.ctx = ctx

	peer := s.deps.Peer
	peer.OnEvent(func(data []byte) {
		select {
		case s.upstream <- data:
		case <-ctx.Done():
		}
	})
	peer.OnError(func(err error) {
		s.post(func() { s.handlePeerError(err) })
	})

	writerDone := make(chan struct{})
	go s.writeLoop(ctx, writerDone)
	defer func() {
		cancel()
		<-writerDone
		peer.Close()
		s.conn.Close()
	}()

	if err := peer.Connect(ctx); err != nil {
		s.logger.Error("upstream connect failed", "error", err)
		s.send(protocol.NewSystemNotice("upstream_unavailable", "Could not connect to the assistant. Please try again."))
		return err
	}
	if err := peer.ConfigureSession(s.sessionOptions()); err != nil {
		s.logger.Error("upstream configure failed", "error", err)
		s.send(protocol.NewSystemNotice("upstream_unavailable", "Could not connect to the assistant. Please try again."))
		return err
	}

	go s.readLoop(ctx)
	go s.worker(ctx)

	s.logger.Info("session started")
	s.notify(Notification{Kind: SessionStarted, Status: s.callStatus, Scope: s.scope})
	s.send(protocol.NewCallStatus(s.callStatus))

	defer s.finish()
	return s.loop(ctx)
}

func (s *Session) loop(ctx context.Context) error {
	idle := time.NewTimer(s.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()

		case err := <-s.closed:
			s.logger.Info("client disconnected", "reason", err)
			s.teardown()
			return nil

		case f := <-s.inbound:
			s.touch()
			s.handleClient(f)

		case data := <-s.upstream:
			s.touch()
			s.handleUpstream(data)

		case fn := <-s.posted:
			fn()

		case <-idle.C:
			quiet := s.now().Sub(s.lastActivity)
			if s.inCall() || quiet < s.cfg.IdleTimeout {
				idle.Reset(max(s.cfg.IdleTimeout-quiet, time.Second))
				continue
			}
			s.expire()
			return nil
		}

		if s.callStatus == protocol.CallExpired {
			return nil
		}
	}
}

// readLoop pumps client frames into the loop.
func (s *Session) readLoop(ctx context.Context) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.closed <- err:
			default:
			}
			return
		}
		select {
		case s.inbound <- clientFrame{messageType: mt, data: data}:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop is the only goroutine writing to the client socket. Queued
// frames are flushed before it exits.
func (s *Session) writeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	write := func(f frame) bool {
		mt := websocket.TextMessage
		if f.binary {
			mt = websocket.BinaryMessage
		}
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(mt, f.data); err != nil {
			s.logger.Debug("client write failed", "error", err)
			return false
		}
		return true
	}

	for {
		select {
		case f := <-s.outbound:
			if !write(f) {
				return
			}
		case <-ctx.Done():
			for {
				select {
				case f := <-s.outbound:
					if !write(f) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// worker runs slow jobs one at a time, in submission order.
func (s *Session) worker(ctx context.Context) {
	for {
		select {
		case job := <-s.jobs:
			job(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// submit queues a job for the worker.
func (s *Session) submit(job func(context.Context)) {
	select {
	case s.jobs <- job:
	case <-s.ctx.Done():
	}
}

// post hands a closure to the loop. Safe from any goroutine.
func (s *Session) post(fn func()) {
	select {
	case s.posted <- fn:
	case <-s.ctx.Done():
	}
}

// send encodes v and queues it for the client.
func (s *Session) send(v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		s.logger.Error("encode failed", "error", err)
		return
	}
	s.queue(frame{data: data})
}

func (s *Session) sendRaw(data []byte) {
	s.queue(frame{data: data})
}

func (s *Session) sendAudio(pcm []byte) {
	s.queue(frame{binary: true, data: pcm})
}

func (s *Session) queue(f frame) {
	select {
	case s.outbound <- f:
	default:
		s.logger.Warn("outbound queue full, dropping frame", "binary", f.binary, "bytes", len(f.data))
	}
}

// broadcast mirrors v to monitoring dashboards.
func (s *Session) broadcast(v any) {
	if s.deps.Monitor == nil {
		return
	}
	data, err := protocol.Encode(v)
	if err != nil {
		return
	}
	s.deps.Monitor.Broadcast(s.id, data)
}

func (s *Session) notify(n Notification) {
	if s.deps.Notify == nil {
		return
	}
	n.SessionID = s.id
	n.ConversationID = s.conversationID
	if n.ConversationID == "" {
		n.ConversationID = s.id
	}
	if n.Time.IsZero() {
		n.Time = s.now()
	}
	select {
	case s.deps.Notify <- n:
	default:
		s.logger.Warn("notification dropped", "kind", n.Kind)
	}
}

func (s *Session) touch() {
	s.lastActivity = s.now()
	s.infoMu.Lock()
	s.info.LastActivity = s.lastActivity
	s.infoMu.Unlock()
}

func (s *Session) syncInfo() {
	s.infoMu.Lock()
	s.info.CallStatus = s.callStatus
	s.info.Scope = s.scope
	s.info.ConversationID = s.conversationID
	s.infoMu.Unlock()
}

func (s *Session) talking() bool {
	return s.playback.Talking(s.now())
}

func (s *Session) inCall() bool {
	return s.callStatus == protocol.CallCalling || s.callStatus == protocol.CallInCall
}

func (s *Session) setCallStatus(status string) {
	if s.callStatus == status {
		return
	}
	s.logger.Info("call status", "from", s.callStatus, "to", status)
	s.callStatus = status
	s.syncInfo()

	msg := protocol.NewCallStatus(status)
	s.send(msg)
	s.broadcast(msg)
	s.notify(Notification{Kind: SessionUpdated, Status: status, Scope: s.scope})
}

func (s *Session) expire() {
	s.logger.Info("session idle, expiring", "idle_timeout", s.cfg.IdleTimeout)
	s.teardown()
	s.setCallStatus(protocol.CallExpired)
}

// finish records the final session status. Expired sessions keep theirs.
func (s *Session) finish() {
	if s.callStatus == protocol.CallExpired {
		return
	}
	s.notify(Notification{Kind: SessionUpdated, Status: StatusClosed, Scope: s.scope})
}

// teardown releases call resources; the sockets are closed by Run.
func (s *Session) teardown() {
	if s.turn.active() {
		s.interrupt("teardown")
	}
	s.segmenter.Reset()
	s.decoder = nil
}

func (s *Session) handlePeerError(err error) {
	var apiErr *realtime.APIError
	if errors.As(err, &apiErr) {
		s.logger.Warn("upstream error", "error", err)
		return
	}
	s.logger.Error("upstream transport error", "error", err)
	if realtime.IsNotConnected(err) || !s.deps.Peer.IsConnected() {
		s.send(protocol.NewSystemNotice("upstream_disconnected", "The assistant connection was lost. Please reconnect."))
		select {
		case s.closed <- err:
		default:
		}
	}
}
