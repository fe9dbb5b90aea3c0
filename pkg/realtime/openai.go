package realtime

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

const createEventPrefix = "response_create_"

// IsCreateEvent reports whether an event id echoed in an upstream error
// belongs to a response.create sent by this package.
func IsCreateEvent(eventID string) bool {
	return strings.HasPrefix(eventID, createEventPrefix)
}

// eventID tags an outbound event so errors can be traced back to it.
func eventID(typ string, seq int64) string {
	return fmt.Sprintf("%s_%d", strings.ReplaceAll(typ, ".", "_"), seq)
}

// OpenAI implements Peer for the OpenAI Realtime API.
type OpenAI struct {
	config *Config
	logger *slog.Logger

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	// writeMu serializes frames; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	onEvent func(data []byte)
	onError func(err error)

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	eventSeq         atomic.Int64
}

// NewOpenAI creates a new upstream peer.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &OpenAI{
		config: cfg,
		logger: cfg.Logger.With("component", "realtime.openai"),
	}, nil
}

// Connect implements Peer.
func (o *OpenAI) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.connected {
		o.mu.Unlock()
		return ErrAlreadyConnected
	}
	o.mu.Unlock()

	endpoint := o.config.URL
	if o.config.Model != "" {
		endpoint += "?model=" + url.QueryEscape(o.config.Model)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.config.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: o.config.Timeout}

	o.logger.Info("connecting to realtime upstream", "model", o.config.Model)

	conn, resp, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		if resp != nil {
			return NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return NewConnectionError("dial failed", err, true)
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.conn = conn
	o.connected = true
	o.cancel = cancel
	o.mu.Unlock()

	go o.readLoop(loopCtx, conn)
	if o.config.PingInterval > 0 {
		go o.pingLoop(loopCtx, conn)
	}

	o.logger.Info("connected to realtime upstream")
	return nil
}

// Close implements Peer.
func (o *OpenAI) Close() error {
	o.mu.Lock()
	conn := o.conn
	cancel := o.cancel
	o.conn = nil
	o.cancel = nil
	wasConnected := o.connected
	o.connected = false
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn == nil {
		return nil
	}

	o.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	o.writeMu.Unlock()
	err := conn.Close()

	if wasConnected {
		o.logger.Info("disconnected from realtime upstream",
			"sent", o.messagesSent.Load(),
			"received", o.messagesReceived.Load(),
		)
	}
	return err
}

// IsConnected implements Peer.
func (o *OpenAI) IsConnected() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.connected
}

// OnEvent implements Peer.
func (o *OpenAI) OnEvent(fn func(data []byte)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onEvent = fn
}

// OnError implements Peer.
func (o *OpenAI) OnError(fn func(err error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onError = fn
}

// ConfigureSession implements Peer.
func (o *OpenAI) ConfigureSession(opts SessionOptions) error {
	voice := opts.Voice
	if voice == "" {
		voice = o.config.Voice
	}

	tools := make([]map[string]any, 0, len(opts.Tools))
	for _, t := range opts.Tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  params,
		})
	}

	var turnDetection any
	if opts.ServerVAD {
		turnDetection = map[string]any{
			"type":                "server_vad",
			"threshold":           0.5,
			"prefix_padding_ms":   300,
			"silence_duration_ms": 500,
		}
	}

	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"instructions":        opts.Instructions,
		"voice":               voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"turn_detection":      turnDetection,
		"tools":               tools,
		"tool_choice":         "auto",
	}
	if opts.InputTranscriptionModel != "" {
		session["input_audio_transcription"] = map[string]any{"model": opts.InputTranscriptionModel}
	}

	return o.send("configure session", map[string]any{
		"type":    "session.update",
		"session": session,
	})
}

// SendUserText implements Peer.
func (o *OpenAI) SendUserText(text string) error {
	return o.send("send text", map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	})
}

// AppendAudio implements Peer.
func (o *OpenAI) AppendAudio(pcm []byte) error {
	return o.send("append audio", map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// ClearAudio implements Peer.
func (o *OpenAI) ClearAudio() error {
	return o.send("clear audio", map[string]any{"type": "input_audio_buffer.clear"})
}

// CreateResponse implements Peer.
func (o *OpenAI) CreateResponse() error {
	return o.send("create response", map[string]any{"type": "response.create"})
}

// CancelResponse implements Peer.
func (o *OpenAI) CancelResponse(responseID string) error {
	msg := map[string]any{"type": "response.cancel"}
	if responseID != "" {
		msg["response_id"] = responseID
	}
	return o.send("cancel response", msg)
}

// SubmitToolResult implements Peer.
func (o *OpenAI) SubmitToolResult(callID, output string) error {
	err := o.send("submit tool result", map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type":    "function_call_output",
			"call_id": callID,
			"output":  output,
		},
	})
	if err != nil {
		return err
	}

	o.logger.Debug("submitted tool result", "call_id", callID, "output_len", len(output))
	return nil
}

func (o *OpenAI) send(op string, msg map[string]any) error {
	o.mu.RLock()
	conn := o.conn
	connected := o.connected
	o.mu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	if typ, ok := msg["type"].(string); ok {
		msg["event_id"] = eventID(typ, o.eventSeq.Add(1))
	}
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", op, err)
	}

	o.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	err = conn.WriteMessage(websocket.TextMessage, data)
	o.writeMu.Unlock()

	if err != nil {
		return NewConnectionError(op+" failed", err, true)
	}
	o.messagesSent.Add(1)
	return nil
}

func (o *OpenAI) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		o.mu.Lock()
		if o.conn == conn {
			o.connected = false
		}
		o.mu.Unlock()
	}()

	for {
		if o.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(o.config.ReadTimeout))
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				o.logger.Info("upstream closed connection")
				o.emitError(ErrConnectionClosed)
				return
			}
			o.logger.Error("read error", "error", err)
			o.emitError(NewConnectionError("read failed", err, true))
			return
		}

		o.messagesReceived.Add(1)
		o.emitEvent(data)
	}
}

func (o *OpenAI) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(o.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
			o.writeMu.Unlock()
			if err != nil {
				o.logger.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

func (o *OpenAI) emitEvent(data []byte) {
	o.mu.RLock()
	fn := o.onEvent
	o.mu.RUnlock()
	if fn != nil {
		fn(data)
	}
}

func (o *OpenAI) emitError(err error) {
	o.mu.RLock()
	fn := o.onError
	o.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Ensure OpenAI implements Peer.
var _ Peer = (*OpenAI)(nil)
