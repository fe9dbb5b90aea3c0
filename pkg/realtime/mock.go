package realtime

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
)

// ToolResult is a captured SubmitToolResult call.
type ToolResult struct {
	CallID string
	Output string
}

// Mock is a mock implementation of Peer for testing.
type Mock struct {
	mu sync.RWMutex

	connected bool

	onEvent func(data []byte)
	onError func(err error)

	// Configurable behavior
	ConnectFunc func(ctx context.Context) error

	// Captured calls for assertions
	session      *SessionOptions
	texts        []string
	audio        [][]byte
	audioCleared int
	responses    int
	cancels      []string
	toolResults  []ToolResult
}

// NewMock creates a new Mock peer.
func NewMock() *Mock {
	return &Mock{}
}

// Connect implements Peer.
func (m *Mock) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		if err := m.ConnectFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close implements Peer.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected implements Peer.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// OnEvent implements Peer.
func (m *Mock) OnEvent(fn func(data []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEvent = fn
}

// OnError implements Peer.
func (m *Mock) OnError(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// ConfigureSession implements Peer.
func (m *Mock) ConfigureSession(opts SessionOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.session = &opts
	return nil
}

// SendUserText implements Peer.
func (m *Mock) SendUserText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.texts = append(m.texts, text)
	return nil
}

// AppendAudio implements Peer.
func (m *Mock) AppendAudio(pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.audio = append(m.audio, append([]byte(nil), pcm...))
	return nil
}

// ClearAudio implements Peer.
func (m *Mock) ClearAudio() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.audioCleared++
	return nil
}

// CreateResponse implements Peer.
func (m *Mock) CreateResponse() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.responses++
	return nil
}

// CancelResponse implements Peer.
func (m *Mock) CancelResponse(responseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.cancels = append(m.cancels, responseID)
	return nil
}

// SubmitToolResult implements Peer.
func (m *Mock) SubmitToolResult(callID, output string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrNotConnected
	}
	m.toolResults = append(m.toolResults, ToolResult{CallID: callID, Output: output})
	return nil
}

// Test helpers

// SimulateEvent delivers a raw upstream frame.
func (m *Mock) SimulateEvent(data []byte) {
	m.mu.RLock()
	fn := m.onEvent
	m.mu.RUnlock()
	if fn != nil {
		fn(data)
	}
}

// SimulateJSON encodes v and delivers it as an upstream frame.
func (m *Mock) SimulateJSON(v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		panic(err)
	}
	m.SimulateEvent(data)
}

// SimulateError triggers the OnError callback.
func (m *Mock) SimulateError(err error) {
	m.mu.RLock()
	fn := m.onError
	m.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Session returns the last ConfigureSession options.
func (m *Mock) Session() *SessionOptions {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// Texts returns the user texts sent.
func (m *Mock) Texts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.texts...)
}

// AudioSent returns the appended audio chunks.
func (m *Mock) AudioSent() [][]byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([][]byte(nil), m.audio...)
}

// AudioCleared returns how many times the input buffer was cleared.
func (m *Mock) AudioCleared() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.audioCleared
}

// ResponsesCreated returns how many responses were requested.
func (m *Mock) ResponsesCreated() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.responses
}

// Cancels returns the response ids passed to CancelResponse.
func (m *Mock) Cancels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.cancels...)
}

// ToolResults returns the submitted tool outputs.
func (m *Mock) ToolResults() []ToolResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ToolResult(nil), m.toolResults...)
}

// Reset clears all captured data.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	m.texts = nil
	m.audio = nil
	m.audioCleared = 0
	m.responses = 0
	m.cancels = nil
	m.toolResults = nil
}

// Ensure Mock implements Peer.
var _ Peer = (*Mock)(nil)
