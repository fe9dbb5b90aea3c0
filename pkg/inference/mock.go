package inference

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
type Mock struct {
	// ChatFunc is called when Chat is invoked.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// EmbedFunc is called when Embed is invoked.
	EmbedFunc func(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)

	mu    sync.Mutex
	calls []MockCall
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Input  []string
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{
				Message:      NewAssistantMessage("Mock response"),
				FinishReason: "stop",
			}, nil
		},
		EmbedFunc: func(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
			embeddings := make([][]float64, len(req.Input))
			for i := range embeddings {
				embeddings[i] = make([]float64, 8)
			}
			return &EmbedResponse{Embeddings: embeddings}, nil
		},
	}
}

// ChatReply returns a mock whose Chat always answers content.
func ChatReply(content string) *Mock {
	m := NewMock()
	m.ChatFunc = func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		return &ChatResponse{Message: NewAssistantMessage(content), FinishReason: "stop"}, nil
	}
	return m
}

// FixedEmbedding returns a mock whose Embed maps each input through fn.
func FixedEmbedding(fn func(text string) []float64) *Mock {
	m := NewMock()
	m.EmbedFunc = func(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
		out := make([][]float64, len(req.Input))
		for i, t := range req.Input {
			out[i] = fn(t)
		}
		return &EmbedResponse{Embeddings: out}, nil
	}
	return m
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, err
		},
		EmbedFunc: func(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
			return nil, err
		},
	}
}

// Chat calls ChatFunc and records the call.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var input []string
	for _, msg := range req.Messages {
		input = append(input, msg.Content)
	}
	m.record("Chat", input)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return nil, callErr("mock", OpChat, ErrNotConfigured)
}

// Embed calls EmbedFunc and records the call.
func (m *Mock) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	m.record("Embed", req.Input)
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, req)
	}
	return nil, callErr("mock", OpEmbed, ErrNotConfigured)
}

// Close records the call.
func (m *Mock) Close() error {
	m.record("Close", nil)
	return nil
}

func (m *Mock) record(method string, input []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Input: input, Time: time.Now()})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
