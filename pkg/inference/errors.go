package inference

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNoAPIKey       = errors.New("inference: API key required")
	ErrNoEmbedder     = errors.New("inference: embed chain needs at least one embedder")
	ErrNotConfigured  = errors.New("inference: no handler configured")
	ErrNoChoices      = errors.New("inference: completion has no choices")
	ErrEmptyEmbedding = errors.New("inference: empty embedding")
)

// Op names the kind of call that failed.
type Op string

const (
	OpChat  Op = "chat"
	OpEmbed Op = "embed"
)

// StatusError is a non-200 reply from a chat or embeddings endpoint.
type StatusError struct {
	Op         Op
	Backend    string
	StatusCode int

	// Code and Message come from the OpenAI-style error body when present.
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference: %s %s: status %d (%s): %s", e.Backend, e.Op, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference: %s %s: status %d: %s", e.Backend, e.Op, e.StatusCode, e.Message)
}

// Transient reports whether the same request may succeed later: rate
// limiting or a server fault.
func (e *StatusError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// CallError is a chat or embedding call that failed without a usable
// status: transport, encoding or decoding.
type CallError struct {
	Op      Op
	Backend string
	Err     error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("inference: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

func callErr(backend string, op Op, err error) error {
	return &CallError{Op: op, Backend: backend, Err: err}
}

// ChainError holds the failure of every embedder in an EmbedChain, in
// order.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	if len(e.Errors) == 0 {
		return "inference: embed chain failed"
	}
	return fmt.Sprintf("inference: all %d embedders failed, last: %v", len(e.Errors), e.Errors[len(e.Errors)-1])
}

// Unwrap exposes every embedder error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error { return e.Errors }
