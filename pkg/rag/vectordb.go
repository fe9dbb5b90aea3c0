package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-voicebridge/internal/httpc"
)

var (
	// ErrMissingURL indicates the vector database has no endpoint.
	ErrMissingURL = errors.New("rag: vector database URL is required")

	// ErrQueryFailed indicates a non-2xx vector database response.
	ErrQueryFailed = errors.New("rag: vector query failed")
)

// Match is a vector database hit, resolved against the local store by id.
type Match struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}

// VectorDB is an external nearest-neighbour index.
type VectorDB interface {
	Query(ctx context.Context, vec []float64, topK int, scope string) ([]Match, error)
}

// HTTPVectorDB speaks the Pinecone query API.
type HTTPVectorDB struct {
	baseURL   string
	apiKey    string
	namespace string
	client    *http.Client
}

// NewHTTPVectorDB creates a client for the index at baseURL.
func NewHTTPVectorDB(baseURL, apiKey, namespace string) (*HTTPVectorDB, error) {
	if baseURL == "" {
		return nil, ErrMissingURL
	}
	return &HTTPVectorDB{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		namespace: namespace,
		client:    httpc.Client,
	}, nil
}

type queryRequest struct {
	Vector    []float64      `json:"vector"`
	TopK      int            `json:"topK"`
	Namespace string         `json:"namespace,omitempty"`
	Filter    map[string]any `json:"filter,omitempty"`
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Query implements VectorDB.
func (db *HTTPVectorDB) Query(ctx context.Context, vec []float64, topK int, scope string) ([]Match, error) {
	q := queryRequest{Vector: vec, TopK: topK, Namespace: db.namespace}
	if scope != "" {
		q.Filter = map[string]any{"scope": map[string]any{"$eq": scope}}
	}
	body, err := sonic.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("rag: encode query: %w", err)
	}

	req, err := httpc.NewRequest(ctx, http.MethodPost, db.baseURL+"/query", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rag: build request: %w", err)
	}
	if db.apiKey != "" {
		req.Header.Set("Api-Key", db.apiKey)
	}

	resp, err := db.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rag: query: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrQueryFailed, resp.StatusCode, httpc.ReadErrorBody(resp.Body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rag: read response: %w", err)
	}
	var out queryResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("rag: decode response: %w", err)
	}
	return out.Matches, nil
}

var _ VectorDB = (*HTTPVectorDB)(nil)
