package scope

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/teslashibe/go-voicebridge/internal/httpc"
	"github.com/teslashibe/go-voicebridge/pkg/inference"
	"github.com/teslashibe/go-voicebridge/pkg/rag"
)

var (
	// ErrMissingURL indicates the HTTP detector has no endpoint.
	ErrMissingURL = errors.New("scope: detector URL is required")

	// ErrRequestFailed indicates a non-2xx detector response.
	ErrRequestFailed = errors.New("scope: request failed")
)

// Detector is the vector-similarity path of scope detection. An empty name
// with a nil error means no confident match.
type Detector interface {
	Detect(ctx context.Context, text string) (name string, score float64, err error)
}

// HTTPDetector asks a remote endpoint for the best scope.
type HTTPDetector struct {
	url      string
	token    string
	minScore float64
	client   *http.Client
}

// NewHTTPDetector creates a detector posting {text} to url. Replies below
// minScore count as no match.
func NewHTTPDetector(url, token string, minScore float64) (*HTTPDetector, error) {
	if url == "" {
		return nil, ErrMissingURL
	}
	return &HTTPDetector{url: url, token: token, minScore: minScore, client: httpc.Client}, nil
}

type detectRequest struct {
	Text string `json:"text"`
}

type detectResponse struct {
	Scope string  `json:"scope"`
	Score float64 `json:"score"`
}

// Detect implements Detector.
func (d *HTTPDetector) Detect(ctx context.Context, text string) (string, float64, error) {
	body, err := sonic.Marshal(detectRequest{Text: text})
	if err != nil {
		return "", 0, fmt.Errorf("scope: encode: %w", err)
	}
	req, err := httpc.NewRequest(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return "", 0, fmt.Errorf("scope: build request: %w", err)
	}
	httpc.SetBearer(req, d.token)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("scope: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("%w: HTTP %d: %s", ErrRequestFailed, resp.StatusCode, httpc.ReadErrorBody(resp.Body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("scope: read response: %w", err)
	}
	var out detectResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return "", 0, fmt.Errorf("scope: decode response: %w", err)
	}
	if out.Scope == "" || out.Score < d.minScore {
		return "", out.Score, nil
	}
	return out.Scope, out.Score, nil
}

// KnowledgeDetector embeds the text and takes the scope of the most similar
// knowledge item.
type KnowledgeDetector struct {
	embedder  inference.Embedder
	store     *rag.Store
	threshold float64
}

// NewKnowledgeDetector creates a detector over a loaded knowledge store.
func NewKnowledgeDetector(embedder inference.Embedder, store *rag.Store, threshold float64) *KnowledgeDetector {
	return &KnowledgeDetector{embedder: embedder, store: store, threshold: threshold}
}

// Detect implements Detector.
func (d *KnowledgeDetector) Detect(ctx context.Context, text string) (string, float64, error) {
	if d.store.Len() == 0 {
		return "", 0, nil
	}
	vec, err := inference.EmbedOne(ctx, d.embedder, text)
	if err != nil {
		return "", 0, fmt.Errorf("scope: embed: %w", err)
	}

	hits := d.store.Search(vec, "", 1, d.threshold)
	if len(hits) == 0 || hits[0].Item.Scope == "" {
		return "", 0, nil
	}
	return hits[0].Item.Scope, hits[0].Score, nil
}

var (
	_ Detector = (*HTTPDetector)(nil)
	_ Detector = (*KnowledgeDetector)(nil)
)

// Router combines a Detector with the catalog's keyword fallback.
type Router struct {
	catalog  *Catalog
	detector Detector
	logger   *slog.Logger
}

// NewRouter creates a router. detector may be nil for keyword-only routing.
func NewRouter(catalog *Catalog, detector Detector, logger *slog.Logger) *Router {
	if catalog == nil {
		catalog = NewCatalog(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		catalog:  catalog,
		detector: detector,
		logger:   logger.With("component", "scope.router"),
	}
}

// classify asks the detector, if any. Errors and empty answers yield "".
func (r *Router) classify(ctx context.Context, text string) string {
	if r.detector == nil {
		return ""
	}
	name, score, err := r.detector.Detect(ctx, text)
	if err != nil {
		r.logger.Warn("scope detector failed, using fallback", "error", err)
		return ""
	}
	if name != "" {
		r.logger.Debug("scope detected", "scope", name, "score", score)
	}
	return name
}

// Catalog returns the router's catalog.
func (r *Router) Catalog() *Catalog {
	return r.catalog
}

// Detect returns the scope for text and whether it differs from current.
// With no match from either path, current is kept.
func (r *Router) Detect(ctx context.Context, text, current string) (string, bool) {
	next := r.detect(ctx, text)
	if next == "" {
		return current, false
	}
	return next, next != current
}

// Resolve is Detect for a turn that arrived with a client scope hint. A
// hint the catalog knows outranks keyword matching but not the detector;
// an unknown hint is ignored.
func (r *Router) Resolve(ctx context.Context, text, hint, current string) (string, bool) {
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint == "" || !r.catalog.Has(hint) {
		if hint != "" {
			r.logger.Debug("ignoring unknown scope hint", "hint", hint)
		}
		return r.Detect(ctx, text, current)
	}
	next := hint
	if name := r.classify(ctx, text); name != "" {
		next = name
	}
	return next, next != current
}

func (r *Router) detect(ctx context.Context, text string) string {
	if name := r.classify(ctx, text); name != "" {
		return name
	}
	if name, ok := r.catalog.MatchKeywords(text); ok {
		r.logger.Debug("scope matched by keyword", "scope", name)
		return name
	}
	return ""
}
