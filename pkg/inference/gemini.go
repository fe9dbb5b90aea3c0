package inference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const (
	backendGemini      = "gemini"
	defaultGeminiEmbed = "text-embedding-004"
)

// GeminiEmbedder implements Embedder with the Gemini API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiEmbedder creates an embedder. Only APIKey, EmbedModel and Logger
// from the options are used.
func NewGeminiEmbedder(ctx context.Context, opts ...Option) (*GeminiEmbedder, error) {
	cfg := &Config{Logger: slog.Default()}
	cfg.apply(opts...)
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultGeminiEmbed
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, callErr(backendGemini, OpEmbed, fmt.Errorf("create client: %w", err))
	}

	return &GeminiEmbedder{
		client: client,
		model:  cfg.EmbedModel,
		logger: cfg.Logger.With("component", "inference.gemini"),
	}, nil
}

// Embed generates one vector per input text.
func (g *GeminiEmbedder) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = g.model
	}

	contents := make([]*genai.Content, 0, len(req.Input))
	for _, text := range req.Input {
		contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
	}

	res, err := g.client.Models.EmbedContent(ctx, model, contents, nil)
	if err != nil {
		return nil, callErr(backendGemini, OpEmbed, err)
	}

	embeddings := make([][]float64, len(res.Embeddings))
	for i, e := range res.Embeddings {
		vec := make([]float64, len(e.Values))
		for j, v := range e.Values {
			vec[j] = float64(v)
		}
		embeddings[i] = vec
	}

	g.logger.Debug("embedded", "inputs", len(req.Input), "latency_ms", time.Since(start).Milliseconds())

	return &EmbedResponse{
		Embeddings: embeddings,
		LatencyMs:  time.Since(start).Milliseconds(),
	}, nil
}

var _ Embedder = (*GeminiEmbedder)(nil)
