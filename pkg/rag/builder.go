package rag

import (
	"context"
	"log/slog"
	"strings"

	"github.com/teslashibe/go-voicebridge/pkg/inference"
)

// Default retrieval limits.
const (
	DefaultMaxSnippets     = 4
	DefaultMaxContextChars = 1800
	DefaultMinScore        = 0.25
)

const blockSeparator = "\n\n"

// Config for a Builder.
type Config struct {
	MaxSnippets     int
	MaxContextChars int
	MinScore        float64
	Logger          *slog.Logger
}

// DefaultConfig returns the default retrieval limits.
func DefaultConfig() Config {
	return Config{
		MaxSnippets:     DefaultMaxSnippets,
		MaxContextChars: DefaultMaxContextChars,
		MinScore:        DefaultMinScore,
	}
}

// Builder assembles context blocks. It holds no per-request state and is
// shared by every connection.
type Builder struct {
	cfg      Config
	store    *Store
	embedder inference.Embedder
	vdb      VectorDB
	logger   *slog.Logger
}

// NewBuilder creates a builder. vdb may be nil to search the store directly.
func NewBuilder(cfg Config, store *Store, embedder inference.Embedder, vdb VectorDB) *Builder {
	def := DefaultConfig()
	if cfg.MaxSnippets <= 0 {
		cfg.MaxSnippets = def.MaxSnippets
	}
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = def.MaxContextChars
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		cfg:      cfg,
		store:    store,
		embedder: embedder,
		vdb:      vdb,
		logger:   logger.With("component", "rag.builder"),
	}
}

// Build returns the context block for question, or "" when nothing relevant
// is found. Embedding and vector database failures degrade to "". The result
// never exceeds MaxContextChars runes.
func (b *Builder) Build(ctx context.Context, question, scope string) string {
	if b == nil || b.store.Len() == 0 || b.embedder == nil || strings.TrimSpace(question) == "" {
		return ""
	}

	vec, err := inference.EmbedOne(ctx, b.embedder, question)
	if err != nil {
		b.logger.Warn("embedding failed, continuing without context", "error", err)
		return ""
	}

	var texts []string
	if b.vdb != nil {
		matches, err := b.vdb.Query(ctx, vec, b.cfg.MaxSnippets, scope)
		if err != nil {
			b.logger.Warn("vector query failed, continuing without context", "error", err)
			return ""
		}
		for _, m := range matches {
			if it, ok := b.store.Get(m.ID); ok {
				texts = append(texts, it.Text)
			}
		}
	} else {
		for _, h := range b.store.Search(vec, scope, b.cfg.MaxSnippets, b.cfg.MinScore) {
			texts = append(texts, h.Item.Text)
		}
	}

	out := Join(texts, b.cfg.MaxContextChars)
	b.logger.Debug("context built", "scope", scope, "snippets", len(texts), "chars", len([]rune(out)))
	return out
}

// Join concatenates snippets with blank lines until budget runes are used.
// The last accepted snippet is truncated to fit.
func Join(snippets []string, budget int) string {
	var (
		sb   strings.Builder
		used int
	)
	for _, s := range snippets {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		sep := 0
		if used > 0 {
			sep = len([]rune(blockSeparator))
		}
		remaining := budget - used - sep
		if remaining <= 0 {
			break
		}
		r := []rune(s)
		if len(r) > remaining {
			r = r[:remaining]
		}
		if sep > 0 {
			sb.WriteString(blockSeparator)
		}
		sb.WriteString(string(r))
		used += sep + len(r)
		if used >= budget {
			break
		}
	}
	return sb.String()
}
