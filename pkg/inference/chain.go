package inference

import (
	"context"
	"log/slog"
)

// EmbedChain tries multiple embedders in order until one succeeds.
type EmbedChain struct {
	embedders []Embedder
	logger    *slog.Logger
}

// NewEmbedChain creates an embedder chain. At least one embedder is required.
func NewEmbedChain(logger *slog.Logger, embedders ...Embedder) (*EmbedChain, error) {
	if len(embedders) == 0 {
		return nil, ErrNoEmbedder
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbedChain{
		embedders: embedders,
		logger:    logger.With("component", "inference.chain"),
	}, nil
}

// Embed tries each embedder until one succeeds.
func (c *EmbedChain) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	var errs []error

	for i, e := range c.embedders {
		resp, err := e.Embed(ctx, req)
		if err == nil {
			if i > 0 {
				c.logger.Info("fallback embedder succeeded", "embedder_index", i)
			}
			return resp, nil
		}

		errs = append(errs, err)
		c.logger.Warn("embedder failed, trying next",
			"embedder_index", i,
			"error", err,
		)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, &ChainError{Errors: errs}
}

var _ Embedder = (*EmbedChain)(nil)
