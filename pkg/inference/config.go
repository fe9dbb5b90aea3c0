package inference

import (
	"log/slog"
	"time"
)

// Defaults for the intent classifier and retrieval embeddings.
const (
	DefaultBaseURL    = "https://api.openai.com/v1"
	DefaultChatModel  = "gpt-4o-mini"
	DefaultEmbedModel = "text-embedding-3-small"

	// Intent replies are a single word, so completions stay tiny.
	defaultMaxTokens   = 16
	defaultTemperature = 0.2

	// Both calls sit on the user's turn latency.
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 2
	defaultRetryDelay = 100 * time.Millisecond
)

// Config holds backend settings shared by Client and GeminiEmbedder.
type Config struct {
	BaseURL string
	APIKey  string

	// Model is the classifier's chat model; EmbedModel the retrieval model.
	Model      string
	EmbedModel string

	MaxTokens   int
	Temperature float64
	Timeout     time.Duration

	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option configures a backend.
type Option func(*Config)

// WithBaseURL points the client at any OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the chat model used for intent classification.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithEmbedModel sets the model used for question and knowledge vectors.
// Every embedder in an EmbedChain must share one vector space.
func WithEmbedModel(model string) Option {
	return func(c *Config) { c.EmbedModel = model }
}

// WithRetry sets how often transient failures are retried and the base
// delay between attempts.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

func defaultConfig() *Config {
	return &Config{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultChatModel,
		EmbedModel:  DefaultEmbedModel,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		Timeout:     defaultTimeout,
		MaxRetries:  defaultMaxRetries,
		RetryDelay:  defaultRetryDelay,
		Logger:      slog.Default(),
	}
}

func (c *Config) apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
