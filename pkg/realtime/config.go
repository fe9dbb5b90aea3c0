package realtime

import (
	"log/slog"
	"time"
)

// Defaults for the OpenAI realtime endpoint.
const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"
	DefaultVoice = "alloy"
)

// Config holds configuration for the upstream peer.
type Config struct {
	// APIKey is sent as a bearer token.
	APIKey string

	// URL is the websocket endpoint without query string.
	URL string

	// Model is appended as ?model=.
	Model string

	// Voice is the default output voice.
	Voice string

	// Timeout bounds the websocket handshake.
	Timeout time.Duration

	// ReadTimeout closes the socket when nothing arrives for this long.
	ReadTimeout time.Duration

	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Option configures a Config.
type Option func(*Config)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		URL:          DefaultURL,
		Model:        DefaultModel,
		Voice:        DefaultVoice,
		Timeout:      15 * time.Second,
		ReadTimeout:  5 * time.Minute,
		PingInterval: 30 * time.Second,
		Logger:       slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks the configuration for required fields.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithURL overrides the websocket endpoint.
func WithURL(url string) Option {
	return func(c *Config) {
		if url != "" {
			c.URL = url
		}
	}
}

// WithModel sets the model.
func WithModel(model string) Option {
	return func(c *Config) {
		if model != "" {
			c.Model = model
		}
	}
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		if voice != "" {
			c.Voice = voice
		}
	}
}

// WithTimeout sets the handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithReadTimeout sets the read deadline window.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithPingInterval sets the keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PingInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
