// Package tools resolves upstream function calls against a registry of tool
// definitions and executes them, either against an external HTTP API or as
// a local simulation.
package tools

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-voicebridge/internal/httpc"
	"github.com/teslashibe/go-voicebridge/pkg/protocol"
)

// Sentinel errors for the tools package.
var (
	// ErrUnknownTool indicates the tool name is not registered.
	ErrUnknownTool = errors.New("tools: unknown tool")

	// ErrMissingPathParam indicates a :param in the route path had no argument.
	ErrMissingPathParam = errors.New("tools: missing required path parameter")
)

// Route describes the HTTP endpoint backing a tool.
type Route struct {
	Method string `yaml:"method" json:"method"`
	Path   string `yaml:"path" json:"path"`
}

// Definition is an immutable registry entry.
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`
	Routes      *Route         `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// HTTPError is returned when a tool API answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("tools: HTTP %d: %s", e.StatusCode, e.Body)
}

// Log is a structured observability record around a tool call.
type Log struct {
	Name      string
	Status    string // "started", "succeeded", "failed"
	Args      map[string]any
	Message   string
	Timestamp time.Time
}

// Log statuses, as carried by tool.log.
const (
	StatusStarted   = protocol.ToolStarted
	StatusSucceeded = protocol.ToolSucceeded
	StatusFailed    = protocol.ToolFailed
)

// Config holds dispatcher configuration.
type Config struct {
	// BaseURL of the tool API. Routes are ignored when empty and tools fall
	// back to simulated payloads.
	BaseURL string

	// Token is sent as a bearer token when set.
	Token string

	// HTTPClient defaults to the shared client.
	HTTPClient *http.Client

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// Option is a functional option for Config.
type Option func(*Config)

// WithBaseURL sets the tool API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) { c.BaseURL = url }
}

// WithToken sets the bearer token.
func WithToken(token string) Option {
	return func(c *Config) { c.Token = token }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) { c.HTTPClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// Dispatcher is read-only after construction and shared by all sessions.
type Dispatcher struct {
	cfg    Config
	logger *slog.Logger
	defs   map[string]Definition
	order  []string
}

// New builds a dispatcher. When defs is empty the built-in demo tools are
// registered.
func New(defs []Definition, opts ...Option) *Dispatcher {
	cfg := Config{HTTPClient: httpc.Client, Logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.Client
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(defs) == 0 {
		defs = DefaultDefinitions()
	}

	d := &Dispatcher{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "tools.dispatcher"),
		defs:   make(map[string]Definition, len(defs)),
	}
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		if _, dup := d.defs[def.Name]; !dup {
			d.order = append(d.order, def.Name)
		}
		d.defs[def.Name] = def
	}
	return d
}

// Definitions returns registered tools in registration order.
func (d *Dispatcher) Definitions() []Definition {
	out := make([]Definition, 0, len(d.order))
	for _, name := range d.order {
		out = append(out, d.defs[name])
	}
	return out
}

// Lookup returns a definition by name.
func (d *Dispatcher) Lookup(name string) (Definition, bool) {
	def, ok := d.defs[name]
	return def, ok
}
