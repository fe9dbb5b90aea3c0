// Package config loads go-voicebridge settings: defaults, then an optional
// YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-voicebridge/pkg/rag"
	"github.com/teslashibe/go-voicebridge/pkg/realtime"
	"github.com/teslashibe/go-voicebridge/pkg/sanitize"
	"github.com/teslashibe/go-voicebridge/pkg/scope"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
	"github.com/teslashibe/go-voicebridge/pkg/vad"
)

// Defaults.
const (
	DefaultPort             = "8080"
	DefaultTranscribeModel  = "whisper-1"
	DefaultIntentModel      = "gpt-4o-mini"
	DefaultEmbedModel       = "text-embedding-3-small"
	DefaultIdleTimeout      = 5 * time.Minute
	DefaultScopeMinScore    = 0.35
	DefaultTranscribeLocale = "es"

	DefaultSystemPrompt = "Eres un asistente de atención al cliente. Responde de forma breve, clara y amable, " +
		"en el idioma del usuario. Usa las herramientas disponibles cuando necesites datos de reservas, pedidos o tickets."
)

// Embeddings providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Validation errors.
var (
	ErrMissingAPIKey       = errors.New("config: OPENAI_API_KEY is required")
	ErrInvalidPort         = errors.New("config: invalid port")
	ErrInvalidThreshold    = errors.New("config: VAD thresholds must be positive")
	ErrInvalidSilence      = errors.New("config: VAD silence must be positive")
	ErrInvalidBargeIn      = errors.New("config: barge-in thresholds must not be negative")
	ErrInvalidContextChars = errors.New("config: max context chars must be positive")
	ErrInvalidSnippets     = errors.New("config: max snippets must be positive")
	ErrInvalidIdleTimeout  = errors.New("config: idle timeout must be positive")
	ErrInvalidProvider     = errors.New("config: unknown embeddings provider")
	ErrMissingGoogleAPIKey = errors.New("config: GOOGLE_API_KEY is required for gemini embeddings")
	ErrInvalidEnvironment  = errors.New("config: invalid environment value")
)

// Config is the full server configuration.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"log_level"`
	Debug    bool   `yaml:"debug"`

	OpenAI     OpenAIConfig     `yaml:"openai"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Transcribe TranscribeConfig `yaml:"transcribe"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	ScopeAPI   ScopeAPIConfig   `yaml:"scope_api"`
	ToolsAPI   ToolsAPIConfig   `yaml:"tools_api"`
	VAD        VADConfig        `yaml:"vad"`
	BargeIn    BargeInConfig    `yaml:"barge_in"`

	DatabaseURL string        `yaml:"database_url"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	Scopes          []scope.Scope      `yaml:"scopes"`
	Tools           []tools.Definition `yaml:"tools"`
	Sanitize        []sanitize.Rule    `yaml:"sanitize"`
	SystemPrompt    string             `yaml:"system_prompt"`
	ContextTemplate rag.Template       `yaml:"context_template"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

type RealtimeConfig struct {
	URL   string `yaml:"url"`
	Model string `yaml:"model"`
	Voice string `yaml:"voice"`

	// InputTranscriptionModel is used by the upstream when local
	// transcription is disabled.
	InputTranscriptionModel string `yaml:"input_transcription_model"`
}

type TranscribeConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL selects a plain HTTP transcription service instead of the
	// OpenAI audio API.
	URL         string `yaml:"url"`
	Token       string `yaml:"token"`
	Model       string `yaml:"model"`
	Language    string `yaml:"language"`
	IntentModel string `yaml:"intent_model"`
}

type EmbeddingsConfig struct {
	Provider     string `yaml:"provider"`
	Model        string `yaml:"model"`
	GoogleAPIKey string `yaml:"google_api_key"`

	// FallbackURL is a second OpenAI-compatible endpoint serving the same
	// embedding model, tried when the primary fails.
	FallbackURL string `yaml:"fallback_url"`
}

type KnowledgeConfig struct {
	Path              string  `yaml:"path"`
	VectorDBURL       string  `yaml:"vector_db_url"`
	VectorDBAPIKey    string  `yaml:"vector_db_api_key"`
	VectorDBNamespace string  `yaml:"vector_db_namespace"`
	MaxSnippets       int     `yaml:"max_snippets"`
	MaxContextChars   int     `yaml:"max_context_chars"`
	MinScore          float64 `yaml:"min_score"`
}

type ScopeAPIConfig struct {
	URL      string  `yaml:"url"`
	Token    string  `yaml:"token"`
	MinScore float64 `yaml:"min_score"`
}

type ToolsAPIConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

type VADConfig struct {
	StaticThreshold     float64 `yaml:"static_threshold"`
	NoiseFactor         float64 `yaml:"noise_factor"`
	SilenceMs           int     `yaml:"silence_ms"`
	MinUtteranceSamples int     `yaml:"min_utterance_samples"`
}

type BargeInConfig struct {
	MinMs                int     `yaml:"min_ms"`
	MinSamples           int     `yaml:"min_samples"`
	TranscribeMultiplier float64 `yaml:"transcribe_multiplier"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	v := vad.DefaultConfig()
	b := vad.DefaultBargeInConfig()
	r := rag.DefaultConfig()
	return &Config{
		Port:     DefaultPort,
		LogLevel: "info",
		OpenAI:   OpenAIConfig{BaseURL: "https://api.openai.com/v1"},
		Realtime: RealtimeConfig{
			URL:   realtime.DefaultURL,
			Model: realtime.DefaultModel,
			Voice: realtime.DefaultVoice,

			InputTranscriptionModel: DefaultTranscribeModel,
		},
		Transcribe: TranscribeConfig{
			Enabled:     true,
			Model:       DefaultTranscribeModel,
			Language:    DefaultTranscribeLocale,
			IntentModel: DefaultIntentModel,
		},
		Embeddings: EmbeddingsConfig{Provider: ProviderOpenAI, Model: DefaultEmbedModel},
		Knowledge: KnowledgeConfig{
			MaxSnippets:     r.MaxSnippets,
			MaxContextChars: r.MaxContextChars,
			MinScore:        r.MinScore,
		},
		ScopeAPI: ScopeAPIConfig{MinScore: DefaultScopeMinScore},
		VAD: VADConfig{
			StaticThreshold:     v.StaticThreshold,
			NoiseFactor:         v.NoiseFactor,
			SilenceMs:           int(v.Silence / time.Millisecond),
			MinUtteranceSamples: v.MinUtteranceSamples,
		},
		BargeIn: BargeInConfig{
			MinMs:                int(b.MinDuration / time.Millisecond),
			MinSamples:           b.MinSamples,
			TranscribeMultiplier: b.TranscribeMultiplier,
		},
		IdleTimeout:     DefaultIdleTimeout,
		SystemPrompt:    DefaultSystemPrompt,
		ContextTemplate: rag.DefaultTemplate(),
	}
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays environment variables read through getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	e := envReader{getenv: getenv}

	e.str("PORT", &c.Port)
	e.str("LOG_LEVEL", &c.LogLevel)
	e.boolean("DEBUG", &c.Debug)

	e.str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	e.str("OPENAI_BASE_URL", &c.OpenAI.BaseURL)

	e.str("REALTIME_URL", &c.Realtime.URL)
	e.str("REALTIME_MODEL", &c.Realtime.Model)
	e.str("REALTIME_VOICE", &c.Realtime.Voice)
	e.str("REALTIME_INPUT_TRANSCRIPTION_MODEL", &c.Realtime.InputTranscriptionModel)

	e.boolean("VOICE_TRANSCRIBE", &c.Transcribe.Enabled)
	e.str("TRANSCRIBE_URL", &c.Transcribe.URL)
	e.str("TRANSCRIBE_TOKEN", &c.Transcribe.Token)
	e.str("TRANSCRIBE_MODEL", &c.Transcribe.Model)
	e.str("TRANSCRIBE_LANGUAGE", &c.Transcribe.Language)
	e.str("INTENT_MODEL", &c.Transcribe.IntentModel)

	e.str("EMBEDDINGS_PROVIDER", &c.Embeddings.Provider)
	e.str("EMBED_MODEL", &c.Embeddings.Model)
	e.str("GOOGLE_API_KEY", &c.Embeddings.GoogleAPIKey)
	e.str("EMBED_FALLBACK_URL", &c.Embeddings.FallbackURL)

	e.str("KNOWLEDGE_PATH", &c.Knowledge.Path)
	e.str("VECTOR_DB_URL", &c.Knowledge.VectorDBURL)
	e.str("VECTOR_DB_API_KEY", &c.Knowledge.VectorDBAPIKey)
	e.str("VECTOR_DB_NAMESPACE", &c.Knowledge.VectorDBNamespace)
	e.integer("MAX_SNIPPETS", &c.Knowledge.MaxSnippets)
	e.integer("MAX_CONTEXT_CHARS", &c.Knowledge.MaxContextChars)
	e.float("RAG_MIN_SCORE", &c.Knowledge.MinScore)

	e.str("SCOPE_DETECT_URL", &c.ScopeAPI.URL)
	e.str("SCOPE_DETECT_TOKEN", &c.ScopeAPI.Token)
	e.float("SCOPE_MIN_SCORE", &c.ScopeAPI.MinScore)

	e.str("TOOLS_API_BASE_URL", &c.ToolsAPI.BaseURL)
	e.str("TOOLS_API_TOKEN", &c.ToolsAPI.Token)

	e.str("DATABASE_URL", &c.DatabaseURL)
	e.duration("IDLE_TIMEOUT", &c.IdleTimeout)

	e.float("VAD_STATIC_THRESHOLD", &c.VAD.StaticThreshold)
	e.float("VAD_NOISE_FACTOR", &c.VAD.NoiseFactor)
	e.integer("VAD_SILENCE_MS", &c.VAD.SilenceMs)
	e.integer("MIN_UTTERANCE_SAMPLES", &c.VAD.MinUtteranceSamples)

	e.integer("BARGE_IN_MIN_MS", &c.BargeIn.MinMs)
	e.integer("BARGE_IN_MIN_SAMPLES", &c.BargeIn.MinSamples)
	e.float("BARGE_IN_TRANSCRIBE_MULTIPLIER", &c.BargeIn.TranscribeMultiplier)

	e.str("SYSTEM_PROMPT", &c.SystemPrompt)

	return errors.Join(e.errs...)
}

// Validate rejects impossible combinations.
func (c *Config) Validate() error {
	if c.OpenAI.APIKey == "" {
		return ErrMissingAPIKey
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("%w: %q", ErrInvalidPort, c.Port)
	}
	if c.VAD.StaticThreshold <= 0 || c.VAD.NoiseFactor <= 0 {
		return ErrInvalidThreshold
	}
	if c.VAD.SilenceMs <= 0 {
		return ErrInvalidSilence
	}
	if c.BargeIn.MinMs < 0 || c.BargeIn.MinSamples < 0 || c.BargeIn.TranscribeMultiplier < 0 {
		return ErrInvalidBargeIn
	}
	if c.Knowledge.MaxContextChars <= 0 {
		return ErrInvalidContextChars
	}
	if c.Knowledge.MaxSnippets <= 0 {
		return ErrInvalidSnippets
	}
	if c.IdleTimeout <= 0 {
		return ErrInvalidIdleTimeout
	}
	switch c.Embeddings.Provider {
	case ProviderOpenAI:
	case ProviderGemini:
		if c.Embeddings.GoogleAPIKey == "" {
			return ErrMissingGoogleAPIKey
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidProvider, c.Embeddings.Provider)
	}
	return nil
}

// VADConfig converts the VAD section for the segmenter.
func (c *Config) VADConfig() *vad.Config {
	v := vad.DefaultConfig()
	v.StaticThreshold = c.VAD.StaticThreshold
	v.NoiseFactor = c.VAD.NoiseFactor
	v.Silence = time.Duration(c.VAD.SilenceMs) * time.Millisecond
	v.MinUtteranceSamples = c.VAD.MinUtteranceSamples
	return v
}

// BargeInConfig converts the barge-in section for the arbiter.
func (c *Config) BargeInConfig() vad.BargeInConfig {
	return vad.BargeInConfig{
		MinDuration:          time.Duration(c.BargeIn.MinMs) * time.Millisecond,
		MinSamples:           c.BargeIn.MinSamples,
		TranscribeMultiplier: c.BargeIn.TranscribeMultiplier,
	}
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (e *envReader) lookup(key string) (string, bool) {
	v := strings.TrimSpace(e.getenv(key))
	return v, v != ""
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%w: %s=%q: %v", ErrInvalidEnvironment, key, value, err))
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok {
		*dst = v
	}
}

func (e *envReader) boolean(key string, dst *bool) {
	if v, ok := e.lookup(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}

func (e *envReader) integer(key string, dst *int) {
	if v, ok := e.lookup(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) float(key string, dst *float64) {
	if v, ok := e.lookup(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = f
	}
}

// duration accepts Go durations ("90s") or a bare number of seconds.
func (e *envReader) duration(key string, dst *time.Duration) {
	v, ok := e.lookup(key)
	if !ok {
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}
