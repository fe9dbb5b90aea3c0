// voicebridge: realtime voice and text bridge between browser clients and
// an upstream realtime model.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/teslashibe/go-voicebridge/internal/config"
	"github.com/teslashibe/go-voicebridge/internal/log"
	"github.com/teslashibe/go-voicebridge/pkg/audio"
	"github.com/teslashibe/go-voicebridge/pkg/inference"
	"github.com/teslashibe/go-voicebridge/pkg/persist"
	"github.com/teslashibe/go-voicebridge/pkg/rag"
	"github.com/teslashibe/go-voicebridge/pkg/realtime"
	"github.com/teslashibe/go-voicebridge/pkg/sanitize"
	"github.com/teslashibe/go-voicebridge/pkg/scope"
	"github.com/teslashibe/go-voicebridge/pkg/server"
	"github.com/teslashibe/go-voicebridge/pkg/session"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
	"github.com/teslashibe/go-voicebridge/pkg/transcribe"
)

var (
	version    = "0.1.0"
	configPath = flag.String("config", "", "YAML config file (or VOICEBRIDGE_CONFIG)")
	port       = flag.String("port", "", "HTTP server port (overrides PORT)")
	debug      = flag.Bool("debug", false, "Enable debug logging and request logs")
)

func main() {
	flag.Parse()

	envErrs := loadDotEnv(".env", ".env.local")

	path := *configPath
	if path == "" {
		path = os.Getenv("VOICEBRIDGE_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}

	log.Init(cfg.LogLevel)
	logger := log.Component("main")
	for _, e := range envErrs {
		logger.Warn("env file not loaded", "error", e)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func loadDotEnv(files ...string) []error {
	var errs []error
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
		}
	}
	return errs
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	base := log.L()

	llm, err := inference.NewClient(
		inference.WithAPIKey(cfg.OpenAI.APIKey),
		inference.WithBaseURL(cfg.OpenAI.BaseURL),
		inference.WithModel(cfg.Transcribe.IntentModel),
		inference.WithEmbedModel(cfg.Embeddings.Model),
		inference.WithLogger(base),
	)
	if err != nil {
		return fmt.Errorf("inference client: %w", err)
	}
	defer llm.Close()

	embedder, err := newEmbedder(ctx, cfg, llm, base)
	if err != nil {
		return err
	}

	store, err := rag.LoadFile(cfg.Knowledge.Path)
	if err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	logger.Info("knowledge loaded", "items", store.Len(), "path", cfg.Knowledge.Path)

	var vdb rag.VectorDB
	if cfg.Knowledge.VectorDBURL != "" {
		if vdb, err = rag.NewHTTPVectorDB(cfg.Knowledge.VectorDBURL, cfg.Knowledge.VectorDBAPIKey, cfg.Knowledge.VectorDBNamespace); err != nil {
			return fmt.Errorf("vector db: %w", err)
		}
	}
	builder := rag.NewBuilder(rag.Config{
		MaxSnippets:     cfg.Knowledge.MaxSnippets,
		MaxContextChars: cfg.Knowledge.MaxContextChars,
		MinScore:        cfg.Knowledge.MinScore,
		Logger:          base,
	}, store, embedder, vdb)

	catalog := scope.NewCatalog(cfg.Scopes)
	var detector scope.Detector
	switch {
	case cfg.ScopeAPI.URL != "":
		if detector, err = scope.NewHTTPDetector(cfg.ScopeAPI.URL, cfg.ScopeAPI.Token, cfg.ScopeAPI.MinScore); err != nil {
			return fmt.Errorf("scope detector: %w", err)
		}
	case store.Len() > 0:
		detector = scope.NewKnowledgeDetector(embedder, store, cfg.ScopeAPI.MinScore)
	}
	router := scope.NewRouter(catalog, detector, base)

	pipeline, err := newPipeline(cfg, llm, base)
	if err != nil {
		return err
	}

	sink, err := newSink(ctx, cfg, base)
	if err != nil {
		return err
	}
	defer sink.Close()

	notifications := make(chan session.Notification, 1024)
	// Persistence outlives the signal context so sessions ending during
	// shutdown still record their final status.
	persistCtx, stopPersist := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPersist()
	persistDone := make(chan struct{})
	go func() {
		persist.Forward(persistCtx, notifications, sink, base)
		close(persistDone)
	}()

	deps := session.Deps{
		Pipeline:  pipeline,
		Router:    router,
		Context:   builder,
		Tools:     tools.New(cfg.Tools, tools.WithBaseURL(cfg.ToolsAPI.BaseURL), tools.WithToken(cfg.ToolsAPI.Token), tools.WithLogger(base)),
		Sanitizer: sanitize.New(cfg.Sanitize, base),
		Notify:    notifications,
	}

	sessionCfg := session.Config{
		SystemPrompt:            cfg.SystemPrompt,
		Voice:                   cfg.Realtime.Voice,
		IdleTimeout:             cfg.IdleTimeout,
		Transcribe:              cfg.Transcribe.Enabled,
		InputTranscriptionModel: cfg.Realtime.InputTranscriptionModel,
		VAD:                     cfg.VADConfig(),
		BargeIn:                 cfg.BargeInConfig(),
		Template:                cfg.ContextTemplate,
	}

	peers := func() (realtime.Peer, error) {
		return realtime.NewOpenAI(
			realtime.WithAPIKey(cfg.OpenAI.APIKey),
			realtime.WithURL(cfg.Realtime.URL),
			realtime.WithModel(cfg.Realtime.Model),
			realtime.WithVoice(cfg.Realtime.Voice),
			realtime.WithLogger(base),
		)
	}

	srv := server.New(server.Config{
		Name:    "voicebridge",
		Version: version,
		Debug:   cfg.Debug,
		Session: sessionCfg,
		Catalog: catalog,
		Logger:  base,
	}, deps, peers)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info("starting voicebridge",
			"version", version,
			"addr", addr,
			"transcribe", cfg.Transcribe.Enabled,
			"embeddings", cfg.Embeddings.Provider,
			"scopes", len(catalog.Names()),
			"tools", len(deps.Tools.Definitions()),
		)
		errCh <- srv.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", "error", err)
	}
	stopPersist()
	<-persistDone
	logger.Info("goodbye")
	return nil
}

// newEmbedder picks the configured embeddings provider, chained with an
// optional fallback endpoint serving the same model.
func newEmbedder(ctx context.Context, cfg *config.Config, llm *inference.Client, logger *slog.Logger) (inference.Embedder, error) {
	var primary inference.Embedder = llm
	if cfg.Embeddings.Provider == config.ProviderGemini {
		model := cfg.Embeddings.Model
		if model == config.DefaultEmbedModel {
			model = ""
		}
		g, err := inference.NewGeminiEmbedder(ctx,
			inference.WithAPIKey(cfg.Embeddings.GoogleAPIKey),
			inference.WithEmbedModel(model),
			inference.WithLogger(logger),
		)
		if err != nil {
			return nil, fmt.Errorf("gemini embedder: %w", err)
		}
		primary = g
	}

	if cfg.Embeddings.FallbackURL == "" {
		return primary, nil
	}
	fallback, err := inference.NewClient(
		inference.WithAPIKey(cfg.OpenAI.APIKey),
		inference.WithBaseURL(cfg.Embeddings.FallbackURL),
		inference.WithEmbedModel(cfg.Embeddings.Model),
		inference.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("fallback embedder: %w", err)
	}
	return inference.NewEmbedChain(logger, primary, fallback)
}

func newPipeline(cfg *config.Config, llm *inference.Client, logger *slog.Logger) (*transcribe.Pipeline, error) {
	var (
		t   transcribe.Transcriber
		err error
	)
	if cfg.Transcribe.URL != "" {
		token := cfg.Transcribe.Token
		if token == "" {
			token = cfg.OpenAI.APIKey
		}
		t, err = transcribe.NewHTTPTranscriber(cfg.Transcribe.URL, token, logger)
	} else {
		t, err = transcribe.NewOpenAITranscriber(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Transcribe.Model, cfg.Transcribe.Language, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("transcriber: %w", err)
	}
	classifier := transcribe.NewChatClassifier(llm, cfg.Transcribe.IntentModel, logger)
	return transcribe.NewPipeline(t, classifier, cfg.Transcribe.Enabled, audio.SampleRate, logger), nil
}

func newSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (persist.Sink, error) {
	if cfg.DatabaseURL == "" {
		return persist.NewLogSink(logger), nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := persist.Open(connectCtx, cfg.DatabaseURL, logger)
	if errors.Is(err, persist.ErrMissingURL) {
		return persist.NewLogSink(logger), nil
	}
	if err != nil {
		return nil, err
	}
	return db, nil
}
