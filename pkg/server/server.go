// Package server exposes the bridge over HTTP: the client websocket, the
// monitor websocket, health, metrics and a small inspection API.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/teslashibe/go-voicebridge/pkg/hub"
	"github.com/teslashibe/go-voicebridge/pkg/realtime"
	"github.com/teslashibe/go-voicebridge/pkg/scope"
	"github.com/teslashibe/go-voicebridge/pkg/session"
	"github.com/teslashibe/go-voicebridge/pkg/tools"
)

// PeerFactory creates a fresh upstream peer for each client connection.
type PeerFactory func() (realtime.Peer, error)

// Config configures the HTTP server.
type Config struct {
	Name    string
	Version string
	Debug   bool

	// Session is the template applied to every client session.
	Session session.Config

	// Catalog backs /api/scopes.
	Catalog *scope.Catalog

	Logger *slog.Logger
}

// Server wires client sockets to sessions.
type Server struct {
	cfg      Config
	app      *fiber.App
	registry *Registry
	monitors *hub.Hub
	metrics  *Metrics
	deps     session.Deps
	peers    PeerFactory
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	closing  bool
	sessions sync.WaitGroup
}

// New builds the fiber app and starts the monitor hub. deps is the shared
// session collaborator set; its Peer, Monitor, Observer and Connections
// fields are filled per connection.
func New(cfg Config, deps session.Deps, peers PeerFactory) *Server {
	if cfg.Name == "" {
		cfg.Name = "voicebridge"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		registry: NewRegistry(),
		monitors: hub.New(cfg.Logger),
		metrics:  NewMetrics("", toolNames(deps.Tools)),
		deps:     deps,
		peers:    peers,
		logger:   cfg.Logger.With("component", "server"),
		ctx:      ctx,
		cancel:   cancel,
	}
	go s.monitors.Run(ctx)

	s.app = fiber.New(fiber.Config{
		AppName:               cfg.Name,
		DisableStartupMessage: true,
	})
	s.app.Use(recover.New())
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Content-Type,Authorization",
	}))
	if cfg.Debug {
		s.app.Use(logger.New())
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	s.app.Get("/ws", websocket.New(s.handleClient))
	s.app.Get("/ws/monitor", s.monitors.Handler())

	s.app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":      "ok",
			"version":     s.cfg.Version,
			"connections": s.registry.Count(),
			"monitors": fiber.Map{
				"watchers": s.monitors.Watchers(),
				"running":  s.monitors.IsRunning(),
				"dropped":  s.monitors.Dropped(),
			},
		})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	api := s.app.Group("/api")
	s.registry.RegisterAPIRoutes(api)

	api.Get("/tools", func(c *fiber.Ctx) error {
		names := toolNames(nil)
		if s.deps.Tools != nil {
			return c.JSON(fiber.Map{"control": names, "tools": s.deps.Tools.Definitions()})
		}
		return c.JSON(fiber.Map{"control": names, "tools": []any{}})
	})

	api.Get("/scopes", func(c *fiber.Ctx) error {
		catalog := s.cfg.Catalog
		if catalog == nil {
			catalog = scope.NewCatalog(nil)
		}
		return c.JSON(fiber.Map{"scopes": catalog.Scopes(), "default": scope.General})
	})
}

// handleClient runs one session for the lifetime of the socket.
func (s *Server) handleClient(c *websocket.Conn) {
	if !s.track() {
		c.Close()
		return
	}
	defer s.sessions.Done()

	connID := uuid.NewString()
	logger := s.logger.With("conn_id", connID)

	peer, err := s.peers()
	if err != nil {
		s.registry.Reject()
		logger.Error("upstream peer unavailable", "error", err)
		c.Close()
		return
	}

	deps := s.deps
	deps.Peer = peer
	deps.Monitor = s.monitors
	deps.Observer = s.metrics
	deps.Connections = s.registry.Count

	cfg := s.cfg.Session
	cfg.Logger = logger

	sess, err := session.New(c, deps, cfg)
	if err != nil {
		s.registry.Reject()
		logger.Error("session rejected", "error", err)
		c.Close()
		return
	}

	started := time.Now()
	count := s.registry.Add(sess)
	s.metrics.ConnectionOpened()
	logger.Info("client connected", "session_id", sess.ID(), "total", count)

	defer func() {
		remaining := s.registry.Remove(sess.ID())
		s.metrics.ConnectionClosed(time.Since(started))
		logger.Info("client disconnected", "session_id", sess.ID(), "remaining", remaining)
	}()

	if err := sess.Run(s.ctx); err != nil && s.ctx.Err() == nil {
		logger.Warn("session ended with error", "session_id", sess.ID(), "error", err)
	}
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Registry returns the live session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("listening", "addr", addr)
	return s.app.Listen(addr)
}

// track registers a session goroutine unless the server is shutting down.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.sessions.Add(1)
	return true
}

// Shutdown ends live sessions, waits for them to finish until ctx is
// done, then stops the listener. Once it returns no session emits further
// notifications, unless ctx expired first.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.cancel()

	ended := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(ended)
	}()
	select {
	case <-ended:
	case <-ctx.Done():
		s.logger.Warn("sessions still running at shutdown", "sessions", s.registry.Count())
	}
	return s.app.ShutdownWithContext(ctx)
}

// toolNames lists the control tools plus every tool in dispatcher.
func toolNames(dispatcher *tools.Dispatcher) []string {
	names := make([]string, 0, 8)
	for _, t := range session.ControlTools() {
		names = append(names, t.Name)
	}
	if dispatcher != nil {
		for _, d := range dispatcher.Definitions() {
			names = append(names, d.Name)
		}
	}
	return names
}
