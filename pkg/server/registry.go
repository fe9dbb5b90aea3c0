package server

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/teslashibe/go-voicebridge/pkg/protocol"
	"github.com/teslashibe/go-voicebridge/pkg/session"
)

// Registry tracks live client sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session

	connectionsTotal atomic.Uint64
	rejected         atomic.Uint64
	started          time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*session.Session),
		started:  time.Now(),
	}
}

// Add registers s and returns the new count.
func (r *Registry) Add(s *session.Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID()] = s
	r.connectionsTotal.Add(1)
	return len(r.sessions)
}

// Remove forgets the session with id and returns the remaining count.
func (r *Registry) Remove(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return len(r.sessions)
}

// Reject counts a connection that could not start a session.
func (r *Registry) Reject() {
	r.rejected.Add(1)
}

// Get returns a live session by id.
func (r *Registry) Get(id string) (*session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Infos returns a snapshot of every live session, oldest first.
func (r *Registry) Infos() []session.Info {
	r.mu.RLock()
	infos := make([]session.Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b session.Info) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return infos
}

// Stats contains registry statistics
type Stats struct {
	Connections      int    `json:"connections"`
	InCall           int    `json:"in_call"`
	ConnectionsTotal uint64 `json:"connections_total"`
	Rejected         uint64 `json:"rejected"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

// Stats returns registry statistics.
func (r *Registry) Stats() Stats {
	infos := r.Infos()
	inCall := 0
	for _, info := range infos {
		if info.CallStatus == protocol.CallInCall {
			inCall++
		}
	}
	return Stats{
		Connections:      len(infos),
		InCall:           inCall,
		ConnectionsTotal: r.connectionsTotal.Load(),
		Rejected:         r.rejected.Load(),
		UptimeSeconds:    int64(time.Since(r.started).Seconds()),
	}
}

// RegisterAPIRoutes registers the connection inspection routes.
func (r *Registry) RegisterAPIRoutes(api fiber.Router) {
	api.Get("/connections", func(c *fiber.Ctx) error {
		infos := r.Infos()
		return c.JSON(fiber.Map{
			"connections": infos,
			"count":       len(infos),
		})
	})

	api.Get("/connections/:id", func(c *fiber.Ctx) error {
		s, ok := r.Get(c.Params("id"))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "session not found"})
		}
		return c.JSON(s.Info())
	})

	api.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(r.Stats())
	})
}
