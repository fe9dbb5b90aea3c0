package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const eventQueue = 256

// Hub delivers session events to dashboard watchers. Slow watchers are
// disconnected rather than allowed to stall the loop.
type Hub struct {
	logger *slog.Logger

	watchers   map[*watcher]struct{}
	events     chan Event
	register   chan *watcher
	unregister chan *watcher
	done       chan struct{}

	// guards watchers for Watchers
	mu sync.RWMutex

	running atomic.Bool
	dropped atomic.Uint64
}

// New creates a hub. Call Run before attaching watchers.
func New(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "hub"),
		watchers:   make(map[*watcher]struct{}),
		events:     make(chan Event, eventQueue),
		register:   make(chan *watcher),
		unregister: make(chan *watcher),
		done:       make(chan struct{}),
	}
}

// Run is the hub's loop. It returns when ctx is done, closing every
// watcher. Run must be called at most once.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
	}()

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for w := range h.watchers {
				h.drop(w)
			}
			h.mu.Unlock()
			return

		case w := <-h.register:
			h.mu.Lock()
			h.watchers[w] = struct{}{}
			count := len(h.watchers)
			h.mu.Unlock()
			h.logger.Info("monitor connected", "session", w.session, "total", count)

		case w := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.watchers[w]; ok {
				h.drop(w)
			}
			count := len(h.watchers)
			h.mu.Unlock()
			h.logger.Info("monitor disconnected", "remaining", count)

		case ev := <-h.events:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev Event) {
	frame, err := ev.encode()
	if err != nil {
		h.logger.Warn("unencodable monitor event", "session_id", ev.SessionID, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for w := range h.watchers {
		if !w.wants(ev.SessionID) {
			continue
		}
		select {
		case w.send <- frame:
		default:
			h.drop(w)
			h.logger.Warn("dropped slow monitor", "session", w.session)
		}
	}
}

// drop removes w; callers hold mu.
func (h *Hub) drop(w *watcher) {
	delete(h.watchers, w)
	close(w.send)
}

// Broadcast queues an encoded session event. It never blocks: on a full
// queue the event is counted in Dropped and discarded.
func (h *Hub) Broadcast(sessionID string, data []byte) {
	select {
	case h.events <- Event{SessionID: sessionID, Data: data}:
	default:
		h.dropped.Add(1)
		h.logger.Debug("monitor queue full, dropping event", "session_id", sessionID)
	}
}

// Watchers returns the number of connected dashboards.
func (h *Hub) Watchers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.watchers)
}

// Dropped returns how many events were discarded on a full queue.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) IsRunning() bool {
	return h.running.Load()
}

// Handler serves dashboards. ?session=<id> limits a watcher to one session.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.watch(c, c.Query("session"))
	})
}
