package hub

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Dashboards never send data frames.
	maxMessageSize = 1024

	watcherQueue = 256
)

// watcher is one dashboard connection. A non-empty session limits it to
// the events of that session.
type watcher struct {
	hub     *Hub
	conn    *websocket.Conn
	session string
	send    chan []byte
}

func (w *watcher) wants(sessionID string) bool {
	return w.session == "" || w.session == sessionID
}

// watch registers w and serves it until the socket closes or the hub stops.
func (h *Hub) watch(conn *websocket.Conn, session string) {
	w := &watcher{hub: h, conn: conn, session: session, send: make(chan []byte, watcherQueue)}
	select {
	case h.register <- w:
	case <-h.done:
		conn.Close()
		return
	}
	go w.writePump()
	w.readPump()
}

// readPump only keeps the read deadline alive and notices disconnects.
func (w *watcher) readPump() {
	defer func() {
		select {
		case w.hub.unregister <- w:
		case <-w.hub.done:
		}
		w.conn.Close()
	}()

	w.conn.SetReadLimit(maxMessageSize)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := w.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection.
func (w *watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}

		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
