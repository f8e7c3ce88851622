// Package dashboard serves a live HTTP+WebSocket view of broker state:
// active agents and recent changes per project.
package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub maintains the set of connected dashboard clients and periodically
// pushes a fresh snapshot to each of them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex

	snapshot func() (Snapshot, error)
	interval time.Duration
	log      *slog.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub builds a dashboard Hub that polls snapshotFn every interval and
// pushes the result to every connected client.
func NewHub(snapshotFn func() (Snapshot, error), interval time.Duration, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		snapshot:   snapshotFn,
		interval:   interval,
		log:        log,
	}
}

// Run drives the hub's event loop; call it in its own goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			go h.sendSnapshotTo(c)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()

		case <-ticker.C:
			h.pushSnapshot()
		}
	}
}

func (h *Hub) pushSnapshot() {
	if h.snapshot == nil {
		return
	}
	snap, err := h.snapshot()
	if err != nil {
		h.log.Error("dashboard snapshot failed", "error", err)
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		h.log.Error("dashboard snapshot marshal failed", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("dashboard broadcast channel full, dropping snapshot")
	}
}

func (h *Hub) sendSnapshotTo(c *client) {
	if h.snapshot == nil {
		return
	}
	snap, err := h.snapshot()
	if err != nil {
		h.log.Error("dashboard snapshot failed", "error", err)
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// ServeWS upgrades an HTTP request to a WebSocket dashboard connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("dashboard websocket upgrade failed", "error", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 8)}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
