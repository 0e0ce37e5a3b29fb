// Package debugui serves a small websocket diagnostics dashboard that
// broadcasts live consumer statistics to any connected browser. It has
// no bearing on the transport's protocol correctness; it only observes
// it.
package debugui

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"vkvm/internal/consumer"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard is meant for same-host/LAN debugging, not public
	// exposure, so any origin is accepted.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// statsMessage is the JSON shape pushed to every connected client.
type statsMessage struct {
	Type string         `json:"type"`
	Time int64          `json:"time"`
	Data consumer.Stats `json:"data"`
}

// Hub manages websocket clients and broadcasts consumer.Stats
// snapshots to all of them.
type Hub struct {
	clients    map[*client]bool
	clientsMu  sync.RWMutex
	broadcast  chan consumer.Stats
	register   chan *client
	unregister chan *client
	shutdown   chan struct{}
	now        func() int64
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates a Hub. Call Run in its own goroutine to start
// dispatching, and ServeHTTP as the handler for the dashboard's
// websocket endpoint.
func NewHub(now func() int64) *Hub {
	if now == nil {
		now = func() int64 { return time.Now().UnixNano() }
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan consumer.Stats),
		register:   make(chan *client),
		unregister: make(chan *client),
		shutdown:   make(chan struct{}),
		now:        now,
	}
}

// Run processes registrations and broadcasts until Stop is called.
// Meant to be run in its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clientsMu.Lock()
			h.clients[c] = true
			h.clientsMu.Unlock()
			log.Printf("debugui: client connected, %d total", len(h.clients))

		case c := <-h.unregister:
			h.clientsMu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.clientsMu.Unlock()

		case stats := <-h.broadcast:
			h.dispatch(stats)

		case <-h.shutdown:
			return
		}
	}
}

// Stop terminates Run.
func (h *Hub) Stop() { close(h.shutdown) }

// Publish queues a consumer.Stats snapshot for broadcast to every
// connected client. Safe to call from any goroutine, including the
// one driving Consume.
func (h *Hub) Publish(stats consumer.Stats) {
	select {
	case h.broadcast <- stats:
	case <-h.shutdown:
	}
}

func (h *Hub) dispatch(stats consumer.Stats) {
	payload, err := json.Marshal(statsMessage{Type: "stats", Time: h.now(), Data: stats})
	if err != nil {
		log.Printf("debugui: failed to marshal stats: %v", err)
		return
	}

	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			close(c.send)
			delete(h.clients, c)
		}
	}
}

// ServeHTTP upgrades the connection to a websocket and registers it
// with the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("debugui: upgrade failed: %v", err)
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, 64)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump only exists to notice the client going away; the dashboard
// is receive-only from the browser's perspective.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
