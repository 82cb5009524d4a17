// Package uistream pushes orchestration state snapshots to UI clients over
// WebSocket. The UI binds its confirmation sheet, selection list, conflict
// picker, and result toast to these snapshots; it never synthesizes
// pipeline state itself.
package uistream

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/harborchat/valet/pkg/logger"
	"github.com/harborchat/valet/pkg/orchestrator"
)

const writeTimeout = 5 * time.Second

// Hub fans one state stream out to any number of connected UI clients. A
// client that connects mid-pipeline immediately receives the current state.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[*websocket.Conn]*client
	current *orchestrator.State
}

// client serializes writes to one connection; gorilla connections allow
// only a single concurrent writer and broadcasts arrive from many
// goroutines.
type client struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

func (c *client) write(st orchestrator.State) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(st)
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		conns: make(map[*websocket.Conn]*client),
	}
}

// Handler upgrades an HTTP request to a state-stream connection.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WarnCF("uistream", "Upgrade failed", map[string]interface{}{
				"remote": r.RemoteAddr,
				"error":  err.Error(),
			})
			return
		}

		c := &client{conn: conn}
		h.mu.Lock()
		h.conns[conn] = c
		current := h.current
		h.mu.Unlock()

		if current != nil {
			h.send(c, *current)
		}

		// Reader loop exists only to notice the peer going away.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.drop(conn)
					return
				}
			}
		}()
	}
}

// Broadcast sends the state to every connected client and remembers it for
// late joiners.
func (h *Hub) Broadcast(st orchestrator.State) {
	h.mu.Lock()
	h.current = &st
	clients := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.send(c, st)
	}
}

// ClientCount reports connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) send(c *client, st orchestrator.State) {
	if err := c.write(st); err != nil {
		h.drop(c.conn)
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	conn.Close()
}

func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.conns = make(map[*websocket.Conn]*client)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
}
