// Package web is the diagnostics surface: a small HTTP server exposing
// status JSON, the capture catalog, prometheus metrics, the exclusion list
// and a websocket stream of capture events.
package web

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lcalzada-xor/snuffle/internal/core/domain"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local diagnostics surface; no cross-origin concerns
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub broadcasts capture events to websocket clients. It implements
// ports.EventSink; Publish never blocks the caller.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	events  chan domain.CaptureEvent
}

// NewHub creates an idle hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		events:  make(chan domain.CaptureEvent, 64),
	}
}

// Publish enqueues an event for broadcast, dropping when the buffer is full.
func (h *Hub) Publish(ev domain.CaptureEvent) {
	select {
	case h.events <- ev:
	default:
	}
}

// Start runs the broadcast loop until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				h.closeAll()
				return
			case ev := <-h.events:
				h.broadcast(ev)
			}
		}
	}()
}

func (h *Hub) broadcast(ev domain.CaptureEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// ServeWS upgrades the connection and registers the client.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[WEB] WebSocket upgrade failed: %v", err)
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// Reader loop: discard inbound frames, detect disconnect
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.mu.Lock()
				conn.Close()
				delete(h.clients, conn)
				h.mu.Unlock()
				return
			}
		}
	}()
}

// ClientCount returns the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
