package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"optionsPilot/internal/ports"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts audit events to connected websocket clients. It
// implements ports.AuditPublisher. Publishing is fire-and-forget: with no
// clients, or a full buffer, events are dropped rather than blocking the
// tick loop.
type Hub struct {
	logger    ports.Logger
	broadcast chan []byte

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	done chan struct{}
}

// NewHub creates the hub; call Run in a goroutine to start fan-out.
func NewHub(logger ports.Logger) *Hub {
	return &Hub{
		logger:    logger,
		broadcast: make(chan []byte, 256),
		clients:   make(map[*websocket.Conn]bool),
		done:      make(chan struct{}),
	}
}

// envelope is the audit wire format.
type envelope struct {
	TS     int64                  `json:"ts"`
	TSISO  string                 `json:"ts_iso"`
	Source string                 `json:"source"`
	Event  string                 `json:"event"`
	Data   map[string]interface{} `json:"data"`
}

// Publish enqueues an audit event. Never blocks.
func (h *Hub) Publish(event string, data map[string]interface{}) {
	now := time.Now()
	b, err := json.Marshal(envelope{
		TS:     now.UnixMilli(),
		TSISO:  now.UTC().Format(time.RFC3339Nano),
		Source: "engine",
		Event:  event,
		Data:   data,
	})
	if err != nil {
		h.logger.Warn(context.Background(), "audit: failed to encode event", map[string]interface{}{"event": event})
		return
	}
	select {
	case h.broadcast <- b:
	default:
		h.logger.Debug(context.Background(), "audit: buffer full, event dropped", map[string]interface{}{"event": event})
	}
}

// Run fans broadcast messages out to all clients until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			return
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
					client.Close()
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Close stops the fan-out loop and drops all clients.
func (h *Hub) Close() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.Close()
		delete(h.clients, client)
	}
}

// Handler upgrades an HTTP request to a websocket audit subscription.
func (h *Hub) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn(r.Context(), "audit: websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}
