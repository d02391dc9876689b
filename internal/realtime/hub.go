// Package realtime pushes triggered alerts to connected WebSocket clients.
package realtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/trogers1052/portfolio-tracker/internal/models"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

type client struct {
	conn   *websocket.Conn
	userID string

	// gorilla connections allow one concurrent writer
	writeMu sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(v)
}

// Hub tracks WebSocket clients. Each client subscribes with a user id and
// only receives that user's alerts.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*client]struct{}
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewHub creates an empty Hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Len returns the number of connected clients
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and keeps the connection registered until
// the client goes away. The user_id query parameter is required.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, userID: userID}
	h.add(c)
	h.logger.Debug("WebSocket client connected", zap.String("user_id", c.userID))

	// drain inbound frames so close and ping control messages are processed
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// broadcast sends v to every client accepted by match; clients that
// fail to receive are dropped
func (h *Hub) broadcast(v any, match func(*client) bool) {
	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if match(c) {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.writeJSON(v); err != nil {
			h.remove(c)
		}
	}
}

// Notify pushes an ALERT_TRIGGERED event to the alert owner's clients
func (h *Hub) Notify(ctx context.Context, alert models.TriggeredAlert) error {
	event := models.AlertEvent{
		EventType: "ALERT_TRIGGERED",
		Alert:     alert,
		Timestamp: time.Now().UTC(),
	}
	h.broadcast(event, func(c *client) bool {
		return alert.UserID != "" && c.userID == alert.UserID
	})
	return nil
}

// Close disconnects every client
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		_ = c.conn.Close()
	}
}
