package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// ProgressHub pushes session progress events to websocket subscribers. It
// implements the Publisher capability the relay is wired with; subscribers
// get every event for every session and filter client-side by session id.
type ProgressHub struct {
	logger  *zap.Logger
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// progressFrame is the wire envelope for pushed events
type progressFrame struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
	TS    int64       `json:"ts"`
}

func NewProgressHub(logger *zap.Logger) *ProgressHub {
	return &ProgressHub{
		logger:  logger,
		clients: make(map[*websocket.Conn]bool),
	}
}

// Publish broadcasts one event frame to every connected subscriber. Dead
// connections are dropped on write failure; their read loops clean up the
// rest.
func (h *ProgressHub) Publish(event string, payload interface{}) {
	data, err := json.Marshal(progressFrame{
		Event: event,
		Data:  payload,
		TS:    time.Now().UnixMilli(),
	})
	if err != nil {
		h.logger.Error("failed to marshal progress event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount returns the number of connected subscribers.
func (h *ProgressHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// HandleWebSocket handles GET /ws/progress
func (h *ProgressHub) HandleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	h.logger.Info("WebSocket client connected",
		zap.String("remote_addr", c.Request.RemoteAddr))

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
		h.logger.Info("WebSocket client disconnected",
			zap.String("remote_addr", c.Request.RemoteAddr))
	}()

	// Read loop: clients send nothing meaningful, but reading detects the
	// close and services ping/pong.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			h.mu.Unlock()
			if err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
