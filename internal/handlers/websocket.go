package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/confluo/internal/common"
	"github.com/ternarybob/confluo/internal/interfaces"
	"github.com/ternarybob/confluo/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the wire shape for all progress channel messages.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams tenant-scoped progress events to connected
// clients. The job registry remains authoritative; a reconnecting
// client re-reads it rather than relying on missed messages.
type WebSocketHandler struct {
	logger           arbor.ILogger
	events           interfaces.EventService
	clients          map[*websocket.Conn]bool
	clientMutex      map[*websocket.Conn]*sync.Mutex
	mu               sync.RWMutex
	progressInterval time.Duration
	serverInstanceID string // clients use this to detect server restarts
}

func NewWebSocketHandler(events interfaces.EventService, config *common.WebSocketConfig, logger arbor.ILogger) *WebSocketHandler {
	h := &WebSocketHandler{
		logger:           logger,
		events:           events,
		clients:          make(map[*websocket.Conn]bool),
		clientMutex:      make(map[*websocket.Conn]*sync.Mutex),
		serverInstanceID: uuid.New().String(),
	}

	if config != nil && config.ProgressThrottle != "" {
		if duration, err := time.ParseDuration(config.ProgressThrottle); err == nil {
			h.progressInterval = duration
		} else {
			logger.Warn().
				Err(err).
				Str("interval", config.ProgressThrottle).
				Msg("Failed to parse progress throttle interval - throttling disabled")
		}
	}

	logger.Info().Str("server_instance_id", h.serverInstanceID).Msg("WebSocket handler initialized")
	return h
}

// HandleWebSocket upgrades the connection and streams the tenant's
// progress events until the client disconnects.
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant")
	if tenantID == "" {
		tenantID = r.Header.Get(TenantHeader)
	}
	if tenantID == "" {
		WriteError(w, http.StatusBadRequest, "missing tenant query parameter")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.clientMutex[conn] = &sync.Mutex{}
	clientCount := len(h.clients)
	h.mu.Unlock()

	h.logger.Debug().
		Str("tenant_id", tenantID).
		Msgf("WebSocket client connected (total: %d)", clientCount)

	h.sendToConn(conn, WSMessage{
		Type: "connected",
		Payload: map[string]string{
			"tenant_id":          tenantID,
			"server_instance_id": h.serverInstanceID,
		},
	})

	// Sub-status churn is throttled per connection; job lifecycle events
	// always go through.
	var throttler *rate.Limiter
	if h.progressInterval > 0 {
		throttler = rate.NewLimiter(rate.Every(h.progressInterval), 1)
	}

	unsubscribe := h.events.Subscribe(tenantID, func(ctx context.Context, event models.ProgressEvent) {
		if event.Type == models.EventSubStatusChanged && throttler != nil && !throttler.Allow() {
			return
		}
		h.sendToConn(conn, WSMessage{
			Type:    string(event.Type),
			Payload: event,
		})
	})

	defer func() {
		unsubscribe()

		h.mu.Lock()
		delete(h.clients, conn)
		delete(h.clientMutex, conn)
		remaining := len(h.clients)
		h.mu.Unlock()

		conn.Close()
		h.logger.Debug().
			Str("tenant_id", tenantID).
			Msgf("WebSocket client disconnected (remaining: %d)", remaining)
	}()

	// Read messages from client (keep connection alive)
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			break
		}
	}
}

// sendToConn serializes and writes one message under the connection's
// write mutex.
func (h *WebSocketHandler) sendToConn(conn *websocket.Conn, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("type", msg.Type).Msg("Failed to marshal WebSocket message")
		return
	}

	h.mu.RLock()
	mutex := h.clientMutex[conn]
	h.mu.RUnlock()
	if mutex == nil {
		return
	}

	mutex.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	mutex.Unlock()

	if err != nil {
		h.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message to client")
	}
}

// ClientCount reports the number of connected clients.
func (h *WebSocketHandler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
