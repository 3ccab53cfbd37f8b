package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/party-playlist-system/internal/identity"
	"github.com/party-playlist-system/pkg/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // In production, implement proper origin checking
	},
}

// Handler fans Kafka events out to the WebSocket connections of the
// session they belong to, giving guests live queue updates on top of the
// polling REST surface.
type Handler struct {
	// Map of sessionID -> map of connectionID -> *websocket.Conn
	sessions map[string]map[string]*websocket.Conn
	mu       sync.RWMutex
	events   *events.KafkaClient
}

func NewHandler(eventBus *events.KafkaClient) *Handler {
	return &Handler{
		sessions: make(map[string]map[string]*websocket.Conn),
		events:   eventBus,
	}
}

// Run consumes the event stream until ctx is cancelled, broadcasting each
// event to its session's connections. Started once from main.
func (h *Handler) Run(ctx context.Context) {
	err := h.events.ConsumeEvents(ctx, func(event events.Event) error {
		h.broadcastToSession(event.SessionID, event)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("Failed to consume events: %v", err)
	}
}

func (h *Handler) HandleWebSocket(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("Failed to upgrade connection: %v", err)
		return
	}

	connID := identity.FromContext(c)
	h.addConnection(sessionID, connID, conn)
	defer h.removeConnection(sessionID, connID)

	// Clients only listen; the read loop exists to detect the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

func (h *Handler) addConnection(sessionID, connID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[sessionID]; !exists {
		h.sessions[sessionID] = make(map[string]*websocket.Conn)
	}
	h.sessions[sessionID][connID] = conn

	h.broadcastLocked(sessionID, map[string]interface{}{
		"type":    "user_joined",
		"user_id": connID,
	})
}

func (h *Handler) removeConnection(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, exists := h.sessions[sessionID]; exists {
		if conn, exists := conns[connID]; exists {
			conn.Close()
			delete(conns, connID)
		}
		if len(conns) == 0 {
			delete(h.sessions, sessionID)
		}
	}

	h.broadcastLocked(sessionID, map[string]interface{}{
		"type":    "user_left",
		"user_id": connID,
	})
}

func (h *Handler) broadcastToSession(sessionID string, message interface{}) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.broadcastLocked(sessionID, message)
}

func (h *Handler) broadcastLocked(sessionID string, message interface{}) {
	conns, exists := h.sessions[sessionID]
	if !exists {
		return
	}

	messageJSON, err := json.Marshal(message)
	if err != nil {
		log.Printf("Failed to marshal message: %v", err)
		return
	}

	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, messageJSON); err != nil {
			log.Printf("Failed to send message: %v", err)
		}
	}
}
