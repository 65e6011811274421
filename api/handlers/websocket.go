package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/shellbridge/internal/ws"
)

// WebSocketHandler attaches WebSocket clients to the session.
type WebSocketHandler struct {
	service *ws.Service
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(service *ws.Service) *WebSocketHandler {
	return &WebSocketHandler{service: service}
}

// Attach handles WS /api/session/attach. Clients may attach with no active
// session and will see output once one is connected.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	h.service.ServeHTTP(c.Writer, c.Request)
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/session/attach", h.Attach)
}
