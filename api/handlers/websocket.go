package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shellpane/backend/internal/term"
	"github.com/shellpane/backend/internal/ws"
)

// WebSocketHandler handles WebSocket attach requests for terminals.
type WebSocketHandler struct {
	manager   *term.Manager
	wsHandler *ws.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(manager *term.Manager, wsHandler *ws.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		manager:   manager,
		wsHandler: wsHandler,
	}
}

// Attach handles GET /api/terminals/:id/attach, upgrading to WebSocket.
func (h *WebSocketHandler) Attach(c *gin.Context) {
	id := c.Param("id")
	if !h.manager.Exists(id) {
		sendError(c, http.StatusNotFound, "TERMINAL_NOT_FOUND", "Terminal "+id+" not found")
		return
	}

	if err := h.wsHandler.HandleConnection(c.Writer, c.Request, id); err != nil {
		// The upgrader has already written its own failure response.
		return
	}
}

// RegisterRoutes registers the WebSocket routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/terminals/:id/attach", h.Attach)
}
