// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shellpane/backend/internal/model"
	"github.com/shellpane/backend/internal/repository"
	"github.com/shellpane/backend/internal/term"
	"github.com/shellpane/backend/internal/ws"
)

// TerminalHandler handles HTTP requests for terminal management.
type TerminalHandler struct {
	manager *term.Manager
	service *ws.Service
	repo    *repository.TerminalRepository
	log     *zap.Logger
}

// NewTerminalHandler creates a new TerminalHandler.
func NewTerminalHandler(manager *term.Manager, service *ws.Service, repo *repository.TerminalRepository, log *zap.Logger) *TerminalHandler {
	return &TerminalHandler{
		manager: manager,
		service: service,
		repo:    repo,
		log:     log.Named("api"),
	}
}

// CreateTerminalRequest represents the request body for creating a terminal.
type CreateTerminalRequest struct {
	ID          string `json:"id"`
	Cwd         string `json:"cwd" binding:"required"`
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	Shell       string `json:"shell"`
	LoginShell  bool   `json:"loginShell"`
}

// ResizeRequest represents the request body for resizing a terminal.
type ResizeRequest struct {
	Cols uint16 `json:"cols" binding:"required"`
	Rows uint16 `json:"rows" binding:"required"`
}

// TerminalResponse represents a terminal in API responses.
type TerminalResponse struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	Title       string `json:"title"`
	Shell       string `json:"shell"`
	Cwd         string `json:"cwd"`
	PID         int    `json:"pid"`
	Status      string `json:"status"`
	ExitCode    *int   `json:"exitCode,omitempty"`
	CastPath    string `json:"castPath,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func toTerminalResponse(t *model.Terminal) *TerminalResponse {
	return &TerminalResponse{
		ID:          t.ID,
		ProjectID:   t.ProjectID,
		ProjectName: t.ProjectName,
		Title:       t.Title,
		Shell:       t.Shell,
		Cwd:         t.Cwd,
		PID:         t.PID,
		Status:      string(t.Status),
		ExitCode:    t.ExitCode,
		CastPath:    t.CastPath,
		CreatedAt:   t.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   t.UpdatedAt.Format(time.RFC3339),
	}
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// Create handles POST /api/terminals.
func (h *TerminalHandler) Create(c *gin.Context) {
	var req CreateTerminalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.New().String()
	}

	desc, err := h.service.CreateTerminal(c.Request.Context(), term.CreateOptions{
		ID:          id,
		Cwd:         req.Cwd,
		ProjectID:   req.ProjectID,
		ProjectName: req.ProjectName,
		Shell:       req.Shell,
		Settings:    &model.Settings{LoginShell: req.LoginShell},
	})
	if err != nil {
		switch {
		case errors.Is(err, model.ErrCwdRequired):
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
		case errors.Is(err, model.ErrShellRejected):
			sendError(c, http.StatusBadRequest, "SHELL_REJECTED", err.Error())
		default:
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create terminal: "+err.Error())
		}
		return
	}

	c.JSON(http.StatusCreated, toTerminalResponse(desc))
}

// List handles GET /api/terminals. With ?project_id= it returns the
// project's stored history; without it, the live terminals only.
func (h *TerminalHandler) List(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		live := h.manager.List()
		response := make([]*TerminalResponse, len(live))
		for i, t := range live {
			response[i] = toTerminalResponse(t)
		}
		c.JSON(http.StatusOK, response)
		return
	}

	stored, err := h.repo.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list terminals: "+err.Error())
		return
	}

	response := make([]*TerminalResponse, len(stored))
	for i, t := range stored {
		// The registry is authoritative for liveness; a stored record
		// can lag behind a crash.
		if t.Status == model.TerminalStatusRunning && !h.manager.Exists(t.ID) {
			t.Status = model.TerminalStatusExited
		}
		response[i] = toTerminalResponse(t)
	}
	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/terminals/:id.
func (h *TerminalHandler) Get(c *gin.Context) {
	id := c.Param("id")

	if live, ok := h.manager.Get(id); ok {
		c.JSON(http.StatusOK, toTerminalResponse(live))
		return
	}

	stored, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, model.ErrTerminalNotFound) {
			sendError(c, http.StatusNotFound, "TERMINAL_NOT_FOUND", "Terminal "+id+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get terminal: "+err.Error())
		return
	}
	if stored.Status == model.TerminalStatusRunning {
		stored.Status = model.TerminalStatusExited
	}
	c.JSON(http.StatusOK, toTerminalResponse(stored))
}

// Kill handles DELETE /api/terminals/:id. With ?force=true the grace
// window is skipped.
func (h *TerminalHandler) Kill(c *gin.Context) {
	id := c.Param("id")
	force := c.Query("force") == "true"

	if !h.manager.Kill(id, force) {
		sendError(c, http.StatusNotFound, "TERMINAL_NOT_FOUND", "Terminal "+id+" not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "killed": true})
}

// KillAll handles POST /api/terminals/kill-all.
func (h *TerminalHandler) KillAll(c *gin.Context) {
	outcome := h.manager.KillAll()
	h.log.Info("kill all terminals",
		zap.Int("success", outcome.Success),
		zap.Int("failed", outcome.Failed),
		zap.Bool("timeout", outcome.TimedOut))
	c.JSON(http.StatusOK, outcome)
}

// Resize handles POST /api/terminals/:id/resize.
func (h *TerminalHandler) Resize(c *gin.Context) {
	id := c.Param("id")

	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if !h.manager.Resize(id, req.Cols, req.Rows) {
		sendError(c, http.StatusNotFound, "TERMINAL_NOT_FOUND", "Terminal "+id+" not found")
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "cols": req.Cols, "rows": req.Rows})
}

// RegisterRoutes registers the terminal routes on a Gin router group.
func (h *TerminalHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/terminals", h.Create)
	rg.GET("/terminals", h.List)
	rg.POST("/terminals/kill-all", h.KillAll)
	rg.GET("/terminals/:id", h.Get)
	rg.DELETE("/terminals/:id", h.Kill)
	rg.POST("/terminals/:id/resize", h.Resize)
}
