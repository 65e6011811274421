package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/session"
)

// SessionHandler handles HTTP requests for the bridged session.
type SessionHandler struct {
	sessionManager *session.Manager
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionManager *session.Manager) *SessionHandler {
	return &SessionHandler{
		sessionManager: sessionManager,
	}
}

// SessionResponse represents a session in API responses.
type SessionResponse struct {
	*model.SessionInfo
	Duration string `json:"duration"`
}

// StatusResponse represents the bridge state in API responses.
type StatusResponse struct {
	Connected    bool             `json:"connected"`
	Session      *SessionResponse `json:"session,omitempty"`
	LastLine     string           `json:"lastLine,omitempty"`
	HistoryBytes int              `json:"historyBytes"`
}

// InputRequest is the body of POST /api/session/input.
type InputRequest struct {
	Data string `json:"data"`
}

// ResizeRequest is the body of POST /api/session/resize.
type ResizeRequest struct {
	Rows uint16 `json:"rows" binding:"required"`
	Cols uint16 `json:"cols" binding:"required"`
}

// HistoryResponse carries the retained session output.
type HistoryResponse struct {
	Data     string `json:"data"`
	LastLine string `json:"lastLine"`
}

func toSessionResponse(info *model.SessionInfo) *SessionResponse {
	if info == nil {
		return nil
	}
	return &SessionResponse{
		SessionInfo: info,
		Duration:    formatDuration(info.Duration()),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return time.Duration(h*time.Hour + m*time.Minute + s*time.Second).String()
	}
	if m > 0 {
		return time.Duration(m*time.Minute + s*time.Second).String()
	}
	return time.Duration(s * time.Second).String()
}

// Connect handles POST /api/session - opens a session, replacing any active one.
func (h *SessionHandler) Connect(c *gin.Context) {
	var req model.ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	info, err := h.sessionManager.Connect(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toSessionResponse(info))
}

// Status handles GET /api/session.
func (h *SessionHandler) Status(c *gin.Context) {
	st := h.sessionManager.Status()
	c.JSON(http.StatusOK, &StatusResponse{
		Connected:    st.Connected,
		Session:      toSessionResponse(st.Session),
		LastLine:     st.LastLine,
		HistoryBytes: st.HistoryBytes,
	})
}

// Disconnect handles DELETE /api/session. Disconnecting with no active
// session succeeds.
func (h *SessionHandler) Disconnect(c *gin.Context) {
	if err := h.sessionManager.Disconnect(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Input handles POST /api/session/input.
func (h *SessionHandler) Input(c *gin.Context) {
	var req InputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if err := h.sessionManager.Send(c.Request.Context(), []byte(req.Data)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// Resize handles POST /api/session/resize.
func (h *SessionHandler) Resize(c *gin.Context) {
	var req ResizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if err := h.sessionManager.Resize(c.Request.Context(), req.Rows, req.Cols); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// History handles GET /api/session/history.
func (h *SessionHandler) History(c *gin.Context) {
	st := h.sessionManager.Status()
	c.JSON(http.StatusOK, &HistoryResponse{
		Data:     string(h.sessionManager.History()),
		LastLine: st.LastLine,
	})
}

// Exec handles POST /api/exec - runs one command over a fresh connection.
func (h *SessionHandler) Exec(c *gin.Context) {
	var req model.ExecRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	result, err := h.sessionManager.Exec(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sess := rg.Group("/session")
	{
		sess.POST("", h.Connect)
		sess.GET("", h.Status)
		sess.DELETE("", h.Disconnect)
		sess.POST("/input", h.Input)
		sess.POST("/resize", h.Resize)
		sess.GET("/history", h.History)
	}
	rg.POST("/exec", h.Exec)
}
