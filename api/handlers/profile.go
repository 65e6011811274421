package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/remote-agent-terminal/shellbridge/internal/model"
	"github.com/remote-agent-terminal/shellbridge/internal/repository"
)

// ProfileHandler handles HTTP requests for saved connection profiles.
type ProfileHandler struct {
	repo *repository.ProfileRepository
}

// NewProfileHandler creates a new ProfileHandler.
func NewProfileHandler(repo *repository.ProfileRepository) *ProfileHandler {
	return &ProfileHandler{repo: repo}
}

// List handles GET /api/profiles.
func (h *ProfileHandler) List(c *gin.Context) {
	profiles, err := h.repo.List(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list profiles: "+err.Error())
		return
	}
	if profiles == nil {
		profiles = []*model.Profile{}
	}
	c.JSON(http.StatusOK, profiles)
}

// Create handles POST /api/profiles.
func (h *ProfileHandler) Create(c *gin.Context) {
	var req model.CreateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		writeError(c, err)
		return
	}

	name := req.Name
	if name == "" {
		name = req.Username + "@" + req.Host
	}
	p := &model.Profile{
		ID:        uuid.New().String(),
		Name:      name,
		Host:      req.Host,
		Port:      req.Port,
		Username:  req.Username,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.repo.Create(c.Request.Context(), p); err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create profile: "+err.Error())
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Get handles GET /api/profiles/:id.
func (h *ProfileHandler) Get(c *gin.Context) {
	p, err := h.repo.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Delete handles DELETE /api/profiles/:id.
func (h *ProfileHandler) Delete(c *gin.Context) {
	if err := h.repo.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RegisterRoutes registers the profile handler routes on a Gin router group.
func (h *ProfileHandler) RegisterRoutes(rg *gin.RouterGroup) {
	profiles := rg.Group("/profiles")
	{
		profiles.GET("", h.List)
		profiles.POST("", h.Create)
		profiles.GET("/:id", h.Get)
		profiles.DELETE("/:id", h.Delete)
	}
}
