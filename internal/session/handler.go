package session

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/party-playlist-system/pkg/apperr"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.POST("", h.createSession)
		sessions.GET("", h.listSessions)
		sessions.GET("/:id", h.getSession)
		sessions.PUT("/:id", h.updateSession)
		sessions.DELETE("/:id", h.deactivateSession)
	}
}

type CreateSessionRequest struct {
	Name        string `json:"name" binding:"required"`
	HostID      string `json:"host_id"`
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session name is required"})
		return
	}

	session, err := h.service.Create(c.Request.Context(), CreateSessionInput{
		Name:        req.Name,
		HostID:      req.HostID,
		DeviceID:    req.DeviceID,
		AccessToken: req.AccessToken,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, session)
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}

type UpdateSessionRequest struct {
	Name        *string `json:"name"`
	HostID      *string `json:"host_id"`
	DeviceID    *string `json:"device_id"`
	AccessToken *string `json:"access_token"`
	Active      *bool   `json:"active"`
}

func (h *Handler) updateSession(c *gin.Context) {
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.service.Update(c.Request.Context(), c.Param("id"), UpdateSessionInput{
		Name:        req.Name,
		HostID:      req.HostID,
		DeviceID:    req.DeviceID,
		AccessToken: req.AccessToken,
		Active:      req.Active,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, apperr.ErrValidation):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, session)
}

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.service.ListActive(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sessions)
}

func (h *Handler) deactivateSession(c *gin.Context) {
	session, err := h.service.Deactivate(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, session)
}
