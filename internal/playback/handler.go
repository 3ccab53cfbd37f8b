package playback

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/party-playlist-system/pkg/apperr"
)

// LoopController starts and stops a session's playback reconciliation
// loop. Implemented by the reconciler manager.
type LoopController interface {
	Start(sessionID string)
	Stop(sessionID string)
}

type Handler struct {
	service *Service
	loops   LoopController
}

func NewHandler(service *Service, loops LoopController) *Handler {
	return &Handler{
		service: service,
		loops:   loops,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	playback := r.Group("/playback")
	{
		playback.GET("/:sessionId", h.getState)
		playback.PUT("/:sessionId", h.updateState)
	}
}

func (h *Handler) getState(c *gin.Context) {
	state, err := h.service.Get(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "playback state not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, state)
}

type UpdateStateRequest struct {
	IsPlaying *bool `json:"isPlaying"`
	Progress  *int  `json:"progress"`
	Volume    *int  `json:"volume"`
}

func (h *Handler) updateState(c *gin.Context) {
	sessionID := c.Param("sessionId")

	var req UpdateStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.service.Update(c.Request.Context(), sessionID, UpdateStateInput{
		IsPlaying: req.IsPlaying,
		Progress:  req.Progress,
		Volume:    req.Volume,
	})
	if err != nil {
		if errors.Is(err, apperr.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Play/pause transitions drive the session's reconciliation loop.
	if h.loops != nil && req.IsPlaying != nil {
		if state.IsPlaying {
			h.loops.Start(sessionID)
		} else {
			h.loops.Stop(sessionID)
		}
	}

	c.JSON(http.StatusOK, state)
}
