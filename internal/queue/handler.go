package queue

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
	queue := r.Group("/queue")
	{
		queue.GET("/:sessionId", h.getQueue)
		queue.POST("/:sessionId", h.addToQueue)
		queue.GET("/:sessionId/next", h.getNextSong)
		queue.POST("/:sessionId/items/:itemId/upvote", h.upvote)
		queue.POST("/:sessionId/items/:itemId/downvote", h.downvote)
		queue.PUT("/:sessionId/items/:itemId/played", h.markPlayed)
		queue.DELETE("/:sessionId/items/:itemId", h.removeFromQueue)
	}
}

func (h *Handler) getQueue(c *gin.Context) {
	includePlayed := c.Query("includePlayedSongs") == "true"

	items, err := h.service.List(c.Request.Context(), c.Param("sessionId"), includePlayed)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, items)
}

type AddToQueueRequest struct {
	Song    SongInput `json:"song"`
	VoterID string    `json:"voterId"`
}

func (h *Handler) addToQueue(c *gin.Context) {
	var req AddToQueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid song data"})
		return
	}

	item, err := h.service.Add(c.Request.Context(), c.Param("sessionId"), req.Song, req.VoterID)
	if err != nil {
		if errors.Is(err, apperr.ErrInvalidSongData) || errors.Is(err, apperr.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid song data"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, item)
}

type VoteRequest struct {
	VoterID string `json:"voterId" binding:"required"`
}

func (h *Handler) upvote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "voter ID is required"})
		return
	}

	item, err := h.service.Upvote(c.Request.Context(), c.Param("itemId"), req.VoterID)
	if err != nil {
		h.voteError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *Handler) downvote(c *gin.Context) {
	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "voter ID is required"})
		return
	}

	item, err := h.service.RemoveVote(c.Request.Context(), c.Param("itemId"), req.VoterID)
	if err != nil {
		h.voteError(c, err)
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *Handler) voteError(c *gin.Context, err error) {
	if errors.Is(err, apperr.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handler) markPlayed(c *gin.Context) {
	item, err := h.service.MarkPlayed(c.Request.Context(), c.Param("itemId"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *Handler) getNextSong(c *gin.Context) {
	item, err := h.service.NextSong(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if item == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no songs in queue"})
		return
	}

	c.JSON(http.StatusOK, item)
}

func (h *Handler) removeFromQueue(c *gin.Context) {
	item, err := h.service.Remove(c.Request.Context(), c.Param("itemId"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "queue item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, item)
}
