package auth

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/party-playlist-system/internal/spotify"
	"github.com/party-playlist-system/pkg/apperr"
	"github.com/party-playlist-system/pkg/redis"
)

// Handler delegates the provider's OAuth code grant and proxies catalog
// search and device listing. The actual token exchange happens at the
// provider's token endpoint; this layer only stores the result against a
// session so the reconciliation loop can refresh it later.
type Handler struct {
	spotifyClient *spotify.Client
	tokenStore    *redis.TokenStore
}

func NewHandler(spotifyClient *spotify.Client, tokenStore *redis.TokenStore) *Handler {
	return &Handler{
		spotifyClient: spotifyClient,
		tokenStore:    tokenStore,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.GET("/login", h.login)
		auth.GET("/callback", h.callback)
		auth.GET("/refresh", h.refresh)
	}

	provider := r.Group("/spotify")
	{
		provider.GET("/search", h.search)
		provider.GET("/devices", h.devices)
	}
}

// login hands the client the provider authorize URL. When a session ID is
// supplied it rides along as the OAuth state so the callback can bind the
// resulting credential to that session.
func (h *Handler) login(c *gin.Context) {
	state := c.Query("session_id")
	if state == "" {
		state = uuid.New().String()
	}

	c.JSON(http.StatusOK, gin.H{"url": h.spotifyClient.GetAuthURL(state)})
}

func (h *Handler) callback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}

	token, err := h.spotifyClient.ExchangeToken(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// State carries the session ID when login was initiated for a session.
	if state := c.Query("state"); state != "" {
		if _, err := uuid.Parse(state); err == nil {
			info := &redis.TokenInfo{
				AccessToken:  token.AccessToken,
				RefreshToken: token.RefreshToken,
				ExpiresAt:    time.Now().Add(time.Duration(token.ExpiresIn) * time.Second).UTC(),
			}
			if err := h.tokenStore.StoreTokens(c.Request.Context(), state, info); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store tokens"})
				return
			}
		}
	}

	frontendURL := os.Getenv("FRONTEND_URL")
	if frontendURL == "" {
		c.JSON(http.StatusOK, gin.H{
			"access_token":  token.AccessToken,
			"refresh_token": token.RefreshToken,
			"expires_in":    token.ExpiresIn,
		})
		return
	}

	c.Redirect(http.StatusFound, frontendURL+"?access_token="+token.AccessToken)
}

func (h *Handler) refresh(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	tokenInfo, err := h.tokenStore.GetTokens(c.Request.Context(), sessionID)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token not found"})
		return
	}

	newToken, err := h.spotifyClient.RefreshToken(c.Request.Context(), tokenInfo.RefreshToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	expiresAt := time.Now().Add(time.Duration(newToken.ExpiresIn) * time.Second)
	if err := h.tokenStore.RefreshToken(c.Request.Context(), sessionID, newToken.AccessToken, expiresAt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"access_token": newToken.AccessToken, "expires_in": newToken.ExpiresIn})
}

func (h *Handler) search(c *gin.Context) {
	accessToken := bearerToken(c)
	if accessToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access token is required"})
		return
	}

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	tracks, err := h.spotifyClient.SearchTracks(c.Request.Context(), accessToken, query, limit)
	if err != nil {
		h.providerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}

func (h *Handler) devices(c *gin.Context) {
	accessToken := bearerToken(c)
	if accessToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "access token is required"})
		return
	}

	devices, err := h.spotifyClient.GetDevices(c.Request.Context(), accessToken)
	if err != nil {
		h.providerError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

func (h *Handler) providerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperr.ErrUpstreamAuth):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "provider rejected credentials, ensure an active device and re-authorize"})
	case errors.Is(err, apperr.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "provider unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}
