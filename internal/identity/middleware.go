package identity

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderName carries the anonymous voter token. Clients persist it in
// browser storage; it exists only to deduplicate votes.
const HeaderName = "X-User-Id"

const contextKey = "user_id"

// Middleware ensures every request carries a valid anonymous user ID.
// A missing or malformed ID is replaced with a fresh UUID, echoed back in
// the response header so the client can save it.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderName)
		if _, err := uuid.Parse(userID); err != nil {
			userID = uuid.New().String()
			c.Header(HeaderName, userID)
		}

		c.Set(contextKey, userID)
		c.Next()
	}
}

// FromContext returns the request's anonymous user ID.
func FromContext(c *gin.Context) string {
	return c.GetString(contextKey)
}
