package middleware

import (
	"github.com/gin-gonic/gin"

	"bookresale-backend/internal/shared/response"
)

// Identity - the API sits behind a gateway that authenticates requests
// and forwards the caller as X-User-ID. This middleware only enforces
// the header's presence and exposes it to handlers.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			response.Unauthorized(c, "missing user identity")
			c.Abort()
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}
