package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/messaging/pkg/response"
)

// Context keys set by the middleware.
const (
	ContextUserID   = "user_id"
	ContextUsername = "username"
)

// GinMiddleware returns a Gin middleware that authenticates requests.
// It accepts the token from the Authorization header (Bearer scheme) or,
// for websocket upgrades, from the `token` query parameter.
func GinMiddleware(v *Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			response.Unauthorized(c, "missing credentials")
			c.Abort()
			return
		}

		claims, err := v.ValidateToken(token)
		if err != nil {
			response.Unauthorized(c, "invalid credentials")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUsername, claims.Username)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if h == "" {
		return ""
	}
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
