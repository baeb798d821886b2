package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Alicia-74/libroredsocial/pkg/response"
	"github.com/Alicia-74/libroredsocial/pkg/token"
)

const contextUserIDKey = "user_id"

// AuthMiddleware validates the bearer credential and stores the caller's
// user id in the request context.
func AuthMiddleware(tokens *token.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}

		claims, err := tokens.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(contextUserIDKey, claims.SubjectID())
		c.Next()
	}
}

func callerID(c *gin.Context) string {
	return c.GetString(contextUserIDKey)
}
