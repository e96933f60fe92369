package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// SessionCookie carries the session token for browser clients.
	SessionCookie = "token"
	// CtxUserID is the gin context key holding the authenticated user id.
	CtxUserID = "user_id"
)

// Authenticator resolves a session token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// tokenFromRequest: сначала cookie, потом Authorization: Bearer (для не-браузерных клиентов)
func tokenFromRequest(c *gin.Context) string {
	if v, err := c.Cookie(SessionCookie); err == nil && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		// пропускаем preflight
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		tokenStr := tokenFromRequest(c)
		if tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Please log in to access this resource",
			})
			return
		}

		userID, err := auth.Authenticate(c.Request.Context(), tokenStr)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"message": "Invalid Token",
			})
			return
		}

		c.Set(CtxUserID, userID)
		c.Next()
	}
}
