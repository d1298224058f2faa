package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	UserIDKey    = "user_id"
	UserIDHeader = "X-User-ID"
)

// Identity takes the caller's opaque user id from the X-User-ID header or,
// for websocket upgrades where browsers cannot set headers, the user_id
// query parameter. The id is trusted as given.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			userID = strings.TrimSpace(c.Query(UserIDKey))
		}
		if userID != "" {
			c.Set(UserIDKey, userID)
		}
		c.Next()
	}
}

// RequireUser rejects requests without a caller id.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user id required"})
			return
		}
		c.Next()
	}
}

func UserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}
