package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ginUserIDKey = "caller_user_id"
	ginActorKey  = "caller_actor"
)

// Actor resolves the authenticated caller forwarded by the API gateway.
// The gateway terminates authentication and passes the subject along in
// X-User-ID; X-Actor optionally overrides the audit actor label for
// service-to-service calls.
func Actor() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Request.Header.Get("X-User-ID"))
		if raw != "" {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || userID <= 0 {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":             "invalid_token",
					"error_description": "Malformed X-User-ID header.",
				})
				return
			}
			c.Set(ginUserIDKey, userID)
			c.Set(ginActorKey, "user:"+raw)
		}

		if actor := strings.TrimSpace(c.Request.Header.Get("X-Actor")); actor != "" {
			c.Set(ginActorKey, actor)
		}

		c.Next()
	}
}

// GetUserID returns the caller's user id when the gateway supplied one.
func GetUserID(c *gin.Context) (int64, bool) {
	value, ok := c.Get(ginUserIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(int64)
	return userID, ok
}

// GetActor returns the audit actor label for the request.
func GetActor(c *gin.Context) (string, bool) {
	value, ok := c.Get(ginActorKey)
	if !ok {
		return "", false
	}
	actor, ok := value.(string)
	return actor, ok
}
