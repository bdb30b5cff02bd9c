package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"notigate/internal/auth"
	"notigate/internal/common"
)

const userIDKey = "userID"

// Auth returns middleware that validates the bearer token on the
// Authorization header and stores the caller identity in the context.
func Auth(validator *auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Header("WWW-Authenticate", "Bearer")
			common.Error(c, http.StatusUnauthorized, "missing Authorization header")
			c.Abort()
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.Header("WWW-Authenticate", "Bearer")
			common.Error(c, http.StatusUnauthorized, "invalid token format")
			c.Abort()
			return
		}

		claims, err := validator.Verify(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			common.HandleError(c, err)
			c.Abort()
			return
		}

		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// UserID returns the authenticated caller identity set by Auth.
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}
