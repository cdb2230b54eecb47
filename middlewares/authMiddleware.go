package middlewares

import (
	"net/http"
	"strings"

	"civicpulse-be/logger"
	authUtils "civicpulse-be/utils"

	"github.com/gin-gonic/gin"
)

// AuthCookie is the cookie set on login.
const AuthCookie = "auth_token"

const userIDKey = "user_id"

// AuthMiddleware accepts a bearer token or the auth cookie and stores the
// caller's id on the context.
func AuthMiddleware(secret string) gin.HandlerFunc {
	log := logger.WithComponent("auth")

	return func(c *gin.Context) {
		tokenString := ""
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			tokenString = strings.TrimPrefix(authHeader, "Bearer ")
		} else if cookie, err := c.Cookie(AuthCookie); err == nil {
			tokenString = cookie
		}
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No authorization token provided"})
			return
		}

		userID, err := authUtils.ParseToken(secret, tokenString)
		if err != nil {
			log.WithField("error", err.Error()).Debug("Token validation failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// CurrentUserID returns the id stored by AuthMiddleware.
func CurrentUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(userIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}
