package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	portssvc "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/services"
)

// AuthMiddleware creates a Gin middleware handler that validates bearer
// tokens through the token service, so revoked users and expired tokens are
// rejected consistently with the sync server's socket authentication.
func AuthMiddleware(tokenService portssvc.TokenSvcFacade) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := GetLoggerFromCtx(c.Request.Context())

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			logger.Warn("Authorization header missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			logger.Warn("Authorization header format invalid")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header format must be Bearer {token}"})
			return
		}

		user, err := tokenService.ValidateToken(c.Request.Context(), parts[1])
		if err != nil {
			logger.Warn("Invalid token", slog.String("error", err.Error()))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		// Store the user ID and an enriched logger in the request context.
		ctxWithUser := context.WithValue(c.Request.Context(), userIDKey, user.UserID)
		enrichedLogger := logger.With(slog.String("user_id", user.UserID))
		ctxWithLoggerAndUser := context.WithValue(ctxWithUser, loggerCtxKey, enrichedLogger)

		c.Request = c.Request.WithContext(ctxWithLoggerAndUser)
		c.Set(string(userIDKey), user.UserID)
		c.Next()
	}
}
