package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/middleware"
	"github.com/LaazAlae/expenseTracker-sub000/internal/syncserver"
)

// RegisterRoutes wires all HTTP routes: the public auth bootstrap, the
// authenticated one-shot API, and the websocket upgrade endpoint.
func RegisterRoutes(r *gin.Engine, container *services.Container, syncSrv *syncserver.Server, loginLimiter *limiter.Limiter) {
	auth := r.Group("/auth")
	auth.Use(middleware.RateLimit(loginLimiter))
	registerAuthRoutes(auth, container.User, container.Token)

	v1 := r.Group("/api/v1", middleware.AuthMiddleware(container.Token))
	registerLedgerRoutes(v1, container.Budget)

	r.GET("/ws", syncSrv.ServeWS)
}
