package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LaazAlae/expenseTracker-sub000/internal/apperrors"
	portssvc "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/LaazAlae/expenseTracker-sub000/internal/middleware"
)

// authHandler handles the REST bootstrap: registration, login and token
// validation. Everything else happens over the sync connection.
type authHandler struct {
	userService  portssvc.UserSvcFacade
	tokenService portssvc.TokenSvcFacade
}

func newAuthHandler(us portssvc.UserSvcFacade, ts portssvc.TokenSvcFacade) *authHandler {
	return &authHandler{userService: us, tokenService: ts}
}

// registerAuthRoutes registers registration/login/validation routes.
func registerAuthRoutes(rg *gin.RouterGroup, us portssvc.UserSvcFacade, ts portssvc.TokenSvcFacade) {
	h := newAuthHandler(us, ts)
	rg.POST("/register", h.register)
	rg.POST("/login", h.login)
	rg.POST("/validate-token", h.validateToken)
}

func (h *authHandler) register(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	user, err := h.userService.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already taken"})
			return
		}
		logger.Error("Failed to register user", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register user"})
		return
	}

	token, _, err := h.tokenService.IssueToken(c.Request.Context(), user)
	if err != nil {
		logger.Error("Failed to issue token after registration", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	logger.Info("User registered", slog.String("user_id", user.UserID))
	c.JSON(http.StatusCreated, dto.LoginResponse{Token: token, User: dto.ToUserResponse(user)})
}

func (h *authHandler) login(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	user, err := h.userService.AuthenticateUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrAccountLocked):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Account temporarily locked"})
		case errors.Is(err, apperrors.ErrUnauthorized):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
		default:
			logger.Error("Login failed", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		}
		return
	}

	token, _, err := h.tokenService.IssueToken(c.Request.Context(), user)
	if err != nil {
		logger.Error("Failed to issue token", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	logger.Info("User logged in", slog.String("user_id", user.UserID))
	c.JSON(http.StatusOK, dto.LoginResponse{Token: token, User: dto.ToUserResponse(user)})
}

// validateToken confirms a locally cached token is still good before the
// client attempts the persistent connection.
func (h *authHandler) validateToken(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	user, err := h.tokenService.ValidateToken(c.Request.Context(), req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": dto.ToUserResponse(user)})
}
