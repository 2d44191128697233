package dto

import (
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
)

// RegisterRequest creates a new account. The first account registered
// becomes the administrator.
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64" validate:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8" validate:"required,min=8"`
}

// LoginRequest authenticates an existing account.
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse is the externally visible shape of a user.
type UserResponse struct {
	UserID   string `json:"userID"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

// LoginResponse represents the response for a successful login.
type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

// ToUserResponse converts a domain.User to its DTO.
func ToUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		UserID:   user.UserID,
		Username: user.Username,
		IsAdmin:  user.IsAdmin,
	}
}

// ToUserResponses converts a slice of domain users.
func ToUserResponses(users []domain.User) []UserResponse {
	responses := make([]UserResponse, len(users))
	for i := range users {
		responses[i] = ToUserResponse(&users[i])
	}
	return responses
}
