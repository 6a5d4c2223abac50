package dto

import (
	"time"

	"github.com/spec-kit/issue-service/internal/domain"
)

// UserLoginRequest payload for login.
type UserLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// UserRequest is the admin create/update payload.
type UserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// ChangePasswordRequest payload.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// UserResponse omits credentials.
type UserResponse struct {
	ID           string      `json:"id"`
	Username     string      `json:"username"`
	Email        string      `json:"email"`
	Role         domain.Role `json:"role"`
	RewardPoints int         `json:"reward_points"`
	CreatedAt    time.Time   `json:"created_at"`
}

// NewUserResponse converts a domain user.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		Role:         user.Role,
		RewardPoints: user.RewardPoints,
		CreatedAt:    user.CreatedAt,
	}
}

// NewUserResponses converts a slice of users.
func NewUserResponses(users []domain.User) []UserResponse {
	resp := make([]UserResponse, 0, len(users))
	for i := range users {
		resp = append(resp, NewUserResponse(&users[i]))
	}
	return resp
}
