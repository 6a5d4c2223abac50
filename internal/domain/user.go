package domain

import (
	"strings"
	"time"
)

// Role is the coarse permission level carried by an authenticated caller.
type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

// ParseRole normalizes a role name. DEVELOPER is accepted as a legacy alias of USER.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ADMIN":
		return RoleAdmin, true
	case "USER", "DEVELOPER":
		return RoleUser, true
	default:
		return "", false
	}
}

// User is the domain model for accounts that own issues and earn points.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Role         Role
	RewardPoints int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
