package domain

// Principal is the verified identity behind a request.
type Principal struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the principal holds the ADMIN role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}
