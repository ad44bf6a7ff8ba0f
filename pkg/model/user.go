package model

import "time"

// UserRole represents the role of a user in the system.
type UserRole string

const (
	// RoleUser is a standard authenticated user.
	RoleUser UserRole = "user"
	// RoleAdmin can inspect every submission.
	RoleAdmin UserRole = "admin"
)

// User is a dashboard account. Users are created on first authenticated
// request from the identity provider's subject claim.
type User struct {
	ID          string    `json:"id"`
	Subject     string    `json:"-"`
	Username    string    `json:"username"`
	Role        UserRole  `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
	LastLoginAt time.Time `json:"last_login_at"`
}

// IsAdmin returns true if the user has admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}
