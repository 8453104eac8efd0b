package users

import "time"

// User represents a user account for management.
type User struct {
	ID           int64      `json:"id"`
	Email        string     `json:"email"`
	FullName     string     `json:"full_name"`
	PasswordHash string     `json:"-"`
	PrimaryRole  string     `json:"primary_role"`
	IsActive     bool       `json:"is_active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// AssignedRole is one of a user's role bindings.
type AssignedRole struct {
	RoleID     int64     `json:"role_id"`
	Name       string    `json:"name"`
	AssignedAt time.Time `json:"assigned_at"`
	AssignedBy *int64    `json:"assigned_by,omitempty"`
}

// CreateRequest registers a user. Without RoleIDs the primary role is assigned.
type CreateRequest struct {
	Email       string  `json:"email" validate:"required,email,max=254"`
	FullName    string  `json:"full_name" validate:"required,max=200"`
	Password    string  `json:"password" validate:"required,min=8,max=72"`
	PrimaryRole string  `json:"primary_role" validate:"max=50"`
	RoleIDs     []int64 `json:"role_ids" validate:"omitempty,dive,gt=0"`
}

// UpdateRequest changes profile fields.
type UpdateRequest struct {
	FullName    string `json:"full_name" validate:"required,max=200"`
	PrimaryRole string `json:"primary_role" validate:"max=50"`
	IsActive    *bool  `json:"is_active"`
}

// PasswordRequest sets a new password.
type PasswordRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// ReplaceRolesRequest replaces the full role set. An empty list removes every role.
type ReplaceRolesRequest struct {
	RoleIDs []int64 `json:"role_ids" validate:"dive,gt=0"`
}
