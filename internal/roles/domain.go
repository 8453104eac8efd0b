package roles

import (
	"time"

	"github.com/chatdesk/chatdesk/internal/permissions"
)

// Role represents a named bundle of permissions.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	BuiltIn     bool      `json:"built_in"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Summary annotates a role with the number of bound permissions.
type Summary struct {
	Role
	PermissionCount int64 `json:"permission_count"`
}

// Detail is a role with its permissions ordered by (category, name).
type Detail struct {
	Role
	Permissions []permissions.Permission `json:"permissions"`
}

// Member is a user holding the role.
type Member struct {
	ID         int64     `json:"id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	AssignedAt time.Time `json:"assigned_at"`
}

// CreateRequest creates a role with optional initial permissions.
type CreateRequest struct {
	Name          string  `json:"name" validate:"required,max=50"`
	Description   string  `json:"description" validate:"max=500"`
	PermissionIDs []int64 `json:"permission_ids" validate:"omitempty,dive,gt=0"`
}

// UpdateRequest updates a role. A non-nil PermissionIDs replaces the whole set.
type UpdateRequest struct {
	Name          string   `json:"name" validate:"required,max=50"`
	Description   string   `json:"description" validate:"max=500"`
	PermissionIDs *[]int64 `json:"permission_ids"`
}

// AssignPermissionsRequest incrementally binds permissions.
type AssignPermissionsRequest struct {
	PermissionIDs []int64 `json:"permission_ids" validate:"required,min=1,dive,gt=0"`
}
