package permissions

import "time"

// DefaultCategory groups permissions created without a category.
const DefaultCategory = "General"

// Permission is a named capability. Category only groups entries for display.
type Permission struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRequest is the payload for creating a permission.
type CreateRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	Category    string `json:"category" validate:"max=100"`
}

// UpdateRequest is the payload for updating a permission.
type UpdateRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=500"`
	Category    string `json:"category" validate:"max=100"`
}
