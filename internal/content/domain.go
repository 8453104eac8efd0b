package content

import (
	"time"

	"github.com/chatdesk/chatdesk/internal/access"
)

// Item is a prompt template or response format.
type Item struct {
	ID        int64       `json:"id"`
	Kind      access.Kind `json:"kind"`
	Name      string      `json:"name"`
	Body      string      `json:"body"`
	IsGlobal  bool        `json:"is_global"`
	CreatedBy *int64      `json:"created_by,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// CreateRequest is the payload for a new item.
type CreateRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	Body     string `json:"body"`
	IsGlobal bool   `json:"is_global"`
}

// UpdateRequest changes the provided fields only.
type UpdateRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=200"`
	Body     *string `json:"body"`
	IsGlobal *bool   `json:"is_global"`
}
