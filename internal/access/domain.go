package access

import (
	"fmt"
	"strings"
	"time"

	"github.com/chatdesk/chatdesk/internal/shared"
)

// Kind names a resource family that carries per-role access overrides.
type Kind string

const (
	KindTemplates Kind = "templates"
	KindFormats   Kind = "formats"
)

// Kinds lists every resource kind.
func Kinds() []Kind {
	return []Kind{KindTemplates, KindFormats}
}

// ParseKind validates a kind name.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindTemplates, KindFormats:
		return k, nil
	}
	return "", fmt.Errorf("%w: unknown resource kind %q", shared.ErrValidation, raw)
}

// Permission returns the catalog permission for an action on this kind, e.g. templates.view.
func (k Kind) Permission(action string) string {
	return string(k) + "." + action
}

// Entity is the singular audit entity name.
func (k Kind) Entity() string {
	switch k {
	case KindTemplates:
		return "prompt_template"
	case KindFormats:
		return "response_format"
	}
	return string(k)
}

// ResourceTable is the table holding the resource rows.
func (k Kind) ResourceTable() string {
	if k == KindFormats {
		return "response_formats"
	}
	return "prompt_templates"
}

// GrantTable is the per-role override table.
func (k Kind) GrantTable() string {
	if k == KindFormats {
		return "response_format_access"
	}
	return "prompt_template_access"
}

// GrantColumn is the override column referencing the resource.
func (k Kind) GrantColumn() string {
	if k == KindFormats {
		return "format_id"
	}
	return "template_id"
}

// Type is the access level being checked.
type Type string

const (
	View   Type = "view"
	Edit   Type = "edit"
	Delete Type = "delete"
)

// ParseType validates an access type.
func ParseType(raw string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(raw))); t {
	case View, Edit, Delete:
		return t, nil
	}
	return "", fmt.Errorf("%w: access type must be view, edit or delete", shared.ErrValidation)
}

func (t Type) column() string {
	return "can_" + string(t)
}

// Resource is the ownership view of a template or format.
type Resource struct {
	ID        int64
	CreatedBy int64
	IsGlobal  bool
}

// Grant is a per-role override row.
type Grant struct {
	ResourceID int64     `json:"resource_id"`
	RoleID     int64     `json:"role_id"`
	RoleName   string    `json:"role_name"`
	CanView    bool      `json:"can_view"`
	CanEdit    bool      `json:"can_edit"`
	CanDelete  bool      `json:"can_delete"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// GrantRequest carries the flags to set. Nil fields keep the stored value,
// or take the default on insert (view true, edit and delete false).
type GrantRequest struct {
	CanView   *bool `json:"can_view"`
	CanEdit   *bool `json:"can_edit"`
	CanDelete *bool `json:"can_delete"`
}
