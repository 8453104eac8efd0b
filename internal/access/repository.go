package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatdesk/chatdesk/internal/platform/db"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Repository persists resource access overrides.
type Repository interface {
	GetResource(ctx context.Context, kind Kind, id int64) (Resource, error)
	HasGrant(ctx context.Context, kind Kind, id int64, roles []string, t Type) (bool, error)
	ListGrants(ctx context.Context, kind Kind, id int64) ([]Grant, error)
	UpsertGrant(ctx context.Context, kind Kind, id, roleID int64, req GrantRequest) (Grant, error)
	DeleteGrant(ctx context.Context, kind Kind, id, roleID int64) (bool, error)
	RoleExists(ctx context.Context, roleID int64) (bool, error)
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PGRepository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

// GetResource loads ownership and visibility of a resource.
func (r *PGRepository) GetResource(ctx context.Context, kind Kind, id int64) (Resource, error) {
	var (
		res       Resource
		createdBy *int64
	)
	err := r.db.QueryRow(ctx, `SELECT id, created_by, is_global FROM `+kind.ResourceTable()+` WHERE id = $1`, id).
		Scan(&res.ID, &createdBy, &res.IsGlobal)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Resource{}, fmt.Errorf("%w: %s %d", shared.ErrNotFound, kind.Entity(), id)
		}
		return Resource{}, err
	}
	if createdBy != nil {
		res.CreatedBy = *createdBy
	}
	return res, nil
}

// HasGrant reports whether any of the named roles holds the flag for t.
func (r *PGRepository) HasGrant(ctx context.Context, kind Kind, id int64, roles []string, t Type) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (
		SELECT 1 FROM `+kind.GrantTable()+` g
		JOIN roles r ON r.id = g.role_id
		WHERE g.`+kind.GrantColumn()+` = $1 AND r.name = ANY($2) AND g.`+t.column()+`)`, id, roles).Scan(&ok)
	return ok, err
}

// ListGrants returns override rows ordered by role name.
func (r *PGRepository) ListGrants(ctx context.Context, kind Kind, id int64) ([]Grant, error) {
	rows, err := r.db.Query(ctx, `SELECT g.`+kind.GrantColumn()+`, g.role_id, r.name, g.can_view, g.can_edit, g.can_delete, g.updated_at
		FROM `+kind.GrantTable()+` g
		JOIN roles r ON r.id = g.role_id
		WHERE g.`+kind.GrantColumn()+` = $1
		ORDER BY r.name`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.ResourceID, &g.RoleID, &g.RoleName, &g.CanView, &g.CanEdit, &g.CanDelete, &g.UpdatedAt); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// UpsertGrant inserts or updates the override row for a role.
func (r *PGRepository) UpsertGrant(ctx context.Context, kind Kind, id, roleID int64, req GrantRequest) (Grant, error) {
	col := kind.GrantColumn()
	var g Grant
	err := r.db.QueryRow(ctx, `WITH up AS (
		INSERT INTO `+kind.GrantTable()+` AS g (`+col+`, role_id, can_view, can_edit, can_delete)
		VALUES ($1, $2, COALESCE($3::boolean, TRUE), COALESCE($4::boolean, FALSE), COALESCE($5::boolean, FALSE))
		ON CONFLICT (`+col+`, role_id) DO UPDATE SET
			can_view = COALESCE($3::boolean, g.can_view),
			can_edit = COALESCE($4::boolean, g.can_edit),
			can_delete = COALESCE($5::boolean, g.can_delete),
			updated_at = NOW()
		RETURNING `+col+`, role_id, can_view, can_edit, can_delete, updated_at
	)
	SELECT up.`+col+`, up.role_id, r.name, up.can_view, up.can_edit, up.can_delete, up.updated_at
	FROM up JOIN roles r ON r.id = up.role_id`,
		id, roleID, req.CanView, req.CanEdit, req.CanDelete).
		Scan(&g.ResourceID, &g.RoleID, &g.RoleName, &g.CanView, &g.CanEdit, &g.CanDelete, &g.UpdatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) || errors.Is(err, pgx.ErrNoRows) {
			return Grant{}, shared.ErrNotFound
		}
		return Grant{}, err
	}
	return g, nil
}

// DeleteGrant removes the override row, reporting whether one existed.
func (r *PGRepository) DeleteGrant(ctx context.Context, kind Kind, id, roleID int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM `+kind.GrantTable()+` WHERE `+kind.GrantColumn()+` = $1 AND role_id = $2`, id, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RoleExists reports whether the role id exists.
func (r *PGRepository) RoleExists(ctx context.Context, roleID int64) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&ok)
	return ok, err
}

var _ Repository = (*PGRepository)(nil)
