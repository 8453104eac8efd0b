package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatdesk/chatdesk/internal/platform/db"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Repository loads authorization snapshots.
type Repository interface {
	LoadAccess(ctx context.Context, userID int64) (Access, error)
	ListActiveUserIDs(ctx context.Context, limit int) ([]int64, error)
}

// PGRepository reads users, their roles and the union of the roles' permissions.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

// LoadAccess returns shared.ErrNotFound when the user does not exist.
func (r *PGRepository) LoadAccess(ctx context.Context, userID int64) (Access, error) {
	access := Access{UserID: userID}
	err := r.db.QueryRow(ctx, `SELECT email, primary_role, is_active FROM users WHERE id = $1`, userID).
		Scan(&access.Email, &access.PrimaryRole, &access.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Access{}, shared.ErrNotFound
		}
		return Access{}, fmt.Errorf("rbac: load user: %w", err)
	}

	access.Roles, err = r.names(ctx, `SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return Access{}, fmt.Errorf("rbac: load roles: %w", err)
	}

	access.Permissions, err = r.names(ctx, `SELECT DISTINCT p.name
		FROM user_roles ur
		JOIN role_permissions rp ON rp.role_id = ur.role_id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE ur.user_id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return Access{}, fmt.Errorf("rbac: load permissions: %w", err)
	}
	return access, nil
}

// ListActiveUserIDs returns active users ordered by most recent login. A
// non-positive limit returns all of them.
func (r *PGRepository) ListActiveUserIDs(ctx context.Context, limit int) ([]int64, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.db.Query(ctx, `SELECT id FROM users
		WHERE is_active
		ORDER BY last_login_at DESC NULLS LAST, id
		LIMIT $1`, lim)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepository) names(ctx context.Context, query string, userID int64) ([]string, error) {
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
