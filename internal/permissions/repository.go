package permissions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatdesk/chatdesk/internal/platform/db"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Repository defines persistence for the permission catalog.
type Repository interface {
	List(ctx context.Context) ([]Permission, error)
	ListByCategory(ctx context.Context, category string) ([]Permission, error)
	ListCategories(ctx context.Context) ([]string, error)
	Get(ctx context.Context, id int64) (Permission, error)
	GetByName(ctx context.Context, name string) (Permission, error)
	Create(ctx context.Context, p Permission) (Permission, error)
	Update(ctx context.Context, p Permission) (Permission, error)
	Delete(ctx context.Context, id int64) error
	CountBindings(ctx context.Context, id int64) (int64, error)
	Upsert(ctx context.Context, p Permission) (Permission, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

const permissionColumns = `id, name, description, category, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *PGRepository) list(ctx context.Context, query string, args ...any) ([]Permission, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// List returns every permission ordered by category then name.
func (r *PGRepository) List(ctx context.Context) ([]Permission, error) {
	return r.list(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY category, name`)
}

// ListByCategory returns the permissions of one category.
func (r *PGRepository) ListByCategory(ctx context.Context, category string) ([]Permission, error) {
	return r.list(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE category = $1 ORDER BY name`, category)
}

// ListCategories returns the distinct categories, sorted.
func (r *PGRepository) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT category FROM permissions WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get fetches a permission by id.
func (r *PGRepository) Get(ctx context.Context, id int64) (Permission, error) {
	p, err := scanPermission(r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	return p, mapErr(err)
}

// GetByName fetches a permission by its normalized name.
func (r *PGRepository) GetByName(ctx context.Context, name string) (Permission, error) {
	p, err := scanPermission(r.db.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE name = $1`, name))
	return p, mapErr(err)
}

// Create inserts a permission.
func (r *PGRepository) Create(ctx context.Context, p Permission) (Permission, error) {
	created, err := scanPermission(r.db.QueryRow(ctx, `INSERT INTO permissions (name, description, category)
		VALUES ($1, $2, $3)
		RETURNING `+permissionColumns, p.Name, p.Description, p.Category))
	return created, mapErr(err)
}

// Update rewrites name, description and category.
func (r *PGRepository) Update(ctx context.Context, p Permission) (Permission, error) {
	updated, err := scanPermission(r.db.QueryRow(ctx, `UPDATE permissions
		SET name = $2, description = $3, category = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+permissionColumns, p.ID, p.Name, p.Description, p.Category))
	return updated, mapErr(err)
}

// Delete removes a permission. Role bindings block the delete.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return shared.ErrPermissionInUse
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// CountBindings returns how many roles hold the permission.
func (r *PGRepository) CountBindings(ctx context.Context, id int64) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM role_permissions WHERE permission_id = $1`, id).Scan(&n)
	return n, err
}

// Upsert inserts the permission or refreshes description and category of an existing name.
func (r *PGRepository) Upsert(ctx context.Context, p Permission) (Permission, error) {
	row := r.db.QueryRow(ctx, `INSERT INTO permissions (name, description, category)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE
		SET description = EXCLUDED.description, category = EXCLUDED.category, updated_at = NOW()
		RETURNING `+permissionColumns, p.Name, p.Description, p.Category)
	upserted, err := scanPermission(row)
	return upserted, mapErr(err)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return shared.ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: permission name already exists", shared.ErrConflict)
	default:
		return err
	}
}

var _ Repository = (*PGRepository)(nil)
