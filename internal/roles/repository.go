package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatdesk/chatdesk/internal/permissions"
	"github.com/chatdesk/chatdesk/internal/platform/db"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Repository exposes role reads and the transactional entry point.
type Repository interface {
	Get(ctx context.Context, id int64) (Role, error)
	GetByName(ctx context.Context, name string) (Role, error)
	ListWithPermissionCounts(ctx context.Context) ([]Summary, error)
	ListPermissions(ctx context.Context, roleID int64) ([]permissions.Permission, error)
	ListMembers(ctx context.Context, roleID int64) ([]Member, error)
	Delete(ctx context.Context, id int64) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations that run inside a transaction.
type TxRepository interface {
	Get(ctx context.Context, id int64) (Role, error)
	Create(ctx context.Context, name, description string) (Role, error)
	Update(ctx context.Context, role Role) (Role, error)
	Upsert(ctx context.Context, name, description string) (Role, error)
	ClearPermissions(ctx context.Context, roleID int64) error
	AddPermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error
	RemovePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	CountExistingPermissions(ctx context.Context, ids []int64) (int, error)
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
	*queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, queries: &queries{db: pool}}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &queries{db: tx})
	})
}

type queries struct {
	db db.DBTX
}

const roleColumns = `id, name, description, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return Role{}, mapErr(err)
	}
	role.BuiltIn = shared.IsBuiltInRole(role.Name)
	return role, nil
}

func (q *queries) Get(ctx context.Context, id int64) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

func (q *queries) GetByName(ctx context.Context, name string) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1`, name))
}

func (q *queries) ListWithPermissionCounts(ctx context.Context) ([]Summary, error) {
	rows, err := q.db.Query(ctx, `SELECT r.id, r.name, r.description, r.created_at, r.updated_at, COUNT(rp.permission_id)
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		GROUP BY r.id
		ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Summary{}
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.CreatedAt, &s.UpdatedAt, &s.PermissionCount); err != nil {
			return nil, err
		}
		s.BuiltIn = shared.IsBuiltInRole(s.Name)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (q *queries) ListPermissions(ctx context.Context, roleID int64) ([]permissions.Permission, error) {
	rows, err := q.db.Query(ctx, `SELECT p.id, p.name, p.description, p.category, p.created_at, p.updated_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.category, p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []permissions.Permission{}
	for rows.Next() {
		var p permissions.Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (q *queries) ListMembers(ctx context.Context, roleID int64) ([]Member, error) {
	rows, err := q.db.Query(ctx, `SELECT u.id, u.email, u.full_name, ur.assigned_at
		FROM user_roles ur
		JOIN users u ON u.id = ur.user_id
		WHERE ur.role_id = $1
		ORDER BY u.full_name, u.id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.Email, &m.FullName, &m.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Delete removes the role; user_roles and role_permissions cascade.
func (q *queries) Delete(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (q *queries) Create(ctx context.Context, name, description string) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2) RETURNING `+roleColumns, name, description))
}

func (q *queries) Update(ctx context.Context, role Role) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `UPDATE roles SET name = $2, description = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+roleColumns, role.ID, role.Name, role.Description))
}

func (q *queries) Upsert(ctx context.Context, name, description string) (Role, error) {
	return scanRole(q.db.QueryRow(ctx, `INSERT INTO roles (name, description) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description, updated_at = NOW()
		RETURNING `+roleColumns, name, description))
}

func (q *queries) ClearPermissions(ctx context.Context, roleID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	return err
}

// AddPermissions binds permissions; already-bound pairs are left untouched.
func (q *queries) AddPermissions(ctx context.Context, roleID int64, permissionIDs []int64, grantedBy int64) error {
	if len(permissionIDs) == 0 {
		return nil
	}
	var granter *int64
	if grantedBy > 0 {
		granter = &grantedBy
	}
	_, err := q.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id, granted_by)
		SELECT $1, unnest($2::bigint[]), $3
		ON CONFLICT (role_id, permission_id) DO NOTHING`, roleID, permissionIDs, granter)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: unknown permission id", shared.ErrValidation)
	}
	return err
}

func (q *queries) RemovePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *queries) CountExistingPermissions(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM permissions WHERE id = ANY($1::bigint[])`, ids).Scan(&n)
	return n, err
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return shared.ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: role name already exists", shared.ErrConflict)
	default:
		return err
	}
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = (*queries)(nil)
)
