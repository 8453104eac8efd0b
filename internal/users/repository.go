package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatdesk/chatdesk/internal/platform/db"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Repository exposes user reads and the transactional entry point.
type Repository interface {
	List(ctx context.Context) ([]User, error)
	Get(ctx context.Context, id int64) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	ListRoles(ctx context.Context, userID int64) ([]AssignedRole, error)
	Delete(ctx context.Context, id int64) error
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes operations that run inside a transaction.
type TxRepository interface {
	Get(ctx context.Context, id int64) (User, error)
	Create(ctx context.Context, u User) (User, error)
	UpdateProfile(ctx context.Context, id int64, fullName, primaryRole string) (User, error)
	SetPassword(ctx context.Context, id int64, hash string) error
	SetActive(ctx context.Context, id int64, active bool) error
	RoleIDByName(ctx context.Context, name string) (int64, error)
	CountRoles(ctx context.Context, ids []int64) (int, error)
	AssignRole(ctx context.Context, userID, roleID, assignedBy int64) error
	UnassignRole(ctx context.Context, userID, roleID int64) (bool, error)
	ClearRoles(ctx context.Context, userID int64) error
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

const userColumns = `id, email, full_name, password_hash, primary_role, is_active, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.PrimaryRole, &u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return User{}, mapErr(err)
	}
	return u, nil
}

// List returns all users.
func (q *queries) List(ctx context.Context) ([]User, error) {
	rows, err := q.db.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (q *queries) Get(ctx context.Context, id int64) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (q *queries) GetByEmail(ctx context.Context, email string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (q *queries) ListRoles(ctx context.Context, userID int64) ([]AssignedRole, error) {
	rows, err := q.db.Query(ctx, `SELECT r.id, r.name, ur.assigned_at, ur.assigned_by
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AssignedRole{}
	for rows.Next() {
		var ar AssignedRole
		if err := rows.Scan(&ar.RoleID, &ar.Name, &ar.AssignedAt, &ar.AssignedBy); err != nil {
			return nil, err
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}

// Delete removes the user; role assignments cascade.
func (q *queries) Delete(ctx context.Context, id int64) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (q *queries) Create(ctx context.Context, u User) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `INSERT INTO users (email, full_name, password_hash, primary_role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns, u.Email, u.FullName, u.PasswordHash, u.PrimaryRole, u.IsActive))
}

func (q *queries) UpdateProfile(ctx context.Context, id int64, fullName, primaryRole string) (User, error) {
	return scanUser(q.db.QueryRow(ctx, `UPDATE users SET full_name = $2, primary_role = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns, id, fullName, primaryRole))
}

func (q *queries) SetPassword(ctx context.Context, id int64, hash string) error {
	return q.execOne(ctx, `UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, hash)
}

func (q *queries) SetActive(ctx context.Context, id int64, active bool) error {
	return q.execOne(ctx, `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1`, id, active)
}

func (q *queries) RoleIDByName(ctx context.Context, name string) (int64, error) {
	var id int64
	err := q.db.QueryRow(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	return id, mapErr(err)
}

func (q *queries) CountRoles(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var n int
	err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM roles WHERE id = ANY($1::bigint[])`, ids).Scan(&n)
	return n, err
}

// AssignRole upserts the binding; re-assigning refreshes assigned_at and assigned_by.
func (q *queries) AssignRole(ctx context.Context, userID, roleID, assignedBy int64) error {
	var by *int64
	if assignedBy > 0 {
		by = &assignedBy
	}
	_, err := q.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id, assigned_by)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET assigned_at = NOW(), assigned_by = EXCLUDED.assigned_by`, userID, roleID, by)
	if db.IsForeignKeyViolation(err) {
		return fmt.Errorf("%w: unknown user or role", shared.ErrNotFound)
	}
	return err
}

func (q *queries) UnassignRole(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (q *queries) ClearRoles(ctx context.Context, userID int64) error {
	_, err := q.db.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID)
	return err
}

func (q *queries) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := q.db.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return shared.ErrNotFound
	case db.IsUniqueViolation(err):
		return fmt.Errorf("%w: email already registered", shared.ErrConflict)
	default:
		return err
	}
}

var (
	_ Repository   = (*PGRepository)(nil)
	_ TxRepository = (*queries)(nil)
)
