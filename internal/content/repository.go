package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatdesk/chatdesk/internal/access"
	"github.com/chatdesk/chatdesk/internal/platform/db"
	"github.com/chatdesk/chatdesk/internal/shared"
)

// Repository persists templates and formats.
type Repository interface {
	List(ctx context.Context, kind access.Kind) ([]Item, error)
	ListVisible(ctx context.Context, kind access.Kind, userID int64, roles []string) ([]Item, error)
	Get(ctx context.Context, kind access.Kind, id int64) (Item, error)
	Create(ctx context.Context, kind access.Kind, item Item) (Item, error)
	Update(ctx context.Context, kind access.Kind, item Item) (Item, error)
	Delete(ctx context.Context, kind access.Kind, id int64) error
}

// PGRepository implements Repository on PostgreSQL.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PGRepository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

const itemColumns = `id, name, body, is_global, created_by, created_at, updated_at`

func scanItem(kind access.Kind, row pgx.Row) (Item, error) {
	item := Item{Kind: kind}
	if err := row.Scan(&item.ID, &item.Name, &item.Body, &item.IsGlobal, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, fmt.Errorf("%w: %s", shared.ErrNotFound, kind.Entity())
		}
		return Item{}, err
	}
	return item, nil
}

func (r *PGRepository) collect(kind access.Kind, rows pgx.Rows, err error) ([]Item, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(kind, rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// List returns every item ordered by name.
func (r *PGRepository) List(ctx context.Context, kind access.Kind) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM `+kind.ResourceTable()+` ORDER BY name, id`)
	return r.collect(kind, rows, err)
}

// ListVisible returns items the user owns, global items and items one of the roles may view.
func (r *PGRepository) ListVisible(ctx context.Context, kind access.Kind, userID int64, roles []string) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT `+itemColumns+` FROM `+kind.ResourceTable()+` t
		WHERE t.created_by = $1
		   OR t.is_global
		   OR EXISTS (
			SELECT 1 FROM `+kind.GrantTable()+` g
			JOIN roles r ON r.id = g.role_id
			WHERE g.`+kind.GrantColumn()+` = t.id AND g.can_view AND r.name = ANY($2))
		ORDER BY t.name, t.id`, userID, roles)
	return r.collect(kind, rows, err)
}

// Get fetches a single item.
func (r *PGRepository) Get(ctx context.Context, kind access.Kind, id int64) (Item, error) {
	return scanItem(kind, r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM `+kind.ResourceTable()+` WHERE id = $1`, id))
}

// Create inserts an item.
func (r *PGRepository) Create(ctx context.Context, kind access.Kind, item Item) (Item, error) {
	return scanItem(kind, r.db.QueryRow(ctx, `INSERT INTO `+kind.ResourceTable()+` (name, body, is_global, created_by)
		VALUES ($1, $2, $3, $4) RETURNING `+itemColumns, item.Name, item.Body, item.IsGlobal, item.CreatedBy))
}

// Update persists name, body and the global flag.
func (r *PGRepository) Update(ctx context.Context, kind access.Kind, item Item) (Item, error) {
	return scanItem(kind, r.db.QueryRow(ctx, `UPDATE `+kind.ResourceTable()+`
		SET name = $2, body = $3, is_global = $4, updated_at = NOW()
		WHERE id = $1 RETURNING `+itemColumns, item.ID, item.Name, item.Body, item.IsGlobal))
}

// Delete removes an item; its access overrides cascade.
func (r *PGRepository) Delete(ctx context.Context, kind access.Kind, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM `+kind.ResourceTable()+` WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", shared.ErrNotFound, kind.Entity())
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
