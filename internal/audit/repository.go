package audit

import (
	"context"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/chatdesk/chatdesk/internal/platform/db"
)

// Repository reads the audit trail.
type Repository interface {
	Window(ctx context.Context, f Filters, offset, limit int) ([]Entry, error)
}

// PGRepository reads audit_logs from Postgres.
type PGRepository struct {
	db db.DBTX
}

// NewRepository constructs a PGRepository.
func NewRepository(conn db.DBTX) *PGRepository {
	return &PGRepository{db: conn}
}

const windowQuery = `
SELECT a.id, a.occurred_at, a.actor_id, COALESCE(u.email, ''), a.action, a.entity, a.entity_id, a.meta
FROM audit_logs a
LEFT JOIN users u ON u.id = a.actor_id
WHERE ($1::timestamptz IS NULL OR a.occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR a.occurred_at < $2)
  AND ($3::text IS NULL OR u.email = $3)
  AND ($4::text IS NULL OR a.entity = $4)
  AND ($5::text IS NULL OR a.action = $5)
ORDER BY a.occurred_at DESC, a.id DESC
OFFSET $6 LIMIT $7`

// Window returns up to limit entries after skipping offset, newest first.
func (r *PGRepository) Window(ctx context.Context, f Filters, offset, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, windowQuery,
		timestamptz(f.From), timestamptz(f.To),
		optionalText(strings.ToLower(f.Actor)), optionalText(f.Entity), optionalText(f.Action),
		offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			e       Entry
			actorID pgtype.Int8
			meta    []byte
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &actorID, &e.ActorEmail, &e.Action, &e.Entity, &e.EntityID, &meta); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id := actorID.Int64
			e.ActorID = &id
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &e.Meta); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
