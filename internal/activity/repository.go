package activity

import (
	"context"
	"database/sql"
)

// PostgresRepo stores activity events in the activity_events table. The
// table carries an INSERT-only policy; there is no update path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO activity_events (
  id, campaign_id, type, call_session_id, contact_id, message, metadata, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.CampaignID, e.Type, e.CallSessionID, e.ContactID, e.Message, e.Metadata, e.CreatedAt,
	)
	return err
}

func (r *PostgresRepo) List(ctx context.Context, campaignID string, limit int) ([]Event, error) {
	const q = `
SELECT id, campaign_id, type, call_session_id, contact_id, message, metadata, created_at
FROM activity_events
WHERE campaign_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.Type, &e.CallSessionID, &e.ContactID,
			&e.Message, &e.Metadata, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
