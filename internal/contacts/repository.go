package contacts

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("contact not found")

// Repository persists contacts in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, id string) (Contact, error) {
	const q = `
SELECT id, campaign_id, name, phone, status, priority, last_called_at, created_at
FROM contacts
WHERE id = $1
`
	var c Contact
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.CampaignID,
		&c.Name,
		&c.Phone,
		&c.Status,
		&c.Priority,
		&c.LastCalledAt,
		&c.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, err
	}
	return c, nil
}

// Candidates returns contacts eligible for batch selection: status new or
// queued, ordered by priority descending then creation time ascending
// (oldest-first within equal priority), each with its count of
// failure-class call sessions for the campaign.
func (r *Repository) Candidates(ctx context.Context, campaignID string, limit int) ([]Candidate, error) {
	const q = `
SELECT c.id, c.campaign_id, c.name, c.phone, c.status, c.priority, c.last_called_at, c.created_at,
       (
         SELECT COUNT(*)
         FROM call_sessions s
         WHERE s.contact_id = c.id
           AND s.campaign_id = c.campaign_id
           AND s.outcome IN ('failed', 'no_answer', 'busy')
       ) AS failed_attempts
FROM contacts c
WHERE c.campaign_id = $1
  AND c.status IN ('new', 'queued')
ORDER BY c.priority DESC, c.created_at ASC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(
			&c.ID,
			&c.CampaignID,
			&c.Name,
			&c.Phone,
			&c.Status,
			&c.Priority,
			&c.LastCalledAt,
			&c.CreatedAt,
			&c.FailedAttempts,
		); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetStatus transitions a contact. lastCalledAt is only written when non-nil.
func (r *Repository) SetStatus(ctx context.Context, id string, status Status, lastCalledAt *time.Time) error {
	const q = `
UPDATE contacts
SET status = $2,
    last_called_at = COALESCE($3, last_called_at)
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q, id, status, lastCalledAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByStatus returns a live per-status contact count for a campaign.
func (r *Repository) CountByStatus(ctx context.Context, campaignID string) (map[Status]int, error) {
	const q = `
SELECT status, COUNT(*)
FROM contacts
WHERE campaign_id = $1
GROUP BY status
`
	rows, err := r.db.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		out[s] = n
	}
	return out, rows.Err()
}
