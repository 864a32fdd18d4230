package campaigns

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("campaign not found")

// Repository reads campaigns from Postgres. Campaign writes belong to the
// management surface, so there are no Insert/Update methods here.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, id string) (Campaign, error) {
	const q = `
SELECT id, name, status, system_prompt, voice, call_goal, tools,
       batch_size, call_gap, max_retries, priority, created_at, updated_at
FROM campaigns
WHERE id = $1
`
	var c Campaign
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.Name,
		&c.Status,
		&c.SystemPrompt,
		&c.Voice,
		&c.CallGoal,
		&c.Tools,
		&c.BatchSize,
		&c.CallGap,
		&c.MaxRetries,
		&c.Priority,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	return c, nil
}
