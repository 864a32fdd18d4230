package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// Repository persists queue state in Postgres, one row per campaign.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, campaignID string) (State, error) {
	const q = `
SELECT campaign_id, status, current_batch,
       total_queued, total_completed, total_failed,
       last_processed_at, next_scheduled_at, created_at, updated_at
FROM queue_states
WHERE campaign_id = $1
`
	var st State
	var batch []byte
	if err := r.db.QueryRowContext(ctx, q, campaignID).Scan(
		&st.CampaignID, &st.Status, &batch,
		&st.TotalQueued, &st.TotalCompleted, &st.TotalFailed,
		&st.LastProcessedAt, &st.NextScheduledAt, &st.CreatedAt, &st.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}
	if len(batch) > 0 {
		if err := json.Unmarshal(batch, &st.CurrentBatch); err != nil {
			return State{}, err
		}
	}
	return st, nil
}

// Save upserts the non-counter fields. Counters are written only on first
// insert; existing rows keep theirs so AddCounters stays the single writer.
func (r *Repository) Save(ctx context.Context, st State) error {
	batch, err := json.Marshal(st.CurrentBatch)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO queue_states (
  campaign_id, status, current_batch,
  total_queued, total_completed, total_failed,
  last_processed_at, next_scheduled_at, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
ON CONFLICT (campaign_id)
DO UPDATE SET
  status = EXCLUDED.status,
  current_batch = EXCLUDED.current_batch,
  last_processed_at = EXCLUDED.last_processed_at,
  next_scheduled_at = EXCLUDED.next_scheduled_at,
  updated_at = NOW()
`
	_, err = r.db.ExecContext(ctx, q,
		st.CampaignID, st.Status, batch,
		st.TotalQueued, st.TotalCompleted, st.TotalFailed,
		st.LastProcessedAt, st.NextScheduledAt,
	)
	return err
}

// AddCounters atomically bumps the lifetime counters and returns the
// resulting state.
func (r *Repository) AddCounters(ctx context.Context, campaignID string, dQueued, dCompleted, dFailed int) (State, error) {
	const q = `
UPDATE queue_states
SET total_queued = total_queued + $2,
    total_completed = total_completed + $3,
    total_failed = total_failed + $4,
    updated_at = NOW()
WHERE campaign_id = $1
RETURNING campaign_id, status, current_batch,
          total_queued, total_completed, total_failed,
          last_processed_at, next_scheduled_at, created_at, updated_at
`
	var st State
	var batch []byte
	if err := r.db.QueryRowContext(ctx, q, campaignID, dQueued, dCompleted, dFailed).Scan(
		&st.CampaignID, &st.Status, &batch,
		&st.TotalQueued, &st.TotalCompleted, &st.TotalFailed,
		&st.LastProcessedAt, &st.NextScheduledAt, &st.CreatedAt, &st.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return State{}, ErrNotFound
		}
		return State{}, err
	}
	if len(batch) > 0 {
		if err := json.Unmarshal(batch, &st.CurrentBatch); err != nil {
			return State{}, err
		}
	}
	return st, nil
}
