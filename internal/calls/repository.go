package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("call session not found")

// Repository persists call sessions and transcripts in Postgres.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Create(ctx context.Context, s CallSession) error {
	snapshot, err := json.Marshal(s.ConfigSnapshot)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (
  id, contact_id, campaign_id, direction, status,
  from_number, to_number, queued_at, config_snapshot
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err = r.db.ExecContext(ctx, q,
		s.ID, s.ContactID, s.CampaignID, s.Direction, s.Status,
		s.FromNumber, s.ToNumber, s.QueuedAt, snapshot,
	)
	return err
}

func (r *Repository) Get(ctx context.Context, id string) (CallSession, error) {
	const q = selectSession + ` WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

// GetByProviderCallID resolves a session from the gateway's call identifier,
// used by status callbacks which only carry the provider side.
func (r *Repository) GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, error) {
	const q = selectSession + ` WHERE provider_call_id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, q, providerCallID))
}

const selectSession = `
SELECT id, contact_id, campaign_id, direction, status,
       from_number, to_number, provider_call_id, stream_sid,
       queued_at, dialed_at, answered_at, ended_at,
       duration_seconds, outcome, config_snapshot
FROM call_sessions`

func (r *Repository) scanOne(row *sql.Row) (CallSession, error) {
	var s CallSession
	var providerCallID, streamSID, outcome sql.NullString
	var snapshot []byte
	if err := row.Scan(
		&s.ID, &s.ContactID, &s.CampaignID, &s.Direction, &s.Status,
		&s.FromNumber, &s.ToNumber, &providerCallID, &streamSID,
		&s.QueuedAt, &s.DialedAt, &s.AnsweredAt, &s.EndedAt,
		&s.DurationSeconds, &outcome, &snapshot,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	s.ProviderCallID = providerCallID.String
	s.StreamSID = streamSID.String
	s.Outcome = Outcome(outcome.String)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &s.ConfigSnapshot); err != nil {
			return CallSession{}, err
		}
	}
	return s, nil
}

// MarkDialing records placement. It only fires from the queued state so a
// duplicate dial attempt surfaces as ErrNotFound instead of rewinding state.
func (r *Repository) MarkDialing(ctx context.Context, id string, at time.Time) error {
	const q = `
UPDATE call_sessions
SET status = 'dialing', dialed_at = $2
WHERE id = $1 AND status = 'queued'
`
	return r.exec(ctx, q, id, at)
}

func (r *Repository) SetProviderCallID(ctx context.Context, id, providerCallID string) error {
	const q = `
UPDATE call_sessions
SET provider_call_id = $2
WHERE id = $1
`
	return r.exec(ctx, q, id, providerCallID)
}

func (r *Repository) SetStatus(ctx context.Context, id string, status Status) error {
	const q = `
UPDATE call_sessions
SET status = $2
WHERE id = $1
`
	return r.exec(ctx, q, id, status)
}

// MarkAnswered transitions the session to active and stamps answered_at once;
// repeated callbacks keep the first timestamp.
func (r *Repository) MarkAnswered(ctx context.Context, id, streamSID string, at time.Time) error {
	const q = `
UPDATE call_sessions
SET status = 'active',
    stream_sid = COALESCE(NULLIF(stream_sid, ''), $2),
    answered_at = COALESCE(answered_at, $3)
WHERE id = $1
`
	return r.exec(ctx, q, id, streamSID, at)
}

// Finish finalizes a session. duration is only written when non-nil so the
// scheduler's bookkeeping update cannot clobber the bridge-computed value.
func (r *Repository) Finish(ctx context.Context, id string, status Status, outcome Outcome, endedAt time.Time, duration *int) error {
	const q = `
UPDATE call_sessions
SET status = $2,
    outcome = $3,
    ended_at = COALESCE(ended_at, $4),
    duration_seconds = COALESCE($5, duration_seconds)
WHERE id = $1
`
	return r.exec(ctx, q, id, status, outcome, endedAt, duration)
}

// CountFailed returns the number of failure-class sessions a contact has
// accumulated in a campaign.
func (r *Repository) CountFailed(ctx context.Context, campaignID, contactID string) (int, error) {
	const q = `
SELECT COUNT(*)
FROM call_sessions
WHERE campaign_id = $1
  AND contact_id = $2
  AND outcome IN ('failed', 'no_answer', 'busy')
`
	var n int
	err := r.db.QueryRowContext(ctx, q, campaignID, contactID).Scan(&n)
	return n, err
}

// ListRecent returns the newest sessions for a campaign, most recent first.
func (r *Repository) ListRecent(ctx context.Context, campaignID string, limit int) ([]CallSession, error) {
	const q = selectSession + `
WHERE campaign_id = $1
ORDER BY queued_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, campaignID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallSession
	for rows.Next() {
		var s CallSession
		var providerCallID, streamSID, outcome sql.NullString
		var snapshot []byte
		if err := rows.Scan(
			&s.ID, &s.ContactID, &s.CampaignID, &s.Direction, &s.Status,
			&s.FromNumber, &s.ToNumber, &providerCallID, &streamSID,
			&s.QueuedAt, &s.DialedAt, &s.AnsweredAt, &s.EndedAt,
			&s.DurationSeconds, &outcome, &snapshot,
		); err != nil {
			return nil, err
		}
		s.ProviderCallID = providerCallID.String
		s.StreamSID = streamSID.String
		s.Outcome = Outcome(outcome.String)
		if len(snapshot) > 0 {
			if err := json.Unmarshal(snapshot, &s.ConfigSnapshot); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveTranscript stores the captured event list for a finished call. A
// retried save after a partial failure overwrites the previous copy.
func (r *Repository) SaveTranscript(ctx context.Context, t Transcript) error {
	items, err := json.Marshal(t.Items)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_transcripts (call_session_id, items, created_at)
VALUES ($1, $2, $3)
ON CONFLICT (call_session_id)
DO UPDATE SET items = EXCLUDED.items, created_at = EXCLUDED.created_at
`
	_, err = r.db.ExecContext(ctx, q, t.CallSessionID, items, t.CreatedAt)
	return err
}

func (r *Repository) GetTranscript(ctx context.Context, callSessionID string) (Transcript, error) {
	const q = `
SELECT call_session_id, items, created_at
FROM call_transcripts
WHERE call_session_id = $1
`
	var t Transcript
	var items []byte
	if err := r.db.QueryRowContext(ctx, q, callSessionID).Scan(&t.CallSessionID, &items, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transcript{}, ErrNotFound
		}
		return Transcript{}, err
	}
	if err := json.Unmarshal(items, &t.Items); err != nil {
		return Transcript{}, err
	}
	return t, nil
}

func (r *Repository) exec(ctx context.Context, q string, args ...any) error {
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
