package queue

import "time"

// QueueStatus is the scheduler's view of one campaign queue.
type QueueStatus string

const (
	StatusIdle    QueueStatus = "idle"
	StatusRunning QueueStatus = "running"
	StatusPaused  QueueStatus = "paused"
)

// State is the persisted record of one campaign's queue: its run status,
// the batch currently being worked, lifetime counters and pass timing.
// One row per campaign.
type State struct {
	CampaignID string      `json:"campaign_id" db:"campaign_id"`
	Status     QueueStatus `json:"status" db:"status"`

	// CurrentBatch holds the contact ids selected by the in-progress pass.
	// It is cleared when the pass finishes.
	CurrentBatch []string `json:"current_batch" db:"current_batch"`

	TotalQueued    int `json:"total_queued" db:"total_queued"`
	TotalCompleted int `json:"total_completed" db:"total_completed"`
	TotalFailed    int `json:"total_failed" db:"total_failed"`

	LastProcessedAt *time.Time `json:"last_processed_at,omitempty" db:"last_processed_at"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty" db:"next_scheduled_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Snapshot is the externally reported queue status: the persisted state
// joined with a live per-status contact breakdown and whether this process
// currently has a scheduling loop registered for the campaign.
type Snapshot struct {
	State
	Contacts       map[string]int `json:"contacts"`
	LoopRegistered bool           `json:"loop_registered"`
}

// ReadyEvent announces a call session that is ready to be dialed.
type ReadyEvent struct {
	CallSessionID string `json:"call_session_id"`
	ContactID     string `json:"contact_id"`
	CampaignID    string `json:"campaign_id"`
}
