package campaigns

import (
	"encoding/json"
	"time"
)

// Campaign is the operator-authored definition of one outbound calling
// effort. The scheduler reads it; this service never writes it (campaign
// CRUD belongs to the admin layer).
//
// BatchSize, CallGap and MaxRetries drive queue pacing:
// - BatchSize contacts are selected per scheduling pass.
// - CallGap seconds separate consecutive dials and consecutive passes.
// - MaxRetries is the per-contact ceiling on failure-class call attempts.
type Campaign struct {
	ID     string `json:"id" db:"id"`
	Name   string `json:"name" db:"name"`
	Status Status `json:"status" db:"status"`

	SystemPrompt string `json:"system_prompt" db:"system_prompt"`
	Voice        string `json:"voice" db:"voice"`
	CallGoal     string `json:"call_goal" db:"call_goal"`

	// Tools is the JSON list of tool schemas offered to the speech model.
	Tools json.RawMessage `json:"tools" db:"tools"`

	BatchSize  int `json:"batch_size" db:"batch_size"`
	CallGap    int `json:"call_gap" db:"call_gap"`
	MaxRetries int `json:"max_retries" db:"max_retries"`
	Priority   int `json:"priority" db:"priority"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Operational reports whether the campaign may have a running queue.
// A queue must never outlive a campaign that left this state.
func (s Status) Operational() bool {
	return s == StatusActive
}
