package activity

import "time"

// Event is an append-only campaign activity record, the feed behind the
// operator console's timeline.
//
// Invariants:
// - Events are never updated or deleted.
// - campaign_id is required; call and contact references are optional.
// - Logging is best-effort; callers must not block call flow on activity failures.

type Event struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	// Type indicates the business category of the activity record.
	Type EventType `json:"type" db:"type"`

	CallSessionID string `json:"call_session_id,omitempty" db:"call_session_id"`
	ContactID     string `json:"contact_id,omitempty" db:"contact_id"`

	// Message is a short human-readable description for the feed.
	Message string `json:"message,omitempty" db:"message"`

	// Metadata is optional JSON for full details.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeQueueStarted    EventType = "queue_started"
	EventTypeQueuePaused     EventType = "queue_paused"
	EventTypeQueueStopped    EventType = "queue_stopped"
	EventTypeCallQueued      EventType = "call_queued"
	EventTypeCallCompleted   EventType = "call_completed"
	EventTypeCallFailed      EventType = "call_failed"
	EventTypeContactArchived EventType = "contact_archived"
)
