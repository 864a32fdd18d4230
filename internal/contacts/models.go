package contacts

import "time"

// Contact is one person a campaign may dial. The scheduler and the call
// bridge transition Status as a side effect of call progress; contact CRUD
// and CSV import belong to the admin layer.
type Contact struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	Name  string `json:"name" db:"name"`
	Phone string `json:"phone" db:"phone"`

	Status   Status `json:"status" db:"status"`
	Priority int    `json:"priority" db:"priority"`

	LastCalledAt *time.Time `json:"last_called_at,omitempty" db:"last_called_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

type Status string

const (
	StatusNew       Status = "new"
	StatusQueued    Status = "queued"
	StatusCalling   Status = "calling"
	StatusCompleted Status = "completed"
	StatusFollowUp  Status = "follow_up"
	StatusArchived  Status = "archived"
)

// Candidate is a contact considered for batch selection together with its
// failure-class attempt count for the campaign. The count is derived from
// call-session history, never stored on the contact itself.
type Candidate struct {
	Contact
	FailedAttempts int `json:"failed_attempts"`
}
