package queue

import (
	"context"
	"time"

	"dialer-platform/internal/activity"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/contacts"
)

// CampaignStore is the campaign lookup the scheduler needs.
type CampaignStore interface {
	Get(ctx context.Context, id string) (campaigns.Campaign, error)
}

// ContactStore covers batch selection and contact state transitions.
type ContactStore interface {
	Get(ctx context.Context, id string) (contacts.Contact, error)
	Candidates(ctx context.Context, campaignID string, limit int) ([]contacts.Candidate, error)
	SetStatus(ctx context.Context, id string, status contacts.Status, lastCalledAt *time.Time) error
	CountByStatus(ctx context.Context, campaignID string) (map[contacts.Status]int, error)
}

// CallStore covers call session creation and retry-ceiling lookups.
type CallStore interface {
	Create(ctx context.Context, s calls.CallSession) error
	CountFailed(ctx context.Context, campaignID, contactID string) (int, error)
}

// StateStore persists queue state.
//
// Save writes status, current batch and pass timing but never the lifetime
// counters; counters move only through AddCounters so that a scheduling pass
// and a concurrent call-completion update cannot clobber each other.
type StateStore interface {
	Get(ctx context.Context, campaignID string) (State, error)
	Save(ctx context.Context, s State) error
	AddCounters(ctx context.Context, campaignID string, dQueued, dCompleted, dFailed int) (State, error)
}

// Cache mirrors queue state rows for cheap status reads. Only the state is
// cached; contact counts are recomputed per read so they never go stale.
// Failures are tolerated; the database row stays authoritative.
type Cache interface {
	GetState(ctx context.Context, campaignID string) (State, bool, error)
	SetState(ctx context.Context, st State) error
	Invalidate(ctx context.Context, campaignID string) error
}

// Dialer receives sessions that are ready to be placed.
type Dialer interface {
	DialQueued(ctx context.Context, ev ReadyEvent) error
}

// ActivityLog feeds the campaign activity timeline. Logging is best-effort;
// the scheduler never fails an operation over it.
type ActivityLog interface {
	LogQueueTransition(ctx context.Context, campaignID string, t activity.EventType, message string) error
	LogCallEvent(ctx context.Context, campaignID, callSessionID, contactID string, t activity.EventType, message string) error
}
