package activity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for activity events.
//
// It MUST be append-only; reads come through List.

type Repository interface {
	Append(ctx context.Context, e Event) error
	List(ctx context.Context, campaignID string, limit int) ([]Event, error)
}

// Service records campaign activity. Callers treat logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("activity: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("activity: repository not configured")
	}
	if e.CampaignID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// List returns the newest events for a campaign, most recent first.
func (s *Service) List(ctx context.Context, campaignID string, limit int) ([]Event, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, campaignID, limit)
}

// LogQueueTransition records a queue lifecycle change (started, paused,
// stopped).
func (s *Service) LogQueueTransition(ctx context.Context, campaignID string, t EventType, message string) error {
	return s.Append(ctx, Event{
		CampaignID: campaignID,
		Type:       t,
		Message:    message,
	})
}

// LogCallEvent records per-call activity in the campaign feed.
func (s *Service) LogCallEvent(ctx context.Context, campaignID, callSessionID, contactID string, t EventType, message string) error {
	return s.Append(ctx, Event{
		CampaignID:    campaignID,
		Type:          t,
		CallSessionID: callSessionID,
		ContactID:     contactID,
		Message:       message,
	})
}
