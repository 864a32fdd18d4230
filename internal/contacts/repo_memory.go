package contacts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory contact store useful for tests.
// Failure-class attempt counts are injected by the test via SetFailedAttempts
// rather than derived from call-session history.
type MemoryRepo struct {
	mu     sync.Mutex
	items  map[string]Contact
	failed map[string]int
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items:  make(map[string]Contact),
		failed: make(map[string]int),
	}
}

func (r *MemoryRepo) Put(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[c.ID] = c
}

// SetFailedAttempts sets the derived failure count reported for a contact.
func (r *MemoryRepo) SetFailedAttempts(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed[id] = n
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Contact, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return Contact{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) Candidates(ctx context.Context, campaignID string, limit int) ([]Candidate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Candidate
	for _, c := range r.items {
		if c.CampaignID != campaignID {
			continue
		}
		if c.Status != StatusNew && c.Status != StatusQueued {
			continue
		}
		out = append(out, Candidate{Contact: c, FailedAttempts: r.failed[c.ID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, status Status, lastCalledAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	if lastCalledAt != nil {
		t := *lastCalledAt
		c.LastCalledAt = &t
	}
	r.items[id] = c
	return nil
}

func (r *MemoryRepo) CountByStatus(ctx context.Context, campaignID string) (map[Status]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Status]int)
	for _, c := range r.items {
		if c.CampaignID == campaignID {
			out[c.Status]++
		}
	}
	return out, nil
}
