package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory call session store useful for tests.
type MemoryRepo struct {
	mu          sync.Mutex
	items       map[string]CallSession
	transcripts map[string]Transcript
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		items:       make(map[string]CallSession),
		transcripts: make(map[string]Transcript),
	}
}

func (r *MemoryRepo) Create(ctx context.Context, s CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[s.ID] = s
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return CallSession{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) GetByProviderCallID(ctx context.Context, providerCallID string) (CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.items {
		if s.ProviderCallID == providerCallID {
			return s, nil
		}
	}
	return CallSession{}, ErrNotFound
}

func (r *MemoryRepo) MarkDialing(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok || s.Status != StatusQueued {
		return ErrNotFound
	}
	t := at
	s.Status = StatusDialing
	s.DialedAt = &t
	r.items[id] = s
	return nil
}

func (r *MemoryRepo) SetProviderCallID(ctx context.Context, id, providerCallID string) error {
	return r.update(id, func(s *CallSession) {
		s.ProviderCallID = providerCallID
	})
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, status Status) error {
	return r.update(id, func(s *CallSession) {
		s.Status = status
	})
}

func (r *MemoryRepo) MarkAnswered(ctx context.Context, id, streamSID string, at time.Time) error {
	return r.update(id, func(s *CallSession) {
		s.Status = StatusActive
		if s.StreamSID == "" {
			s.StreamSID = streamSID
		}
		if s.AnsweredAt == nil {
			t := at
			s.AnsweredAt = &t
		}
	})
}

func (r *MemoryRepo) Finish(ctx context.Context, id string, status Status, outcome Outcome, endedAt time.Time, duration *int) error {
	return r.update(id, func(s *CallSession) {
		s.Status = status
		s.Outcome = outcome
		if s.EndedAt == nil {
			t := endedAt
			s.EndedAt = &t
		}
		if duration != nil {
			s.DurationSeconds = *duration
		}
	})
}

func (r *MemoryRepo) CountFailed(ctx context.Context, campaignID, contactID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.items {
		if s.CampaignID == campaignID && s.ContactID == contactID && s.Outcome.FailureClass() {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) ListRecent(ctx context.Context, campaignID string, limit int) ([]CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallSession
	for _, s := range r.items {
		if s.CampaignID == campaignID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].QueuedAt.After(out[j].QueuedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) SaveTranscript(ctx context.Context, t Transcript) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcripts[t.CallSessionID] = t
	return nil
}

func (r *MemoryRepo) GetTranscript(ctx context.Context, callSessionID string) (Transcript, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.transcripts[callSessionID]
	if !ok {
		return Transcript{}, ErrNotFound
	}
	return t, nil
}

func (r *MemoryRepo) update(id string, fn func(*CallSession)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.items[id]
	if !ok {
		return ErrNotFound
	}
	fn(&s)
	r.items[id] = s
	return nil
}
