package campaigns

import (
	"context"
	"sync"
)

// MemoryRepo is an in-memory campaign store useful for tests.
// It is not intended for production use.
type MemoryRepo struct {
	mu    sync.Mutex
	items map[string]Campaign
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[string]Campaign)}
}

func (r *MemoryRepo) Put(c Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[c.ID] = c
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return Campaign{}, ErrNotFound
	}
	return c, nil
}
