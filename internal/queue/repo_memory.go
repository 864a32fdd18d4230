package queue

import (
	"context"
	"sync"
)

// MemoryStateStore is an in-memory StateStore useful for tests.
type MemoryStateStore struct {
	mu    sync.Mutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: make(map[string]State)}
}

func (r *MemoryStateStore) Get(ctx context.Context, campaignID string) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.items[campaignID]
	if !ok {
		return State{}, ErrNotFound
	}
	return st, nil
}

func (r *MemoryStateStore) Save(ctx context.Context, st State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.items[st.CampaignID]; ok {
		// Counters only move through AddCounters, as in the SQL store.
		st.TotalQueued = prev.TotalQueued
		st.TotalCompleted = prev.TotalCompleted
		st.TotalFailed = prev.TotalFailed
	}
	r.items[st.CampaignID] = st
	return nil
}

func (r *MemoryStateStore) AddCounters(ctx context.Context, campaignID string, dQueued, dCompleted, dFailed int) (State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.items[campaignID]
	if !ok {
		return State{}, ErrNotFound
	}
	st.TotalQueued += dQueued
	st.TotalCompleted += dCompleted
	st.TotalFailed += dFailed
	r.items[campaignID] = st
	return st, nil
}

// MemoryCache is an in-memory state cache useful for tests.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]State
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]State)}
}

func (c *MemoryCache) GetState(ctx context.Context, campaignID string) (State, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.items[campaignID]
	return st, ok, nil
}

func (c *MemoryCache) SetState(ctx context.Context, st State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[st.CampaignID] = st
	return nil
}

func (c *MemoryCache) Invalidate(ctx context.Context, campaignID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, campaignID)
	return nil
}
