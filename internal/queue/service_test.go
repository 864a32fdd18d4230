package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/contacts"
)

type fakeDialer struct {
	mu     sync.Mutex
	events []ReadyEvent
	done   chan ReadyEvent
}

func (d *fakeDialer) DialQueued(ctx context.Context, ev ReadyEvent) error {
	d.mu.Lock()
	d.events = append(d.events, ev)
	d.mu.Unlock()
	if d.done != nil {
		d.done <- ev
	}
	return nil
}

func (d *fakeDialer) dialed() []ReadyEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ReadyEvent(nil), d.events...)
}

// recordingCallStore wraps the memory repo and keeps creation order.
type recordingCallStore struct {
	*calls.MemoryRepo
	mu      sync.Mutex
	created []string
}

func (r *recordingCallStore) Create(ctx context.Context, s calls.CallSession) error {
	r.mu.Lock()
	r.created = append(r.created, s.ContactID)
	r.mu.Unlock()
	return r.MemoryRepo.Create(ctx, s)
}

type fixture struct {
	scheduler *Scheduler
	campaigns *campaigns.MemoryRepo
	contacts  *contacts.MemoryRepo
	sessions  *recordingCallStore
	states    *MemoryStateStore
	cache     *MemoryCache
	dialer    *fakeDialer
	sleeps    []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		campaigns: campaigns.NewMemoryRepo(),
		contacts:  contacts.NewMemoryRepo(),
		sessions:  &recordingCallStore{MemoryRepo: calls.NewMemoryRepo()},
		states:    NewMemoryStateStore(),
		cache:     NewMemoryCache(),
	}
	f.dialer = &fakeDialer{done: make(chan ReadyEvent, 64)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.scheduler = NewScheduler(f.campaigns, f.contacts, f.sessions, f.states, f.cache, f.dialer, log)
	f.scheduler.clock = func() time.Time {
		return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	}
	f.scheduler.sleep = func(d time.Duration) {
		f.sleeps = append(f.sleeps, d)
	}
	return f
}

func (f *fixture) putCampaign(c campaigns.Campaign) campaigns.Campaign {
	if c.Status == "" {
		c.Status = campaigns.StatusActive
	}
	if c.BatchSize == 0 {
		c.BatchSize = 2
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	f.campaigns.Put(c)
	return c
}

func (f *fixture) putContact(id, campaignID string, priority int, createdAt time.Time) {
	f.contacts.Put(contacts.Contact{
		ID:         id,
		CampaignID: campaignID,
		Phone:      "+15550001111",
		Status:     contacts.StatusNew,
		Priority:   priority,
		CreatedAt:  createdAt,
	})
}

func (f *fixture) saveState(t *testing.T, campaignID string, status QueueStatus) {
	t.Helper()
	if err := f.states.Save(context.Background(), State{CampaignID: campaignID, Status: status}); err != nil {
		t.Fatalf("save state: %v", err)
	}
}

func (f *fixture) waitDials(t *testing.T, n int) []ReadyEvent {
	t.Helper()
	out := make([]ReadyEvent, 0, n)
	for len(out) < n {
		select {
		case ev := <-f.dialer.done:
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for dial %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestPass_SelectsByPriorityAndCapsBatch(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1", CallGap: 5, BatchSize: 2, MaxRetries: 3})

	f.putContact("low", c.ID, 0, base)
	f.putContact("high", c.ID, 5, base.Add(time.Hour))
	f.putContact("mid", c.ID, 2, base)
	f.saveState(t, c.ID, StatusRunning)

	gap, rearm := f.scheduler.pass(context.Background(), c.ID)
	if !rearm {
		t.Fatalf("expected pass to re-arm")
	}
	if want := 5 * time.Second; gap != want {
		t.Fatalf("gap = %v, want %v", gap, want)
	}

	f.waitDials(t, 2)
	if got := f.sessions.created; len(got) != 2 || got[0] != "high" || got[1] != "mid" {
		t.Fatalf("created sessions for %v, want [high mid]", got)
	}
	// One sleep between the two dials, none after the last.
	if len(f.sleeps) != 1 || f.sleeps[0] != 5*time.Second {
		t.Fatalf("sleeps = %v, want one 5s gap", f.sleeps)
	}

	st, err := f.states.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.TotalQueued != 2 {
		t.Fatalf("total_queued = %d, want 2", st.TotalQueued)
	}
	if st.CurrentBatch != nil {
		t.Fatalf("current batch not cleared: %v", st.CurrentBatch)
	}
	if st.NextScheduledAt == nil {
		t.Fatalf("next_scheduled_at not set")
	}
}

func TestPass_SkipsContactsAtRetryCeiling(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1", BatchSize: 5, MaxRetries: 2})

	f.putContact("fresh", c.ID, 0, base)
	f.putContact("exhausted", c.ID, 9, base)
	f.contacts.SetFailedAttempts("exhausted", 2)
	f.saveState(t, c.ID, StatusRunning)

	if _, rearm := f.scheduler.pass(context.Background(), c.ID); !rearm {
		t.Fatalf("expected pass to re-arm")
	}
	evs := f.waitDials(t, 1)
	if evs[0].ContactID != "fresh" {
		t.Fatalf("dialed %q, want fresh", evs[0].ContactID)
	}
	if got := f.sessions.created; len(got) != 1 {
		t.Fatalf("created %d sessions, want 1", len(got))
	}
}

func TestPass_StopsWhenDrained(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1"})
	f.saveState(t, c.ID, StatusRunning)

	if _, rearm := f.scheduler.pass(context.Background(), c.ID); rearm {
		t.Fatalf("drained queue should not re-arm")
	}
}

func TestPass_StopsWhenCampaignLeavesActive(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1"})
	f.putContact("a", c.ID, 0, time.Now())
	f.saveState(t, c.ID, StatusRunning)

	c.Status = campaigns.StatusPaused
	f.campaigns.Put(c)

	if _, rearm := f.scheduler.pass(context.Background(), c.ID); rearm {
		t.Fatalf("inactive campaign should not re-arm")
	}
	if len(f.dialer.dialed()) != 0 {
		t.Fatalf("inactive campaign dialed contacts")
	}
}

func TestStart_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1", BatchSize: 1})
	f.putContact("only", c.ID, 0, time.Now())

	ctx := context.Background()
	if err := f.scheduler.Start(ctx, c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.scheduler.Start(ctx, c.ID); err != nil {
		t.Fatalf("second start: %v", err)
	}

	f.waitDials(t, 1)
	deadline := time.Now().Add(2 * time.Second)
	for f.scheduler.Running(c.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("queue did not drain")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := len(f.dialer.dialed()); n != 1 {
		t.Fatalf("dialed %d times, want 1", n)
	}
}

func TestPass_MarksContactsCallingBeforeHandoff(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1", BatchSize: 1})
	f.putContact("only", c.ID, 0, time.Now())
	f.saveState(t, c.ID, StatusRunning)

	ctx := context.Background()
	if _, rearm := f.scheduler.pass(ctx, c.ID); !rearm {
		t.Fatalf("expected pass to re-arm")
	}
	// The transition happens inside the pass, not in the dialer goroutine,
	// so the contact is already off the candidate list here.
	got, err := f.contacts.Get(ctx, "only")
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	if got.Status != contacts.StatusCalling {
		t.Fatalf("contact status = %q, want calling", got.Status)
	}

	if _, rearm := f.scheduler.pass(ctx, c.ID); rearm {
		t.Fatalf("second pass reselected a dispatched contact")
	}
	f.waitDials(t, 1)
	if got := f.sessions.created; len(got) != 1 {
		t.Fatalf("created %d sessions, want 1", len(got))
	}
}

func TestPass_HonorsConcurrentPause(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1"})
	f.putContact("a", c.ID, 0, time.Now())
	f.saveState(t, c.ID, StatusPaused)

	if _, rearm := f.scheduler.pass(context.Background(), c.ID); rearm {
		t.Fatalf("paused queue should not re-arm")
	}
	if len(f.dialer.dialed()) != 0 {
		t.Fatalf("paused queue dialed contacts")
	}
	st, err := f.states.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Status != StatusPaused {
		t.Fatalf("status = %q, pass overwrote the pause", st.Status)
	}
}

func TestStart_RejectsNonActiveCampaign(t *testing.T) {
	f := newFixture(t)
	f.putCampaign(campaigns.Campaign{ID: "camp-1", Status: campaigns.StatusDraft})

	err := f.scheduler.Start(context.Background(), "camp-1")
	if err == nil {
		t.Fatalf("expected error starting draft campaign")
	}
}

func TestPause_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1"})
	f.saveState(t, c.ID, StatusRunning)

	ctx := context.Background()
	if err := f.scheduler.Pause(ctx, c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.scheduler.Pause(ctx, c.ID); err != nil {
		t.Fatalf("second pause: %v", err)
	}
	st, err := f.states.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Status != StatusPaused {
		t.Fatalf("status = %q, want paused", st.Status)
	}
}

func TestPause_NoopWithoutQueueState(t *testing.T) {
	f := newFixture(t)
	f.putCampaign(campaigns.Campaign{ID: "camp-1"})

	ctx := context.Background()
	if err := f.scheduler.Pause(ctx, "camp-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.states.Get(ctx, "camp-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("pause materialized queue state, err = %v", err)
	}
}

func TestStop_ClearsBatchAndGoesIdle(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1"})
	now := time.Now()
	if err := f.states.Save(context.Background(), State{
		CampaignID:      c.ID,
		Status:          StatusRunning,
		CurrentBatch:    []string{"a", "b"},
		NextScheduledAt: &now,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := f.scheduler.Stop(context.Background(), c.ID); err != nil {
		t.Fatalf("stop: %v", err)
	}
	st, err := f.states.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if st.Status != StatusIdle || st.CurrentBatch != nil || st.NextScheduledAt != nil {
		t.Fatalf("stop left state %+v", st)
	}
}

func TestHandleCallComplete_CompletedOutcome(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1"})
	f.putContact("alice", c.ID, 0, time.Now())
	f.saveState(t, c.ID, StatusRunning)

	ctx := context.Background()
	if err := f.scheduler.HandleCallComplete(ctx, c.ID, "alice", calls.OutcomeCompleted); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, err := f.contacts.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("contact: %v", err)
	}
	if got.Status != contacts.StatusCompleted {
		t.Fatalf("contact status = %q, want completed", got.Status)
	}
	if got.LastCalledAt == nil {
		t.Fatalf("last_called_at not set")
	}
	st, _ := f.states.Get(ctx, c.ID)
	if st.TotalCompleted != 1 || st.TotalFailed != 0 {
		t.Fatalf("counters = %d completed / %d failed, want 1/0", st.TotalCompleted, st.TotalFailed)
	}
}

func TestHandleCallComplete_FailureBelowCeilingRequeues(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1", MaxRetries: 3})
	f.putContact("bob", c.ID, 0, time.Now())
	f.saveState(t, c.ID, StatusRunning)

	ctx := context.Background()
	// One prior failure-class session; ceiling is 3.
	seedFailedSession(t, f, c.ID, "bob", calls.OutcomeNoAnswer)

	if err := f.scheduler.HandleCallComplete(ctx, c.ID, "bob", calls.OutcomeNoAnswer); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := f.contacts.Get(ctx, "bob")
	if got.Status != contacts.StatusQueued {
		t.Fatalf("contact status = %q, want queued", got.Status)
	}
	st, _ := f.states.Get(ctx, c.ID)
	if st.TotalFailed != 0 {
		t.Fatalf("total_failed = %d, want 0", st.TotalFailed)
	}
}

func TestHandleCallComplete_FailureAtCeilingArchives(t *testing.T) {
	f := newFixture(t)
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1", MaxRetries: 2})
	f.putContact("carol", c.ID, 0, time.Now())
	f.saveState(t, c.ID, StatusRunning)

	ctx := context.Background()
	seedFailedSession(t, f, c.ID, "carol", calls.OutcomeBusy)
	seedFailedSession(t, f, c.ID, "carol", calls.OutcomeFailed)

	if err := f.scheduler.HandleCallComplete(ctx, c.ID, "carol", calls.OutcomeFailed); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := f.contacts.Get(ctx, "carol")
	if got.Status != contacts.StatusArchived {
		t.Fatalf("contact status = %q, want archived", got.Status)
	}
	st, _ := f.states.Get(ctx, c.ID)
	if st.TotalFailed != 1 {
		t.Fatalf("total_failed = %d, want 1", st.TotalFailed)
	}
}

func TestStatus_ServesFromCacheThenFallsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cached := State{CampaignID: "camp-1", Status: StatusRunning, TotalQueued: 7}
	if err := f.cache.SetState(ctx, cached); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	snap, err := f.scheduler.Status(ctx, "camp-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.TotalQueued != 7 {
		t.Fatalf("cached total_queued = %d, want 7", snap.TotalQueued)
	}

	// Cache miss falls back to the store and repopulates the mirror.
	if err := f.cache.Invalidate(ctx, "camp-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	f.saveState(t, "camp-1", StatusPaused)
	snap, err = f.scheduler.Status(ctx, "camp-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Status != StatusPaused {
		t.Fatalf("status = %q, want paused", snap.Status)
	}
	if _, ok, _ := f.cache.GetState(ctx, "camp-1"); !ok {
		t.Fatalf("state not mirrored back to cache")
	}
}

func TestStatus_RecomputesContactCountsOnCacheHit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1"})
	f.putContact("a", c.ID, 0, time.Now())
	f.saveState(t, c.ID, StatusRunning)

	snap, err := f.scheduler.Status(ctx, c.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Contacts[string(contacts.StatusNew)] != 1 {
		t.Fatalf("contacts = %v, want one new", snap.Contacts)
	}

	// The state row is now mirrored; a later read must still see the
	// contact's movement.
	if err := f.contacts.SetStatus(ctx, "a", contacts.StatusCompleted, nil); err != nil {
		t.Fatalf("set status: %v", err)
	}
	snap, err = f.scheduler.Status(ctx, c.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.Contacts[string(contacts.StatusCompleted)] != 1 || snap.Contacts[string(contacts.StatusNew)] != 0 {
		t.Fatalf("contacts = %v, want one completed", snap.Contacts)
	}
}

func TestStatus_ReportsLoopRegistration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.putCampaign(campaigns.Campaign{ID: "camp-1"})
	f.saveState(t, c.ID, StatusRunning)

	snap, err := f.scheduler.Status(ctx, c.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.LoopRegistered {
		t.Fatalf("loop reported registered with no timer")
	}

	placeholder := time.AfterFunc(time.Hour, func() {})
	placeholder.Stop()
	f.scheduler.mu.Lock()
	f.scheduler.timers[c.ID] = placeholder
	f.scheduler.mu.Unlock()

	snap, err = f.scheduler.Status(ctx, c.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !snap.LoopRegistered {
		t.Fatalf("registered loop not reported")
	}
}

func TestStatus_UnknownQueue(t *testing.T) {
	f := newFixture(t)
	if _, err := f.scheduler.Status(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for unknown queue")
	}
}

var seedSeq int

func seedFailedSession(t *testing.T, f *fixture, campaignID, contactID string, outcome calls.Outcome) {
	t.Helper()
	seedSeq++
	ended := time.Now()
	s := calls.CallSession{
		ID:         "seed-" + contactID + "-" + strconv.Itoa(seedSeq),
		ContactID:  contactID,
		CampaignID: campaignID,
		Direction:  calls.DirectionOutbound,
		Status:     calls.StatusFailed,
		QueuedAt:   ended.Add(-time.Minute),
		EndedAt:    &ended,
		Outcome:    outcome,
	}
	if err := f.sessions.Create(context.Background(), s); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}
