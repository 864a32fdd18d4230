package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dialer-platform/internal/activity"
	"dialer-platform/internal/calls"
	"dialer-platform/internal/campaigns"
	"dialer-platform/internal/contacts"
)

var (
	ErrNotFound           = errors.New("queue not found")
	ErrCampaignNotRunning = errors.New("campaign is not active")
)

// snapshotTTL bounds staleness of the cached queue snapshot.
const snapshotTTL = 60 * time.Second

// Scheduler drives campaign queues: it selects contact batches, creates
// call sessions, hands them to the dialer paced by the campaign's call gap,
// and re-arms itself until the campaign runs out of eligible contacts.
//
// Each running campaign owns one cancellable timer; Pause and Stop cancel
// it, so a paused queue costs nothing until restarted.
type Scheduler struct {
	campaigns CampaignStore
	contacts  ContactStore
	sessions  CallStore
	states    StateStore
	cache     Cache
	dialer    Dialer
	log       *slog.Logger

	// activities is optional; see WithActivityLog.
	activities ActivityLog

	mu       sync.Mutex
	timers   map[string]*time.Timer
	inFlight map[string]struct{}

	// clock and sleep are injectable for tests.
	clock func() time.Time
	sleep func(time.Duration)
}

func NewScheduler(
	campaignStore CampaignStore,
	contactStore ContactStore,
	callStore CallStore,
	stateStore StateStore,
	cache Cache,
	dialer Dialer,
	log *slog.Logger,
) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		campaigns: campaignStore,
		contacts:  contactStore,
		sessions:  callStore,
		states:    stateStore,
		cache:     cache,
		dialer:    dialer,
		log:       log,
		timers:    make(map[string]*time.Timer),
		inFlight:  make(map[string]struct{}),
		clock:     time.Now,
		sleep:     time.Sleep,
	}
}

// WithActivityLog attaches the campaign activity feed.
func (s *Scheduler) WithActivityLog(a ActivityLog) *Scheduler {
	s.activities = a
	return s
}

// Start begins (or resumes) processing for a campaign. Starting an
// already-running queue is a no-op. The first pass runs asynchronously;
// Start returns once the queue is registered and persisted as running.
func (s *Scheduler) Start(ctx context.Context, campaignID string) error {
	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}
	if !c.Status.Operational() {
		return fmt.Errorf("%w: campaign %s is %s", ErrCampaignNotRunning, campaignID, c.Status)
	}

	s.mu.Lock()
	if _, ok := s.timers[campaignID]; ok {
		s.mu.Unlock()
		s.log.Info("queue already running", "campaign_id", campaignID)
		return nil
	}
	// Placeholder timer marks the queue as registered before the first
	// pass runs; runPass replaces it when it re-arms.
	placeholder := time.AfterFunc(time.Hour, func() {})
	placeholder.Stop()
	s.timers[campaignID] = placeholder
	s.mu.Unlock()

	if err := s.persistStatus(ctx, campaignID, StatusRunning); err != nil {
		s.dropTimer(campaignID)
		return err
	}

	s.log.Info("queue started", "campaign_id", campaignID, "batch_size", c.BatchSize, "call_gap_sec", c.CallGap)
	s.recordQueueTransition(ctx, campaignID, activity.EventTypeQueueStarted, "queue started")
	go s.runPass(context.WithoutCancel(ctx), campaignID)
	return nil
}

// Pause stops scheduling but preserves state and counters. Idempotent;
// pausing a campaign that never started is a no-op and materializes no
// queue state.
func (s *Scheduler) Pause(ctx context.Context, campaignID string) error {
	s.dropTimer(campaignID)

	st, err := s.states.Get(ctx, campaignID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	st.Status = StatusPaused
	if err := s.states.Save(ctx, st); err != nil {
		return err
	}
	s.invalidateState(ctx, campaignID)
	s.log.Info("queue paused", "campaign_id", campaignID)
	s.recordQueueTransition(ctx, campaignID, activity.EventTypeQueuePaused, "queue paused")
	return nil
}

// Stop ends processing and returns the queue to idle. The current batch
// reference is cleared; lifetime counters survive.
func (s *Scheduler) Stop(ctx context.Context, campaignID string) error {
	s.dropTimer(campaignID)

	st, err := s.states.Get(ctx, campaignID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	st.Status = StatusIdle
	st.CurrentBatch = nil
	st.NextScheduledAt = nil
	if err := s.states.Save(ctx, st); err != nil {
		return err
	}
	s.invalidateState(ctx, campaignID)
	s.log.Info("queue stopped", "campaign_id", campaignID)
	s.recordQueueTransition(ctx, campaignID, activity.EventTypeQueueStopped, "queue stopped")
	return nil
}

// Running reports whether a campaign currently has a scheduled timer.
func (s *Scheduler) Running(campaignID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[campaignID]
	return ok
}

// ListActive returns the campaign ids with a live queue.
func (s *Scheduler) ListActive() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.timers))
	for id := range s.timers {
		out = append(out, id)
	}
	return out
}

// Status returns the queue snapshot for a campaign. The state row may be
// served from the short-TTL mirror, but the per-status contact counts and
// the loop-registration flag are computed fresh on every read.
func (s *Scheduler) Status(ctx context.Context, campaignID string) (Snapshot, error) {
	st, hit, err := s.cache.GetState(ctx, campaignID)
	if err != nil {
		s.log.Warn("queue cache read failed", "campaign_id", campaignID, "err", err)
		hit = false
	}
	if !hit {
		st, err = s.states.Get(ctx, campaignID)
		if err != nil {
			return Snapshot{}, err
		}
		if err := s.cache.SetState(ctx, st); err != nil {
			s.log.Warn("queue cache write failed", "campaign_id", campaignID, "err", err)
		}
	}

	snap, err := s.buildSnapshot(ctx, st)
	if err != nil {
		return Snapshot{}, err
	}
	snap.LoopRegistered = s.Running(campaignID)
	return snap, nil
}

// HandleCallComplete is the feedback edge from call finalization back into
// queue bookkeeping: it moves the contact to its next state and bumps the
// lifetime counters.
//
// Failure-class outcomes re-queue the contact until its failure-class
// session count reaches the campaign's retry ceiling, at which point the
// contact is archived and counted as failed. All other outcomes complete
// the contact.
func (s *Scheduler) HandleCallComplete(ctx context.Context, campaignID, contactID string, outcome calls.Outcome) error {
	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return err
	}

	now := s.clock()
	if !outcome.FailureClass() {
		if err := s.contacts.SetStatus(ctx, contactID, contacts.StatusCompleted, &now); err != nil {
			return err
		}
		if _, err := s.states.AddCounters(ctx, campaignID, 0, 1, 0); err != nil {
			return err
		}
		s.recordCallEvent(ctx, campaignID, "", contactID, activity.EventTypeCallCompleted, "call completed")
		s.invalidateState(ctx, campaignID)
		return nil
	}

	failed, err := s.sessions.CountFailed(ctx, campaignID, contactID)
	if err != nil {
		return err
	}
	if failed >= c.MaxRetries {
		if err := s.contacts.SetStatus(ctx, contactID, contacts.StatusArchived, &now); err != nil {
			return err
		}
		if _, err := s.states.AddCounters(ctx, campaignID, 0, 0, 1); err != nil {
			return err
		}
		s.log.Info("contact retry ceiling reached",
			"campaign_id", campaignID, "contact_id", contactID, "failed_attempts", failed)
		s.recordCallEvent(ctx, campaignID, "", contactID, activity.EventTypeContactArchived, "retry ceiling reached")
	} else {
		if err := s.contacts.SetStatus(ctx, contactID, contacts.StatusQueued, &now); err != nil {
			return err
		}
		s.log.Info("contact requeued after failure",
			"campaign_id", campaignID, "contact_id", contactID,
			"outcome", outcome, "failed_attempts", failed)
		s.recordCallEvent(ctx, campaignID, "", contactID, activity.EventTypeCallFailed, string(outcome))
	}
	s.invalidateState(ctx, campaignID)
	return nil
}

// Shutdown cancels every timer. In-flight passes finish their current
// contact and observe the missing timer before re-arming.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// runPass executes one scheduling pass for a campaign, then re-arms the
// timer for the next pass. Overlapping invocations for the same campaign
// collapse to one via the inFlight marker.
func (s *Scheduler) runPass(ctx context.Context, campaignID string) {
	s.mu.Lock()
	if _, busy := s.inFlight[campaignID]; busy {
		s.mu.Unlock()
		return
	}
	if _, ok := s.timers[campaignID]; !ok {
		// Paused or stopped since this pass was scheduled.
		s.mu.Unlock()
		return
	}
	s.inFlight[campaignID] = struct{}{}
	s.mu.Unlock()

	gap, rearm := s.pass(ctx, campaignID)

	s.mu.Lock()
	delete(s.inFlight, campaignID)
	_, stillRegistered := s.timers[campaignID]
	if stillRegistered && rearm {
		s.timers[campaignID] = time.AfterFunc(gap, func() {
			s.runPass(ctx, campaignID)
		})
	} else if stillRegistered {
		delete(s.timers, campaignID)
	}
	s.mu.Unlock()

	if stillRegistered && !rearm {
		// Queue drained on its own; settle persisted state to idle.
		if err := s.Stop(ctx, campaignID); err != nil {
			s.log.Error("queue drain stop failed", "campaign_id", campaignID, "err", err)
		}
	}
}

// pass selects and dispatches one batch. It returns the delay before the
// next pass and whether the queue should re-arm at all.
func (s *Scheduler) pass(ctx context.Context, campaignID string) (time.Duration, bool) {
	c, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		s.log.Error("queue pass: campaign load failed", "campaign_id", campaignID, "err", err)
		return 0, false
	}
	if !c.Status.Operational() {
		s.log.Info("queue pass: campaign no longer active", "campaign_id", campaignID, "status", c.Status)
		return 0, false
	}

	// Re-read the persisted status: a Pause or Stop that landed after this
	// pass was scheduled must win, never be overwritten back to running.
	st, err := s.states.Get(ctx, campaignID)
	if err != nil {
		s.log.Error("queue pass: state load failed", "campaign_id", campaignID, "err", err)
		return 0, false
	}
	if st.Status != StatusRunning {
		s.log.Info("queue pass: queue no longer running", "campaign_id", campaignID, "status", st.Status)
		return 0, false
	}

	batch, err := s.nextBatch(ctx, c)
	if err != nil {
		s.log.Error("queue pass: batch selection failed", "campaign_id", campaignID, "err", err)
		return 0, false
	}
	if len(batch) == 0 {
		s.log.Info("queue drained", "campaign_id", campaignID)
		return 0, false
	}

	gap := time.Duration(c.CallGap) * time.Second
	now := s.clock()

	st.CurrentBatch = batchIDs(batch)
	st.LastProcessedAt = &now
	if err := s.states.Save(ctx, st); err != nil {
		s.log.Error("queue pass: state save failed", "campaign_id", campaignID, "err", err)
		return 0, false
	}

	queued := 0
	for i, cand := range batch {
		if err := s.dispatch(ctx, c, cand); err != nil {
			s.log.Error("queue pass: dispatch failed",
				"campaign_id", campaignID, "contact_id", cand.ID, "err", err)
			break
		}
		queued++
		if i < len(batch)-1 {
			s.sleep(gap)
		}
	}

	if queued > 0 {
		if _, err := s.states.AddCounters(ctx, campaignID, queued, 0, 0); err != nil {
			s.log.Error("queue pass: counter update failed", "campaign_id", campaignID, "err", err)
		}
	}

	next := s.clock().Add(gap)
	st, err = s.states.Get(ctx, campaignID)
	if err == nil {
		st.CurrentBatch = nil
		st.NextScheduledAt = &next
		if err := s.states.Save(ctx, st); err != nil {
			s.log.Error("queue pass: state save failed", "campaign_id", campaignID, "err", err)
		}
		if err := s.cache.SetState(ctx, st); err != nil {
			s.log.Warn("queue cache write failed", "campaign_id", campaignID, "err", err)
		}
	}

	s.log.Info("queue pass complete", "campaign_id", campaignID, "queued", queued)
	return gap, true
}

// nextBatch over-fetches candidates, drops contacts at the retry ceiling,
// and caps the result at the campaign's batch size.
func (s *Scheduler) nextBatch(ctx context.Context, c campaigns.Campaign) ([]contacts.Candidate, error) {
	cands, err := s.contacts.Candidates(ctx, c.ID, c.BatchSize*2)
	if err != nil {
		return nil, err
	}
	out := cands[:0]
	for _, cand := range cands {
		if cand.FailedAttempts >= c.MaxRetries {
			continue
		}
		out = append(out, cand)
	}
	if len(out) > c.BatchSize {
		out = out[:c.BatchSize]
	}
	return out, nil
}

// dispatch creates the call session for one contact and hands it to the
// dialer without waiting for the dial to complete. The contact is marked
// calling before the handoff so the next pass cannot reselect it.
func (s *Scheduler) dispatch(ctx context.Context, c campaigns.Campaign, cand contacts.Candidate) error {
	session := calls.CallSession{
		ID:         uuid.NewString(),
		ContactID:  cand.ID,
		CampaignID: c.ID,
		Direction:  calls.DirectionOutbound,
		Status:     calls.StatusQueued,
		ToNumber:   cand.Phone,
		QueuedAt:   s.clock(),
		ConfigSnapshot: calls.ConfigSnapshot{
			SystemPrompt: c.SystemPrompt,
			Voice:        c.Voice,
			Tools:        c.Tools,
			CallGoal:     c.CallGoal,
		},
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return err
	}
	if err := s.contacts.SetStatus(ctx, cand.ID, contacts.StatusCalling, nil); err != nil {
		return err
	}

	s.recordCallEvent(ctx, c.ID, session.ID, cand.ID, activity.EventTypeCallQueued, "call session created")

	ev := ReadyEvent{
		CallSessionID: session.ID,
		ContactID:     cand.ID,
		CampaignID:    c.ID,
	}
	go func() {
		if err := s.dialer.DialQueued(context.WithoutCancel(ctx), ev); err != nil {
			s.log.Error("dial dispatch failed",
				"campaign_id", ev.CampaignID, "call_session_id", ev.CallSessionID, "err", err)
		}
	}()
	return nil
}

func (s *Scheduler) buildSnapshot(ctx context.Context, st State) (Snapshot, error) {
	byStatus, err := s.contacts.CountByStatus(ctx, st.CampaignID)
	if err != nil {
		return Snapshot{}, err
	}
	counts := make(map[string]int, len(byStatus))
	for k, v := range byStatus {
		counts[string(k)] = v
	}
	return Snapshot{State: st, Contacts: counts}, nil
}

func (s *Scheduler) persistStatus(ctx context.Context, campaignID string, status QueueStatus) error {
	st, err := s.states.Get(ctx, campaignID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		st = State{CampaignID: campaignID}
	}
	st.Status = status
	if err := s.states.Save(ctx, st); err != nil {
		return err
	}
	s.invalidateState(ctx, campaignID)
	return nil
}

func (s *Scheduler) invalidateState(ctx context.Context, campaignID string) {
	if err := s.cache.Invalidate(ctx, campaignID); err != nil {
		s.log.Warn("queue cache invalidate failed", "campaign_id", campaignID, "err", err)
	}
}

func (s *Scheduler) dropTimer(campaignID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[campaignID]; ok {
		t.Stop()
		delete(s.timers, campaignID)
	}
}

func (s *Scheduler) recordQueueTransition(ctx context.Context, campaignID string, t activity.EventType, msg string) {
	if s.activities == nil {
		return
	}
	if err := s.activities.LogQueueTransition(ctx, campaignID, t, msg); err != nil {
		s.log.Warn("activity log failed", "campaign_id", campaignID, "err", err)
	}
}

func (s *Scheduler) recordCallEvent(ctx context.Context, campaignID, callSessionID, contactID string, t activity.EventType, msg string) {
	if s.activities == nil {
		return
	}
	if err := s.activities.LogCallEvent(ctx, campaignID, callSessionID, contactID, t, msg); err != nil {
		s.log.Warn("activity log failed", "campaign_id", campaignID, "err", err)
	}
}

func batchIDs(batch []contacts.Candidate) []string {
	out := make([]string, len(batch))
	for i, c := range batch {
		out[i] = c.ID
	}
	return out
}
