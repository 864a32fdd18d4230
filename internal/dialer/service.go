// Package dialer turns queued call sessions into live carrier calls and
// folds carrier status callbacks back into session state.
package dialer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dialer-platform/internal/calls"
	"dialer-platform/internal/contacts"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/telephony"
)

// ErrCapacity is returned when the concurrent-dial cap is exhausted; the
// session fails with a failure-class outcome so the scheduler retries the
// contact later.
var ErrCapacity = errors.New("concurrent call capacity exhausted")

// CallStore is the session persistence the dialer needs.
type CallStore interface {
	Get(ctx context.Context, id string) (calls.CallSession, error)
	GetByProviderCallID(ctx context.Context, providerCallID string) (calls.CallSession, error)
	MarkDialing(ctx context.Context, id string, at time.Time) error
	SetProviderCallID(ctx context.Context, id, providerCallID string) error
	SetStatus(ctx context.Context, id string, status calls.Status) error
	Finish(ctx context.Context, id string, status calls.Status, outcome calls.Outcome, endedAt time.Time, duration *int) error
}

// ContactStore covers the contact transitions tied to dialing.
type ContactStore interface {
	Get(ctx context.Context, id string) (contacts.Contact, error)
	SetStatus(ctx context.Context, id string, status contacts.Status, lastCalledAt *time.Time) error
}

// Notifier receives call-complete events; the queue scheduler implements it.
type Notifier interface {
	HandleCallComplete(ctx context.Context, campaignID, contactID string, outcome calls.Outcome) error
}

// SlotLimiter caps concurrent carrier calls across the process fleet.
type SlotLimiter interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// ContextCache mirrors per-call context for the media-stream path; the
// bridge reads it back when the stream attaches.
type ContextCache interface {
	Set(ctx context.Context, cc calls.CallContext) error
}

// Config carries the call-placement parameters.
type Config struct {
	// PublicURL is the externally reachable base URL for stream and
	// webhook endpoints.
	PublicURL  string
	FromNumber string
}

// Service places queued calls and processes carrier callbacks.
type Service struct {
	sessions CallStore
	contacts ContactStore
	gateway  telephony.Gateway
	limiter  SlotLimiter
	cache    ContextCache
	notifier Notifier
	cfg      Config
	log      *slog.Logger

	clock func() time.Time
}

func NewService(
	sessions CallStore,
	contactStore ContactStore,
	gateway telephony.Gateway,
	limiter SlotLimiter,
	cache ContextCache,
	notifier Notifier,
	cfg Config,
	log *slog.Logger,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		sessions: sessions,
		contacts: contactStore,
		gateway:  gateway,
		limiter:  limiter,
		cache:    cache,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		clock:    time.Now,
	}
}

// DialQueued places the carrier call for a session the scheduler marked
// ready. Placement failures finalize the session with a failure-class
// outcome and feed straight back into queue bookkeeping, so a failed dial
// is indistinguishable from a failed call downstream.
func (s *Service) DialQueued(ctx context.Context, ev queue.ReadyEvent) error {
	session, err := s.sessions.Get(ctx, ev.CallSessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if session.Status != calls.StatusQueued {
		s.log.Warn("dial skipped, session not queued",
			"call_session_id", session.ID, "status", session.Status)
		return nil
	}
	contact, err := s.contacts.Get(ctx, session.ContactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}

	ok, err := s.limiter.Acquire(ctx)
	if err != nil {
		return s.failDial(ctx, session, fmt.Errorf("acquire dial slot: %w", err))
	}
	if !ok {
		return s.failDial(ctx, session, ErrCapacity)
	}

	if err := s.placeCall(ctx, session, contact); err != nil {
		if relErr := s.limiter.Release(ctx); relErr != nil {
			s.log.Error("dial slot release failed", "call_session_id", session.ID, "err", relErr)
		}
		return s.failDial(ctx, session, err)
	}
	return nil
}

func (s *Service) placeCall(ctx context.Context, session calls.CallSession, contact contacts.Contact) error {
	now := s.clock()
	if err := s.sessions.MarkDialing(ctx, session.ID, now); err != nil {
		return fmt.Errorf("mark dialing: %w", err)
	}
	if err := s.contacts.SetStatus(ctx, contact.ID, contacts.StatusCalling, &now); err != nil {
		return fmt.Errorf("mark contact calling: %w", err)
	}

	if err := s.cache.Set(ctx, calls.CallContext{
		CallSessionID: session.ID,
		ContactID:     contact.ID,
		CampaignID:    session.CampaignID,
		ContactName:   contact.Name,
		Phone:         contact.Phone,
	}); err != nil {
		// The database row is authoritative; a cold cache only costs a lookup.
		s.log.Warn("call context cache write failed", "call_session_id", session.ID, "err", err)
	}

	streamURL, err := telephony.CallStreamURL(s.cfg.PublicURL, session.ID)
	if err != nil {
		return fmt.Errorf("stream url: %w", err)
	}
	callbackURL, err := telephony.StatusCallbackURL(s.cfg.PublicURL, session.ID)
	if err != nil {
		return fmt.Errorf("status callback url: %w", err)
	}

	res, err := s.gateway.PlaceCall(ctx, telephony.PlaceCallRequest{
		To:                contact.Phone,
		From:              s.cfg.FromNumber,
		StreamURL:         streamURL,
		StatusCallbackURL: callbackURL,
		CallSessionID:     session.ID,
	})
	if err != nil {
		return fmt.Errorf("place call: %w", err)
	}

	if err := s.sessions.SetProviderCallID(ctx, session.ID, res.ProviderCallID); err != nil {
		return fmt.Errorf("record provider call id: %w", err)
	}
	s.log.Info("call placed",
		"call_session_id", session.ID, "provider_call_id", res.ProviderCallID,
		"campaign_id", session.CampaignID, "to", contact.Phone)
	return nil
}

// failDial finalizes a session whose call never left the building.
func (s *Service) failDial(ctx context.Context, session calls.CallSession, cause error) error {
	s.log.Error("dial failed",
		"call_session_id", session.ID, "campaign_id", session.CampaignID, "err", cause)

	now := s.clock()
	if err := s.sessions.Finish(ctx, session.ID, calls.StatusFailed, calls.OutcomeFailed, now, nil); err != nil {
		s.log.Error("failed-dial finalize failed", "call_session_id", session.ID, "err", err)
	}
	if err := s.notifier.HandleCallComplete(ctx, session.CampaignID, session.ContactID, calls.OutcomeFailed); err != nil {
		s.log.Error("failed-dial notify failed", "call_session_id", session.ID, "err", err)
	}
	return cause
}

// HandleStatus applies one carrier status callback. Progress statuses move
// the session forward; terminal statuses release the dial slot and, when
// the bridge never finalized the call (it never connected), finish the
// session and notify the scheduler.
func (s *Service) HandleStatus(ctx context.Context, cb telephony.StatusCallback) error {
	update, err := telephony.MapCallStatus(cb.CallStatus)
	if err != nil {
		return err
	}
	session, err := s.sessions.GetByProviderCallID(ctx, cb.ProviderCallID)
	if err != nil {
		return fmt.Errorf("resolve session for %s: %w", cb.ProviderCallID, err)
	}

	if !update.Terminal {
		if session.Status.Terminal() {
			// Late progress callback after the call ended; nothing to do.
			return nil
		}
		if err := s.sessions.SetStatus(ctx, session.ID, update.Status); err != nil {
			return err
		}
		s.log.Info("call progress",
			"call_session_id", session.ID, "status", update.Status)
		return nil
	}

	if err := s.limiter.Release(ctx); err != nil {
		s.log.Error("dial slot release failed", "call_session_id", session.ID, "err", err)
	}

	if session.Status.Terminal() {
		// Bridge finalization already ran.
		return nil
	}

	if err := s.sessions.Finish(ctx, session.ID, update.Status, update.Outcome, s.clock(), cb.Duration); err != nil {
		return err
	}
	s.log.Info("call ended via status callback",
		"call_session_id", session.ID, "outcome", update.Outcome)
	return s.notifier.HandleCallComplete(ctx, session.CampaignID, session.ContactID, update.Outcome)
}
