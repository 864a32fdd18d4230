package bridge

import (
	"context"
	"time"

	"dialer-platform/internal/calls"
)

// SessionStore is the persistence the bridge needs around a call's life.
type SessionStore interface {
	Create(ctx context.Context, s calls.CallSession) error
	Get(ctx context.Context, id string) (calls.CallSession, error)
	MarkAnswered(ctx context.Context, id, streamSID string, at time.Time) error
	Finish(ctx context.Context, id string, status calls.Status, outcome calls.Outcome, endedAt time.Time, duration *int) error
	SaveTranscript(ctx context.Context, t calls.Transcript) error
}

// ContextReader serves the dial-time call context mirror; the dialer's
// redis cache implements it.
type ContextReader interface {
	Get(ctx context.Context, callSessionID string) (calls.CallContext, bool, error)
}

// CompletionNotifier receives the call-complete edge after finalization.
// The queue scheduler implements it.
type CompletionNotifier interface {
	HandleCallComplete(ctx context.Context, campaignID, contactID string, outcome calls.Outcome) error
}

// ModelDialer opens a realtime speech-model connection.
type ModelDialer interface {
	DialModel(ctx context.Context) (Conn, error)
}
