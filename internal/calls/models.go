package calls

import (
	"encoding/json"
	"errors"
	"time"
)

// CallSession is one outbound or inbound call attempt.
//
// Lifecycle: created by the queue scheduler when a contact is selected into
// a batch (status=queued); updated by the dialer on placement
// (status=dialing) and by gateway status callbacks through the
// dial/ring/connect progression; finalized by the bridge on transport close
// or by the status callback for calls that never connect.
//
// Invariants (see Validate):
// - DialedAt unset implies status queued.
// - AnsweredAt implies DialedAt.
// - EndedAt implies AnsweredAt or a terminal non-connect outcome.
// - Duration is set only once EndedAt is set and only if the call was answered.
type CallSession struct {
	ID         string `json:"id" db:"id"`
	ContactID  string `json:"contact_id" db:"contact_id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`

	Direction Direction `json:"direction" db:"direction"`
	Status    Status    `json:"status" db:"status"`

	FromNumber string `json:"from_number,omitempty" db:"from_number"`
	ToNumber   string `json:"to_number,omitempty" db:"to_number"`

	// ProviderCallID is the gateway's identifier (Twilio CallSid).
	ProviderCallID string `json:"provider_call_id,omitempty" db:"provider_call_id"`
	// StreamSID identifies the media stream once the call is bridged.
	StreamSID string `json:"stream_sid,omitempty" db:"stream_sid"`

	QueuedAt   time.Time  `json:"queued_at" db:"queued_at"`
	DialedAt   *time.Time `json:"dialed_at,omitempty" db:"dialed_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is derived from AnsweredAt at call end.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	Outcome Outcome `json:"outcome,omitempty" db:"outcome"`

	// ConfigSnapshot freezes the campaign's conversational settings at
	// session creation so later campaign edits don't retroactively change
	// an in-flight call.
	ConfigSnapshot ConfigSnapshot `json:"config_snapshot" db:"config_snapshot"`
}

type Direction string

const (
	DirectionOutbound Direction = "outbound"
	DirectionInbound  Direction = "inbound"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusDialing   Status = "dialing"
	StatusRinging   Status = "ringing"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the session reached a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Outcome is the terminal classification of a call attempt.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeNoAnswer  Outcome = "no_answer"
	OutcomeBusy      Outcome = "busy"
	OutcomeVoicemail Outcome = "voicemail"
)

// FailureClass reports whether the outcome counts against the contact's
// retry ceiling.
func (o Outcome) FailureClass() bool {
	switch o {
	case OutcomeFailed, OutcomeNoAnswer, OutcomeBusy:
		return true
	default:
		return false
	}
}

// ConfigSnapshot is the frozen conversational configuration for one call.
type ConfigSnapshot struct {
	SystemPrompt string          `json:"system_prompt"`
	Voice        string          `json:"voice"`
	Tools        json.RawMessage `json:"tools,omitempty"`
	CallGoal     string          `json:"call_goal"`
}

// CallContext is the ephemeral joining record between a live media stream
// and its session: written to the cache by the dialer before placement,
// read once by the bridge when the stream attaches. A bounded expiry keeps
// stale contexts from resurrecting a dead call.
type CallContext struct {
	CallSessionID string `json:"call_session_id"`
	ContactID     string `json:"contact_id"`
	CampaignID    string `json:"campaign_id"`
	ContactName   string `json:"contact_name,omitempty"`
	Phone         string `json:"phone,omitempty"`
}

// Transcript is the ordered list of model events captured during one call,
// attached at close.
type Transcript struct {
	CallSessionID string            `json:"call_session_id" db:"call_session_id"`
	Items         []json.RawMessage `json:"items" db:"items"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

var (
	errDialedWithoutLeavingQueued = errors.New("calls: dialed_at unset but status is not queued")
	errAnsweredBeforeDialed       = errors.New("calls: answered_at set without dialed_at")
	errEndedWithoutAnswerOrFail   = errors.New("calls: ended_at set without answered_at or terminal non-connect outcome")
	errDurationWithoutEnd         = errors.New("calls: duration set without ended_at")
	errDurationWithoutAnswer      = errors.New("calls: duration set for unanswered call")
)

// Validate checks the cross-field timestamp invariants.
func (s CallSession) Validate() error {
	if s.DialedAt == nil && s.Status != StatusQueued {
		return errDialedWithoutLeavingQueued
	}
	if s.AnsweredAt != nil && s.DialedAt == nil {
		return errAnsweredBeforeDialed
	}
	if s.EndedAt != nil && s.AnsweredAt == nil {
		// Never-connected calls may still end, but only with a terminal
		// non-connect classification.
		if !s.Outcome.FailureClass() {
			return errEndedWithoutAnswerOrFail
		}
	}
	if s.DurationSeconds > 0 {
		if s.EndedAt == nil {
			return errDurationWithoutEnd
		}
		if s.AnsweredAt == nil {
			return errDurationWithoutAnswer
		}
	}
	return nil
}
