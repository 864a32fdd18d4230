package telephony

import (
	"fmt"
	"net/url"
	"strconv"

	"dialer-platform/internal/calls"
)

// StatusCallback is the parsed form body of a carrier call-progress webhook.
type StatusCallback struct {
	ProviderCallID string
	CallStatus     string
	// Duration in seconds, as reported by the carrier on completion.
	Duration *int
}

// ParseStatusCallback extracts the fields this service consumes from the
// webhook form payload.
func ParseStatusCallback(form url.Values) (StatusCallback, error) {
	cb := StatusCallback{
		ProviderCallID: form.Get("CallSid"),
		CallStatus:     form.Get("CallStatus"),
	}
	if cb.ProviderCallID == "" {
		return StatusCallback{}, fmt.Errorf("status callback missing CallSid")
	}
	if cb.CallStatus == "" {
		return StatusCallback{}, fmt.Errorf("status callback missing CallStatus")
	}
	if raw := form.Get("CallDuration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil {
			return StatusCallback{}, fmt.Errorf("bad CallDuration %q", raw)
		}
		cb.Duration = &d
	}
	return cb, nil
}

// StatusUpdate is a carrier status mapped onto session state.
type StatusUpdate struct {
	Status   calls.Status
	Outcome  calls.Outcome
	Terminal bool
}

// MapCallStatus translates a carrier call status into the session
// progression. Unknown statuses return an error so new carrier states fail
// loudly instead of being silently swallowed.
func MapCallStatus(callStatus string) (StatusUpdate, error) {
	switch callStatus {
	case "queued", "initiated":
		return StatusUpdate{Status: calls.StatusDialing}, nil
	case "ringing":
		return StatusUpdate{Status: calls.StatusRinging}, nil
	case "in-progress", "answered":
		return StatusUpdate{Status: calls.StatusActive}, nil
	case "completed":
		return StatusUpdate{Status: calls.StatusCompleted, Outcome: calls.OutcomeCompleted, Terminal: true}, nil
	case "busy":
		return StatusUpdate{Status: calls.StatusFailed, Outcome: calls.OutcomeBusy, Terminal: true}, nil
	case "no-answer":
		return StatusUpdate{Status: calls.StatusFailed, Outcome: calls.OutcomeNoAnswer, Terminal: true}, nil
	case "failed", "canceled":
		return StatusUpdate{Status: calls.StatusFailed, Outcome: calls.OutcomeFailed, Terminal: true}, nil
	default:
		return StatusUpdate{}, fmt.Errorf("unknown call status %q", callStatus)
	}
}
