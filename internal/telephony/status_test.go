package telephony

import (
	"net/url"
	"testing"

	"dialer-platform/internal/calls"
)

func TestParseStatusCallback(t *testing.T) {
	form := url.Values{}
	form.Set("CallSid", "CA123")
	form.Set("CallStatus", "completed")
	form.Set("CallDuration", "42")

	cb, err := ParseStatusCallback(form)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cb.ProviderCallID != "CA123" || cb.CallStatus != "completed" {
		t.Fatalf("callback = %+v", cb)
	}
	if cb.Duration == nil || *cb.Duration != 42 {
		t.Fatalf("duration = %v, want 42", cb.Duration)
	}
}

func TestParseStatusCallback_Invalid(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing sid", url.Values{"CallStatus": {"ringing"}}},
		{"missing status", url.Values{"CallSid": {"CA123"}}},
		{"bad duration", url.Values{"CallSid": {"CA123"}, "CallStatus": {"completed"}, "CallDuration": {"soon"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseStatusCallback(tc.form); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestMapCallStatus(t *testing.T) {
	tests := []struct {
		in   string
		want StatusUpdate
	}{
		{"queued", StatusUpdate{Status: calls.StatusDialing}},
		{"initiated", StatusUpdate{Status: calls.StatusDialing}},
		{"ringing", StatusUpdate{Status: calls.StatusRinging}},
		{"in-progress", StatusUpdate{Status: calls.StatusActive}},
		{"answered", StatusUpdate{Status: calls.StatusActive}},
		{"completed", StatusUpdate{Status: calls.StatusCompleted, Outcome: calls.OutcomeCompleted, Terminal: true}},
		{"busy", StatusUpdate{Status: calls.StatusFailed, Outcome: calls.OutcomeBusy, Terminal: true}},
		{"no-answer", StatusUpdate{Status: calls.StatusFailed, Outcome: calls.OutcomeNoAnswer, Terminal: true}},
		{"failed", StatusUpdate{Status: calls.StatusFailed, Outcome: calls.OutcomeFailed, Terminal: true}},
		{"canceled", StatusUpdate{Status: calls.StatusFailed, Outcome: calls.OutcomeFailed, Terminal: true}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := MapCallStatus(tc.in)
			if err != nil {
				t.Fatalf("map: %v", err)
			}
			if got != tc.want {
				t.Fatalf("MapCallStatus(%q) = %+v, want %+v", tc.in, got, tc.want)
			}
		})
	}
}

func TestMapCallStatus_Unknown(t *testing.T) {
	if _, err := MapCallStatus("teleported"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
