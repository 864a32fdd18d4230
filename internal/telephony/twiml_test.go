package telephony

import (
	"strings"
	"testing"
)

func TestRenderStreamTwiML(t *testing.T) {
	out, err := RenderStreamTwiML("wss://dialer.example.com/call?callSessionId=cs-1", "cs-1")
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"<Response>",
		"<Connect>",
		`<Stream url="wss://dialer.example.com/call?callSessionId=cs-1">`,
		`<Parameter name="callSessionId" value="cs-1">`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("twiml missing %q:\n%s", want, out)
		}
	}
}

func TestCallStreamURL(t *testing.T) {
	tests := []struct {
		name      string
		publicURL string
		want      string
		wantErr   bool
	}{
		{
			name:      "https to wss",
			publicURL: "https://dialer.example.com",
			want:      "wss://dialer.example.com/call?callSessionId=cs-1",
		},
		{
			name:      "http to ws",
			publicURL: "http://localhost:8080",
			want:      "ws://localhost:8080/call?callSessionId=cs-1",
		},
		{
			name:      "trailing slash",
			publicURL: "https://dialer.example.com/",
			want:      "wss://dialer.example.com/call?callSessionId=cs-1",
		},
		{
			name:      "unsupported scheme",
			publicURL: "ftp://dialer.example.com",
			wantErr:   true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CallStreamURL(tc.publicURL, "cs-1")
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStatusCallbackURL(t *testing.T) {
	got, err := StatusCallbackURL("https://dialer.example.com", "cs-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "https://dialer.example.com/webhooks/twilio/status?callSessionId=cs-1"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
