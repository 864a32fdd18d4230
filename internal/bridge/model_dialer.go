package bridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
)

// RealtimeDialer opens websocket sessions against the OpenAI realtime API.
type RealtimeDialer struct {
	APIKey string
	Model  string

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

func (d *RealtimeDialer) DialModel(ctx context.Context) (Conn, error) {
	if d.APIKey == "" {
		return nil, fmt.Errorf("realtime api key is required")
	}
	if d.Model == "" {
		return nil, fmt.Errorf("realtime model is required")
	}

	u := url.URL{
		Scheme:   "wss",
		Host:     "api.openai.com",
		Path:     "/v1/realtime",
		RawQuery: url.Values{"model": {d.Model}}.Encode(),
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}
	return conn, nil
}
