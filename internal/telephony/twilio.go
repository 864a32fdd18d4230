package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig controls the REST client for call origination.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the API host, mainly for tests.
	BaseURL string

	Timeout time.Duration
}

func (c TwilioConfig) withDefaults() TwilioConfig {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = "https://api.twilio.com"
	}
	if out.Timeout <= 0 {
		out.Timeout = 15 * time.Second
	}
	return out
}

// TwilioGateway places calls through the Twilio Calls REST resource. The
// answer-time behavior ships inline as TwiML so no extra webhook round-trip
// is needed before the media stream opens.
type TwilioGateway struct {
	cfg    TwilioConfig
	client *http.Client
}

func NewTwilioGateway(cfg TwilioConfig) (*TwilioGateway, error) {
	cfg = cfg.withDefaults()
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}
	return &TwilioGateway{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (g *TwilioGateway) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" {
		return PlaceCallResult{}, fmt.Errorf("to and from numbers are required")
	}

	twiml, err := RenderStreamTwiML(req.StreamURL, req.CallSessionID)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("render twiml: %w", err)
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Twiml", twiml)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form["StatusCallbackEvent"] = []string{"initiated", "ringing", "answered", "completed"}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", g.cfg.BaseURL, g.cfg.AccountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return PlaceCallResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.SetBasicAuth(g.cfg.AccountSID, g.cfg.AuthToken)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return PlaceCallResult{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return PlaceCallResult{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return PlaceCallResult{}, fmt.Errorf("twilio call create failed: status %d: %s",
			resp.StatusCode, compactError(body))
	}

	var created struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return PlaceCallResult{}, fmt.Errorf("decode twilio response: %w", err)
	}
	if created.SID == "" {
		return PlaceCallResult{}, fmt.Errorf("twilio response missing call sid")
	}
	return PlaceCallResult{ProviderCallID: created.SID}, nil
}

// compactError extracts the carrier's message field when present, falling
// back to a truncated raw body.
func compactError(body []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
