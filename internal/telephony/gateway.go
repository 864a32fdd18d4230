// Package telephony talks to the phone carrier: placing outbound calls,
// rendering the media-stream instructions for answered calls, and mapping
// carrier status callbacks onto call session state.
package telephony

import "context"

// PlaceCallRequest describes one outbound call to originate.
type PlaceCallRequest struct {
	To   string
	From string

	// StreamURL is the websocket endpoint the carrier should bridge the
	// call audio to once answered.
	StreamURL string

	// StatusCallbackURL receives call progress webhooks.
	StatusCallbackURL string

	// CallSessionID is threaded through to the media stream as a custom
	// parameter.
	CallSessionID string
}

type PlaceCallResult struct {
	// ProviderCallID is the carrier's identifier for the call (CallSid).
	ProviderCallID string
}

// Gateway originates calls with a carrier.
type Gateway interface {
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
}
