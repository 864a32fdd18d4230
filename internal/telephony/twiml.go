package telephony

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
)

// TwiML document types for the <Connect><Stream> verb. Only the subset this
// service emits is modeled.

type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// RenderStreamTwiML produces the answer document that bridges the call's
// audio into the given websocket endpoint. The call session id rides along
// as a custom stream parameter.
func RenderStreamTwiML(streamURL, callSessionID string) (string, error) {
	doc := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{
				URL: streamURL,
				Parameters: []twimlParameter{
					{Name: "callSessionId", Value: callSessionID},
				},
			},
		},
	}
	raw, err := xml.Marshal(doc)
	if err != nil {
		return "", err
	}
	return xml.Header + string(raw), nil
}

// CallStreamURL builds the websocket media-stream URL for a call session
// from the service's public base URL.
func CallStreamURL(publicURL, callSessionID string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "wss", "ws":
	default:
		return "", fmt.Errorf("unsupported public url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/call"
	q := u.Query()
	q.Set("callSessionId", callSessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StatusCallbackURL builds the webhook URL the carrier posts call progress to.
func StatusCallbackURL(publicURL, callSessionID string) (string, error) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", err
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/webhooks/twilio/status"
	q := u.Query()
	q.Set("callSessionId", callSessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
