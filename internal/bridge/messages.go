package bridge

import "encoding/json"

// Telephony stream frames (Twilio media stream protocol). Only the fields
// the bridge reads are modeled; unknown events pass through untouched.

type telephonyFrame struct {
	Event string `json:"event"`

	Start *struct {
		StreamSID string            `json:"streamSid"`
		CallSID   string            `json:"callSid"`
		Custom    map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`

	Media *struct {
		// Timestamp is milliseconds since stream start.
		Timestamp int    `json:"timestamp"`
		Payload   string `json:"payload"`
	} `json:"media,omitempty"`

	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
}

type outboundMedia struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     mediaPayload `json:"media"`
}

type mediaPayload struct {
	Payload string `json:"payload"`
}

type outboundMark struct {
	Event     string   `json:"event"`
	StreamSID string   `json:"streamSid"`
	Mark      markName `json:"mark"`
}

type markName struct {
	Name string `json:"name"`
}

type outboundClear struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
}

// Speech model realtime events. The bridge keys off Type and keeps the raw
// frame for transcript capture.

type modelEvent struct {
	Type string `json:"type"`

	// response.audio.delta
	Delta  string `json:"delta,omitempty"`
	ItemID string `json:"item_id,omitempty"`

	// response.output_item.done / conversation.item.created
	Item *modelItem `json:"item,omitempty"`
}

type modelItem struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Name      string          `json:"name,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Role      string          `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type itemTruncate struct {
	Type         string `json:"type"`
	ItemID       string `json:"item_id"`
	ContentIndex int    `json:"content_index"`
	AudioEndMS   int    `json:"audio_end_ms"`
}

type functionOutputItem struct {
	Type string             `json:"type"`
	Item functionOutputBody `json:"item"`
}

type functionOutputBody struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type responseCreate struct {
	Type string `json:"type"`
}

type sessionUpdate struct {
	Type    string         `json:"type"`
	Session map[string]any `json:"session"`
}

// defaultSessionConfig is the baseline realtime session: server-side voice
// activity detection and G.711 mu-law in both directions to match the
// telephony stream.
func defaultSessionConfig() map[string]any {
	return map[string]any{
		"modalities":     []string{"text", "audio"},
		"turn_detection": map[string]any{"type": "server_vad"},
		"voice":          "ash",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"input_audio_format":  "g711_ulaw",
		"output_audio_format": "g711_ulaw",
	}
}

// mergeSessionConfig layers overrides on top of base, last writer wins.
func mergeSessionConfig(base map[string]any, overrides ...map[string]any) map[string]any {
	out := make(map[string]any, len(base))
	for k, v := range base {
		out[k] = v
	}
	for _, o := range overrides {
		for k, v := range o {
			if v == nil {
				continue
			}
			out[k] = v
		}
	}
	return out
}
