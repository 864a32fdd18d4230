package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"dialer-platform/internal/calls"
)

// Bridge relays one live call between the telephony media stream and the
// realtime speech model. It owns the playback bookkeeping that makes
// barge-in work:
//
//   - latestMedia is the running media clock from the telephony stream
//     (milliseconds since stream start).
//   - responseStart is the media clock at the first audio delta of the
//     model's current response, set once per response.
//   - lastAssistantItem is the item id whose audio is on the wire.
//
// When the caller starts speaking mid-playback, elapsed playback time is
// latestMedia - responseStart; the model is told to truncate its item at
// that offset and the telephony buffer is cleared.
type Bridge struct {
	session   calls.CallSession
	callCtx   calls.CallContext
	telephony *jsonConn
	mgr       *Manager
	log       *slog.Logger

	// pending holds frames consumed before the bridge existed (session
	// identification reads ahead of attach); run replays them first.
	pending [][]byte

	mu                sync.Mutex
	model             *jsonConn
	streamSID         string
	answered          bool
	lastAssistantItem string
	responseStart     *int
	latestMedia       int
	transcript        []json.RawMessage

	finalizeOnce sync.Once
}

// errStreamStopped ends the telephony read loop on a clean stop frame.
type streamStopped struct{}

func (streamStopped) Error() string { return "media stream stopped" }

// run pumps the telephony connection until it closes, then finalizes.
func (b *Bridge) run(ctx context.Context) {
	defer b.finalize(context.WithoutCancel(ctx))
	for _, raw := range b.pending {
		if b.processFrame(ctx, raw) {
			return
		}
	}
	b.pending = nil
	for {
		_, raw, err := b.telephony.conn.ReadMessage()
		if err != nil {
			b.log.Info("media stream closed",
				"call_session_id", b.session.ID, "err", err)
			return
		}
		if b.processFrame(ctx, raw) {
			return
		}
	}
}

// processFrame handles one telephony frame and reports whether the stream
// is done.
func (b *Bridge) processFrame(ctx context.Context, raw []byte) bool {
	if err := b.handleTelephonyFrame(ctx, raw); err != nil {
		if _, ok := err.(streamStopped); !ok {
			b.log.Error("telephony frame failed",
				"call_session_id", b.session.ID, "err", err)
		}
		return true
	}
	return false
}

func (b *Bridge) handleTelephonyFrame(ctx context.Context, raw []byte) error {
	var frame telephonyFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		b.log.Warn("unparseable media frame", "call_session_id", b.session.ID, "err", err)
		return nil
	}

	switch frame.Event {
	case "start":
		if frame.Start == nil {
			return nil
		}
		return b.handleStreamStart(ctx, frame.Start.StreamSID)

	case "media":
		if frame.Media == nil {
			return nil
		}
		b.mu.Lock()
		b.latestMedia = frame.Media.Timestamp
		model := b.model
		b.mu.Unlock()
		if model == nil {
			// No model leg right now; the call itself stays up.
			return nil
		}
		if err := model.writeJSON(audioAppend{
			Type:  "input_audio_buffer.append",
			Audio: frame.Media.Payload,
		}); err != nil {
			// A dying model leg must never take the caller down with it;
			// the audio is dropped and the loop teardown clears b.model.
			b.log.Warn("model audio write failed",
				"call_session_id", b.session.ID, "err", err)
		}
		return nil

	case "stop", "close":
		return streamStopped{}

	default:
		// mark acks and anything unrecognized are noise here.
		return nil
	}
}

// handleStreamStart marks the call answered and brings up the model leg.
func (b *Bridge) handleStreamStart(ctx context.Context, streamSID string) error {
	now := b.mgr.clock()

	b.mu.Lock()
	b.streamSID = streamSID
	b.answered = true
	alreadyConnected := b.model != nil
	b.mu.Unlock()

	if err := b.mgr.sessions.MarkAnswered(ctx, b.session.ID, streamSID, now); err != nil {
		b.log.Error("mark answered failed", "call_session_id", b.session.ID, "err", err)
	}
	b.log.Info("media stream started",
		"call_session_id", b.session.ID, "stream_sid", streamSID)

	if alreadyConnected {
		return nil
	}
	return b.connectModel(ctx)
}

// connectModel dials the realtime API, configures the session from the
// call's config snapshot plus any observer overrides, and starts the model
// read loop.
func (b *Bridge) connectModel(ctx context.Context) error {
	conn, err := b.mgr.modelDialer.DialModel(ctx)
	if err != nil {
		return err
	}
	model := newJSONConn(conn)

	b.mu.Lock()
	b.model = model
	b.mu.Unlock()

	cfg := b.sessionConfig()
	if err := model.writeJSON(sessionUpdate{Type: "session.update", Session: cfg}); err != nil {
		return err
	}

	go b.modelLoop(ctx, model)
	return nil
}

// sessionConfig merges defaults, the frozen campaign snapshot and any live
// observer overrides, in that order. The dial-time call context, when
// present, tells the model who it is speaking with.
func (b *Bridge) sessionConfig() map[string]any {
	snap := b.session.ConfigSnapshot
	fromSnapshot := map[string]any{}
	instructions := snap.SystemPrompt
	if b.callCtx.ContactName != "" {
		line := fmt.Sprintf("You are speaking with %s.", b.callCtx.ContactName)
		if instructions == "" {
			instructions = line
		} else {
			instructions += "\n" + line
		}
	}
	if instructions != "" {
		fromSnapshot["instructions"] = instructions
	}
	if snap.Voice != "" {
		fromSnapshot["voice"] = snap.Voice
	}
	if len(snap.Tools) > 0 {
		var tools any
		if err := json.Unmarshal(snap.Tools, &tools); err == nil {
			fromSnapshot["tools"] = tools
		}
	}
	return mergeSessionConfig(defaultSessionConfig(), fromSnapshot, b.mgr.savedOverrides())
}

func (b *Bridge) modelLoop(ctx context.Context, model *jsonConn) {
	// Tear down only the model leg on exit; the telephony side keeps
	// running and later media frames see a nil model.
	defer func() {
		b.mu.Lock()
		if b.model == model {
			b.model = nil
		}
		b.mu.Unlock()
		_ = model.close()
	}()

	for {
		_, raw, err := model.conn.ReadMessage()
		if err != nil {
			b.log.Info("model stream closed", "call_session_id", b.session.ID, "err", err)
			return
		}
		if err := b.handleModelEvent(ctx, raw); err != nil {
			b.log.Error("model event failed", "call_session_id", b.session.ID, "err", err)
			return
		}
	}
}

func (b *Bridge) handleModelEvent(ctx context.Context, raw []byte) error {
	var ev modelEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		b.log.Warn("unparseable model event", "call_session_id", b.session.ID, "err", err)
		return nil
	}

	b.mgr.broadcast(raw)

	switch ev.Type {
	case "input_audio_buffer.speech_started":
		return b.truncatePlayback()

	case "response.audio.delta":
		return b.relayAudioDelta(ev)

	case "conversation.item.created":
		b.appendTranscript(raw)
		return nil

	case "response.output_item.done":
		b.appendTranscript(raw)
		if ev.Item != nil && ev.Item.Type == "function_call" {
			return b.handleFunctionCall(ctx, ev.Item)
		}
		return nil

	default:
		return nil
	}
}

func (b *Bridge) relayAudioDelta(ev modelEvent) error {
	b.mu.Lock()
	if b.responseStart == nil {
		start := b.latestMedia
		b.responseStart = &start
	}
	if ev.ItemID != "" {
		b.lastAssistantItem = ev.ItemID
	}
	streamSID := b.streamSID
	b.mu.Unlock()

	if err := b.telephony.writeJSON(outboundMedia{
		Event:     "media",
		StreamSID: streamSID,
		Media:     mediaPayload{Payload: ev.Delta},
	}); err != nil {
		return err
	}
	return b.telephony.writeJSON(outboundMark{
		Event:     "mark",
		StreamSID: streamSID,
		Mark:      markName{Name: "responsePart"},
	})
}

// truncatePlayback handles barge-in: the caller started speaking while
// model audio was playing.
func (b *Bridge) truncatePlayback() error {
	b.mu.Lock()
	if b.lastAssistantItem == "" || b.responseStart == nil {
		b.mu.Unlock()
		return nil
	}
	elapsed := b.latestMedia - *b.responseStart
	if elapsed < 0 {
		elapsed = 0
	}
	itemID := b.lastAssistantItem
	streamSID := b.streamSID
	model := b.model
	b.lastAssistantItem = ""
	b.responseStart = nil
	b.mu.Unlock()

	b.log.Info("barge-in, truncating playback",
		"call_session_id", b.session.ID, "item_id", itemID, "audio_end_ms", elapsed)

	if model != nil {
		if err := model.writeJSON(itemTruncate{
			Type:         "conversation.item.truncate",
			ItemID:       itemID,
			ContentIndex: 0,
			AudioEndMS:   elapsed,
		}); err != nil {
			return err
		}
	}
	return b.telephony.writeJSON(outboundClear{Event: "clear", StreamSID: streamSID})
}

// handleFunctionCall executes the requested tool and feeds the output back.
// The tool registry never fails the call; errors travel to the model as a
// structured payload.
func (b *Bridge) handleFunctionCall(ctx context.Context, item *modelItem) error {
	output := b.mgr.tools.Invoke(ctx, item.Name, item.Arguments)

	b.mu.Lock()
	model := b.model
	b.mu.Unlock()
	if model == nil {
		return nil
	}

	b.log.Info("tool invoked",
		"call_session_id", b.session.ID, "tool", item.Name)

	if err := model.writeJSON(functionOutputItem{
		Type: "conversation.item.create",
		Item: functionOutputBody{
			Type:   "function_call_output",
			CallID: item.CallID,
			Output: output,
		},
	}); err != nil {
		return err
	}
	return model.writeJSON(responseCreate{Type: "response.create"})
}

func (b *Bridge) appendTranscript(raw []byte) {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	b.mu.Lock()
	b.transcript = append(b.transcript, json.RawMessage(cp))
	b.mu.Unlock()
}

// finalize tears the call down exactly once: persist the transcript,
// finish the session with its duration, and hand the outcome back to the
// queue scheduler.
func (b *Bridge) finalize(ctx context.Context) {
	b.finalizeOnce.Do(func() {
		b.mu.Lock()
		model := b.model
		b.model = nil
		answered := b.answered
		transcript := b.transcript
		b.mu.Unlock()

		if model != nil {
			_ = model.close()
		}
		b.mgr.detach(b.session.ID, b)

		endedAt := b.mgr.clock()

		if len(transcript) > 0 {
			if err := b.mgr.sessions.SaveTranscript(ctx, calls.Transcript{
				CallSessionID: b.session.ID,
				Items:         transcript,
				CreatedAt:     endedAt,
			}); err != nil {
				b.log.Error("transcript save failed", "call_session_id", b.session.ID, "err", err)
			}
		}

		status, outcome := calls.StatusCompleted, calls.OutcomeCompleted
		var duration *int
		if answered {
			latest, err := b.mgr.sessions.Get(ctx, b.session.ID)
			if err == nil && latest.AnsweredAt != nil {
				d := int(endedAt.Sub(*latest.AnsweredAt).Seconds())
				if d < 0 {
					d = 0
				}
				duration = &d
			}
		} else {
			// Stream attached but never delivered a start frame.
			status, outcome = calls.StatusFailed, calls.OutcomeFailed
		}

		if err := b.mgr.sessions.Finish(ctx, b.session.ID, status, outcome, endedAt, duration); err != nil {
			b.log.Error("session finish failed", "call_session_id", b.session.ID, "err", err)
		}
		b.log.Info("call finalized",
			"call_session_id", b.session.ID, "outcome", outcome,
			"transcript_items", len(transcript))

		// Ad-hoc inbound sessions have no campaign to notify.
		if b.session.CampaignID != "" {
			if err := b.mgr.notifier.HandleCallComplete(ctx, b.session.CampaignID, b.session.ContactID, outcome); err != nil {
				b.log.Error("completion notify failed", "call_session_id", b.session.ID, "err", err)
			}
		}
	})
}
