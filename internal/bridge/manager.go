package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dialer-platform/internal/calls"
)

// Manager owns the set of live call bridges, keyed by call session id, plus
// the optional observer connection used by the operator console.
type Manager struct {
	sessions    SessionStore
	notifier    CompletionNotifier
	modelDialer ModelDialer
	tools       *Registry
	log         *slog.Logger

	// contexts is optional; see WithContextCache.
	contexts ContextReader

	// clock is injectable for tests.
	clock func() time.Time

	mu          sync.Mutex
	bridges     map[string]*Bridge
	observer    *jsonConn
	savedConfig map[string]any
}

func NewManager(
	sessions SessionStore,
	notifier CompletionNotifier,
	modelDialer ModelDialer,
	tools *Registry,
	log *slog.Logger,
) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if tools == nil {
		tools = DefaultRegistry()
	}
	return &Manager{
		sessions:    sessions,
		notifier:    notifier,
		modelDialer: modelDialer,
		tools:       tools,
		log:         log,
		clock:       time.Now,
		bridges:     make(map[string]*Bridge),
	}
}

// WithContextCache attaches the dial-time call context mirror.
func (m *Manager) WithContextCache(c ContextReader) *Manager {
	m.contexts = c
	return m
}

// Tools exposes the registry so the control surface can list and extend it.
func (m *Manager) Tools() *Registry {
	return m.tools
}

// AttachCall binds an accepted telephony websocket to its call session and
// runs the bridge until the stream ends. A second stream for the same
// session replaces the first.
func (m *Manager) AttachCall(ctx context.Context, conn Conn, callSessionID string) error {
	session, err := m.loadAttachable(ctx, callSessionID)
	if err != nil {
		_ = conn.Close()
		return err
	}
	m.attach(ctx, session, conn, nil)
	return nil
}

// AttachPendingCall serves streams whose URL carried no session id. Frames
// are consumed until the start frame arrives; its callSessionId stream
// parameter identifies the session. A start frame without one is an ad-hoc
// inbound test call and gets a session minted on the fly, with no campaign
// or contact, so its completion never reaches the queue. The consumed
// frames are replayed into the bridge.
func (m *Manager) AttachPendingCall(ctx context.Context, conn Conn) (string, error) {
	var buffered [][]byte
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return "", fmt.Errorf("stream ended before start frame: %w", err)
		}
		buffered = append(buffered, raw)

		var frame telephonyFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Event != "start" || frame.Start == nil {
			continue
		}

		var session calls.CallSession
		if id := frame.Start.Custom["callSessionId"]; id != "" {
			session, err = m.loadAttachable(ctx, id)
		} else {
			session, err = m.mintInbound(ctx)
		}
		if err != nil {
			_ = conn.Close()
			return "", err
		}
		m.attach(ctx, session, conn, buffered)
		return session.ID, nil
	}
}

func (m *Manager) loadAttachable(ctx context.Context, callSessionID string) (calls.CallSession, error) {
	session, err := m.sessions.Get(ctx, callSessionID)
	if err != nil {
		return calls.CallSession{}, err
	}
	if session.Status.Terminal() {
		return calls.CallSession{}, fmt.Errorf("call session %s already %s", callSessionID, session.Status)
	}
	return session, nil
}

func (m *Manager) mintInbound(ctx context.Context) (calls.CallSession, error) {
	now := m.clock()
	session := calls.CallSession{
		ID:        uuid.NewString(),
		Direction: calls.DirectionInbound,
		Status:    calls.StatusRinging,
		QueuedAt:  now,
		DialedAt:  &now,
	}
	if err := m.sessions.Create(ctx, session); err != nil {
		return calls.CallSession{}, err
	}
	return session, nil
}

func (m *Manager) attach(ctx context.Context, session calls.CallSession, conn Conn, pending [][]byte) {
	callSessionID := session.ID
	b := &Bridge{
		session:   session,
		callCtx:   m.loadContext(ctx, session),
		telephony: newJSONConn(conn),
		mgr:       m,
		log:       m.log,
		pending:   pending,
	}

	m.mu.Lock()
	if prev, ok := m.bridges[callSessionID]; ok {
		m.mu.Unlock()
		m.log.Warn("replacing live bridge", "call_session_id", callSessionID)
		_ = prev.telephony.close()
		m.mu.Lock()
	}
	m.bridges[callSessionID] = b
	m.mu.Unlock()

	m.log.Info("bridge attached", "call_session_id", callSessionID)
	b.run(ctx)
}

// loadContext pulls the dial-time context mirror for the session, falling
// back to what the session row itself carries when the mirror is absent.
func (m *Manager) loadContext(ctx context.Context, session calls.CallSession) calls.CallContext {
	if m.contexts != nil {
		cc, ok, err := m.contexts.Get(ctx, session.ID)
		if err != nil {
			m.log.Warn("call context lookup failed", "call_session_id", session.ID, "err", err)
		} else if ok {
			return cc
		}
	}
	return calls.CallContext{
		CallSessionID: session.ID,
		ContactID:     session.ContactID,
		CampaignID:    session.CampaignID,
		Phone:         session.ToNumber,
	}
}

// ActiveCalls returns the session ids with a live bridge.
func (m *Manager) ActiveCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.bridges))
	for id := range m.bridges {
		out = append(out, id)
	}
	return out
}

// CloseCall forcibly ends a live bridge, if any.
func (m *Manager) CloseCall(callSessionID string) bool {
	m.mu.Lock()
	b, ok := m.bridges[callSessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	_ = b.telephony.close()
	return true
}

// AttachObserver binds the operator console websocket. It receives every
// model event from every live call and may push session.update overrides
// that apply to subsequently connected calls. A new observer replaces the
// previous one.
func (m *Manager) AttachObserver(ctx context.Context, conn Conn) {
	oc := newJSONConn(conn)

	m.mu.Lock()
	prev := m.observer
	m.observer = oc
	m.mu.Unlock()
	if prev != nil {
		_ = prev.close()
	}
	m.log.Info("observer attached")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var msg sessionUpdate
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "session.update" {
			continue
		}
		m.mu.Lock()
		m.savedConfig = msg.Session
		m.mu.Unlock()
		m.log.Info("observer session overrides updated", "keys", len(msg.Session))
	}

	m.mu.Lock()
	if m.observer == oc {
		m.observer = nil
	}
	m.mu.Unlock()
	_ = oc.close()
	m.log.Info("observer detached")
}

// broadcast forwards a raw model event to the observer, if one is attached.
// Observer write failures never disturb the call.
func (m *Manager) broadcast(raw []byte) {
	m.mu.Lock()
	oc := m.observer
	m.mu.Unlock()
	if oc == nil {
		return
	}
	if err := oc.writeRaw(raw); err != nil {
		m.log.Warn("observer write failed", "err", err)
	}
}

func (m *Manager) savedOverrides() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.savedConfig == nil {
		return nil
	}
	out := make(map[string]any, len(m.savedConfig))
	for k, v := range m.savedConfig {
		out[k] = v
	}
	return out
}

// detach removes a bridge from the live set. Only the exact bridge is
// removed so a replacement attach is never clobbered by the old finalizer.
func (m *Manager) detach(callSessionID string, b *Bridge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.bridges[callSessionID]; ok && cur == b {
		delete(m.bridges, callSessionID)
	}
}

var _ CompletionNotifier = (noopNotifier{})

// noopNotifier is useful when running the bridge without a queue, e.g. for
// ad-hoc test calls.
type noopNotifier struct{}

func (noopNotifier) HandleCallComplete(context.Context, string, string, calls.Outcome) error {
	return nil
}

// NoopNotifier returns a CompletionNotifier that ignores completions.
func NoopNotifier() CompletionNotifier {
	return noopNotifier{}
}
