package bridge

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"dialer-platform/internal/calls"
)

func newTestManager(t *testing.T) (*Manager, *calls.MemoryRepo) {
	t.Helper()
	sessions := calls.NewMemoryRepo()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(sessions, NoopNotifier(), &fakeModelDialer{conn: newFakeConn()}, DefaultRegistry(), log)
	m.clock = func() time.Time {
		return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	}
	return m, sessions
}

func TestAttachCall_UnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	conn := newFakeConn()
	if err := m.AttachCall(context.Background(), conn, "missing"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
	if !conn.closed {
		t.Fatalf("connection left open")
	}
}

func TestAttachCall_TerminalSession(t *testing.T) {
	m, sessions := newTestManager(t)
	ended := time.Now()
	if err := sessions.Create(context.Background(), calls.CallSession{
		ID:         "cs-done",
		ContactID:  "ct-1",
		CampaignID: "camp-1",
		Status:     calls.StatusCompleted,
		QueuedAt:   ended.Add(-time.Minute),
		DialedAt:   &ended,
		AnsweredAt: &ended,
		EndedAt:    &ended,
		Outcome:    calls.OutcomeCompleted,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	conn := newFakeConn()
	if err := m.AttachCall(context.Background(), conn, "cs-done"); err == nil {
		t.Fatalf("expected error attaching to a finished call")
	}
	if !conn.closed {
		t.Fatalf("connection left open")
	}
}

func TestAttachPendingCall_UsesStartParameter(t *testing.T) {
	m, sessions := newTestManager(t)
	now := m.clock()
	if err := sessions.Create(context.Background(), calls.CallSession{
		ID:         "cs-1",
		ContactID:  "ct-1",
		CampaignID: "camp-1",
		Direction:  calls.DirectionOutbound,
		Status:     calls.StatusRinging,
		QueuedAt:   now.Add(-time.Minute),
		DialedAt:   &now,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	conn := newFakeConn()
	conn.in <- []byte(`{"event":"connected"}`)
	conn.in <- []byte(`{"event":"start","start":{"streamSid":"MZ77","customParameters":{"callSessionId":"cs-1"}}}`)
	conn.in <- []byte(`{"event":"stop"}`)

	id, err := m.AttachPendingCall(context.Background(), conn)
	if err != nil {
		t.Fatalf("attach pending: %v", err)
	}
	if id != "cs-1" {
		t.Fatalf("id = %s, want cs-1", id)
	}

	// The buffered start frame was replayed into the bridge.
	s := mustGet(t, sessions, "cs-1")
	if s.StreamSID != "MZ77" || s.AnsweredAt == nil {
		t.Fatalf("start frame not replayed: %+v", s)
	}
	if s.Status != calls.StatusCompleted {
		t.Fatalf("status = %s, want completed after stop", s.Status)
	}
}

func TestAttachPendingCall_MintsInboundSession(t *testing.T) {
	m, sessions := newTestManager(t)

	conn := newFakeConn()
	conn.in <- []byte(`{"event":"start","start":{"streamSid":"MZ88"}}`)
	conn.in <- []byte(`{"event":"stop"}`)

	id, err := m.AttachPendingCall(context.Background(), conn)
	if err != nil {
		t.Fatalf("attach pending: %v", err)
	}

	s := mustGet(t, sessions, id)
	if s.Direction != calls.DirectionInbound {
		t.Fatalf("direction = %s", s.Direction)
	}
	if s.CampaignID != "" || s.ContactID != "" {
		t.Fatalf("inbound session bound to a campaign: %+v", s)
	}
	if s.StreamSID != "MZ88" || s.Status != calls.StatusCompleted {
		t.Fatalf("session = %+v, want answered then completed", s)
	}
}

func TestAttachPendingCall_StreamEndsBeforeStart(t *testing.T) {
	m, _ := newTestManager(t)
	conn := newFakeConn()
	_ = conn.Close()
	if _, err := m.AttachPendingCall(context.Background(), conn); err == nil {
		t.Fatalf("expected error when the stream ends before a start frame")
	}
}

type stubContextReader struct {
	cc  calls.CallContext
	hit bool
}

func (r stubContextReader) Get(_ context.Context, id string) (calls.CallContext, bool, error) {
	if r.hit && r.cc.CallSessionID == id {
		return r.cc, true, nil
	}
	return calls.CallContext{}, false, nil
}

func TestLoadContext_PrefersCacheThenSessionRow(t *testing.T) {
	m, _ := newTestManager(t)
	session := calls.CallSession{
		ID:         "cs-1",
		ContactID:  "ct-1",
		CampaignID: "camp-1",
		ToNumber:   "+15550100",
	}

	m.contexts = stubContextReader{
		cc:  calls.CallContext{CallSessionID: "cs-1", ContactID: "ct-1", ContactName: "Dana Reyes"},
		hit: true,
	}
	cc := m.loadContext(context.Background(), session)
	if cc.ContactName != "Dana Reyes" {
		t.Fatalf("context = %+v, want the cached entry", cc)
	}

	// Cache miss falls back to what the session row carries.
	m.contexts = stubContextReader{}
	cc = m.loadContext(context.Background(), session)
	if cc.ContactID != "ct-1" || cc.Phone != "+15550100" || cc.ContactName != "" {
		t.Fatalf("fallback context = %+v", cc)
	}
}

func TestObserver_ReceivesBroadcastsAndPushesOverrides(t *testing.T) {
	m, _ := newTestManager(t)
	obs := newFakeConn()

	done := make(chan struct{})
	go func() {
		m.AttachObserver(context.Background(), obs)
		close(done)
	}()

	// Push overrides from the console.
	obs.in <- []byte(`{"type":"session.update","session":{"voice":"alloy","temperature":0.6}}`)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if ov := m.savedOverrides(); ov != nil && ov["voice"] == "alloy" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("overrides never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	m.broadcast([]byte(`{"type":"response.done"}`))
	writes := obs.written()
	if len(writes) != 1 || writes[0] != `{"type":"response.done"}` {
		t.Fatalf("observer writes = %v", writes)
	}

	_ = obs.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("observer loop did not exit on close")
	}
}

func TestObserver_OverridesFlowIntoSessionConfig(t *testing.T) {
	m, sessions := newTestManager(t)
	m.savedConfig = map[string]any{"voice": "alloy"}

	now := m.clock()
	if err := sessions.Create(context.Background(), calls.CallSession{
		ID:         "cs-1",
		ContactID:  "ct-1",
		CampaignID: "camp-1",
		Status:     calls.StatusRinging,
		QueuedAt:   now.Add(-time.Minute),
		DialedAt:   &now,
		ConfigSnapshot: calls.ConfigSnapshot{
			Voice:        "verse",
			SystemPrompt: "greet the caller",
		},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	b := &Bridge{
		session:   mustGet(t, sessions, "cs-1"),
		telephony: newJSONConn(newFakeConn()),
		mgr:       m,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	cfg := b.sessionConfig()
	if cfg["voice"] != "alloy" {
		t.Fatalf("voice = %v, want observer override over snapshot", cfg["voice"])
	}
	if cfg["instructions"] != "greet the caller" {
		t.Fatalf("instructions = %v", cfg["instructions"])
	}
}

func mustGet(t *testing.T, repo *calls.MemoryRepo, id string) calls.CallSession {
	t.Helper()
	s, err := repo.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get %s: %v", id, err)
	}
	return s
}
