package instance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/core"
	"github.com/nextlevelbuilder/wagate/internal/wa"
)

type fakeSession struct {
	events chan wa.Event

	mu        sync.Mutex
	closed    bool
	signedOut bool
	sent      []string
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan wa.Event, 16)}
}

func (s *fakeSession) Events() <-chan wa.Event { return s.events }

func (s *fakeSession) Send(_ context.Context, jid string, _ wa.Outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, jid)
	return nil
}

func (s *fakeSession) Lookup(context.Context, string) (wa.Lookup, error) {
	return wa.Lookup{Exists: true}, nil
}

func (s *fakeSession) SignOut(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signedOut = true
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSession) ConnectedUser() (string, bool) { return "", false }

type openCall struct {
	id    string
	fresh bool
}

type fakeTransport struct {
	mu       sync.Mutex
	opens    []openCall
	sessions []*fakeSession
	wipes    []string
}

func (t *fakeTransport) Open(_ context.Context, id string, fresh bool) (wa.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens = append(t.opens, openCall{id, fresh})
	s := newFakeSession()
	t.sessions = append(t.sessions, s)
	return s, nil
}

func (t *fakeTransport) Wipe(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.wipes = append(t.wipes, id)
	return nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.opens)
}

func (t *fakeTransport) lastSession() *fakeSession {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.sessions) == 0 {
		return nil
	}
	return t.sessions[len(t.sessions)-1]
}

func newTestManager(t *testing.T, tr *fakeTransport) *Manager {
	t.Helper()
	m := NewManager(tr, Options{ReconnectDelay: 20 * time.Millisecond})
	t.Cleanup(m.Shutdown)
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStatus_UnknownIDIsDisconnected(t *testing.T) {
	m := newTestManager(t, &fakeTransport{})
	if got := m.Status("never-seen"); got != core.StatusDisconnected {
		t.Errorf("Status(unknown) = %q, want disconnected", got)
	}
	if _, ok := m.PairingCode("never-seen"); ok {
		t.Error("PairingCode(unknown) should not exist")
	}
}

func TestBootstrap_IdempotentWhileConnecting(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)

	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatalf("first bootstrap: %v", err)
	}
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if n := tr.openCount(); n != 1 {
		t.Errorf("transport opened %d times, want 1 (second bootstrap must be a no-op)", n)
	}
	if got := m.Status("acme"); got != core.StatusConnecting {
		t.Errorf("status = %q, want connecting", got)
	}
}

func TestOpened_ClearsPairingCode(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	sess := tr.lastSession()

	sess.events <- wa.Event{Kind: wa.EventPairingCode, PairingCode: "2@abc"}
	waitFor(t, "pairing code", func() bool {
		_, ok := m.PairingCode("acme")
		return ok
	})
	code, _ := m.PairingCode("acme")
	if code != "2@abc" {
		t.Fatalf("pairing code = %q", code)
	}

	sess.events <- wa.Event{Kind: wa.EventOpened}
	waitFor(t, "connected", func() bool { return m.Status("acme") == core.StatusConnected })
	if _, ok := m.PairingCode("acme"); ok {
		t.Error("pairing code must be cleared the instant the instance connects")
	}
}

func TestForceBootstrap_InvalidatesPairingCodeAndWipes(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	first := tr.lastSession()
	first.events <- wa.Event{Kind: wa.EventPairingCode, PairingCode: "old-code"}
	waitFor(t, "pairing code", func() bool {
		_, ok := m.PairingCode("acme")
		return ok
	})

	if err := m.Bootstrap(context.Background(), "acme", true); err != nil {
		t.Fatal(err)
	}

	if code, ok := m.PairingCode("acme"); ok {
		t.Errorf("pairing code %q survived force bootstrap", code)
	}
	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Error("previous session not torn down on force bootstrap")
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.opens) != 2 {
		t.Fatalf("opened %d times, want 2", len(tr.opens))
	}
	if tr.opens[0].fresh || !tr.opens[1].fresh {
		t.Errorf("fresh flags = %v, want [false true]", tr.opens)
	}
}

func TestClosedLoggedOut_NoReconnect(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	sess := tr.lastSession()
	sess.events <- wa.Event{Kind: wa.EventOpened}
	waitFor(t, "connected", func() bool { return m.Status("acme") == core.StatusConnected })

	sess.events <- wa.Event{Kind: wa.EventClosed, LoggedOut: true, StatusCode: 401}
	waitFor(t, "disconnected", func() bool { return m.Status("acme") == core.StatusDisconnected })

	// Give any (wrong) reconnect timer room to fire.
	time.Sleep(100 * time.Millisecond)
	if n := tr.openCount(); n != 1 {
		t.Errorf("transport opened %d times after logout close, want 1 (no reconnect)", n)
	}

	// A repeat bootstrap starts a genuinely fresh handshake.
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	if n := tr.openCount(); n != 2 {
		t.Errorf("bootstrap after logout opened %d times total, want 2", n)
	}
}

func TestClosedOtherReason_SchedulesSingleReconnect(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	sess := tr.lastSession()
	sess.events <- wa.Event{Kind: wa.EventOpened}
	waitFor(t, "connected", func() bool { return m.Status("acme") == core.StatusConnected })

	sess.events <- wa.Event{Kind: wa.EventClosed, StatusCode: 503}
	waitFor(t, "status back to connecting", func() bool {
		return m.Status("acme") == core.StatusConnecting
	})

	waitFor(t, "reconnect", func() bool { return tr.openCount() == 2 })

	// Exactly one new handle: no duplicate reconnects for a single close.
	time.Sleep(100 * time.Millisecond)
	if n := tr.openCount(); n != 2 {
		t.Errorf("transport opened %d times, want exactly 2", n)
	}
	if _, ok := m.Session("acme"); !ok {
		t.Error("no live session after reconnect")
	}
}

func TestForceBootstrap_CancelsPendingReconnect(t *testing.T) {
	tr := &fakeTransport{}
	m := NewManager(tr, Options{ReconnectDelay: 150 * time.Millisecond})
	t.Cleanup(m.Shutdown)

	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	sess := tr.lastSession()
	sess.events <- wa.Event{Kind: wa.EventClosed, StatusCode: 408}
	waitFor(t, "handle dropped", func() bool {
		_, ok := m.Session("acme")
		return !ok
	})

	// Force reset while the reconnect timer is still pending.
	if err := m.Bootstrap(context.Background(), "acme", true); err != nil {
		t.Fatal(err)
	}
	opensAfterForce := tr.openCount()

	// The stale timer must observe the bumped epoch and no-op.
	time.Sleep(300 * time.Millisecond)
	if n := tr.openCount(); n != opensAfterForce {
		t.Errorf("stale reconnect timer reanimated the instance: %d opens, want %d", n, opensAfterForce)
	}
}

func TestLogout_DeletesStateAndSignsOut(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	sess := tr.lastSession()

	if err := m.Logout(context.Background(), "acme"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	sess.mu.Lock()
	signedOut := sess.signedOut
	sess.mu.Unlock()
	if !signedOut {
		t.Error("session not signed out")
	}
	if got := m.Status("acme"); got != core.StatusDisconnected {
		t.Errorf("status after logout = %q, want disconnected", got)
	}
	if len(m.List()) != 0 {
		t.Error("instance record survived logout")
	}

	// Idempotent for unknown / already removed ids.
	if err := m.Logout(context.Background(), "acme"); err != nil {
		t.Errorf("repeat logout: %v", err)
	}
}

func TestClearSession_WipesCredentials(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	if err := m.ClearSession(context.Background(), "acme"); err != nil {
		t.Fatalf("clear session: %v", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.wipes) != 1 || tr.wipes[0] != "acme" {
		t.Errorf("wipes = %v, want [acme]", tr.wipes)
	}
}

func TestInboundHandler_OnlyWhenConnected(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)

	var mu sync.Mutex
	var inbound []string
	m.SetInboundHandler(func(_ context.Context, instanceID, senderJID, text string) {
		mu.Lock()
		defer mu.Unlock()
		inbound = append(inbound, senderJID+"|"+text)
	})

	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	sess := tr.lastSession()

	// Still connecting: inbound events are not routed.
	sess.events <- wa.Event{Kind: wa.EventMessage, SenderJID: "1@s.whatsapp.net", Text: "early"}
	sess.events <- wa.Event{Kind: wa.EventOpened}
	waitFor(t, "connected", func() bool { return m.Status("acme") == core.StatusConnected })

	sess.events <- wa.Event{Kind: wa.EventMessage, SenderJID: "15551230000@s.whatsapp.net", Text: "hola"}
	waitFor(t, "inbound routed", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(inbound) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if inbound[0] != "15551230000@s.whatsapp.net|hola" {
		t.Errorf("inbound = %v", inbound)
	}
}

func TestList_SortedSummaries(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	for _, id := range []string{"zeta", "acme"} {
		if err := m.Bootstrap(context.Background(), id, false); err != nil {
			t.Fatal(err)
		}
	}
	infos := m.List()
	if len(infos) != 2 || infos[0].ID != "acme" || infos[1].ID != "zeta" {
		t.Fatalf("list = %+v", infos)
	}
	for _, info := range infos {
		if info.Status != core.StatusConnecting {
			t.Errorf("instance %s status = %q, want connecting", info.ID, info.Status)
		}
	}
}

func TestWaitForPairingCode_ReturnsCode(t *testing.T) {
	tr := &fakeTransport{}
	m := newTestManager(t, tr)
	if err := m.Bootstrap(context.Background(), "acme", false); err != nil {
		t.Fatal(err)
	}
	tr.lastSession().events <- wa.Event{Kind: wa.EventPairingCode, PairingCode: "2@xyz"}

	code, status := m.WaitForPairingCode(context.Background(), "acme")
	if code != "2@xyz" {
		t.Errorf("code = %q, want 2@xyz", code)
	}
	if status != core.StatusConnecting {
		t.Errorf("status = %q, want connecting", status)
	}
}
