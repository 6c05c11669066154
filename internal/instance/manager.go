// Package instance owns the per-instance connection state machine:
// bootstrap, pairing-code issuance, reconnection, logout, and forced
// session reset. The Manager is the sole mutator of instance state; the
// dispatcher and flush trigger borrow session handles only for send and
// lookup.
package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nextlevelbuilder/wagate/internal/alert"
	"github.com/nextlevelbuilder/wagate/internal/bus"
	"github.com/nextlevelbuilder/wagate/internal/core"
	"github.com/nextlevelbuilder/wagate/internal/wa"
)

const (
	// defaultReconnectDelay is the fixed delay before the single scheduled
	// re-bootstrap after a non-logout close. Every further close schedules
	// another retry; the policy is to keep trying while the process lives.
	defaultReconnectDelay = 3 * time.Second

	// qrWaitInterval / qrWaitAttempts bound the pairing-code wait helper.
	qrWaitInterval = 500 * time.Millisecond
	qrWaitAttempts = 20
)

// InboundHandler receives inbound text messages from connected instances.
// It is never invoked re-entrantly for the same instance.
type InboundHandler func(ctx context.Context, instanceID, senderJID, text string)

// Options configures a Manager.
type Options struct {
	ReconnectDelay time.Duration
	Notifier       alert.Notifier
	Hub            *bus.Hub
}

// Manager drives the lifecycle of all messaging-session instances.
type Manager struct {
	transport      wa.Transport
	notifier       alert.Notifier
	hub            *bus.Hub
	reconnectDelay time.Duration

	mu        sync.Mutex
	instances map[string]*state
	epochs    map[string]uint64
	inbound   InboundHandler
}

// state is the in-memory record for one instance. Guarded by Manager.mu.
type state struct {
	status      core.Status
	pairingCode string
	session     wa.Session
	cancel      context.CancelFunc
}

// NewManager creates a manager on top of the given transport.
func NewManager(transport wa.Transport, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.Notifier == nil {
		opts.Notifier = alert.Nop{}
	}
	if opts.Hub == nil {
		opts.Hub = bus.New()
	}
	return &Manager{
		transport:      transport,
		notifier:       opts.Notifier,
		hub:            opts.Hub,
		reconnectDelay: opts.ReconnectDelay,
		instances:      make(map[string]*state),
		epochs:         make(map[string]uint64),
	}
}

// SetInboundHandler installs the handler for inbound messages (the flush
// trigger plus auto-responder). Must be set before the first bootstrap.
func (m *Manager) SetInboundHandler(h InboundHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound = h
}

// Bootstrap creates or restarts an instance. Without force it is an
// idempotent no-op while a live session exists; with force it tears the
// instance down, wipes its persisted credentials, and guarantees a fresh
// pairing code on the next handshake.
func (m *Manager) Bootstrap(ctx context.Context, id string, force bool) error {
	m.mu.Lock()
	st := m.instances[id]
	if st != nil && !force {
		if st.session != nil && (st.status == core.StatusConnecting || st.status == core.StatusConnected) {
			m.mu.Unlock()
			slog.Debug("bootstrap no-op: instance live", "instance", id, "status", st.status)
			return nil
		}
		// Disconnected or handle already dropped: rebuild without
		// touching credentials.
	}
	if st != nil {
		m.teardownLocked(id, st)
	}
	m.epochs[id]++
	epoch := m.epochs[id]
	m.instances[id] = &state{status: core.StatusConnecting}
	m.mu.Unlock()

	slog.Info("bootstrapping instance", "instance", id, "force", force)

	sess, err := m.transport.Open(ctx, id, force)

	m.mu.Lock()
	if m.epochs[id] != epoch {
		// A forced reset raced us; this bootstrap no longer owns the id.
		m.mu.Unlock()
		if err == nil {
			sess.Close()
		}
		return nil
	}
	if err != nil {
		delete(m.instances, id)
		m.mu.Unlock()
		return fmt.Errorf("%w: %s: %v", core.ErrTransportUnavailable, id, err)
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	cur := m.instances[id]
	cur.session = sess
	cur.cancel = cancel
	m.mu.Unlock()

	go m.eventLoop(loopCtx, id, epoch, sess)

	m.hub.Broadcast(bus.Event{Type: bus.TypeConnection, InstanceID: id,
		Data: map[string]any{"status": core.StatusConnecting}})
	return nil
}

// teardownLocked closes any live session and removes the record. Caller
// holds m.mu. Close errors are ignored.
func (m *Manager) teardownLocked(id string, st *state) {
	if st.cancel != nil {
		st.cancel()
	}
	if st.session != nil {
		st.session.Close()
	}
	delete(m.instances, id)
}

// eventLoop consumes one session's composite event stream in order.
func (m *Manager) eventLoop(ctx context.Context, id string, epoch uint64, sess wa.Session) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sess.Events():
			if stop := m.handleEvent(ctx, id, epoch, sess, ev); stop {
				return
			}
		}
	}
}

func (m *Manager) handleEvent(ctx context.Context, id string, epoch uint64, sess wa.Session, ev wa.Event) (stop bool) {
	m.mu.Lock()
	if m.epochs[id] != epoch {
		m.mu.Unlock()
		return true
	}
	st := m.instances[id]
	if st == nil {
		m.mu.Unlock()
		return true
	}

	switch ev.Kind {
	case wa.EventPairingCode:
		st.pairingCode = ev.PairingCode
		st.status = core.StatusConnecting
		m.mu.Unlock()
		slog.Info("pairing code issued", "instance", id)
		m.hub.Broadcast(bus.Event{Type: bus.TypePairingCode, InstanceID: id})
		return false

	case wa.EventOpened:
		st.status = core.StatusConnected
		st.pairingCode = ""
		m.mu.Unlock()
		slog.Info("instance connected", "instance", id)
		m.notifier.Notify(alert.Event{InstanceID: id, Status: string(core.StatusConnected)})
		m.hub.Broadcast(bus.Event{Type: bus.TypeConnection, InstanceID: id,
			Data: map[string]any{"status": core.StatusConnected}})
		return false

	case wa.EventClosed:
		st.session = nil
		st.cancel = nil
		if ev.LoggedOut {
			st.status = core.StatusDisconnected
			m.mu.Unlock()
			sess.Close()
			slog.Info("instance logged out", "instance", id, "status_code", ev.StatusCode)
			m.notifier.Notify(alert.Event{InstanceID: id,
				Status: string(core.StatusDisconnected), Reason: "logged_out",
				Details: map[string]any{"statusCode": ev.StatusCode}})
			m.hub.Broadcast(bus.Event{Type: bus.TypeConnection, InstanceID: id,
				Data: map[string]any{"status": core.StatusDisconnected, "reason": "logged_out"}})
			return true
		}

		st.status = core.StatusConnecting
		delay := m.reconnectDelay
		m.mu.Unlock()
		sess.Close()
		slog.Warn("connection closed, scheduling reconnect",
			"instance", id, "status_code", ev.StatusCode, "delay", delay)
		time.AfterFunc(delay, func() {
			if m.epochOf(id) != epoch {
				return // instance was reset or torn down since
			}
			if err := m.Bootstrap(context.Background(), id, false); err != nil {
				slog.Error("reconnect failed", "instance", id, "error", err)
			}
		})
		m.notifier.Notify(alert.Event{InstanceID: id,
			Status: string(core.StatusConnecting), Reason: "lost_connection",
			Details: map[string]any{"statusCode": ev.StatusCode}})
		m.hub.Broadcast(bus.Event{Type: bus.TypeConnection, InstanceID: id,
			Data: map[string]any{"status": core.StatusConnecting, "reason": "lost_connection"}})
		return true

	case wa.EventMessage:
		handler := m.inbound
		connected := st.status == core.StatusConnected
		m.mu.Unlock()
		if connected && handler != nil && ev.Text != "" {
			handler(ctx, id, ev.SenderJID, ev.Text)
		}
		return false
	}

	m.mu.Unlock()
	return false
}

func (m *Manager) epochOf(id string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochs[id]
}

// Logout signs the instance out and deletes all in-memory state for it.
// No-op when the instance has no live session.
func (m *Manager) Logout(ctx context.Context, id string) error {
	m.mu.Lock()
	st := m.instances[id]
	if st == nil {
		m.mu.Unlock()
		return nil
	}
	sess := st.session
	if st.cancel != nil {
		st.cancel()
	}
	delete(m.instances, id)
	m.epochs[id]++
	m.mu.Unlock()

	if sess == nil {
		return nil
	}
	err := sess.SignOut(ctx)
	sess.Close()
	if err != nil {
		return fmt.Errorf("sign out %s: %w", id, err)
	}
	slog.Info("instance signed out", "instance", id)
	return nil
}

// ClearSession logs the instance out and wipes its persisted credentials,
// so the next bootstrap issues a brand-new pairing code.
func (m *Manager) ClearSession(ctx context.Context, id string) error {
	logoutErr := m.Logout(ctx, id)
	wipeErr := m.transport.Wipe(id)
	return errors.Join(logoutErr, wipeErr)
}

// Status returns the instance status, defaulting to disconnected for
// unknown ids.
func (m *Manager) Status(id string) core.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st := m.instances[id]; st != nil {
		return st.status
	}
	return core.StatusDisconnected
}

// PairingCode returns the last issued pairing code, if one is outstanding.
func (m *Manager) PairingCode(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.instances[id]
	if st == nil || st.pairingCode == "" {
		return "", false
	}
	return st.pairingCode, true
}

// Session returns the live session handle for send/lookup. The handle must
// not be used for lifecycle mutation.
func (m *Manager) Session(id string) (wa.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.instances[id]
	if st == nil || st.session == nil {
		return nil, false
	}
	return st.session, true
}

// List returns a summary of all known instances, sorted by id.
func (m *Manager) List() []core.InstanceInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]core.InstanceInfo, 0, len(m.instances))
	for id, st := range m.instances {
		infos = append(infos, core.InstanceInfo{
			ID:             id,
			Status:         st.status,
			HasPairingCode: st.pairingCode != "",
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// WaitForPairingCode polls the cached pairing code on a fixed interval up
// to a bounded number of attempts and returns the best-known state. It
// never blocks indefinitely: a connected instance returns immediately with
// an empty code.
func (m *Manager) WaitForPairingCode(ctx context.Context, id string) (code string, status core.Status) {
	for i := 0; i < qrWaitAttempts; i++ {
		if code, ok := m.PairingCode(id); ok {
			return code, m.Status(id)
		}
		if st := m.Status(id); st == core.StatusConnected || st == core.StatusDisconnected {
			return "", st
		}
		select {
		case <-ctx.Done():
			return "", m.Status(id)
		case <-time.After(qrWaitInterval):
		}
	}
	return "", m.Status(id)
}

// Shutdown tears down every instance without signing out, releasing all
// transport handles.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, st := range m.instances {
		m.teardownLocked(id, st)
		m.epochs[id]++
	}
}
