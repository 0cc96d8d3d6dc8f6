// Package connmgr implements the Connection Manager (spec.md §4.4): the
// registry of live Connection Supervisors, keyed by application id. It is
// the only component that starts or stops a Supervisor goroutine, and it
// tags every Event a Supervisor emits with the owning application's id
// before forwarding it onto one shared channel consumed by the
// Orchestrator.
//
// Grounded on the teacher's manager.Manager (a map of live worker handles
// guarded by a mutex, Start/Stop by id, a single shared result channel).
package connmgr

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/wyliodrin/async-tracing-monitor/internal/connection"
	"github.com/wyliodrin/async-tracing-monitor/internal/instrument"
)

// ErrAlreadyConnected is returned by Connect when id already has a live
// Supervisor (spec.md §4.4 invariant 1).
var ErrAlreadyConnected = errors.New("connmgr: application already connected")

// TaggedEvent is a connection.Event attributed to the application that
// produced it.
type TaggedEvent struct {
	AppID uuid.UUID
	connection.Event
}

// Sampler matches connection.Sampler; re-exported so callers of connmgr
// need not import internal/connection directly.
type Sampler = connection.Sampler

// Manager owns the set of live Supervisors and multiplexes their events
// onto a single channel.
type Manager struct {
	dialer instrument.Dialer
	sample Sampler
	events chan<- TaggedEvent

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	handles map[uuid.UUID]chan<- connection.Command
}

// New constructs a Manager. events is shared with the Orchestrator, which
// is the sole reader.
func New(dialer instrument.Dialer, sample Sampler, events chan<- TaggedEvent) *Manager {
	return &Manager{
		dialer:  dialer,
		sample:  sample,
		events:  events,
		cancels: make(map[uuid.UUID]context.CancelFunc),
		handles: make(map[uuid.UUID]chan<- connection.Command),
	}
}

// Connected reports whether id currently has a live Supervisor.
func (m *Manager) Connected(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[id]
	return ok
}

// Connect starts a Supervisor for id at url, hosted by pid, and returns a
// domain.ConnectionHandle callers can use to ask it to stop. Returns
// ErrAlreadyConnected if id already has a live Supervisor.
func (m *Manager) Connect(ctx context.Context, id uuid.UUID, url string, pid int32) (*Handle, error) {
	m.mu.Lock()
	if _, ok := m.handles[id]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyConnected
	}

	runCtx, cancel := context.WithCancel(ctx)
	relay := make(chan connection.Event, 1)
	sup, cmds := connection.New(id, url, pid, m.dialer, m.sample, relay)

	m.cancels[id] = cancel
	m.handles[id] = cmds
	m.mu.Unlock()

	go m.pump(id, relay)
	go func() {
		sup.Run(runCtx)
		m.forget(id)
	}()

	return &Handle{id: id, cmds: cmds}, nil
}

// pump forwards every Event a Supervisor emits onto the shared, tagged
// channel and returns after forwarding Disconnected, the last event a
// Supervisor emits. The relay channel itself is never closed (Supervisors
// only emit, never close).
func (m *Manager) pump(id uuid.UUID, relay <-chan connection.Event) {
	for ev := range relay {
		m.events <- TaggedEvent{AppID: id, Event: ev}
		if ev.Kind == connection.Disconnected {
			return
		}
	}
}

func (m *Manager) forget(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cancels, id)
	delete(m.handles, id)
}

// Disconnect asks id's Supervisor, if any, to stop. It is a no-op if id has
// no live Supervisor.
func (m *Manager) Disconnect(id uuid.UUID) {
	m.mu.Lock()
	cmds, ok := m.handles[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case cmds <- connection.Disconnect:
	default:
		// inbox full; the request is dropped. The Supervisor will still
		// observe shutdown via ctx cancellation if the owner also cancels.
	}
}

// Shutdown cancels every live Supervisor's context, for use during process
// shutdown where blocking on the command inbox is undesirable.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(m.cancels))
	for _, c := range m.cancels {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()
	for _, c := range cancels {
		c()
	}
}

// Handle is the domain.ConnectionHandle implementation returned by
// Connect.
type Handle struct {
	id   uuid.UUID
	cmds chan<- connection.Command
}

// Disconnect asks the owning Supervisor to shut down. Safe to call more
// than once.
func (h *Handle) Disconnect() {
	select {
	case h.cmds <- connection.Disconnect:
	default:
	}
}
