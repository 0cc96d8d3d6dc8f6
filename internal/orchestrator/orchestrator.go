// Package orchestrator wires the Connection Manager and the State Engine
// together and runs the core's single event loop (spec.md §4.6): the
// consumer of every connmgr.TaggedEvent, the driver of the 1Hz UI tick, and
// the owner of startup reconciliation (reconcile_pids, reconnect_all).
//
// Grounded on the teacher's main.go wiring (construct store, construct
// manager, construct router, run) generalized into an explicit component
// with its own Run loop instead of inline code in main.
package orchestrator

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wyliodrin/async-tracing-monitor/internal/connection"
	"github.com/wyliodrin/async-tracing-monitor/internal/connmgr"
	"github.com/wyliodrin/async-tracing-monitor/internal/domain"
	"github.com/wyliodrin/async-tracing-monitor/internal/instrument"
	"github.com/wyliodrin/async-tracing-monitor/internal/journal"
	"github.com/wyliodrin/async-tracing-monitor/internal/probe"
	"github.com/wyliodrin/async-tracing-monitor/internal/stateengine"
)

// uiTickInterval matches the Connection Supervisor's own sample tick
// (spec.md §4.6: the UI is pushed a full snapshot once per second).
const uiTickInterval = time.Second

// Snapshot is the point-in-time view broadcast to the UI Emitter Surface.
type Snapshot struct {
	Applications map[string]*domain.Application
	Tasks        map[string]*domain.Task
}

// Orchestrator is the core's top-level driver.
type Orchestrator struct {
	conns   *connmgr.Manager
	engine  *stateengine.Engine
	journal *journal.DB
	events  chan connmgr.TaggedEvent

	onSnapshot func(Snapshot)
}

// New constructs an Orchestrator. dialer is forwarded to the Connection
// Manager for every Supervisor it starts; process sampling always goes
// through the real Process Probe. j may be nil, in which case connection
// lifecycle events are simply not journaled.
func New(engine *stateengine.Engine, dialer instrument.Dialer, j *journal.DB, onSnapshot func(Snapshot)) *Orchestrator {
	events := make(chan connmgr.TaggedEvent, 100)
	conns := connmgr.New(dialer, sampleViaProbe, events)
	return &Orchestrator{conns: conns, engine: engine, journal: j, events: events, onSnapshot: onSnapshot}
}

// sampleViaProbe adapts probe.SampleProcess to the connection.Sampler
// signature — probe.Sample and connection.Sample are independently
// defined (the Process Probe and the Connection Supervisor don't import
// each other) so a thin conversion sits at the one place they meet.
func sampleViaProbe(ctx context.Context, pid int32) (connection.Sample, bool) {
	s, ok := probe.SampleProcess(ctx, pid)
	if !ok {
		return connection.Sample{}, false
	}
	return connection.Sample{CPUPercent: s.CPUPercent, MemoryBytes: s.MemoryBytes}, true
}

// ApplicationsSnapshot returns a detached snapshot of the applications
// collection, for the UI Emitter Surface's GET /api/applications.
func (o *Orchestrator) ApplicationsSnapshot() map[string]*domain.Application {
	return o.engine.Applications()
}

// TasksSnapshot returns a detached snapshot of the tasks collection, for
// the UI Emitter Surface's GET /api/tasks.
func (o *Orchestrator) TasksSnapshot() map[string]*domain.Task {
	return o.engine.Tasks()
}

// ConnectionHistory returns the most recent limit connection lifecycle
// events recorded for id, newest first. Returns an empty slice if no
// journal is configured.
func (o *Orchestrator) ConnectionHistory(ctx context.Context, id uuid.UUID, limit int) ([]journal.ConnectionEvent, error) {
	if o.journal == nil {
		return nil, nil
	}
	return o.journal.Recent(ctx, id, limit)
}

// AddApplication registers a new application: probes for its hosting PID
// (best-effort; absence is not an error per spec.md §4.1), persists the
// record Disabled, then immediately enables it by starting a Supervisor
// (spec.md §4.6 add_application implies connect).
func (o *Orchestrator) AddApplication(ctx context.Context, title, url string) (uuid.UUID, error) {
	id := uuid.New()
	pid, _ := probe.PIDHosting(ctx, url)
	var startTime time.Time
	if pid != 0 {
		if t, ok := probe.StartTime(ctx, pid); ok {
			startTime = t
		}
	}

	o.engine.StoreApp(&domain.Application{
		ID:        id,
		Title:     title,
		URL:       url,
		PID:       pid,
		StartTime: startTime,
		State:     domain.StateDisabled,
	})

	if err := o.enable(ctx, id, url, pid); err != nil {
		return id, err
	}
	return id, nil
}

// EnableApplication (re)starts a Supervisor for an existing, Disabled
// application.
func (o *Orchestrator) EnableApplication(ctx context.Context, id uuid.UUID) error {
	apps := o.engine.Applications()
	app, ok := apps[id.String()]
	if !ok {
		return errUnknownApp
	}
	return o.enable(ctx, id, app.URL, app.PID)
}

func (o *Orchestrator) enable(ctx context.Context, id uuid.UUID, url string, pid int32) error {
	handle, err := o.conns.Connect(ctx, id, url, pid)
	if err != nil {
		return err
	}
	o.engine.EnableApp(id, handle)
	return nil
}

// DisableApplication stops id's Supervisor and marks it Disabled.
func (o *Orchestrator) DisableApplication(id uuid.UUID) {
	o.conns.Disconnect(id)
	o.engine.DisableApp(id)
}

// DeleteApplication stops id's Supervisor (if live) and removes it, its
// tasks, and its connection-event history entirely.
func (o *Orchestrator) DeleteApplication(id uuid.UUID) {
	o.conns.Disconnect(id)
	o.engine.DeleteApp(id)
	if o.journal != nil {
		if err := o.journal.DeleteForApp(context.Background(), id); err != nil {
			log.Printf("orchestrator: journal cleanup failed for %s: %v", id, err)
		}
	}
}

var errUnknownApp = &unknownAppError{}

type unknownAppError struct{}

func (*unknownAppError) Error() string { return "orchestrator: unknown application id" }

// ReconcilePIDs re-probes every application's URL and updates its recorded
// PID where the probe finds one (spec.md §4.6 reconcile_pids), run once at startup before
// ReconnectAll.
func (o *Orchestrator) ReconcilePIDs(ctx context.Context) {
	apps := o.engine.Applications()
	updates := make(map[uuid.UUID]int32)
	for _, app := range apps {
		pid, ok := probe.PIDHosting(ctx, app.URL)
		if ok {
			updates[app.ID] = pid
		}
	}
	if len(updates) > 0 {
		o.engine.ReconcilePIDs(updates)
	}
}

// ReconnectAll starts a Supervisor for every application recorded Enabled
// at the time the process last exited. A failure to reconnect any one
// application is logged and that application is left Disabled — it is not
// a startup-fatal condition (spec.md §9 Open Question).
func (o *Orchestrator) ReconnectAll(ctx context.Context) {
	apps := o.engine.Applications()
	for _, app := range apps {
		if app.State != domain.StateEnabled {
			continue
		}
		if err := o.enable(ctx, app.ID, app.URL, app.PID); err != nil {
			log.Printf("orchestrator: reconnect %s (%s) failed: %v", app.ID, app.URL, err)
			o.engine.DisableApp(app.ID)
		}
	}
}

// Run consumes tagged Supervisor events and drives the 1Hz UI tick until
// ctx is done. It is meant to run in its own goroutine for the lifetime of
// the process.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(uiTickInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-o.events:
			o.handleEvent(ctx, ev)
		case <-ticker.C:
			o.publishSnapshot()
		case <-ctx.Done():
			o.conns.Shutdown()
			return
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev connmgr.TaggedEvent) {
	switch ev.Kind {
	case connection.Connecting:
		o.recordJournal(ctx, ev.AppID, journal.EventConnecting, "")
	case connection.Connected:
		o.recordJournal(ctx, ev.AppID, journal.EventConnected, "")
	case connection.TaskUpdate:
		o.engine.HandleTaskUpdate(ev.AppID, ev.Update)
	case connection.AppUpdate:
		o.engine.HandleAppUpdate(ev.AppID, ev.Sample.CPUPercent, ev.Sample.MemoryBytes)
	case connection.Error:
		log.Printf("orchestrator: supervisor error for %s: %v", ev.AppID, ev.Err)
		detail := ""
		if ev.Err != nil {
			detail = ev.Err.Error()
		}
		o.recordJournal(ctx, ev.AppID, journal.EventError, detail)
	case connection.Disconnected:
		// The application may have been explicitly disabled/deleted
		// already; if not (e.g. the Supervisor stopped because its context
		// was cancelled), there is nothing further to reconcile here — it
		// simply stops emitting and the application's last known stats stand.
		o.recordJournal(ctx, ev.AppID, journal.EventDisconnected, "")
	}
}

func (o *Orchestrator) recordJournal(ctx context.Context, appID uuid.UUID, kind journal.EventKind, detail string) {
	if o.journal == nil {
		return
	}
	if err := o.journal.Record(ctx, appID, kind, detail); err != nil {
		log.Printf("orchestrator: journal record failed for %s: %v", appID, err)
	}
}

// SetSnapshotSink installs (or replaces) the function invoked once per
// second with the latest snapshot. Separated from New so the UI Emitter
// Surface, which itself needs a live *Orchestrator to construct its
// handlers, can be wired in after the fact.
func (o *Orchestrator) SetSnapshotSink(fn func(Snapshot)) {
	o.onSnapshot = fn
}

func (o *Orchestrator) publishSnapshot() {
	if o.onSnapshot == nil {
		return
	}
	o.onSnapshot(Snapshot{
		Applications: o.engine.Applications(),
		Tasks:        o.engine.Tasks(),
	})
}
