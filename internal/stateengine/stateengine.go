// Package stateengine implements the State Engine (spec.md §4.5): the sole
// mutator of the Applications and Tasks collections. Every other component
// reaches the collections only through this package's methods or through
// read-only snapshots it hands out, so the two collections never see
// concurrent writers.
//
// Grounded on the teacher's manager bookkeeping of worker state plus the
// original mappers/tasks.rs decode-and-merge logic for turning wire Task/
// Stats payloads into stored records.
package stateengine

import (
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/wyliodrin/async-tracing-monitor/internal/domain"
	"github.com/wyliodrin/async-tracing-monitor/internal/instrument"
	"github.com/wyliodrin/async-tracing-monitor/internal/store"
)

// Engine owns the persistent Store and applies every mutation the
// Orchestrator and Connection Manager events drive.
type Engine struct {
	st store.Store
}

// New constructs an Engine over st.
func New(st store.Store) *Engine {
	return &Engine{st: st}
}

// Applications returns a detached snapshot of the applications collection.
func (e *Engine) Applications() map[string]*domain.Application {
	return e.st.ApplicationsRead()
}

// Tasks returns a detached snapshot of the tasks collection.
func (e *Engine) Tasks() map[string]*domain.Task {
	return e.st.TasksRead()
}

// StoreApp inserts or replaces app in the applications collection.
func (e *Engine) StoreApp(app *domain.Application) {
	g := e.st.ApplicationsWrite()
	defer g.Release()
	g.Elements[app.ID.String()] = app
}

// EnableApp transitions app to Enabled and records its live connection
// handle, so the Application record can later ask its Supervisor to stop.
func (e *Engine) EnableApp(id uuid.UUID, handle domain.ConnectionHandle) {
	g := e.st.ApplicationsWrite()
	defer g.Release()
	app, ok := g.Elements[id.String()]
	if !ok {
		return
	}
	app.State = domain.StateEnabled
	app.ConnectionHandle = handle
}

// DisableApp transitions app to Disabled. It does not itself ask the
// Supervisor to stop — the Orchestrator does that via the Connection
// Manager before or after calling DisableApp, per spec.md §4.6.
func (e *Engine) DisableApp(id uuid.UUID) {
	g := e.st.ApplicationsWrite()
	defer g.Release()
	app, ok := g.Elements[id.String()]
	if !ok {
		return
	}
	app.State = domain.StateDisabled
	app.ConnectionHandle = nil
}

// DeleteApp removes app from the applications collection and garbage
// collects every task belonging to it (spec.md §9 Open Question: delete_app
// DOES cascade to that application's tasks — an orphaned task with no
// owning application can never again be displayed or derived against, so
// leaving it behind would only leak memory).
func (e *Engine) DeleteApp(id uuid.UUID) {
	ag := e.st.ApplicationsWrite()
	delete(ag.Elements, id.String())
	ag.Release()

	tg := e.st.TasksWrite()
	defer tg.Release()
	for key, task := range tg.Elements {
		if task.AppID == id {
			delete(tg.Elements, key)
		}
	}
}

// HandleAppUpdate applies a CPU/memory sample to app's stored record.
func (e *Engine) HandleAppUpdate(id uuid.UUID, cpuPercent float64, memoryBytes uint64) {
	g := e.st.ApplicationsWrite()
	defer g.Release()
	app, ok := g.Elements[id.String()]
	if !ok {
		return
	}
	app.CPUUsage = cpuPercent
	app.MemoryUsage = memoryBytes
}

// HandleTaskUpdate decodes a wire TaskUpdate into the tasks collection:
// newly spawned tasks are inserted, stats for existing tasks are refreshed
// in place, and a task whose stats carry dropped_at is removed (a repeated
// drop for the same task is a no-op).
//
// Stats refresh on an already-known task is intentional, not a bug
// (spec.md §9 Open Question): the instrument stream reports the same
// task's stats repeatedly as it polls, and the State Engine must keep the
// stored Stats current so DeriveAt reflects the task's latest observed
// timing rather than only its spawn-time snapshot.
func (e *Engine) HandleTaskUpdate(appID uuid.UUID, update *instrument.TaskUpdate) {
	if update == nil {
		return
	}

	apps := e.st.ApplicationsRead()
	app, ok := apps[appID.String()]
	if !ok {
		log.Printf("stateengine: dropping task update for unknown application %s", appID)
		return
	}
	if app.State == domain.StateDisabled {
		log.Printf("stateengine: dropping task update for disabled application %s", appID)
		return
	}

	g := e.st.TasksWrite()
	defer g.Release()

	for _, wire := range update.NewTasks {
		if wire.ID == nil {
			continue
		}
		task := decodeNewTask(appID, wire)
		g.Elements[task.Key()] = task
	}

	for id, wireStats := range update.StatsUpdate {
		key := domain.TaskKey(appID, id)
		if wireStats.DroppedAt != nil {
			delete(g.Elements, key)
			continue
		}
		task, ok := g.Elements[key]
		if !ok {
			continue
		}
		applyStats(&task.Stats, wireStats)
	}
}

func decodeNewTask(appID uuid.UUID, wire instrument.Task) *domain.Task {
	task := &domain.Task{
		AppID: appID,
		ID:    wire.ID.ID,
	}
	if wire.Kind != "" {
		k := wire.Kind
		task.Kind = &k
	}
	if f, ok := instrument.FindField(&wire, "task.name"); ok {
		if s, ok := f.Value.String(); ok {
			task.Name = &s
		}
	}
	if f, ok := instrument.FindField(&wire, "task.id"); ok {
		if f.Value.U64Val != nil {
			v := *f.Value.U64Val
			task.TID = &v
		}
	}
	if wire.Location.File != nil || wire.Location.Module != nil || wire.Location.Line != nil || wire.Location.Column != nil {
		loc := domain.Location(wire.Location)
		task.Location = &loc
	}
	task.Stats.CreatedAt = time.Now()
	return task
}

func applyStats(dst *domain.Stats, wire instrument.Stats) {
	if wire.CreatedAt != nil {
		dst.CreatedAt = *wire.CreatedAt
	}
	dst.DroppedAt = wire.DroppedAt
	dst.Scheduled = wire.ScheduledTime
	if wire.PollStats != nil {
		dst.Busy = wire.PollStats.Busy
		dst.LastPollStarted = wire.PollStats.LastPollStarted
		dst.LastPollEnded = wire.PollStats.LastPollEnded
		dst.LastWake = wire.PollStats.LastWake
	}
}

// ReconcilePIDs sets the PID of each application named in updates to the
// given value, skipping ids that are not registered, and leaves probing
// the hosts itself to the caller (spec.md §4.6: reconcile_pids is an
// Orchestrator-driven scan using the Process Probe; the State Engine only
// applies the resulting PID).
func (e *Engine) ReconcilePIDs(updates map[uuid.UUID]int32) {
	g := e.st.ApplicationsWrite()
	defer g.Release()
	for id, pid := range updates {
		app, ok := g.Elements[id.String()]
		if !ok {
			continue
		}
		app.PID = pid
	}
}

// Close releases the underlying store.
func (e *Engine) Close() error {
	return e.st.Close()
}
