package stateengine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wyliodrin/async-tracing-monitor/internal/domain"
	"github.com/wyliodrin/async-tracing-monitor/internal/instrument"
	"github.com/wyliodrin/async-tracing-monitor/internal/store/jsonfile"
)

func newEngine(t *testing.T) *Engine {
	t.Helper()
	db, err := jsonfile.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return New(db)
}

func TestStoreAndEnableApp(t *testing.T) {
	e := newEngine(t)
	id := uuid.New()
	e.StoreApp(&domain.Application{ID: id, Title: "demo", State: domain.StateDisabled})

	e.EnableApp(id, fakeHandle{})

	apps := e.Applications()
	app, ok := apps[id.String()]
	if !ok {
		t.Fatal("expected application to be present")
	}
	if app.State != domain.StateEnabled {
		t.Errorf("expected StateEnabled, got %v", app.State)
	}
}

type fakeHandle struct{}

func (fakeHandle) Disconnect() {}

func TestHandleTaskUpdateInsertsAndRefreshesStats(t *testing.T) {
	e := newEngine(t)
	appID := uuid.New()
	e.StoreApp(&domain.Application{ID: appID, Title: "demo", State: domain.StateEnabled})

	taskID := uint64(7)
	update := &instrument.TaskUpdate{
		NewTasks: []instrument.Task{
			{ID: &instrument.TaskID{ID: taskID}, Kind: "task"},
		},
	}
	e.HandleTaskUpdate(appID, update)

	tasks := e.Tasks()
	key := domain.TaskKey(appID, taskID)
	task, ok := tasks[key]
	if !ok {
		t.Fatalf("expected task %s to be present", key)
	}
	if task.Kind == nil || *task.Kind != "task" {
		t.Errorf("expected kind 'task', got %v", task.Kind)
	}

	busy := 2 * time.Second
	second := &instrument.TaskUpdate{
		StatsUpdate: map[uint64]instrument.Stats{
			taskID: {ScheduledTime: time.Second, PollStats: &instrument.PollStats{Busy: busy}},
		},
	}
	e.HandleTaskUpdate(appID, second)

	tasks = e.Tasks()
	task = tasks[key]
	if task.Stats.Busy != busy {
		t.Errorf("expected refreshed busy time %v, got %v", busy, task.Stats.Busy)
	}
	if task.Stats.Scheduled != time.Second {
		t.Errorf("expected refreshed scheduled time 1s, got %v", task.Stats.Scheduled)
	}
}

func TestDeleteAppGarbageCollectsTasks(t *testing.T) {
	e := newEngine(t)
	appID := uuid.New()
	otherID := uuid.New()

	e.StoreApp(&domain.Application{ID: appID, Title: "demo", State: domain.StateEnabled})
	e.StoreApp(&domain.Application{ID: otherID, Title: "other", State: domain.StateEnabled})

	e.HandleTaskUpdate(appID, &instrument.TaskUpdate{NewTasks: []instrument.Task{{ID: &instrument.TaskID{ID: 1}}}})
	e.HandleTaskUpdate(otherID, &instrument.TaskUpdate{NewTasks: []instrument.Task{{ID: &instrument.TaskID{ID: 1}}}})

	e.DeleteApp(appID)

	apps := e.Applications()
	if _, ok := apps[appID.String()]; ok {
		t.Error("expected application to be deleted")
	}
	if _, ok := apps[otherID.String()]; !ok {
		t.Error("expected unrelated application to survive")
	}

	tasks := e.Tasks()
	if _, ok := tasks[domain.TaskKey(appID, 1)]; ok {
		t.Error("expected deleted app's task to be garbage collected")
	}
	if _, ok := tasks[domain.TaskKey(otherID, 1)]; !ok {
		t.Error("expected unrelated app's task to survive")
	}
}

func TestDeriveAtReflectsRefreshedStats(t *testing.T) {
	e := newEngine(t)
	appID := uuid.New()
	e.StoreApp(&domain.Application{ID: appID, Title: "demo", State: domain.StateEnabled})
	e.HandleTaskUpdate(appID, &instrument.TaskUpdate{NewTasks: []instrument.Task{{ID: &instrument.TaskID{ID: 1}}}})

	now := time.Now()
	created := now.Add(-10 * time.Second)
	e.HandleTaskUpdate(appID, &instrument.TaskUpdate{
		StatsUpdate: map[uint64]instrument.Stats{
			1: {CreatedAt: &created, ScheduledTime: time.Second},
		},
	})

	task := e.Tasks()[domain.TaskKey(appID, 1)]
	derived := task.DeriveAt(now)
	if derived.Runtime < 9*time.Second || derived.Runtime > 11*time.Second {
		t.Errorf("expected runtime near 10s, got %v", derived.Runtime)
	}
}

func TestHandleTaskUpdateDropsForMissingApplication(t *testing.T) {
	e := newEngine(t)
	appID := uuid.New()

	e.HandleTaskUpdate(appID, &instrument.TaskUpdate{NewTasks: []instrument.Task{{ID: &instrument.TaskID{ID: 1}}}})

	if _, ok := e.Tasks()[domain.TaskKey(appID, 1)]; ok {
		t.Error("expected task update for an unknown application to be dropped")
	}
}

func TestHandleTaskUpdateDropsForDisabledApplication(t *testing.T) {
	e := newEngine(t)
	appID := uuid.New()
	e.StoreApp(&domain.Application{ID: appID, Title: "demo", State: domain.StateDisabled})

	e.HandleTaskUpdate(appID, &instrument.TaskUpdate{NewTasks: []instrument.Task{{ID: &instrument.TaskID{ID: 1}}}})

	if _, ok := e.Tasks()[domain.TaskKey(appID, 1)]; ok {
		t.Error("expected task update for a disabled application to be dropped")
	}
}

func TestDecodeNewTaskReadsNameAndTIDFields(t *testing.T) {
	e := newEngine(t)
	appID := uuid.New()
	e.StoreApp(&domain.Application{ID: appID, Title: "demo", State: domain.StateEnabled})

	name := "my-task"
	tid := uint64(42)
	update := &instrument.TaskUpdate{
		NewTasks: []instrument.Task{{
			ID: &instrument.TaskID{ID: 1},
			Fields: []instrument.Field{
				{Name: "task.name", Value: instrument.FieldValue{StrVal: &name}},
				{Name: "task.id", Value: instrument.FieldValue{U64Val: &tid}},
			},
		}},
	}
	e.HandleTaskUpdate(appID, update)

	task := e.Tasks()[domain.TaskKey(appID, 1)]
	if task.Name == nil || *task.Name != name {
		t.Errorf("expected name %q, got %v", name, task.Name)
	}
	if task.TID == nil || *task.TID != tid {
		t.Errorf("expected tid %d, got %v", tid, task.TID)
	}
}
