package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wyliodrin/async-tracing-monitor/internal/domain"
	"github.com/wyliodrin/async-tracing-monitor/internal/instrument"
	"github.com/wyliodrin/async-tracing-monitor/internal/stateengine"
	"github.com/wyliodrin/async-tracing-monitor/internal/store/jsonfile"
)

type blockingStream struct{}

func (blockingStream) Recv() (*instrument.Update, error) { select {} }
func (blockingStream) Close() error                      { return nil }

type stubDialer struct{ fail bool }

func (d stubDialer) Dial(ctx context.Context, url string) (instrument.Stream, error) {
	if d.fail {
		return nil, errDial
	}
	return blockingStream{}, nil
}

var errDial = dialError{}

type dialError struct{}

func (dialError) Error() string { return "dial refused" }

func newTestEngine(t *testing.T) *stateengine.Engine {
	t.Helper()
	db, err := jsonfile.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return stateengine.New(db)
}

func TestAddApplicationStartsEnabled(t *testing.T) {
	engine := newTestEngine(t)
	var snapshots []Snapshot
	o := New(engine, stubDialer{}, nil, func(s Snapshot) { snapshots = append(snapshots, s) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id, err := o.AddApplication(ctx, "demo", "http://example.invalid:9")
	if err != nil {
		t.Fatalf("AddApplication: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		apps := engine.Applications()
		if app, ok := apps[id.String()]; ok && app.State == domain.StateEnabled {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected application to become Enabled")
}

func TestDisableApplicationStopsSupervisor(t *testing.T) {
	engine := newTestEngine(t)
	o := New(engine, stubDialer{}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	id, err := o.AddApplication(ctx, "demo", "http://example.invalid:9")
	if err != nil {
		t.Fatalf("AddApplication: %v", err)
	}

	// Allow the Supervisor to connect before disabling.
	time.Sleep(50 * time.Millisecond)
	o.DisableApplication(id)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		apps := engine.Applications()
		if app, ok := apps[id.String()]; ok && app.State == domain.StateDisabled && !o.conns.Connected(id) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected application to become Disabled and its Supervisor to stop")
}

func TestDeleteApplicationRemovesRecord(t *testing.T) {
	engine := newTestEngine(t)
	o := New(engine, stubDialer{}, nil, nil)

	id, err := o.AddApplication(context.Background(), "demo", "http://example.invalid:9")
	if err != nil {
		t.Fatalf("AddApplication: %v", err)
	}

	o.DeleteApplication(id)

	apps := engine.Applications()
	if _, ok := apps[id.String()]; ok {
		t.Error("expected application to be deleted")
	}
}

func TestReconnectAllLeavesFailedAppsDisabled(t *testing.T) {
	engine := newTestEngine(t)
	engine.StoreApp(&domain.Application{ID: uuid.New(), Title: "demo", URL: "http://example.invalid:9", State: domain.StateEnabled})

	o := New(engine, stubDialer{fail: true}, nil, nil)
	o.ReconnectAll(context.Background())

	apps := engine.Applications()
	for _, app := range apps {
		if app.State != domain.StateDisabled {
			t.Errorf("expected application to remain Disabled after failed reconnect, got %v", app.State)
		}
	}
}
