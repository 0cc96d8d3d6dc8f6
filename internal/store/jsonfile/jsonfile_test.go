package jsonfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/wyliodrin/async-tracing-monitor/internal/domain"
)

func TestOpenMissingFilesIsEmpty(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(db.ApplicationsRead()) != 0 || len(db.TasksRead()) != 0 {
		t.Error("expected empty maps for a fresh directory")
	}
}

func TestOpenMalformedFileIsError(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, applicationsFile), []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	if _, err := Open(dir); err == nil {
		t.Error("expected an error loading a malformed applications.json")
	}
}

func TestWriteGuardFlushesAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	id := uuid.New()
	app := &domain.Application{ID: id, Title: "demo", URL: "http://127.0.0.1:9", State: domain.StateEnabled, StartTime: time.Now()}

	g := db.ApplicationsWrite()
	g.Elements[id.String()] = app
	g.Release()

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got := reloaded.ApplicationsRead()
	if len(got) != 1 {
		t.Fatalf("expected 1 application after reload, got %d", len(got))
	}
	if got[id.String()].Title != "demo" {
		t.Errorf("expected title 'demo', got %q", got[id.String()].Title)
	}
}

func TestTasksReadIsDetachedSnapshot(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	appID := uuid.New()
	task := &domain.Task{AppID: appID, ID: 1, Stats: domain.Stats{CreatedAt: time.Now()}}
	g := db.TasksWrite()
	g.Elements[task.Key()] = task
	g.Release()

	snap := db.TasksRead()
	snap[task.Key()].ID = 999 // mutate the snapshot, not the store

	fresh := db.TasksRead()
	if fresh[task.Key()].ID != 1 {
		t.Error("mutating a snapshot must not affect the store's state")
	}
}
