package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRecordAndRecent(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	appID := uuid.New()
	ctx := context.Background()
	for _, kind := range []EventKind{EventConnecting, EventError, EventConnecting, EventConnected} {
		if err := j.Record(ctx, appID, kind, ""); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	events, err := j.Recent(ctx, appID, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if events[0].Kind != EventConnected {
		t.Errorf("expected most recent event first, got %v", events[0].Kind)
	}
}

func TestErrorCountSince(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	appID := uuid.New()
	ctx := context.Background()
	since := time.Now().Add(-time.Minute)

	for i := 0; i < 3; i++ {
		if err := j.Record(ctx, appID, EventError, "boom"); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	count, err := j.ErrorCountSince(ctx, appID, since)
	if err != nil {
		t.Fatalf("ErrorCountSince: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 errors, got %d", count)
	}
}

func TestDeleteForAppRemovesHistory(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	appID := uuid.New()
	ctx := context.Background()
	if err := j.Record(ctx, appID, EventConnected, ""); err != nil {
		t.Fatalf("Record: %v", err)
	}

	if err := j.DeleteForApp(ctx, appID); err != nil {
		t.Fatalf("DeleteForApp: %v", err)
	}

	events, err := j.Recent(ctx, appID, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events after delete, got %d", len(events))
	}
}
