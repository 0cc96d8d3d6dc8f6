// Package journal implements a SQLite-backed connection/worker lifecycle
// history: every Connecting/Connected/Error/Disconnected event a Connection
// Supervisor emits, recorded against the application that produced it.
//
// This is additive to the core's mandated JSON-file persistence (spec.md
// §4.2) — applications and tasks remain the two JSON files there describe —
// it exists purely so the UI can show "last 20 connection events" and
// "errors since a given time" history the core data model has no room for.
//
// Grounded on the teacher's store/sqlite package: one pure-Go SQLite
// connection (modernc.org/sqlite, no CGO), WAL mode, a single open
// connection to serialize writes, and the same worker_events shape
// (subscription_id/pid/event_type/exit_code/ts) repurposed to
// app_id/kind/detail/ts.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/google/uuid"
)

// EventKind classifies a recorded connection lifecycle event.
type EventKind string

const (
	EventConnecting   EventKind = "connecting"
	EventConnected    EventKind = "connected"
	EventError        EventKind = "error"
	EventDisconnected EventKind = "disconnected"
)

// ConnectionEvent is one recorded row.
type ConnectionEvent struct {
	ID     int64
	AppID  uuid.UUID
	Kind   EventKind
	Detail string
	TS     time.Time
}

// DB is the SQLite-backed event journal.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies
// migrations.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}

	j := &DB{db: db}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migrate: %w", err)
	}
	return j, nil
}

func (j *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS connection_events (
			id       INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id   TEXT    NOT NULL,
			kind     TEXT    NOT NULL,
			detail   TEXT    NOT NULL DEFAULT '',
			ts       TEXT    NOT NULL
		)`,
		// Queries filter by app_id + ts (recent history) almost exclusively.
		`CREATE INDEX IF NOT EXISTS idx_ce_app_ts ON connection_events(app_id, ts)`,
	}
	for _, stmt := range stmts {
		if _, err := j.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record appends a lifecycle event for appID.
func (j *DB) Record(ctx context.Context, appID uuid.UUID, kind EventKind, detail string) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO connection_events (app_id, kind, detail, ts)
		VALUES (?, ?, ?, ?)
	`, appID.String(), string(kind), detail, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Recent returns the most recent limit events for appID, newest first.
func (j *DB) Recent(ctx context.Context, appID uuid.UUID, limit int) ([]ConnectionEvent, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, app_id, kind, detail, ts
		  FROM connection_events
		 WHERE app_id = ?
		 ORDER BY ts DESC, id DESC
		 LIMIT ?
	`, appID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConnectionEvent
	for rows.Next() {
		var ev ConnectionEvent
		var rawID, ts string
		if err := rows.Scan(&ev.ID, &rawID, &ev.Kind, &ev.Detail, &ts); err != nil {
			return nil, err
		}
		ev.AppID, _ = uuid.Parse(rawID)
		ev.TS, _ = time.Parse(time.RFC3339, ts)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ErrorCountSince counts error-kind events for appID recorded after since —
// a rough "reconnect storm" indicator for the UI (spec.md §8 scenario S3).
func (j *DB) ErrorCountSince(ctx context.Context, appID uuid.UUID, since time.Time) (int, error) {
	row := j.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		  FROM connection_events
		 WHERE app_id = ? AND kind = ? AND ts > ?
	`, appID.String(), string(EventError), since.UTC().Format(time.RFC3339))
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteForApp removes every recorded event for appID, called when an
// application is deleted so the journal does not grow unboundedly for
// applications that no longer exist.
func (j *DB) DeleteForApp(ctx context.Context, appID uuid.UUID) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM connection_events WHERE app_id = ?`, appID.String())
	return err
}

// Close closes the underlying database connection.
func (j *DB) Close() error {
	return j.db.Close()
}
