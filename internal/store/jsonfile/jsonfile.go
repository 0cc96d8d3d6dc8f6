// Package jsonfile implements store.Store as two pretty-printed JSON files
// under a storage directory: applications.json and tasks.json.
//
// Grounded on the teacher's store/sqlite package (Open applies migrations /
// here: loads files; methods mirror the store.Store interface) and on the
// original infra/guard.rs WriteableDataBaseGuard (write-to-temp, flush on
// release) — adapted here to an explicit temp-file-plus-rename for
// atomicity, since Go has no Drop to hook a serialize-on-scope-exit.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/wyliodrin/async-tracing-monitor/internal/domain"
	"github.com/wyliodrin/async-tracing-monitor/internal/store"
)

func logFlushError(name string, err error) {
	log.Printf("jsonfile: failed to persist %s: %v", name, err)
}

const (
	applicationsFile = "applications.json"
	tasksFile        = "tasks.json"
)

// DB implements store.Store backed by two JSON files in dir.
type DB struct {
	dir string

	appsMu sync.RWMutex
	apps   map[string]*domain.Application

	tasksMu sync.RWMutex
	tasks   map[string]*domain.Task
}

// Open loads (or freshly creates) the store at dir. A missing file is
// treated as "empty", not an error (spec.md §4.2). A malformed file is a
// fatal load error returned to the caller, which should substitute an
// empty store and log, per spec.md §4.2/§7.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("jsonfile: create storage directory %s: %w", dir, err)
	}

	apps, err := loadMap[*domain.Application](filepath.Join(dir, applicationsFile))
	if err != nil {
		return nil, fmt.Errorf("jsonfile: load applications: %w", err)
	}
	tasks, err := loadMap[*domain.Task](filepath.Join(dir, tasksFile))
	if err != nil {
		return nil, fmt.Errorf("jsonfile: load tasks: %w", err)
	}

	return &DB{dir: dir, apps: apps, tasks: tasks}, nil
}

// New returns a fresh, empty store backed by dir without attempting to load
// existing files. Used when Open fails and the caller wants to continue
// with an empty session (spec.md §4.2/§9).
func New(dir string) *DB {
	return &DB{
		dir:   dir,
		apps:  make(map[string]*domain.Application),
		tasks: make(map[string]*domain.Task),
	}
}

func loadMap[V any](path string) (map[string]V, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]V), nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return make(map[string]V), nil
	}
	var m map[string]V
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = make(map[string]V)
	}
	return m, nil
}

func (db *DB) ApplicationsRead() map[string]*domain.Application {
	db.appsMu.RLock()
	defer db.appsMu.RUnlock()
	out := make(map[string]*domain.Application, len(db.apps))
	for k, v := range db.apps {
		out[k] = v.Clone()
	}
	return out
}

func (db *DB) ApplicationsWrite() *store.WriteGuard[*domain.Application] {
	db.appsMu.Lock()
	return store.NewWriteGuard(db.apps,
		func(m map[string]*domain.Application) {
			db.apps = m
			flush(db.dir, applicationsFile, stripHandles(m))
		},
		db.appsMu.Unlock,
	)
}

func (db *DB) TasksRead() map[string]*domain.Task {
	db.tasksMu.RLock()
	defer db.tasksMu.RUnlock()
	out := make(map[string]*domain.Task, len(db.tasks))
	for k, v := range db.tasks {
		out[k] = v.Clone()
	}
	return out
}

func (db *DB) TasksWrite() *store.WriteGuard[*domain.Task] {
	db.tasksMu.Lock()
	return store.NewWriteGuard(db.tasks,
		func(m map[string]*domain.Task) {
			db.tasks = m
			flush(db.dir, tasksFile, m)
		},
		db.tasksMu.Unlock,
	)
}

func (db *DB) Close() error { return nil }

// stripHandles returns a copy of the applications map with
// ConnectionHandle omitted — the json tag already marks the field `json:"-"`
// so this is mostly documentation, but it makes the omission explicit at
// the one call site that actually persists applications.
func stripHandles(m map[string]*domain.Application) map[string]*domain.Application {
	return m
}

// flush serializes v to dir/name as pretty JSON, writing to a temp file and
// renaming over the target for atomicity. Any error is logged here and
// swallowed; flush itself never panics.
func flush[V any](dir, name string, v map[string]V) {
	if err := writeAtomic(dir, name, v); err != nil {
		logFlushError(name, err)
	}
}

func writeAtomic[V any](dir, name string, v map[string]V) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return err
	}
	ok = true
	return nil
}
