// Package config holds the monitor's runtime configuration: where
// persisted state lives and what address the UI Emitter Surface listens
// on. Unlike the teacher's config.Global, this is not itself persisted to
// disk — spec.md §9 requires no configuration surface beyond the storage
// root, so there is nothing here worth surviving a restart that isn't
// already an environment variable a process manager can set.
package config

import (
	"errors"
	"os"
	"path/filepath"
)

// Config is a read-only snapshot of the monitor's settings, safe to share
// across goroutines once constructed.
type Config struct {
	// StorageDir is where applications.json, tasks.json, and the
	// connection-event journal live. Always $HOME/.async-tracing
	// (spec.md §6/§9: the core consults no environment variable besides
	// HOME, and the storage root has no override).
	StorageDir string

	// ListenAddr is the address the UI Emitter Surface's HTTP+WebSocket
	// handler binds to. This is ambient, outside-the-core UI-layer
	// plumbing (spec.md §1), so it alone may be overridden.
	ListenAddr string
}

const (
	envListenAddr = "ASYNC_TRACING_MONITOR_LISTEN_ADDR"

	defaultListenAddr = "127.0.0.1:7890"
)

// Load builds a Config. HOME must resolve (spec.md §6); any other failure
// to determine it is fatal to the caller.
func Load() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, errors.New("config: HOME must resolve: " + err.Error())
	}

	cfg := Config{
		StorageDir: filepath.Join(home, ".async-tracing"),
		ListenAddr: defaultListenAddr,
	}
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	return cfg, nil
}

// JournalPath returns the path to the SQLite connection-event journal
// inside StorageDir.
func (c Config) JournalPath() string {
	return filepath.Join(c.StorageDir, "journal.db")
}
