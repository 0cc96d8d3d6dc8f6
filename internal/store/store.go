// Package store defines the Persistent Store abstraction: two typed maps
// (Applications, Tasks) with read-snapshot and write-guard access, and the
// scoped WriteGuard that flushes to disk on release.
//
// Grounded on the teacher's store.Store interface (interface in its own
// package, implementation in a sibling package) and on the original
// infra/storage.rs + infra/guard.rs split between the read/write surface
// and the flush-on-drop guard.
package store

import (
	"github.com/wyliodrin/async-tracing-monitor/internal/domain"
)

// Store is the persistence abstraction. Read operations return detached
// snapshots; write operations are only available through a WriteGuard,
// which exposes mutable access to the underlying map while held and
// flushes the whole map to disk on release.
type Store interface {
	// ApplicationsRead returns a detached, clonable snapshot of the
	// applications map.
	ApplicationsRead() map[string]*domain.Application

	// ApplicationsWrite grants exclusive write access to the applications
	// map. The returned guard must be released (via Release) exactly once.
	ApplicationsWrite() *WriteGuard[*domain.Application]

	// TasksRead returns a detached, clonable snapshot of the tasks map.
	TasksRead() map[string]*domain.Task

	// TasksWrite grants exclusive write access to the tasks map.
	TasksWrite() *WriteGuard[*domain.Task]

	// Close releases any resources held by the store.
	Close() error
}

// WriteGuard is a scoped mutation handle: while held it exposes the
// underlying map for direct mutation; Release flushes the whole map to its
// backing file atomically and relinquishes the write lock. Any
// serialization/flush error is swallowed by the flush function supplied at
// construction (it logs and returns) — the in-memory state remains
// authoritative for the session, per spec.md §4.2.
//
// Go has no destructor equivalent to Rust's Drop, so callers MUST call
// Release on every exit path, including error paths (spec.md §9).
type WriteGuard[V any] struct {
	Elements map[string]V

	flush   func(map[string]V)
	release func()
	done    bool
}

// NewWriteGuard constructs a WriteGuard over elements. flush is invoked by
// Release to persist the (possibly mutated) map; release is invoked after
// flush to drop the underlying lock.
func NewWriteGuard[V any](elements map[string]V, flush func(map[string]V), release func()) *WriteGuard[V] {
	return &WriteGuard[V]{Elements: elements, flush: flush, release: release}
}

// Release flushes the current contents to disk and releases the write
// lock. Calling Release more than once is a no-op.
func (g *WriteGuard[V]) Release() {
	if g.done {
		return
	}
	g.done = true
	if g.flush != nil {
		g.flush(g.Elements)
	}
	if g.release != nil {
		g.release()
	}
}
