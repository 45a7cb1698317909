// Package inflight deduplicates concurrent cache misses on the same key
// onto a single backing-store fetch. Unlike internal/singleflight's
// all-or-nothing Do, callers here drive the entry's lifecycle explicitly
// (Begin/AddDependent/End/Invalidate) because a concurrent SET can mark an
// entry stale mid-flight: its dependents must still unblock with the
// fetched value, but that value must not be written back into the cache.
package inflight

import "sync"

// Task identifies one fetch generation for a key. Callers compare *Task by
// pointer identity, never by value, so a Begin/End pair always agrees on
// which generation it is completing even if the key was invalidated and a
// new generation started in between. The blank byte gives Task a nonzero
// size, since pointers to distinct zero-size values may compare equal.
type Task struct{ _ byte }

type entry[D any] struct {
	task       *Task
	dependents []D
	stale      bool
}

// Table tracks at most one inflight entry per key K, with an ordered list
// of blocked dependent handles of type D attached to each.
type Table[K comparable, D any] struct {
	mu      sync.Mutex
	entries map[K]*entry[D]
}

// NewTable constructs an empty inflight table.
func NewTable[K comparable, D any]() *Table[K, D] {
	return &Table[K, D]{entries: make(map[K]*entry[D])}
}

// Check reports whether key currently has an inflight entry.
func (t *Table[K, D]) Check(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[key]
	return ok
}

// Begin creates a new inflight entry for key, owned by task. The caller
// must have already confirmed via Check that no entry exists; Begin
// overwrites any prior entry unconditionally (mirroring the precondition
// in the lookaside GET path, which only calls Begin right after a miss).
func (t *Table[K, D]) Begin(key K, task *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key] = &entry[D]{task: task}
}

// AddDependent attaches a blocked client handle to key's current inflight
// entry. Returns false if no entry exists for key (the caller raced a
// completion and must retry the lookup instead).
func (t *Table[K, D]) AddDependent(key K, dep D) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.dependents = append(e.dependents, dep)
	return true
}

// End completes task's generation for key. Returns (dependents, stale,
// ok): ok is false if key has no entry or its entry belongs to another
// task (a later Begin replaced it), in which case the caller must not
// touch the cache or the dependents list. Invalidate does not take
// ownership away: after it, End by the owning task still succeeds and
// reports stale. On ok, the entry is removed
// and its accumulated dependents/staleness are returned to the caller,
// which is responsible for unblocking them.
func (t *Table[K, D]) End(key K, task *Task) (dependents []D, stale bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, exists := t.entries[key]
	if !exists || e.task != task {
		return nil, false, false
	}
	delete(t.entries, key)
	return e.dependents, e.stale, true
}

// Invalidate marks key's inflight entry (if any) stale: its owning fetch
// will still complete and notify dependents, but the resulting value must
// not be written back into the cache. A no-op if no entry exists.
func (t *Table[K, D]) Invalidate(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[key]; ok {
		e.stale = true
	}
}

// Len reports the number of keys currently inflight, for stats reporting.
func (t *Table[K, D]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
