// Package resource implements the rid→typed-resource registry described in
// spec.md §4.3: monotonic allocation, non-owning borrows, and uniform close
// semantics, grounded in the teacher's pattern of guarding shared maps with
// a single mutex (see the teacher's sitePool.isValid/markInvalid pair in
// internal/v8engine/execute.go).
package resource

import (
	"sync"
	"sync/atomic"

	"github.com/cryguy/opcore/internal/jserrors"
)

// Resource is any native handle addressable by rid. Close runs the
// kind-specific teardown action; it is called at most once per resource,
// exactly when the table removes the entry (via Close or Take-then-drop).
type Resource interface {
	Kind() string
	Close() error
}

// Table is the per-isolate rid → Resource registry. The zero value is not
// usable; construct with New.
type Table struct {
	mu        sync.RWMutex
	resources map[uint32]Resource
	nextRid   atomic.Uint32
}

// New creates an empty resource table. Rid 0 is never issued — reserving it
// lets callers use 0 as a "no resource" sentinel, matching the module
// graph's "handle 0 (or an error marker)" convention from spec.md §4.4.
func New() *Table {
	return &Table{resources: make(map[uint32]Resource)}
}

// Add allocates a new rid for resource and stores it. Rids are never reused
// within the table's lifetime even after the owning entry is closed.
func (t *Table) Add(r Resource) uint32 {
	rid := t.nextRid.Add(1)
	t.mu.Lock()
	t.resources[rid] = r
	t.mu.Unlock()
	return rid
}

// Get returns a non-owning borrow of the resource at rid.
func (t *Table) Get(rid uint32) (Resource, error) {
	t.mu.RLock()
	r, ok := t.resources[rid]
	t.mu.RUnlock()
	if !ok {
		return nil, jserrors.BadResourcef("bad resource id: %d", rid)
	}
	return r, nil
}

// Take removes and returns the resource at rid without closing it. The
// caller becomes responsible for its lifecycle.
func (t *Table) Take(rid uint32) (Resource, error) {
	t.mu.Lock()
	r, ok := t.resources[rid]
	if ok {
		delete(t.resources, rid)
	}
	t.mu.Unlock()
	if !ok {
		return nil, jserrors.BadResourcef("bad resource id: %d", rid)
	}
	return r, nil
}

// Close removes the entry at rid and runs its kind-specific close action.
// A second call on the same (now-unknown) rid fails with BadResource,
// never a panic (spec.md §4.3).
func (t *Table) Close(rid uint32) error {
	r, err := t.Take(rid)
	if err != nil {
		return err
	}
	return r.Close()
}

// Entries returns a snapshot of rid → kind-name, backing the `resources()`
// binding (spec.md §6).
func (t *Table) Entries() map[uint32]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[uint32]string, len(t.resources))
	for rid, r := range t.resources {
		out[rid] = r.Kind()
	}
	return out
}

// CloseAll closes every live resource, ignoring individual close errors —
// used on isolate teardown (mirrors the teacher's Engine.Shutdown sweep).
func (t *Table) CloseAll() {
	t.mu.Lock()
	resources := t.resources
	t.resources = make(map[uint32]Resource)
	t.mu.Unlock()
	for _, r := range resources {
		_ = r.Close()
	}
}
