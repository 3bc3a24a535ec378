package opdispatch

import (
	"fmt"
	"sync"

	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/jserrors"
)

// opZeroName is the reserved op id 0: calling it returns the full
// name→id mapping (spec.md §3 "Op" invariants, §9 "Dynamic opcache").
const opZeroName = "op_register_all"

// Registry assigns stable, dense, never-reused ids to named ops in
// registration order. It is built once at isolate setup time and is safe
// for concurrent dispatch thereafter (registration itself is not expected
// to race with dispatch, mirroring real embeddings where all ops are
// registered before any script runs).
type Registry struct {
	mu      sync.RWMutex
	byName  map[string]*Op
	byID    []*Op // index 0 is the reserved op_register_all slot
	frozen  bool
}

// NewRegistry creates a Registry with op id 0 reserved per spec.md §3.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]*Op)}
	zero := &Op{Name: opZeroName, ID: 0, Kind: core.OpSync}
	r.byID = append(r.byID, zero)
	r.byName[opZeroName] = zero
	return r
}

// RegisterSync assigns the next id to a synchronous op.
func (r *Registry) RegisterSync(name string, h SyncHandler) (uint32, error) {
	return r.register(name, core.OpSync, h, nil)
}

// RegisterAsync assigns the next id to an asynchronous op.
func (r *Registry) RegisterAsync(name string, h AsyncHandler) (uint32, error) {
	return r.register(name, core.OpAsync, nil, h)
}

func (r *Registry) register(name string, kind core.OpKind, sync SyncHandler, async AsyncHandler) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return 0, fmt.Errorf("opdispatch: registry frozen, cannot register %q", name)
	}
	if _, exists := r.byName[name]; exists {
		return 0, fmt.Errorf("opdispatch: op %q already registered", name)
	}
	id := uint32(len(r.byID))
	op := &Op{Name: name, ID: id, Kind: kind, Sync: sync, Async: async}
	r.byID = append(r.byID, op)
	r.byName[name] = op
	return id, nil
}

// Freeze prevents further registration, matching the "ids are dense and
// never reused within a process lifetime" invariant once a host calls
// syncOpsCache() JS-side (spec.md §9, Open Question (a)).
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// ByID looks up an op by its numeric id.
func (r *Registry) ByID(id uint32) (*Op, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, jserrors.BadResourcef("unknown op id: %d", id)
	}
	return r.byID[id], nil
}

// ByName looks up an op by its registered name. Per spec.md §9 Open
// Question (a), this implementation requires syncOpsCache() (Freeze) to
// have run before allowing by-name dispatch, so a host cannot silently mix
// stale-name and fast-id call paths after the JS side has cached ids.
func (r *Registry) ByName(name string) (*Op, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.frozen {
		return nil, fmt.Errorf("opdispatch: by-name dispatch requires syncOpsCache() first")
	}
	op, ok := r.byName[name]
	if !ok {
		return nil, jserrors.BadResourcef("unknown op: %s", name)
	}
	return op, nil
}

// NameMap returns the full name→id mapping, the payload for op id 0.
func (r *Registry) NameMap() map[string]uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint32, len(r.byName))
	for name, op := range r.byName {
		out[name] = op.ID
	}
	return out
}
