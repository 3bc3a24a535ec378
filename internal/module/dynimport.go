package module

import (
	"fmt"
	"sync"
)

// DynImportRequest is one pending import() expression awaiting a host
// resolution (spec.md §4.4 "Dynamic import"; SPEC_FULL.md §4.14).
type DynImportRequest struct {
	ID        uint32
	Specifier string
	Referrer  string
}

// DynImportResolution is a host report that a dynamic import has a result
// ready, queued until the event-loop driver's turn reaches step 3
// ("evaluate any dynamic-import resolutions the host queued," spec.md
// §4.6). Reporting is thread-safe because the host callback that
// eventually learns a dynamic import's outcome (e.g. "the fetch for this
// module finished") may run on any goroutine; the actual module-graph
// work it triggers (Evaluate) must not run until the driver picks it up
// on the isolate thread via Settle.
type DynImportResolution struct {
	ImportID  uint32
	Specifier string
	HostErr   error
}

// dynImportQueue tracks in-flight dynamic import() calls between the
// moment the core invokes the host's dyn_import callback and the moment
// the host reports a result, plus the queue of reported-but-not-yet-
// settled resolutions the driver drains each turn.
type dynImportQueue struct {
	mu       sync.Mutex
	nextID   uint32
	pending  map[uint32]DynImportRequest
	reported []DynImportResolution

	// Woken is signaled (non-blocking) whenever a resolution is reported,
	// the same wake-up protocol opdispatch.Dispatcher uses.
	Woken chan struct{}
}

func newDynImportQueue() *dynImportQueue {
	return &dynImportQueue{
		pending: make(map[uint32]DynImportRequest),
		Woken:   make(chan struct{}, 1),
	}
}

// DynImportOutcome is what a dynamic import resolves or rejects to.
type DynImportOutcome struct {
	ID     uint32
	Module string // evaluated module's specifier, for namespace lookup
	Err    error
}

// BeginDynImport registers a new pending dynamic import and returns the
// import_id the host's dyn_import(specifier, referrer, import_id)
// callback receives. Called on the isolate thread when JS executes
// import(specifier).
func (g *Graph) BeginDynImport(specifier, referrer string) uint32 {
	g.dyn.mu.Lock()
	defer g.dyn.mu.Unlock()
	g.dyn.nextID++
	id := g.dyn.nextID
	g.dyn.pending[id] = DynImportRequest{ID: id, Specifier: specifier, Referrer: referrer}
	return id
}

// ReportDynImportResolution queues a host-reported outcome for import_id,
// matching spec.md §4.4's dyn_import_done contract: "the host MUST
// eventually call dyn_import_done(import_id, module_handle | 0, error?)
// exactly once." specifier of "" with a non-nil hostErr models a
// host-reported load failure (e.g. the fetch for the specifier 404ed)
// that never produced a compilable module. Safe to call from any
// goroutine; the module graph work it implies runs later, on the isolate
// thread, via DrainDynImportResolutions + Settle.
func (g *Graph) ReportDynImportResolution(importID uint32, specifier string, hostErr error) {
	g.dyn.mu.Lock()
	g.dyn.reported = append(g.dyn.reported, DynImportResolution{ImportID: importID, Specifier: specifier, HostErr: hostErr})
	g.dyn.mu.Unlock()
	select {
	case g.dyn.Woken <- struct{}{}:
	default:
	}
}

// DrainDynImportResolutions removes and returns every reported resolution
// queued since the last drain, for the event-loop driver to Settle on the
// isolate thread.
func (g *Graph) DrainDynImportResolutions() []DynImportResolution {
	g.dyn.mu.Lock()
	defer g.dyn.mu.Unlock()
	if len(g.dyn.reported) == 0 {
		return nil
	}
	batch := g.dyn.reported
	g.dyn.reported = nil
	return batch
}

// Settle performs the actual module-graph work for a reported resolution
// (load/instantiate/evaluate the target module, or propagate a
// host-reported failure) and removes it from the pending set. Must be
// called from the isolate thread.
func (g *Graph) Settle(r DynImportResolution) DynImportOutcome {
	g.dyn.mu.Lock()
	_, ok := g.dyn.pending[r.ImportID]
	if ok {
		delete(g.dyn.pending, r.ImportID)
	}
	g.dyn.mu.Unlock()

	if !ok {
		return DynImportOutcome{ID: r.ImportID, Err: fmt.Errorf("module: dyn_import_done called twice or for unknown import_id %d", r.ImportID)}
	}

	if r.HostErr != nil {
		return DynImportOutcome{ID: r.ImportID, Err: r.HostErr}
	}
	if err := g.Evaluate(r.Specifier); err != nil {
		return DynImportOutcome{ID: r.ImportID, Err: err}
	}
	return DynImportOutcome{ID: r.ImportID, Module: r.Specifier}
}

// PendingDynImports returns a snapshot of still-unresolved dynamic import
// requests, e.g. for diagnostics or a forced-shutdown sweep.
func (g *Graph) PendingDynImports() []DynImportRequest {
	g.dyn.mu.Lock()
	defer g.dyn.mu.Unlock()
	out := make([]DynImportRequest, 0, len(g.dyn.pending))
	for _, r := range g.dyn.pending {
		out = append(out, r)
	}
	return out
}

// HasPendingDynImports reports whether any dynamic import is still
// outstanding (awaiting a host report) or queued (reported but not yet
// settled) — feeds the event-loop driver's exit condition (spec.md §4.6
// step 5).
func (g *Graph) HasPendingDynImports() bool {
	g.dyn.mu.Lock()
	defer g.dyn.mu.Unlock()
	return len(g.dyn.pending) > 0 || len(g.dyn.reported) > 0
}

// DynImportWoken exposes the dyn-import wake channel for the event-loop
// driver's select alongside op-completion and timer wake-ups.
func (g *Graph) DynImportWoken() <-chan struct{} { return g.dyn.Woken }
