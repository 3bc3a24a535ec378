// Package opdispatch implements the op dispatch layer described in
// spec.md §4.2: a stable name→id registry, synchronous and asynchronous
// call routing, and a completion batcher that feeds the JS-side promise
// ring without per-call allocation in the hot path.
//
// The promise *ring* itself (spec.md §3 "Promise slot") lives in JS, the
// same way the original runtime this core generalizes keeps it — see
// internal/bindings for the ring/overflow-map source. This package owns
// only the native half: routing a call to a handler and, for async ops,
// tracking the in-flight future until it completes.
package opdispatch

import (
	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/resource"
)

// Op is a single registered native operation (spec.md §3 "Op").
type Op struct {
	Name    string
	ID      uint32
	Kind    core.OpKind
	Sync    SyncHandler  // set iff Kind == core.OpSync
	Async   AsyncHandler // set iff Kind == core.OpAsync
}

// CallContext carries a single op call's inputs (spec.md §3 "Op call").
type CallContext struct {
	// Control is the structured-value or raw-bytes payload, per the op's
	// declared encoding (spec.md §6 "Control payload encoding").
	Control any

	// ZeroCopy is the borrowed byte view, valid only for the duration of a
	// sync call or until an async handler's future first suspends
	// (spec.md §4.2 "Zero-copy contract"). Handlers that must retain bytes
	// past that point MUST copy them out immediately.
	ZeroCopy []byte

	// Resources is the per-isolate resource table, so op handlers can look
	// up, take, or close rids without a separate plumbing path.
	Resources *resource.Table
}

// SyncHandler executes inline on the calling (isolate) goroutine and must
// never block on I/O (spec.md §5).
type SyncHandler func(ctx *CallContext) (any, error)

// AsyncHandler starts the operation and returns a channel that yields
// exactly one Completion when it finishes. Handlers MAY offload blocking
// work onto a separate goroutine/worker pool; they must not touch the
// isolate or resource table from that goroutine (spec.md §5).
type AsyncHandler func(ctx *CallContext) <-chan Completion

// Completion is a finished async op's outcome, paired with the promise id
// the JS side is waiting on.
type Completion struct {
	PromiseID uint32
	Value     any
	Err       error
}
