package opdispatch

import (
	"sync"

	"github.com/cryguy/opcore/internal/jserrors"
	"github.com/cryguy/opcore/internal/resource"
)

// Dispatcher routes JS→native op calls and batches native→JS completions,
// implementing the call path and completion path of spec.md §4.2.
type Dispatcher struct {
	reg       *Registry
	resources *resource.Table

	mu       sync.Mutex
	ready    []Completion
	inflight int // async calls whose completion has not yet been queued

	// Woken is sent to (non-blocking) whenever a completion becomes ready,
	// so an event-loop driver blocked in a select can wake promptly
	// (spec.md §4.6 step 6).
	Woken chan struct{}
}

// New creates a Dispatcher over the given registry and resource table.
func New(reg *Registry, resources *resource.Table) *Dispatcher {
	return &Dispatcher{
		reg:       reg,
		resources: resources,
		Woken:     make(chan struct{}, 1),
	}
}

// DispatchResult is what Call returns for one invocation of `send`.
type DispatchResult struct {
	// Pending is true for async calls: the caller should return the
	// "pending" sentinel to JS and wait for a later completion batch.
	Pending bool
	Value   any
	Err     error
}

// Call performs one `send(op_id, promise_id, control, zero_copy?)` per
// spec.md §6. promiseID of 0 means "sync call" (spec.md §3: "promise id,
// non-null ⇒ async" — 0 is never minted by the JS-side allocator, which
// starts at 1).
func (d *Dispatcher) Call(opID uint32, promiseID uint32, control any, zeroCopy []byte) DispatchResult {
	op, err := d.reg.ByID(opID)
	if err != nil {
		return DispatchResult{Err: jserrors.BadResourcef("unknown op id: %d", opID)}
	}

	ctx := &CallContext{Control: control, ZeroCopy: zeroCopy, Resources: d.resources}

	if promiseID == 0 {
		if op.Sync == nil {
			return DispatchResult{Err: jserrors.New(jserrors.JSTypeError, "op %q is not synchronous", op.Name)}
		}
		val, err := runSyncHandler(op, ctx)
		return DispatchResult{Value: val, Err: err}
	}

	if op.Async == nil {
		return DispatchResult{Err: jserrors.New(jserrors.JSTypeError, "op %q is not asynchronous", op.Name)}
	}

	ch := op.Async(ctx)
	d.mu.Lock()
	d.inflight++
	d.mu.Unlock()
	go d.awaitCompletion(promiseID, ch)
	return DispatchResult{Pending: true}
}

// runSyncHandler invokes a sync op handler, converting a Go panic inside
// the handler into a recoverable op error rather than crashing the
// isolate thread — sync handlers run inline, so a panic here must not take
// down the whole event loop.
func runSyncHandler(op *Op, ctx *CallContext) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = jserrors.New(jserrors.JSError, "op %q panicked: %v", op.Name, r)
		}
	}()
	return op.Sync(ctx)
}

// awaitCompletion blocks (on its own goroutine — never the isolate thread)
// until the async handler's channel yields, then enqueues the completion
// for the next batch drain.
func (d *Dispatcher) awaitCompletion(promiseID uint32, ch <-chan Completion) {
	c, ok := <-ch
	if !ok {
		c = Completion{PromiseID: promiseID, Err: jserrors.BadResourcef("op completion channel closed without a result")}
	}
	c.PromiseID = promiseID

	d.mu.Lock()
	d.ready = append(d.ready, c)
	d.inflight--
	d.mu.Unlock()

	select {
	case d.Woken <- struct{}{}:
	default:
	}
}

// DrainBatch removes and returns every completion queued since the last
// drain, preserving the order in which they became ready (spec.md §5
// "Completions delivered in one batch preserve the order in which their
// futures became ready").
func (d *Dispatcher) DrainBatch() []Completion {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.ready) == 0 {
		return nil
	}
	batch := d.ready
	d.ready = nil
	return batch
}

// HasPending reports whether any async op is still in flight or has a
// completion queued for the next batch drain.
func (d *Dispatcher) HasPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready) > 0 || d.inflight > 0
}

// Registry exposes the underlying op registry, e.g. for the bindings
// installer to read the name→id map for op id 0.
func (d *Dispatcher) Registry() *Registry { return d.reg }
