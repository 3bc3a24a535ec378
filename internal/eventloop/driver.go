// Package eventloop implements the cooperative, single-threaded driver of
// spec.md §4.6, tying together the op dispatcher's async completions, the
// timer scheduler, and the module graph's dynamic-import resolutions into
// the six-step turn the spec describes.
//
// This generalizes the teacher's internal/eventloop.EventLoop (which only
// ever drained Go-backed setTimeout timers and pending fetches) into the
// full driver the expanded core needs, while keeping its central idea: a
// Drain-style loop that alternates "run JS" with "wait for Go-side work."
package eventloop

import (
	"context"
	"time"

	"github.com/cryguy/opcore/internal/module"
	"github.com/cryguy/opcore/internal/opdispatch"
	"github.com/cryguy/opcore/internal/timer"
)

// JSHost is the slice of isolate-host behavior the driver needs: pumping
// microtasks, delivering a batch of op completions to JS `recv(...)`, and
// reporting/clearing unhandled promise rejections. A real backend
// (internal/v8engine, internal/quickjs) implements this over its native
// JS engine; tests implement it over a fake.
type JSHost interface {
	// DeliverCompletions calls into JS recv(...) once with the whole
	// batch (spec.md §4.6 step 1, §9 "Callback fan-in").
	DeliverCompletions(batch []opdispatch.Completion) error

	// RunMicrotasks pumps the microtask queue to quiescence (step 2).
	RunMicrotasks()

	// FireTimer invokes the JS callback registered for a fired timer id.
	FireTimer(id timer.ID)

	// DeliverDynImport settles a dynamic import() promise (step 3).
	DeliverDynImport(outcome module.DynImportOutcome) error

	// UnhandledRejections returns and clears promise rejections that went
	// unhandled since the last call (step 4).
	UnhandledRejections() []UnhandledRejection
}

// UnhandledRejection is a promise that was rejected with no .catch
// attached, surfaced per spec.md §4.6 step 4 and §7 "Unhandled promise
// rejections are collected per turn."
type UnhandledRejection struct {
	PromiseID uint32
	Reason    string
}

// LiveResourceChecker reports whether any resource the loop must wait for
// (an open listener, an un-unref'd handle) is still alive — step 5's
// "no live unref'd resources" clause. A nil checker is treated as always
// false (no such resources to track).
type LiveResourceChecker func() bool

// Driver runs one isolate's event loop.
type Driver struct {
	dispatch         *opdispatch.Dispatcher
	timers           *timer.Scheduler
	modules          *module.Graph
	host             JSHost
	hasLiveResources LiveResourceChecker
	now              func() time.Time

	onUnhandledRejection func(UnhandledRejection)
}

// New creates a Driver over the given collaborators. now defaults to
// time.Now; tests may supply a controllable clock.
func New(dispatch *opdispatch.Dispatcher, timers *timer.Scheduler, modules *module.Graph, host JSHost, hasLiveResources LiveResourceChecker, now func() time.Time) *Driver {
	if now == nil {
		now = time.Now
	}
	return &Driver{dispatch: dispatch, timers: timers, modules: modules, host: host, hasLiveResources: hasLiveResources, now: now}
}

// OnUnhandledRejection registers the callback Turn invokes for each
// rejection UnhandledRejections() surfaces (spec.md §4.6 step 4). A Host
// sets this after New to log the rejection and populate its last_exception
// slot (spec.md §7); a nil handler (the default) means rejections are still
// drained from the host each turn but otherwise dropped.
func (d *Driver) OnUnhandledRejection(fn func(UnhandledRejection)) {
	d.onUnhandledRejection = fn
}

// Run drives turns until the exit condition (step 5) holds or ctx is
// canceled.
func (d *Driver) Run(ctx context.Context) error {
	for {
		if err := d.Turn(); err != nil {
			return err
		}
		if d.shouldExit() {
			return nil
		}
		if err := d.waitForWork(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Turn executes steps 1-4 of spec.md §4.6 once. Callers that want to
// drive the loop themselves (e.g. to interleave with other host work)
// can call Turn directly instead of Run.
func (d *Driver) Turn() error {
	// Step 1: drain ready async-op completions, deliver in one batch.
	if batch := d.dispatch.DrainBatch(); len(batch) > 0 {
		if err := d.host.DeliverCompletions(batch); err != nil {
			return err
		}
	}

	// Every timer due now fires here (spec.md §4.5 step 3), all of them
	// before the single microtask drain of step 2 below: microtasks queued
	// by one timer callback do not run before the next due timer fires.
	d.timers.FireDue(d.now())

	// Step 2: run microtasks to quiescence.
	d.host.RunMicrotasks()

	// Step 3: evaluate dynamic-import resolutions the host queued.
	for _, r := range d.modules.DrainDynImportResolutions() {
		outcome := d.modules.Settle(r)
		if err := d.host.DeliverDynImport(outcome); err != nil {
			return err
		}
		d.host.RunMicrotasks()
	}

	// Step 4: check for unhandled promise rejections and surface them.
	if rejections := d.host.UnhandledRejections(); len(rejections) > 0 && d.onUnhandledRejection != nil {
		for _, r := range rejections {
			d.onUnhandledRejection(r)
		}
	}

	return nil
}

// shouldExit implements step 5: no pending ops, no active timers, no
// live modules awaiting evaluation (modeled here as "no pending dynamic
// imports," since the static graph settles synchronously), and no live
// unref'd resources.
func (d *Driver) shouldExit() bool {
	if d.dispatch.HasPending() {
		return false
	}
	if d.timers.HasRef() {
		return false
	}
	if d.modules.HasPendingDynImports() {
		return false
	}
	if d.hasLiveResources != nil && d.hasLiveResources() {
		return false
	}
	return true
}

// waitForWork implements step 6: wait for the earliest of the next
// async-op completion, the next timer due, or the next host-queued
// dynamic-import resolution.
func (d *Driver) waitForWork(ctx context.Context) error {
	var timerC <-chan time.Time
	if due, ok := d.timers.NextDue(); ok {
		wait := due.Sub(d.now())
		if wait < 0 {
			wait = 0
		}
		t := time.NewTimer(wait)
		defer t.Stop()
		timerC = t.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.dispatch.Woken:
		return nil
	case <-d.modules.DynImportWoken():
		return nil
	case <-timerC:
		return nil
	}
}
