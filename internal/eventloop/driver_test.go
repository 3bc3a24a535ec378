package eventloop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/module"
	"github.com/cryguy/opcore/internal/opdispatch"
	"github.com/cryguy/opcore/internal/resource"
	"github.com/cryguy/opcore/internal/timer"
)

type fakeHost struct {
	delivered    [][]opdispatch.Completion
	microtasks   int
	dynDelivered []module.DynImportOutcome
	rejections   []UnhandledRejection
	firedTimers  []timer.ID
}

func (f *fakeHost) DeliverCompletions(batch []opdispatch.Completion) error {
	f.delivered = append(f.delivered, batch)
	return nil
}
func (f *fakeHost) RunMicrotasks()             { f.microtasks++ }
func (f *fakeHost) FireTimer(id timer.ID)       { f.firedTimers = append(f.firedTimers, id) }
func (f *fakeHost) DeliverDynImport(o module.DynImportOutcome) error {
	f.dynDelivered = append(f.dynDelivered, o)
	return nil
}
func (f *fakeHost) UnhandledRejections() []UnhandledRejection {
	out := f.rejections
	f.rejections = nil
	return out
}

type fakeLoader struct{ files map[string]string }

func (l *fakeLoader) Resolve(specifier, referrer string) (string, error) { return specifier, nil }
func (l *fakeLoader) Load(specifier string) (*core.LoadedSource, error) {
	return &core.LoadedSource{Source: []byte(l.files[specifier]), MediaType: core.MediaJS}, nil
}

type fakeCompiler struct{}

func (fakeCompiler) Compile(specifier string, mt core.MediaType, source []byte, isMain bool) (module.Handle, []string, error) {
	return specifier, nil, nil
}
func (fakeCompiler) Instantiate(module.Handle, map[string]module.Handle) error { return nil }
func (fakeCompiler) Evaluate(module.Handle) error                             { return nil }

func newTestDriver(t *testing.T) (*Driver, *opdispatch.Dispatcher, *timer.Scheduler, *module.Graph, *fakeHost) {
	t.Helper()
	reg := opdispatch.NewRegistry()
	dispatch := opdispatch.New(reg, resource.New())
	timers := timer.New()
	graph := module.New(&fakeLoader{files: map[string]string{}}, fakeCompiler{})
	host := &fakeHost{}
	d := New(dispatch, timers, graph, host, nil, nil)
	return d, dispatch, timers, graph, host
}

func TestTurnDeliversOpCompletionBatch(t *testing.T) {
	d, dispatch, _, _, host := newTestDriver(t)
	reg := dispatch.Registry()
	id, _ := reg.RegisterAsync("op_x", func(ctx *opdispatch.CallContext) <-chan opdispatch.Completion {
		ch := make(chan opdispatch.Completion, 1)
		ch <- opdispatch.Completion{Value: "done"}
		return ch
	})
	dispatch.Call(id, 1, nil, nil)
	<-dispatch.Woken

	if err := d.Turn(); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(host.delivered) != 1 || len(host.delivered[0]) != 1 {
		t.Fatalf("delivered = %+v, want one batch of one completion", host.delivered)
	}
	if host.microtasks == 0 {
		t.Fatalf("RunMicrotasks never called")
	}
}

func TestTurnFiresDueTimers(t *testing.T) {
	d, _, timers, _, host := newTestDriver(t)
	fired := false
	timers.Set(time.Now(), 0, 0, false, func(id timer.ID) {
		fired = true
		host.FireTimer(id)
	})
	time.Sleep(2 * time.Millisecond)

	if err := d.Turn(); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if !fired || len(host.firedTimers) != 1 {
		t.Fatalf("timer did not fire via Turn")
	}
}

func TestTurnSettlesDynImportResolution(t *testing.T) {
	d, _, _, graph, host := newTestDriver(t)
	id := graph.BeginDynImport("plugin.js", "main.js")
	graph.ReportDynImportResolution(id, "plugin.js", nil)

	if err := d.Turn(); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(host.dynDelivered) != 1 || host.dynDelivered[0].Module != "plugin.js" {
		t.Fatalf("dynDelivered = %+v, want one settled outcome for plugin.js", host.dynDelivered)
	}
}

func TestTurnSurfacesUnhandledRejectionsToHandler(t *testing.T) {
	d, _, _, _, host := newTestDriver(t)
	host.rejections = []UnhandledRejection{{PromiseID: 7, Reason: "boom"}}

	var got []UnhandledRejection
	d.OnUnhandledRejection(func(r UnhandledRejection) { got = append(got, r) })

	if err := d.Turn(); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(got) != 1 || got[0].PromiseID != 7 || got[0].Reason != "boom" {
		t.Fatalf("got = %+v, want one rejection {7, boom}", got)
	}
	// UnhandledRejections() clears on read, so a second Turn with no new
	// rejections must not re-deliver the same one.
	if err := d.Turn(); err != nil {
		t.Fatalf("second Turn: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got = %+v after second Turn, want still just the one rejection", got)
	}
}

func TestTurnWithoutHandlerStillDrainsRejections(t *testing.T) {
	d, _, _, _, host := newTestDriver(t)
	host.rejections = []UnhandledRejection{{PromiseID: 1, Reason: "uncaught"}}

	if err := d.Turn(); err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if len(host.rejections) != 0 {
		t.Fatalf("rejections not drained from host: %+v", host.rejections)
	}
}

func TestShouldExitWhenNothingPending(t *testing.T) {
	d, _, _, _, _ := newTestDriver(t)
	if !d.shouldExit() {
		t.Fatalf("shouldExit false with no pending work")
	}
}

func TestShouldNotExitWithRefedTimer(t *testing.T) {
	d, _, timers, _, _ := newTestDriver(t)
	timers.Set(time.Now(), time.Hour, 0, false, func(timer.ID) {})
	if d.shouldExit() {
		t.Fatalf("shouldExit true despite a live refed timer")
	}
}

func TestShouldNotExitWithPendingOp(t *testing.T) {
	d, dispatch, _, _, _ := newTestDriver(t)
	reg := dispatch.Registry()
	id, _ := reg.RegisterAsync("op_slow", func(ctx *opdispatch.CallContext) <-chan opdispatch.Completion {
		return make(chan opdispatch.Completion) // never completes
	})
	dispatch.Call(id, 1, nil, nil)
	if d.shouldExit() {
		t.Fatalf("shouldExit true with an in-flight async op")
	}
}

func TestRunExitsWhenWorkDrains(t *testing.T) {
	d, dispatch, _, _, host := newTestDriver(t)
	reg := dispatch.Registry()
	id, _ := reg.RegisterAsync("op_once", func(ctx *opdispatch.CallContext) <-chan opdispatch.Completion {
		ch := make(chan opdispatch.Completion, 1)
		ch <- opdispatch.Completion{Value: 1}
		return ch
	})
	dispatch.Call(id, 1, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(host.delivered) == 0 {
		t.Fatalf("Run exited without delivering the completion")
	}
}

func TestRunPropagatesHostError(t *testing.T) {
	reg := opdispatch.NewRegistry()
	dispatch := opdispatch.New(reg, resource.New())
	timers := timer.New()
	graph := module.New(&fakeLoader{}, fakeCompiler{})

	wantErr := errors.New("recv threw")
	host := &erroringHost{fakeHost: &fakeHost{}, err: wantErr}
	d := New(dispatch, timers, graph, host, nil, nil)

	id, _ := reg.RegisterAsync("op_x", func(ctx *opdispatch.CallContext) <-chan opdispatch.Completion {
		ch := make(chan opdispatch.Completion, 1)
		ch <- opdispatch.Completion{Value: 1}
		return ch
	})
	dispatch.Call(id, 1, nil, nil)
	<-dispatch.Woken

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Run(ctx); !errors.Is(err, wantErr) {
		t.Fatalf("Run error = %v, want %v", err, wantErr)
	}
}

type erroringHost struct {
	*fakeHost
	err error
}

func (h *erroringHost) DeliverCompletions(batch []opdispatch.Completion) error {
	h.fakeHost.DeliverCompletions(batch)
	return h.err
}
