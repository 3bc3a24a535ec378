package opdispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/cryguy/opcore/internal/jserrors"
	"github.com/cryguy/opcore/internal/resource"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	t.Helper()
	reg := NewRegistry()
	return New(reg, resource.New()), reg
}

func TestCallSyncInvokesHandlerInline(t *testing.T) {
	d, reg := newTestDispatcher(t)
	id, err := reg.RegisterSync("op_echo", func(ctx *CallContext) (any, error) {
		return ctx.Control, nil
	})
	if err != nil {
		t.Fatalf("RegisterSync: %v", err)
	}

	res := d.Call(id, 0, "hello", nil)
	if res.Pending {
		t.Fatalf("sync call reported Pending")
	}
	if res.Err != nil {
		t.Fatalf("sync call error: %v", res.Err)
	}
	if res.Value != "hello" {
		t.Fatalf("sync call value = %v, want %q", res.Value, "hello")
	}
}

func TestCallUnknownOpID(t *testing.T) {
	d, _ := newTestDispatcher(t)
	res := d.Call(99, 0, nil, nil)
	var oe *jserrors.OpError
	if !errors.As(res.Err, &oe) || oe.Kind != jserrors.BadResource {
		t.Fatalf("Call(unknown id) err = %v, want BadResource", res.Err)
	}
}

func TestCallSyncOpWithPromiseIDRejected(t *testing.T) {
	d, reg := newTestDispatcher(t)
	id, _ := reg.RegisterSync("op_sync_only", func(ctx *CallContext) (any, error) { return nil, nil })
	res := d.Call(id, 1, nil, nil)
	var oe *jserrors.OpError
	if !errors.As(res.Err, &oe) || oe.Kind != jserrors.JSTypeError {
		t.Fatalf("calling sync op with promise id = %v, want TypeError", res.Err)
	}
}

func TestCallAsyncOpWithoutPromiseIDRejected(t *testing.T) {
	d, reg := newTestDispatcher(t)
	id, _ := reg.RegisterAsync("op_async_only", func(ctx *CallContext) <-chan Completion {
		ch := make(chan Completion, 1)
		ch <- Completion{Value: "x"}
		return ch
	})
	res := d.Call(id, 0, nil, nil)
	var oe *jserrors.OpError
	if !errors.As(res.Err, &oe) || oe.Kind != jserrors.JSTypeError {
		t.Fatalf("calling async op sync = %v, want TypeError", res.Err)
	}
}

func TestAsyncCallCompletesAndDrains(t *testing.T) {
	d, reg := newTestDispatcher(t)
	id, _ := reg.RegisterAsync("op_delay", func(ctx *CallContext) <-chan Completion {
		ch := make(chan Completion, 1)
		go func() {
			ch <- Completion{Value: 42}
		}()
		return ch
	})

	res := d.Call(id, 7, nil, nil)
	if !res.Pending {
		t.Fatalf("async call did not report Pending")
	}

	select {
	case <-d.Woken:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for Woken signal")
	}

	batch := d.DrainBatch()
	if len(batch) != 1 {
		t.Fatalf("DrainBatch() returned %d completions, want 1", len(batch))
	}
	if batch[0].PromiseID != 7 || batch[0].Value != 42 {
		t.Fatalf("completion = %+v, want PromiseID=7 Value=42", batch[0])
	}
	if d.HasPending() {
		t.Fatalf("HasPending true after drain")
	}
}

func TestDrainBatchOrderingPreservesReadyOrder(t *testing.T) {
	d, reg := newTestDispatcher(t)
	release := make(chan struct{})
	id, _ := reg.RegisterAsync("op_ordered", func(ctx *CallContext) <-chan Completion {
		ch := make(chan Completion, 1)
		pid := ctx.Control.(uint32)
		go func() {
			if pid == 1 {
				<-release
			}
			ch <- Completion{Value: pid}
		}()
		return ch
	})

	// Promise 1 is called first but blocks; promise 2 is called second and
	// finishes immediately, so it must be the only entry in the first batch.
	d.Call(id, 1, uint32(1), nil)
	d.Call(id, 2, uint32(2), nil)

	<-d.Woken
	time.Sleep(20 * time.Millisecond) // let any (unwanted) second completion land

	batch := d.DrainBatch()
	if len(batch) != 1 || batch[0].PromiseID != 2 {
		t.Fatalf("first batch = %+v, want single completion for promise 2", batch)
	}

	close(release)
	<-d.Woken
	batch = d.DrainBatch()
	if len(batch) != 1 || batch[0].PromiseID != 1 {
		t.Fatalf("second batch = %+v, want single completion for promise 1", batch)
	}
}

func TestRunSyncHandlerRecoversPanic(t *testing.T) {
	op := &Op{Name: "op_panicky", Sync: func(ctx *CallContext) (any, error) {
		panic("boom")
	}}
	_, err := runSyncHandler(op, &CallContext{})
	var oe *jserrors.OpError
	if !errors.As(err, &oe) || oe.Kind != jserrors.JSError {
		t.Fatalf("runSyncHandler panic recovery = %v, want JSError", err)
	}
}
