//go:build v8

package v8engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cryguy/opcore/internal/bindings"
	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/eventloop"
	"github.com/cryguy/opcore/internal/jscompiler"
	"github.com/cryguy/opcore/internal/jserrors"
	"github.com/cryguy/opcore/internal/logging"
	"github.com/cryguy/opcore/internal/module"
	"github.com/cryguy/opcore/internal/opdispatch"
	"github.com/cryguy/opcore/internal/resource"
	"github.com/cryguy/opcore/internal/timer"
	"github.com/google/uuid"
	v8 "github.com/tommie/v8go"
)

// Host is a single V8 isolate wired into the op dispatcher, resource
// table, timer scheduler, module graph, and event-loop driver — the
// concrete core.Host this core's V8 backend exposes. It replaces the
// teacher's per-site v8Worker/sitePool, which multiplexed one isolate per
// (SiteID, DeployKey) fetch-handler tenant; this core's unit of work is
// "evaluate one module graph," so isolate lifecycle is owned directly by
// Host rather than keyed by a tenant identity that no longer exists.
type Host struct {
	iso *v8.Isolate
	ctx *v8.Context
	rt  *v8Runtime

	registry  *opdispatch.Registry
	dispatch  *opdispatch.Dispatcher
	resources *resource.Table
	errors    *jserrors.Registry
	compiler  *jscompiler.Compiler
	graph     *module.Graph
	timers    *timer.Scheduler
	bridge    *bindings.Bridge
	driver    *eventloop.Driver
	logger    *slog.Logger

	lastException *core.StructuredException
	execTimeout   time.Duration
}

// contextWithTimeout bounds a single RunModule/Eval's event-loop drive by
// Host's configured ExecutionTimeout (spec.md §4.1 "execution timeout"),
// mirroring the teacher's per-call watchdog in internal/v8engine/execute.go
// without needing a separate goroutine + TerminateExecution call, since
// the driver's own ctx.Done() check already exits its Run loop promptly.
func contextWithTimeout(h *Host) (context.Context, context.CancelFunc) {
	if h.execTimeout <= 0 {
		return context.Background(), func() {}
	}
	return context.WithTimeout(context.Background(), h.execTimeout)
}

// RegisterOps lets an embedder add domain ops to the dispatcher before any
// module runs — the op set itself is an embedding concern (spec.md §3
// "Op"), not something this core backend hardcodes.
type RegisterOps func(*opdispatch.Registry) error

// NewHost creates one V8 isolate, installs the bindings surface (spec.md
// §6), and wires the op dispatcher, resource table, timer scheduler, and
// module graph into an eventloop.Driver, mirroring the teacher's
// newV8Worker isolate/context/resource-constraint setup but building a
// core.Host instead of a bare Web-API-equipped worker.
func NewHost(cfg core.IsolateConfig, loader core.ModuleLoader, registerOps RegisterOps) (*Host, error) {
	var iso *v8.Isolate
	if cfg.HeapLimitMB > 0 {
		heapSize := uint64(cfg.HeapLimitMB) * 1024 * 1024
		iso = v8.NewIsolate(v8.WithResourceConstraints(heapSize/2, heapSize))
	} else {
		iso = v8.NewIsolate()
	}
	ctx := v8.NewContext(iso)
	rt := &v8Runtime{iso: iso, ctx: ctx}

	h := &Host{iso: iso, ctx: ctx, rt: rt, execTimeout: cfg.ExecutionTimeout}

	registry := opdispatch.NewRegistry()
	if registerOps != nil {
		if err := registerOps(registry); err != nil {
			h.dispose()
			return nil, fmt.Errorf("v8engine: registering ops: %w", err)
		}
	}
	h.registry = registry
	h.resources = resource.New()
	h.dispatch = opdispatch.New(registry, h.resources)
	h.errors = jserrors.NewRegistry()
	h.timers = timer.New()

	if cfg.PromiseRingSize > 0 {
		if err := rt.SetGlobal("__opcoreRingSize", cfg.PromiseRingSize); err != nil {
			h.dispose()
			return nil, fmt.Errorf("v8engine: setting ring size: %w", err)
		}
	}

	compiler, err := jscompiler.New(rt)
	if err != nil {
		h.dispose()
		return nil, fmt.Errorf("v8engine: %w", err)
	}
	h.compiler = compiler
	h.graph = module.New(loader, compiler)
	// A short correlation id for every log line this isolate produces
	// (print(), unhandled-rejection reports), the same
	// uuid.New().String()[:8] convention the retrieval pack uses for its
	// own per-execution request ids.
	h.logger = logging.Default().With("isolate_id", uuid.New().String()[:8])

	in := bindings.New(h.dispatch, h.errors, h.graph, h.logger)
	if err := in.Install(rt); err != nil {
		h.dispose()
		return nil, fmt.Errorf("v8engine: installing bindings: %w", err)
	}
	h.bridge = bindings.NewBridge(rt, in, h.resources, h.timers)

	h.driver = eventloop.New(h.dispatch, h.timers, h.graph, h.bridge, h.hasLiveResources, time.Now)
	h.driver.OnUnhandledRejection(h.reportUnhandledRejection)
	compiler.SetPump(h.driver.Turn)

	return h, nil
}

// reportUnhandledRejection logs an unhandled promise rejection and records
// it as the isolate's last exception (spec.md §4.6 step 4, §7 "populate
// last_exception"), mirroring captureException's shape so LastException()
// looks the same regardless of whether the failure came from a thrown
// exception or a rejection nobody caught.
func (h *Host) reportUnhandledRejection(r eventloop.UnhandledRejection) {
	h.logger.Error("unhandled promise rejection", "promise_id", r.PromiseID, "reason", r.Reason)
	h.lastException = &core.StructuredException{Message: r.Reason}
}

func (h *Host) hasLiveResources() bool {
	return len(h.resources.Entries()) > 0
}

// RunModule implements core.Host.
func (h *Host) RunModule(mainSpecifier string) (*core.ExecResult, error) {
	start := time.Now()
	if err := h.graph.Evaluate(mainSpecifier); err != nil {
		h.captureException(err)
		return &core.ExecResult{Exception: h.lastException, Duration: time.Since(start)}, err
	}
	ctx, cancel := contextWithTimeout(h)
	defer cancel()
	if err := h.driver.Run(ctx); err != nil {
		h.captureException(err)
		return &core.ExecResult{Exception: h.lastException, Duration: time.Since(start)}, err
	}
	return &core.ExecResult{Duration: time.Since(start)}, nil
}

// Eval implements core.Host: a classic (non-module) script, driven
// through the same event-loop turn logic so setTimeout/ops used from a
// plain script still settle.
func (h *Host) Eval(source, name string) (*core.ExecResult, error) {
	start := time.Now()
	if err := h.rt.Eval(source); err != nil {
		h.captureException(err)
		return &core.ExecResult{Exception: h.lastException, Duration: time.Since(start)}, err
	}
	ctx, cancel := contextWithTimeout(h)
	defer cancel()
	if err := h.driver.Run(ctx); err != nil {
		h.captureException(err)
		return &core.ExecResult{Exception: h.lastException, Duration: time.Since(start)}, err
	}
	return &core.ExecResult{Duration: time.Since(start)}, nil
}

// LastException implements core.Host.
func (h *Host) LastException() *core.StructuredException { return h.lastException }

func (h *Host) captureException(err error) {
	if err == nil {
		return
	}
	h.lastException = &core.StructuredException{Message: err.Error()}
}

// Dispose implements core.Host.
func (h *Host) Dispose() { h.dispose() }

func (h *Host) dispose() {
	if h.resources != nil {
		h.resources.CloseAll()
	}
	if h.ctx != nil {
		h.ctx.Close()
	}
	if h.iso != nil {
		h.iso.Dispose()
	}
}

var _ core.Host = (*Host)(nil)
