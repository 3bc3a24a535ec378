package core

// JSRuntime abstracts the JavaScript engine (V8 or QuickJS) behind the
// common surface the bindings installer, timer scheduler, and event-loop
// driver use to talk to whichever isolate is live. Kept narrow and
// string/primitive-based, matching the teacher's internal/core.JSRuntime —
// anything requiring native value access (zero-copy buffers, promise
// resolvers) goes through the richer per-backend interfaces in
// internal/opdispatch instead.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function,
	// marshaling primitive argument/return types automatically.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue to quiescence.
	RunMicrotasks()
}

// ModuleLoader is the host-provided collaborator the module graph calls to
// resolve specifiers and fetch source (spec.md §4.4). It is intentionally
// the only way the core learns about the outside world: file systems,
// HTTP fetchers, and bundlers are external, non-goal concerns that
// implement this interface.
type ModuleLoader interface {
	// Resolve must be pure and idempotent per (specifier, referrer) pair.
	Resolve(specifier, referrer string) (absolute string, err error)

	// Load returns the source for an already-resolved absolute specifier.
	Load(absoluteSpecifier string) (*LoadedSource, error)
}

// DynImportHost is called once per dynamic import() expression encountered
// during evaluation (spec.md §4.4 "Dynamic import"). The host must
// eventually report completion via the module graph's
// ReportDynImportResolution.
type DynImportHost interface {
	DynamicImport(importID uint32, specifier, referrer string)
}

// Host is the top-level contract a compiled isolate backend exposes,
// mirroring the teacher's core.EngineBackend facade but generalized from
// "run a Workers fetch handler" to "run any ES module entry point."
type Host interface {
	// RunModule compiles, instantiates, and evaluates the module at
	// mainSpecifier (which must already be resolvable via the configured
	// ModuleLoader), driving the event loop until evaluation settles.
	RunModule(mainSpecifier string) (*ExecResult, error)

	// Eval runs a classic (non-module) script, e.g. for REPL-style driving
	// in tests.
	Eval(source, name string) (*ExecResult, error)

	// LastException returns the most recently captured structured
	// exception, if any (spec.md §4.1).
	LastException() *StructuredException

	// Dispose tears down the isolate and releases native resources.
	Dispose()
}
