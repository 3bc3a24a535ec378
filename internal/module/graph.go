// Package module implements the module loader and graph of spec.md §4.4:
// specifier-keyed identity, content-hash versioning, cycle-tolerant
// instantiation, and dynamic import() bookkeeping.
//
// The backend-specific work of actually compiling/linking/evaluating a
// module (v8go's Module API, or the QuickJS equivalent) is abstracted
// behind the Compiler interface so this package owns only the graph
// shape and state machine — the part of spec.md §4.4 that is backend
// agnostic — grounded on the teacher's own split between "what the
// engine does" (internal/v8engine, internal/quickjs) and "what the
// runtime tracks regardless of engine" (internal/core).
package module

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/cryguy/opcore/internal/core"
)

// Handle is an opaque, Compiler-owned compiled-module reference (the
// jscompiler package's own module record for both backends). The graph
// never looks inside it.
type Handle any

// Module is one node in the graph, keyed by absolute specifier (spec.md
// §4.4 "Identity: keyed by absolute specifier; one module per specifier
// per isolate").
type Module struct {
	Specifier string
	MediaType core.MediaType
	Source    []byte
	Hash      string

	Imports         []string          // raw specifiers as written in source
	ResolvedImports map[string]string // raw specifier -> absolute specifier

	State ModuleState
	Err   error

	Handle Handle
	IsMain bool
}

// ModuleState mirrors core.ModuleState but is redeclared here as the type
// callers of this package interact with, keeping core.ModuleState a pure
// value type with no package dependency back onto module.
type ModuleState = core.ModuleState

const (
	Unloaded     = core.ModuleUnloaded
	Loaded       = core.ModuleLoaded
	Instantiated = core.ModuleInstantiated
	Evaluated    = core.ModuleEvaluated
	Errored      = core.ModuleErrored
)

// Compiler performs the backend-specific half of loading a module:
// parsing source into a linkable handle and, separately, instantiating
// and evaluating that handle once its imports are resolved.
type Compiler interface {
	// Compile parses source into a module handle and returns the raw
	// import specifiers it declares, in source order.
	Compile(specifier string, mediaType core.MediaType, source []byte, isMain bool) (handle Handle, imports []string, err error)

	// Instantiate links handle's imports against the already-compiled
	// dependency handles (keyed by the raw specifier as declared in
	// source, matching the order returned from Compile).
	Instantiate(handle Handle, resolvedDeps map[string]Handle) error

	// Evaluate runs the module's top-level code, including awaiting any
	// top-level `await`. The event-loop driver is expected to pump
	// microtasks/timers/ops around this call for a real isolate; fakes
	// used in tests may complete synchronously.
	Evaluate(handle Handle) error
}

// Graph is the per-isolate module registry. It is not safe for concurrent
// mutation from multiple goroutines beyond the single isolate thread
// (spec.md §5).
type Graph struct {
	loader   core.ModuleLoader
	compiler Compiler

	mu      sync.Mutex
	modules map[string]*Module

	dyn *dynImportQueue
}

// New creates an empty module graph over the given loader and compiler.
func New(loader core.ModuleLoader, compiler Compiler) *Graph {
	return &Graph{
		loader:   loader,
		compiler: compiler,
		modules:  make(map[string]*Module),
		dyn:      newDynImportQueue(),
	}
}

// hashSource computes the content hash used as a module's version
// (spec.md §3 "Module" attributes: "a content hash (used as version)").
func hashSource(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// loadModule fetches and compiles the module at specifier if not already
// known, returning the (possibly pre-existing) graph node. It does not
// recurse into imports — that is Instantiate's job.
func (g *Graph) loadModule(specifier string, isMain bool) (*Module, error) {
	g.mu.Lock()
	if m, ok := g.modules[specifier]; ok {
		g.mu.Unlock()
		return m, nil
	}
	g.mu.Unlock()

	src, err := g.loader.Load(specifier)
	if err != nil {
		return nil, fmt.Errorf("module: load %s: %w", specifier, err)
	}

	hash := src.Hash
	if hash == "" {
		hash = hashSource(src.Source)
	}
	m := &Module{
		Specifier:       specifier,
		MediaType:       src.MediaType,
		Source:          src.Source,
		Hash:            hash,
		ResolvedImports: make(map[string]string),
		IsMain:          isMain,
	}

	if m.MediaType == core.MediaDTS {
		// "Dts is ignored at runtime" (spec.md §4.4): record it loaded but
		// never compiled, and instantiation/evaluation on it are no-ops.
		m.State = Loaded
		g.register(m)
		return m, nil
	}

	handle, imports, err := g.compiler.Compile(specifier, m.MediaType, m.Source, isMain)
	if err != nil {
		m.State = Errored
		m.Err = err
		g.register(m)
		return m, err
	}
	m.Handle = handle
	m.Imports = imports
	m.State = Loaded
	g.register(m)
	return m, nil
}

func (g *Graph) register(m *Module) {
	g.mu.Lock()
	g.modules[m.Specifier] = m
	g.mu.Unlock()
}

// Get returns the module at specifier if it has already been loaded.
func (g *Graph) Get(specifier string) (*Module, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.modules[specifier]
	return m, ok
}

// Instantiate loads (if needed), recursively resolves and loads every
// transitive import, and links the named module and its whole subgraph.
// Instantiation is idempotent per module and tolerant of import cycles
// (spec.md §4.4 "Cycles are permitted; instantiation is idempotent per
// handle").
func (g *Graph) Instantiate(specifier string) error {
	return g.instantiate(specifier, "", true, make(map[string]bool))
}

func (g *Graph) instantiate(specifier, referrer string, isMain bool, visiting map[string]bool) error {
	m, err := g.loadModule(specifier, isMain)
	if err != nil {
		return err
	}
	if m.State == Errored {
		return m.Err
	}
	if m.State >= Instantiated || m.MediaType == core.MediaDTS {
		return nil
	}
	if visiting[specifier] {
		// Already being linked further up this DFS walk: the cycle will be
		// closed by that frame, so stop descending here.
		return nil
	}
	visiting[specifier] = true

	deps := make(map[string]Handle, len(m.Imports))
	for _, raw := range m.Imports {
		abs, err := g.loader.Resolve(raw, specifier)
		if err != nil {
			m.State = Errored
			m.Err = fmt.Errorf("module: resolve %q from %s: %w", raw, specifier, err)
			return m.Err
		}
		m.ResolvedImports[raw] = abs

		if err := g.instantiate(abs, specifier, false, visiting); err != nil {
			m.State = Errored
			m.Err = err
			return err
		}
		dep, ok := g.Get(abs)
		if !ok || dep.Handle == nil {
			// A Dts or errored dependency contributes no linkable handle;
			// the compiler's Instantiate is expected to tolerate a missing
			// entry the same way it tolerates an ES module with no default
			// export.
			continue
		}
		deps[raw] = dep.Handle
	}

	if m.MediaType != core.MediaDTS {
		if err := g.compiler.Instantiate(m.Handle, deps); err != nil {
			m.State = Errored
			m.Err = err
			return err
		}
	}
	m.State = Instantiated
	return nil
}

// Evaluate instantiates (if needed) and evaluates the module at
// specifier. Evaluating an already-evaluated or already-errored module is
// a no-op that returns the stored outcome (spec.md §4.4 "evaluating a
// module twice yields the same promise (completed)").
func (g *Graph) Evaluate(specifier string) error {
	if err := g.Instantiate(specifier); err != nil {
		return err
	}
	m, ok := g.Get(specifier)
	if !ok {
		return fmt.Errorf("module: %s not found after instantiate", specifier)
	}
	return g.evaluate(m, make(map[string]bool))
}

// evaluate walks every transitive dependency of m depth-first, evaluating
// each one post-order (deepest dependency first) before m itself, so a
// require() three or more levels down always observes its dependency's
// real exports rather than the placeholder object linking installs before
// evaluation runs. visiting breaks import cycles the same way Instantiate
// does — cycles are still permitted per spec.md §4.4, evaluation just
// follows the same depth-first order instantiation used.
func (g *Graph) evaluate(m *Module, visiting map[string]bool) error {
	if m.State == Evaluated || m.State == Errored {
		return m.Err
	}
	if m.MediaType == core.MediaDTS {
		m.State = Evaluated
		return nil
	}
	if visiting[m.Specifier] {
		return nil
	}
	visiting[m.Specifier] = true

	for _, abs := range m.ResolvedImports {
		dep, ok := g.Get(abs)
		if !ok {
			continue
		}
		if err := g.evaluate(dep, visiting); err != nil {
			m.State = Errored
			m.Err = err
			return err
		}
	}
	return g.evaluateNoInstantiate(m)
}

func (g *Graph) evaluateNoInstantiate(m *Module) error {
	if m.State == Evaluated || m.State == Errored {
		return m.Err
	}
	if err := g.compiler.Evaluate(m.Handle); err != nil {
		m.State = Errored
		m.Err = err
		// spec.md §4.4 "Cycles": "an evaluation error anywhere in the graph
		// marks the whole graph Errored."
		g.markGraphErrored(err)
		return err
	}
	m.State = Evaluated
	return nil
}

func (g *Graph) markGraphErrored(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.modules {
		if m.State != Evaluated {
			m.State = Errored
			if m.Err == nil {
				m.Err = err
			}
		}
	}
}

// ImportMeta returns the import.meta fields for a module (spec.md §4.4
// "import.meta").
func (g *Graph) ImportMeta(specifier string) (url string, main bool, ok bool) {
	m, found := g.Get(specifier)
	if !found {
		return "", false, false
	}
	return m.Specifier, m.IsMain, true
}
