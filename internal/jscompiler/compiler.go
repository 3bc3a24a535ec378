// Package jscompiler implements module.Compiler purely in terms of
// core.JSRuntime, so the same code serves both internal/v8engine and
// internal/quickjs even though neither backend's underlying engine API
// exposes real ES module linking (v8go's bound has no Module/Instantiate/
// Evaluate surface; see internal/v8engine/runtime.go). It takes the
// teacher's own approach to "run ES-module-shaped source in an engine with
// no module linker" — internal/webapi/polyfills.go's WrapESModule, which
// runs source through esbuild and assigns the result onto a well-known
// global — and generalizes it from "one IIFE per Worker script" to "one
// CommonJS-ish module record per graph node," wiring require()/imports
// through the module graph's own resolution instead of a single global.
package jscompiler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/module"
)

// Pump performs one unit of event-loop work (draining op completions,
// firing due timers, running microtasks, settling dynamic imports — the
// same shape as eventloop.Driver.Turn) so Evaluate can cooperatively wait
// out a module's top-level await without blocking the isolate thread on a
// condition only a goroutine elsewhere can satisfy. A nil Pump makes
// Evaluate rely on RunMicrotasks alone, which is enough for modules whose
// top-level await only awaits already-resolved/microtask-scheduled work.
type Pump func() error

const maxEvaluatePumps = 20000

// Compiler implements module.Compiler by transpiling each module's source
// to a CommonJS-shaped, async-IIFE-wrapped function and driving it through
// a require()/module registry maintained entirely in JS (bootstrapJS).
type Compiler struct {
	rt   core.JSRuntime
	pump Pump

	nextSeq int
}

// New prepares rt with the compiled-module registry bootstrapJS needs and
// returns a Compiler ready to back a module.Graph.
func New(rt core.JSRuntime) (*Compiler, error) {
	if err := rt.Eval(bootstrapJS); err != nil {
		return nil, fmt.Errorf("jscompiler: installing bootstrap: %w", err)
	}
	return &Compiler{rt: rt}, nil
}

// SetPump wires the event-loop driver's turn function in once the Driver
// exists; Compiler and Driver are constructed from opposite ends of the
// same Graph, so this is set after both exist rather than threaded through
// the constructor.
func (c *Compiler) SetPump(p Pump) { c.pump = p }

// bootstrapJS is evaluated once per isolate. It defines the module
// registry (specifier -> {module, evaluated, evalError}), the compiled-
// function table (seq -> wrapper function), and the require() the
// generated wrappers call through. It creates globalThis.__opcoreModules
// only when absent — ring.go normally creates that object first so dynamic
// import() resolution works even before any module compiles.
const bootstrapJS = `
(function (global) {
	global.__opcoreModules = global.__opcoreModules || Object.create(null);
	const compiled = Object.create(null);
	const reqMaps = Object.create(null);

	function requireFor(seq, raw) {
		const map = reqMaps[seq] || {};
		const abs = map[raw];
		if (!abs) throw new TypeError('require: ' + raw + ' was not declared as an import');
		const rec = global.__opcoreModules[abs];
		if (!rec) throw new TypeError('require: module not instantiated: ' + abs);
		return rec.module.exports;
	}

	global.__opcoreCompiled = compiled;
	global.__opcoreReqMaps = reqMaps;
	global.__opcoreRequireFor = requireFor;
})(globalThis);
`

type moduleKind int

const (
	kindCJS moduleKind = iota
	kindJSON
	kindWasm
)

// moduleRecord is the module.Handle this Compiler hands back to
// internal/module.Graph. The graph never inspects it; only this package's
// own Instantiate/Evaluate methods do.
type moduleRecord struct {
	specifier string
	seq       int
	kind      moduleKind
	imports   []string // raw specifiers, for diagnostics only
}

func quote(s string) string { return strconv.Quote(s) }

// Compile parses source into a module.Handle and, for JS/TS/JSX/TSX
// modules, eagerly strips types/JSX via esbuild and rewrites the result
// into a CommonJS-shaped wrapper function registered in the isolate under
// a sequence number (see bootstrapJS). JSON modules get a default export
// of the parsed value; Wasm modules get an empty namespace, since wiring
// actual streaming compilation through WebAssembly.instantiateStreaming is
// left to the webapi-level Wasm binding this core does not yet implement
// (spec.md's Wasm module type is accepted as a graph node so imports that
// merely reference a .wasm specifier resolve, not as a full Wasm runtime).
func (c *Compiler) Compile(specifier string, mt core.MediaType, source []byte, isMain bool) (module.Handle, []string, error) {
	c.nextSeq++
	rec := &moduleRecord{specifier: specifier, seq: c.nextSeq}

	switch mt {
	case core.MediaJSON:
		rec.kind = kindJSON
		script := fmt.Sprintf(
			`globalThis.__opcoreModules[%s] = { module: { exports: JSON.parse(%s) }, evaluated: true };`,
			quote(specifier), quote(string(source)))
		if err := c.rt.Eval(script); err != nil {
			return nil, nil, fmt.Errorf("jscompiler: compiling JSON module %q: %w", specifier, err)
		}
		return rec, nil, nil
	case core.MediaWasm:
		rec.kind = kindWasm
		script := fmt.Sprintf(
			`globalThis.__opcoreModules[%s] = { module: { exports: {} }, evaluated: true };`, quote(specifier))
		if err := c.rt.Eval(script); err != nil {
			return nil, nil, fmt.Errorf("jscompiler: compiling wasm module %q: %w", specifier, err)
		}
		return rec, nil, nil
	}

	rec.kind = kindCJS
	loader, err := loaderFor(mt)
	if err != nil {
		return nil, nil, err
	}
	result := api.Transform(string(source), api.TransformOptions{
		Loader: loader,
		Format: api.FormatESModule,
		Target: api.ESNext,
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, len(result.Errors))
		for i, m := range result.Errors {
			msgs[i] = m.Text
		}
		return nil, nil, fmt.Errorf("jscompiler: transpiling %q: %s", specifier, strings.Join(msgs, "; "))
	}
	stripped := string(result.Code)
	renamed := dynImportCallRe.ReplaceAllString(stripped, "__dynamicImport(")
	body, imports, err := toCommonJS(renamed)
	if err != nil {
		return nil, nil, fmt.Errorf("jscompiler: rewriting %q to CommonJS: %w", specifier, err)
	}
	rec.imports = imports

	wrapperSrc := fmt.Sprintf(
		"globalThis.__opcoreCompiled[%d] = (function (module, exports, require, __dynamicImport) {\n"+
			"return (async function () {\n%s\n})();\n});",
		rec.seq, body)
	if err := c.rt.Eval(wrapperSrc); err != nil {
		return nil, nil, fmt.Errorf("jscompiler: compiling %q: %w", specifier, err)
	}
	initSrc := fmt.Sprintf(
		`globalThis.__opcoreModules[%s] = { module: { exports: {} }, evaluated: false };`, quote(specifier))
	if err := c.rt.Eval(initSrc); err != nil {
		return nil, nil, fmt.Errorf("jscompiler: registering %q: %w", specifier, err)
	}
	return rec, imports, nil
}

// Instantiate wires handle's raw import specifiers to the now-compiled
// dependency handles' absolute specifiers, materializing the require()
// lookup table bootstrapJS's requireFor reads from (spec.md §4.4 "link").
func (c *Compiler) Instantiate(handle module.Handle, resolvedDeps map[string]module.Handle) error {
	rec, ok := handle.(*moduleRecord)
	if !ok {
		return fmt.Errorf("jscompiler: Instantiate: unexpected handle type %T", handle)
	}
	if rec.kind != kindCJS {
		return nil
	}
	reqMap := make(map[string]string, len(resolvedDeps))
	for raw, depHandle := range resolvedDeps {
		dep, ok := depHandle.(*moduleRecord)
		if !ok {
			return fmt.Errorf("jscompiler: Instantiate: dependency handle for %q has unexpected type %T", raw, depHandle)
		}
		reqMap[raw] = dep.specifier
	}
	b, err := marshalStringMap(reqMap)
	if err != nil {
		return fmt.Errorf("jscompiler: Instantiate %q: %w", rec.specifier, err)
	}
	script := fmt.Sprintf(`globalThis.__opcoreReqMaps[%d] = %s;`, rec.seq, b)
	if err := c.rt.Eval(script); err != nil {
		return fmt.Errorf("jscompiler: Instantiate %q: %w", rec.specifier, err)
	}
	return nil
}

// Evaluate invokes handle's wrapper function and cooperatively pumps the
// event loop (via Pump) until its returned promise settles, including any
// top-level await (spec.md §4.4's Evaluate contract). This is a bounded
// native-side wait, not a JS-visible synchronous block on async ops —
// spec.md's non-goal rules out the JS-visible form, not the host driving
// its own loop while a module's evaluation is in flight, which is what any
// embedder does while running a script that awaits at the top level.
func (c *Compiler) Evaluate(handle module.Handle) error {
	rec, ok := handle.(*moduleRecord)
	if !ok {
		return fmt.Errorf("jscompiler: Evaluate: unexpected handle type %T", handle)
	}
	if rec.kind != kindCJS {
		return nil // JSON/Wasm modules are marked evaluated at Compile time.
	}

	startScript := fmt.Sprintf(`(function () {
	const rec = globalThis.__opcoreModules[%s];
	const dynImport = function (s) { return globalThis.__opcoreInternal.__begin_dyn_import(s, %s); };
	const req = function (raw) { return globalThis.__opcoreRequireFor(%d, raw); };
	const p = globalThis.__opcoreCompiled[%d](rec.module, rec.module.exports, req, dynImport);
	Promise.resolve(p).then(
		function () { rec.evaluated = true; },
		function (e) { rec.evaluated = true; rec.evalError = (e && e.message) ? e.message : String(e); }
	);
})();`, quote(rec.specifier), quote(rec.specifier), rec.seq, rec.seq)

	if err := c.rt.Eval(startScript); err != nil {
		return fmt.Errorf("jscompiler: starting evaluation of %q: %w", rec.specifier, err)
	}

	doneExpr := fmt.Sprintf(`!!(globalThis.__opcoreModules[%s].evaluated)`, quote(rec.specifier))
	for i := 0; i < maxEvaluatePumps; i++ {
		done, err := c.rt.EvalBool(doneExpr)
		if err != nil {
			return fmt.Errorf("jscompiler: checking evaluation of %q: %w", rec.specifier, err)
		}
		if done {
			break
		}
		c.rt.RunMicrotasks()
		if c.pump != nil {
			if err := c.pump(); err != nil {
				return fmt.Errorf("jscompiler: pumping event loop while evaluating %q: %w", rec.specifier, err)
			}
		}
	}

	done, err := c.rt.EvalBool(doneExpr)
	if err != nil {
		return fmt.Errorf("jscompiler: checking evaluation of %q: %w", rec.specifier, err)
	}
	if !done {
		return fmt.Errorf("jscompiler: %q did not settle its top-level evaluation (stuck top-level await?)", rec.specifier)
	}
	errExpr := fmt.Sprintf(`globalThis.__opcoreModules[%s].evalError || ''`, quote(rec.specifier))
	evalErr, err := c.rt.EvalString(errExpr)
	if err != nil {
		return fmt.Errorf("jscompiler: reading evaluation error for %q: %w", rec.specifier, err)
	}
	if evalErr != "" {
		return fmt.Errorf("jscompiler: %q threw during evaluation: %s", rec.specifier, evalErr)
	}
	return nil
}

func loaderFor(mt core.MediaType) (api.Loader, error) {
	switch mt {
	case core.MediaJS:
		return api.LoaderJS, nil
	case core.MediaJSX:
		return api.LoaderJSX, nil
	case core.MediaTS:
		return api.LoaderTS, nil
	case core.MediaTSX:
		return api.LoaderTSX, nil
	default:
		return 0, fmt.Errorf("jscompiler: unsupported media type %s", mt)
	}
}

// marshalStringMap renders a map[string]string as a JS object literal
// without going through encoding/json (which would quote keys in a way
// that's valid JS anyway, but this keeps the dependency surface of this
// file limited to what it already imports for quote()).
func marshalStringMap(m map[string]string) (string, error) {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	for k, v := range m {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(quote(k))
		b.WriteByte(':')
		b.WriteString(quote(v))
	}
	b.WriteByte('}')
	return b.String(), nil
}

// dynImportCallRe renames dynamic import() call expressions to
// __dynamicImport(...) before the CommonJS rewrite runs, so toCommonJS
// only ever has to deal with static import/export statement forms — esbuild
// already guarantees no other "import" token is followed directly by "(".
var dynImportCallRe = regexp.MustCompile(`\bimport\s*\(`)
