//go:build v8

package v8engine

import (
	"errors"
	"testing"
	"time"

	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/opdispatch"
)

type fakeLoader struct{ files map[string]string }

func (l *fakeLoader) Resolve(specifier, referrer string) (string, error) { return specifier, nil }
func (l *fakeLoader) Load(specifier string) (*core.LoadedSource, error) {
	src, ok := l.files[specifier]
	if !ok {
		return nil, errors.New("no such module")
	}
	return &core.LoadedSource{Source: []byte(src), MediaType: core.MediaJS}, nil
}

func TestHostRunModuleExecutesSource(t *testing.T) {
	loader := &fakeLoader{files: map[string]string{
		"main.js": `globalThis.__ran = true;`,
	}}
	h, err := NewHost(core.IsolateConfig{}, loader, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Dispose()

	if _, err := h.RunModule("main.js"); err != nil {
		t.Fatalf("RunModule: %v", err)
	}
	ran, err := h.rt.EvalBool("!!globalThis.__ran")
	if err != nil {
		t.Fatalf("EvalBool: %v", err)
	}
	if !ran {
		t.Fatalf("module body did not run")
	}
}

func TestHostRunModuleDispatchesSyncOp(t *testing.T) {
	loader := &fakeLoader{files: map[string]string{
		"main.js": `globalThis.__doubled = core.send("double", null, 21);`,
	}}
	registerOps := func(reg *opdispatch.Registry) error {
		_, err := reg.RegisterSync("double", func(ctx *opdispatch.CallContext) (any, error) {
			n, _ := ctx.Control.(float64)
			return n * 2, nil
		})
		return err
	}
	h, err := NewHost(core.IsolateConfig{}, loader, registerOps)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Dispose()

	if _, err := h.RunModule("main.js"); err != nil {
		t.Fatalf("RunModule: %v", err)
	}
	doubled, err := h.rt.EvalInt("globalThis.__doubled")
	if err != nil {
		t.Fatalf("EvalInt: %v", err)
	}
	if doubled != 42 {
		t.Fatalf("doubled = %d, want 42", doubled)
	}
}

func TestHostRunModuleSettlesTimer(t *testing.T) {
	loader := &fakeLoader{files: map[string]string{
		"main.js": `
globalThis.__fired = false;
setTimeout(function() { globalThis.__fired = true; }, 1);
`,
	}}
	h, err := NewHost(core.IsolateConfig{}, loader, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Dispose()

	if _, err := h.RunModule("main.js"); err != nil {
		t.Fatalf("RunModule: %v", err)
	}
	fired, err := h.rt.EvalBool("!!globalThis.__fired")
	if err != nil {
		t.Fatalf("EvalBool: %v", err)
	}
	if !fired {
		t.Fatalf("timer callback did not fire before RunModule returned")
	}
}

func TestHostEvalRunsClassicScript(t *testing.T) {
	h, err := NewHost(core.IsolateConfig{}, &fakeLoader{files: map[string]string{}}, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Dispose()

	if _, err := h.Eval(`globalThis.__x = 1 + 1;`, "script.js"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	x, err := h.rt.EvalInt("globalThis.__x")
	if err != nil {
		t.Fatalf("EvalInt: %v", err)
	}
	if x != 2 {
		t.Fatalf("x = %d, want 2", x)
	}
}

func TestHostRunModuleExecutionTimeout(t *testing.T) {
	loader := &fakeLoader{files: map[string]string{
		"main.js": `setTimeout(function() {}, 1000000);`,
	}}
	h, err := NewHost(core.IsolateConfig{ExecutionTimeout: 10 * time.Millisecond}, loader, nil)
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	defer h.Dispose()

	if _, err := h.RunModule("main.js"); err == nil {
		t.Fatalf("expected RunModule to fail once ExecutionTimeout elapses with a pending timer")
	}
}
