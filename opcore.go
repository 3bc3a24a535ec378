// Package opcore is the embedder-facing entry point: a Runtime wraps
// exactly one isolate host behind core.Host, delegating to whichever
// backend was selected at build time (QuickJS by default, V8 with
// -tags v8). Grounded on the teacher's own worker.go Engine facade, which
// made the same choice at the EngineBackend level.
package opcore

import (
	"github.com/cryguy/opcore/internal/config"
	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/modcache"
)

// LoadConfig reads an IsolateConfig from a YAML file, the on-disk form an
// embedder would hand to New instead of building core.IsolateConfig by
// hand.
func LoadConfig(path string) (*core.IsolateConfig, error) {
	return config.Load(path)
}

// Runtime wraps a backend isolate host.
type Runtime struct {
	host  core.Host
	store *modcache.Store
}

// New creates a Runtime with the given isolate config, module loader, and
// an optional hook for registering domain ops before any module runs. When
// cfg.ModuleCachePath is non-empty, loader is wrapped in a modcache.CachingLoader
// backed by a SQLite store at that path. The wrapped loader's Resolve and
// Load are still called for every module; the store keeps loaded sources
// across process restarts.
func New(cfg core.IsolateConfig, loader core.ModuleLoader, registerOps RegisterOps) (*Runtime, error) {
	config.ApplyDefaults(&cfg)

	var store *modcache.Store
	if cfg.ModuleCachePath != "" {
		s, err := modcache.Open(cfg.ModuleCachePath)
		if err != nil {
			return nil, err
		}
		store = s
		loader = modcache.NewCachingLoader(loader, store, nil)
	}

	host, err := newHost(cfg, loader, registerOps)
	if err != nil {
		if store != nil {
			store.Close()
		}
		return nil, err
	}
	return &Runtime{host: host, store: store}, nil
}

// RunModule evaluates the module graph rooted at mainSpecifier, draining
// the event loop (ops, timers, dynamic imports) until quiescent.
func (r *Runtime) RunModule(mainSpecifier string) (*core.ExecResult, error) {
	return r.host.RunModule(mainSpecifier)
}

// Eval runs a classic (non-module) script through the same event loop.
func (r *Runtime) Eval(source, name string) (*core.ExecResult, error) {
	return r.host.Eval(source, name)
}

// LastException returns the structured exception from the most recent
// RunModule/Eval call that threw, or nil.
func (r *Runtime) LastException() *core.StructuredException {
	return r.host.LastException()
}

// Dispose releases the isolate and everything it owns, including the
// module cache store opened for cfg.ModuleCachePath, if any.
func (r *Runtime) Dispose() {
	r.host.Dispose()
	if r.store != nil {
		r.store.Close()
	}
}
