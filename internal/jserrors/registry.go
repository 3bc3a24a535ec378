package jserrors

import (
	"fmt"
	"sync"
)

// Registry tracks which error Kinds have a JS-side class/builder
// registered via registerErrorClass/registerErrorBuilder (spec.md §6).
// The actual JS constructor/function lives in the JS engine, not here —
// this registry only enforces "registered exactly once per kind" and lets
// Go code ask whether a kind will produce a properly-classed JS error or
// fall back to the generic Error (spec.md §7 "Unregistered kinds fall
// back to a generic Error with a diagnostic prefix").
type Registry struct {
	mu         sync.RWMutex
	registered map[Kind]bool
}

// NewRegistry creates an empty registry. The six JS builtin kinds never
// need registration — the JS side constructs them directly — so they are
// reported as always-registered.
func NewRegistry() *Registry {
	return &Registry{registered: make(map[Kind]bool)}
}

// Register records that kind now has a JS-side builder. Registering the
// same kind twice is an error: the teacher's pattern (and this core's) is
// "register once at bindings-install time," not a dynamic re-registration
// path.
func (r *Registry) Register(kind Kind) error {
	if kind == "" {
		return fmt.Errorf("jserrors: cannot register an empty kind")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.registered[kind] {
		return fmt.Errorf("jserrors: kind %q already registered", kind)
	}
	r.registered[kind] = true
	return nil
}

// IsRegistered reports whether kind has a registered JS builder, counting
// the six built-in JS error kinds as always registered.
func (r *Registry) IsRegistered(kind Kind) bool {
	if IsBuiltin(kind) {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.registered[kind]
}

// Kinds returns every explicitly-registered (non-builtin) kind.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.registered))
	for k := range r.registered {
		out = append(out, k)
	}
	return out
}
