package core

import "time"

// IsolateConfig configures a single isolate host. Zero values mean
// "unset, use the backend's default" — the same convention the teacher's
// EngineConfig used for pool sizing.
type IsolateConfig struct {
	// HeapLimitMB bounds the isolate's V8/QuickJS heap. 0 means engine default.
	HeapLimitMB int

	// SnapshotPath names a startup snapshot file (spec.md §6, "Startup
	// snapshot"). Neither backend's NewHost reads it; isolate creation
	// always compiles the core bindings from source.
	SnapshotPath string

	// ModuleCachePath, if non-empty, backs the module graph's content-hash
	// cache with the SQLite-backed store in internal/modcache.
	ModuleCachePath string

	// ExecutionTimeout bounds the event-loop drive that follows a
	// RunModule or Eval call; the module evaluation or script run before it
	// is not bounded. 0 means no timeout.
	ExecutionTimeout time.Duration

	// PromiseRingSize is the power-of-two size R of the JS-side promise
	// ring (spec.md §3, §4.2). 0 means the bindings installer's default.
	PromiseRingSize int

	// PoolSize mirrors the teacher's EngineConfig pool sizing. 0 means
	// DefaultPoolSize. No backend builds a pool of isolates from it; each
	// Runtime wraps exactly one isolate.
	PoolSize int
}

// DefaultPromiseRingSize is used when IsolateConfig.PromiseRingSize is 0.
const DefaultPromiseRingSize = 4096

// DefaultPoolSize is used when IsolateConfig.PoolSize is 0.
const DefaultPoolSize = 4
