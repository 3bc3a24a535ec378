package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cryguy/opcore/internal/core"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "isolate.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestLoadParsesAllFields(t *testing.T) {
	path := writeConfig(t, `
heap_limit_mb: 256
snapshot_path: /var/opcore/isolate.snap
module_cache_path: /var/opcore/modules.sqlite3
execution_timeout: 5s
promise_ring_size: 8192
pool_size: 8
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := core.IsolateConfig{
		HeapLimitMB:      256,
		SnapshotPath:     "/var/opcore/isolate.snap",
		ModuleCachePath:  "/var/opcore/modules.sqlite3",
		ExecutionTimeout: 5 * time.Second,
		PromiseRingSize:  8192,
		PoolSize:         8,
	}
	if *cfg != want {
		t.Fatalf("Load = %+v, want %+v", *cfg, want)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadInvalidDurationErrors(t *testing.T) {
	path := writeConfig(t, "execution_timeout: not-a-duration\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for invalid execution_timeout")
	}
}

func TestApplyDefaultsFillsZeroValues(t *testing.T) {
	cfg := &core.IsolateConfig{}
	ApplyDefaults(cfg)
	if cfg.PromiseRingSize != core.DefaultPromiseRingSize {
		t.Fatalf("PromiseRingSize = %d, want default %d", cfg.PromiseRingSize, core.DefaultPromiseRingSize)
	}
	if cfg.PoolSize != core.DefaultPoolSize {
		t.Fatalf("PoolSize = %d, want default %d", cfg.PoolSize, core.DefaultPoolSize)
	}
}

func TestApplyDefaultsPreservesSetValues(t *testing.T) {
	cfg := &core.IsolateConfig{PromiseRingSize: 128}
	ApplyDefaults(cfg)
	if cfg.PromiseRingSize != 128 {
		t.Fatalf("PromiseRingSize = %d, want 128 (already set)", cfg.PromiseRingSize)
	}
}
