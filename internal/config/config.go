// Package config loads an IsolateConfig from a YAML file, following the
// teacher's convention of zero-value-means-default structs and the
// retrieval pack's own yaml.v3 usage for service manifests
// (SPEC_FULL.md §4.8).
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cryguy/opcore/internal/core"
)

// fileConfig mirrors core.IsolateConfig with YAML-friendly field names and
// string durations, since time.Duration has no native YAML scalar form.
type fileConfig struct {
	HeapLimitMB      int    `yaml:"heap_limit_mb"`
	SnapshotPath     string `yaml:"snapshot_path"`
	ModuleCachePath  string `yaml:"module_cache_path"`
	ExecutionTimeout string `yaml:"execution_timeout"`
	PromiseRingSize  int    `yaml:"promise_ring_size"`
	PoolSize         int    `yaml:"pool_size"`
}

// Load reads and parses an IsolateConfig from a YAML file at path.
func Load(path string) (*core.IsolateConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg := &core.IsolateConfig{
		HeapLimitMB:     fc.HeapLimitMB,
		SnapshotPath:    fc.SnapshotPath,
		ModuleCachePath: fc.ModuleCachePath,
		PromiseRingSize: fc.PromiseRingSize,
		PoolSize:        fc.PoolSize,
	}
	if fc.ExecutionTimeout != "" {
		d, err := time.ParseDuration(fc.ExecutionTimeout)
		if err != nil {
			return nil, fmt.Errorf("config: %s: invalid execution_timeout %q: %w", path, fc.ExecutionTimeout, err)
		}
		cfg.ExecutionTimeout = d
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their runtime defaults,
// matching the teacher's pattern of resolving unset EngineConfig fields
// once at pool-creation time rather than scattering nil checks.
func ApplyDefaults(cfg *core.IsolateConfig) {
	if cfg.PromiseRingSize == 0 {
		cfg.PromiseRingSize = core.DefaultPromiseRingSize
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = core.DefaultPoolSize
	}
}
