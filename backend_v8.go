//go:build v8

package opcore

import (
	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/v8engine"
)

// RegisterOps lets an embedder add domain ops to the dispatcher before any
// module runs.
type RegisterOps = v8engine.RegisterOps

func newHost(cfg core.IsolateConfig, loader core.ModuleLoader, registerOps RegisterOps) (core.Host, error) {
	return v8engine.NewHost(cfg, loader, registerOps)
}
