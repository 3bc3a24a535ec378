//go:build !v8

package opcore

import (
	"github.com/cryguy/opcore/internal/core"
	"github.com/cryguy/opcore/internal/quickjs"
)

// RegisterOps lets an embedder add domain ops to the dispatcher before any
// module runs.
type RegisterOps = quickjs.RegisterOps

func newHost(cfg core.IsolateConfig, loader core.ModuleLoader, registerOps RegisterOps) (core.Host, error) {
	return quickjs.NewHost(cfg, loader, registerOps)
}
