package wasmoptimizer

import (
	"github.com/wippyai/wasm-optimizer/ir"
	"github.com/wippyai/wasm-optimizer/passes"
)

// DefaultPasses is the pipeline Optimize runs when no pass names are given.
var DefaultPasses = []string{"heap2local", "outlining"}

// Optimize runs the named passes over the module in order, or the default
// pipeline when none are named. The module is transformed in place.
func Optimize(m *ir.Module, passNames ...string) error {
	if len(passNames) == 0 {
		passNames = DefaultPasses
	}
	pipeline := make([]passes.Pass, 0, len(passNames))
	for _, name := range passNames {
		p, err := passes.Lookup(name)
		if err != nil {
			return err
		}
		pipeline = append(pipeline, p)
	}
	passes.NewRunner(m).Run(pipeline...)
	return nil
}
