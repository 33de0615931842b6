package passes

import (
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-optimizer/errors"
	"github.com/wippyai/wasm-optimizer/ir"
)

// passLogger receives pass timing and per-function statistics at Debug
// level. It discards everything until SetLogger installs a real logger.
var passLogger = zap.NewNop()

// SetLogger routes the package's diagnostics to l. Call it before any passes
// run; a nil logger restores the no-op default.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	passLogger = l
}

// Pass is a module transformation. Passes are total: Run either completes or
// panics on an internal invariant violation.
type Pass interface {
	Name() string
	Run(m *ir.Module)
}

// FunctionPass is a pass that operates on one function at a time, sharing
// only immutable module-level data, and may therefore run function-parallel.
type FunctionPass interface {
	Pass
	RunOnFunction(m *ir.Module, fn *ir.Function)
	FunctionParallel() bool
}

// Runner executes a pass pipeline over a module.
type Runner struct {
	Module *ir.Module
}

// NewRunner returns a runner for the given module.
func NewRunner(m *ir.Module) *Runner {
	return &Runner{Module: m}
}

// Run executes the given passes in order. Function-parallel passes are fanned
// out over a worker pool bounded by GOMAXPROCS.
func (r *Runner) Run(passes ...Pass) {
	for _, p := range passes {
		start := time.Now()
		if fp, ok := p.(FunctionPass); ok && fp.FunctionParallel() {
			r.runParallel(fp)
		} else {
			p.Run(r.Module)
		}
		passLogger.Debug("pass complete",
			zap.String("pass", p.Name()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func (r *Runner) runParallel(p FunctionPass) {
	var defined []*ir.Function
	for _, fn := range r.Module.Functions {
		if fn.Body != nil {
			defined = append(defined, fn)
		}
	}
	workers := runtime.GOMAXPROCS(0)
	if workers > len(defined) {
		workers = len(defined)
	}
	if workers <= 1 {
		for _, fn := range defined {
			p.RunOnFunction(r.Module, fn)
		}
		return
	}

	jobs := make(chan *ir.Function)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for fn := range jobs {
				p.RunOnFunction(r.Module, fn)
			}
		}()
	}
	for _, fn := range defined {
		jobs <- fn
	}
	close(jobs)
	wg.Wait()
}

// registry maps pass names to constructors.
var registry = map[string]func() Pass{
	"heap2local": func() Pass { return NewHeap2Local() },
	"outlining":  func() Pass { return NewOutlining() },
}

// Lookup returns a fresh instance of the named pass.
func Lookup(name string) (Pass, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseRun, "pass", name)
	}
	return ctor(), nil
}
