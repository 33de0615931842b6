package passes

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-optimizer/ir"
)

// defaultMaxArraySize bounds the array allocations considered for lowering.
// Valid wasm can allocate arrays that would fail at runtime on VM limits, and
// a heap-to-stack conversion of a large array is noticeable, so the limit is
// deliberately small.
const defaultMaxArraySize = 20

// Heap2Local finds heap allocations that never escape their function and
// lowers them into locals, one per field. An allocation qualifies when the
// analysis proves it cannot leave the function and is used exclusively, with
// no other value mixed into the locals that hold it.
//
// The pass never iterates: lowering one allocation may expose another (a
// reference stored in a removed field becomes a local), but cleaning that up
// is left to later passes and the next optimization cycle.
type Heap2Local struct {
	// MaxArraySize bounds the array allocations considered for lowering.
	// Zero selects the default limit.
	MaxArraySize int
}

// NewHeap2Local returns the pass.
func NewHeap2Local() *Heap2Local { return &Heap2Local{} }

// Name implements Pass.
func (p *Heap2Local) Name() string { return "heap2local" }

// FunctionParallel implements FunctionPass: each function is an independent
// unit of work sharing only immutable module-level data.
func (p *Heap2Local) FunctionParallel() bool { return true }

// Run implements Pass for standalone, sequential use.
func (p *Heap2Local) Run(m *ir.Module) {
	for _, fn := range m.Functions {
		if fn.Body != nil {
			p.RunOnFunction(m, fn)
		}
	}
}

// RunOnFunction implements FunctionPass.
func (p *Heap2Local) RunOnFunction(m *ir.Module, fn *ir.Function) {
	optimizeFunction(m, fn, p.maxArraySize())
}

func (p *Heap2Local) maxArraySize() int {
	if p.MaxArraySize > 0 {
		return p.MaxArraySize
	}
	return defaultMaxArraySize
}

func optimizeFunction(m *ir.Module, fn *ir.Function, maxArraySize int) {
	// Find the candidate allocations: struct.new, and array allocations of
	// known small size. Unreachable allocations are DCE's business.
	var structNews []*ir.StructNew
	var arrayNews []ir.Expr
	hasPop := false
	ir.Walk(fn.Body, func(e ir.Expr) {
		switch t := e.(type) {
		case *ir.StructNew:
			if t.Typ != ir.Unreachable {
				structNews = append(structNews, t)
			}
		case *ir.ArrayNew:
			if t.Typ != ir.Unreachable && isValidArraySizeExpr(t.Size, maxArraySize) {
				arrayNews = append(arrayNews, t)
			}
		case *ir.ArrayNewFixed:
			if t.Typ != ir.Unreachable && isValidArraySize(len(t.Values), maxArraySize) {
				arrayNews = append(arrayNews, t)
			}
		case *ir.Pop:
			hasPop = true
		}
	})
	if len(structNews) == 0 && len(arrayNews) == 0 {
		return
	}

	// Build the contextual maps once and reuse them for every allocation.
	// Rewrites leave them stale for replaced regions, but a stale lookup only
	// fails conservatively: a missing parent reads as the function root,
	// which escapes.
	localGraph := ir.NewLazyLocalGraph(fn)
	parents := ir.BuildParents(fn.Body)
	branchTargets := ir.BuildBranchTargets(fn.Body)

	optimized := 0

	// Lower non-escaping arrays into structs first, so everything below this
	// point deals only with structs.
	for _, allocation := range arrayNews {
		if !canHandleAsLocals(allocation.Type()) {
			continue
		}
		analyzer := newEscapeAnalyzer(localGraph, parents, branchTargets)
		if !analyzer.escapes(allocation) {
			structNew := runArray2Struct(allocation, analyzer, fn, m).structNew
			runStruct2Local(structNew, analyzer, fn, m)
			optimized++
		}
	}

	for _, allocation := range structNews {
		if !canHandleAsLocals(allocation.Type()) {
			continue
		}
		analyzer := newEscapeAnalyzer(localGraph, parents, branchTargets)
		if !analyzer.escapes(allocation) {
			runStruct2Local(allocation, analyzer, fn, m)
			optimized++
		}
	}

	// Everything above creates blocks, which may have swallowed a pop that
	// must stay at the top of its catch scope.
	if hasPop && optimized > 0 {
		ir.FixupNestedPops(fn)
	}

	if optimized > 0 {
		passLogger.Debug("lowered allocations into locals",
			zap.String("func", fn.Name),
			zap.Int("allocations", optimized))
	}
}

func isValidArraySizeExpr(size ir.Expr, limit int) bool {
	c, ok := size.(*ir.Const)
	if !ok {
		return false
	}
	return isValidArraySize(int(uint32(c.Value.I32)), limit)
}

func isValidArraySize(size, limit int) bool {
	return size >= 0 && size < limit
}

// canHandleAsLocals reports whether the allocation's data can live in
// locals.
func canHandleAsLocals(t ir.Type) bool {
	if t == ir.Unreachable {
		return false
	}
	heap := t.Heap()
	if heap.IsStruct() {
		for _, field := range heap.Fields {
			if !ir.CanHandleAsLocal(field) {
				return false
			}
		}
		return true
	}
	return ir.CanHandleAsLocal(heap.Element)
}
