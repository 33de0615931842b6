package passes

import (
	"github.com/wippyai/wasm-optimizer/errors"
	"github.com/wippyai/wasm-optimizer/ir"
)

// array2Struct rewrites a non-escaping fixed-size array allocation into an
// equivalent struct allocation, so struct2Local can then lower it uniformly.
// Only struct-like arrays get here: fixed size, elements accessed with
// constant indexes.
type array2Struct struct {
	allocation ir.Expr
	analyzer   *escapeAnalyzer
	fn         *ir.Function
	builder    ir.Builder

	// originalType is the allocation's type before it became a struct; casts
	// and tests must be decided against it, since the transformation is
	// invisible to user semantics.
	originalType ir.Type
	structHeap   *ir.HeapType
	numFields    int

	// structNew replaces the array allocation and is what struct2Local then
	// optimizes.
	structNew *ir.StructNew
	// arrayNewReplacement is structNew, possibly wrapped with setup code.
	arrayNewReplacement ir.Expr

	refinalize bool
}

func runArray2Struct(allocation ir.Expr, analyzer *escapeAnalyzer, fn *ir.Function, m *ir.Module) *array2Struct {
	a := &array2Struct{
		allocation:   allocation,
		analyzer:     analyzer,
		fn:           fn,
		builder:      ir.NewBuilder(m),
		originalType: allocation.Type(),
	}

	a.numFields = arrayNewSize(allocation)
	arrayHeap := allocation.Type().Heap()
	element := arrayHeap.Element

	// The struct type: as many fields as the array has slots, all of the
	// element's type.
	fields := make([]ir.Field, a.numFields)
	for i := range fields {
		fields[i] = element
	}
	a.structHeap = ir.StructHeapType("", fields...)

	switch alloc := allocation.(type) {
	case *ir.ArrayNew:
		if alloc.IsWithDefault() {
			a.structNew = a.builder.MakeStructNew(a.structHeap, nil)
			a.arrayNewReplacement = a.structNew
		} else {
			// The array repeats one value in every slot. Store it in a local
			// and read it once per struct field.
			local := fn.AddVar(element.Unpacked())
			set := a.builder.MakeLocalSet(local, alloc.Init)
			gets := make([]ir.Expr, a.numFields)
			for i := range gets {
				gets[i] = a.builder.MakeLocalGet(local, element.Unpacked())
			}
			a.structNew = a.builder.MakeStructNew(a.structHeap, gets)
			a.arrayNewReplacement = a.builder.MakeSequence(set, a.structNew)
		}
	case *ir.ArrayNewFixed:
		a.structNew = a.builder.MakeStructNew(a.structHeap, alloc.Values)
		a.arrayNewReplacement = a.structNew
	default:
		panic(errors.Internal(errors.PhaseRewrite, "bad array allocation %T", allocation))
	}

	// The analysis must know the new expressions flow the allocation out;
	// struct2Local only processes code the analysis tells it about.
	a.analyzer.reached[a.structNew] = InteractionFlows
	a.analyzer.reached[a.arrayNewReplacement] = InteractionFlows

	// Retype the path the allocation reaches: wherever the array type (or a
	// supertype of it) appears, the struct type takes its place. Casts keep
	// the old type until the walk below, which must still see it.
	for reached := range a.analyzer.reached {
		if _, isCast := reached.(*ir.RefCast); isCast {
			continue
		}
		if !reached.Type().IsRef() {
			continue
		}
		reachedHeap := reached.Type().Heap()
		if ir.HeapIsSubType(arrayHeap, reachedHeap) {
			if arrayHeap != reachedHeap {
				// The type was generalized along the way; retyping refines
				// it here.
				a.refinalize = true
			}
			ir.SetType(reached, reached.Type().WithHeap(a.structHeap))
		}
	}

	ir.PostWalk(&fn.Body, a.visit)

	if a.refinalize {
		ir.Refinalize(fn, m)
	}
	return a
}

func (a *array2Struct) replace(slot *ir.Expr, rep ir.Expr) {
	a.analyzer.applyOldInteractionToReplacement(*slot, rep)
	*slot = rep
}

func (a *array2Struct) visit(slot *ir.Expr) {
	switch t := (*slot).(type) {
	case *ir.ArrayNew, *ir.ArrayNewFixed:
		if *slot == a.allocation {
			a.replace(slot, a.arrayNewReplacement)
		}
	case *ir.ArraySet:
		a.visitArraySet(slot, t)
	case *ir.ArrayGet:
		a.visitArrayGet(slot, t)
	case *ir.RefTest:
		a.visitRefTest(slot, t)
	case *ir.RefCast:
		a.visitRefCast(slot, t)
	}
}

func (a *array2Struct) visitArraySet(slot *ir.Expr, curr *ir.ArraySet) {
	if a.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// An out-of-bounds constant index always traps.
	index := constIndex(curr.Index)
	if index >= a.numFields {
		a.replace(slot, a.builder.MakeBlock([]ir.Expr{
			a.builder.MakeDrop(curr.Ref),
			a.builder.MakeDrop(curr.Value),
			a.builder.MakeUnreachable(),
		}))
		a.refinalize = true
		return
	}
	a.replace(slot, a.builder.MakeStructSet(index, curr.Ref, curr.Value, ir.Unordered))
}

func (a *array2Struct) visitArrayGet(slot *ir.Expr, curr *ir.ArrayGet) {
	if a.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	index := constIndex(curr.Index)
	if index >= a.numFields {
		a.replace(slot, a.builder.MakeSequence(
			a.builder.MakeDrop(curr.Ref),
			a.builder.MakeUnreachable()))
		a.refinalize = true
		return
	}
	a.replace(slot, a.builder.MakeStructGet(index, curr.Ref, ir.Unordered, curr.Typ, curr.Signed))
}

func (a *array2Struct) visitRefTest(slot *ir.Expr, curr *ir.RefTest) {
	if a.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// The test must behave as if the value were still an array, so decide it
	// against the original type and write out the outcome.
	var result int32
	if ir.IsSubType(a.originalType, curr.CastType) {
		result = 1
	}
	a.replace(slot, a.builder.MakeSequence(
		a.builder.MakeDrop(curr),
		a.builder.MakeConstI32(result)))
}

func (a *array2Struct) visitRefCast(slot *ir.Expr, curr *ir.RefCast) {
	if a.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// As with ref.test, the outcome is decided against the original array
	// type, before the struct type becomes visible.
	if !ir.IsSubType(a.originalType, curr.Typ) {
		a.replace(slot, a.builder.MakeSequence(
			a.builder.MakeDrop(curr),
			a.builder.MakeUnreachable()))
	} else {
		// The cast succeeds; the non-nullable struct type is fine here since
		// the allocation itself flows through, and struct2Local removes the
		// reference later anyway.
		curr.Typ = ir.RefType(a.structHeap, false)
	}
	a.refinalize = true
}

// constIndex reads the value of an index expression known to be constant.
func constIndex(e ir.Expr) int {
	c, ok := e.(*ir.Const)
	if !ok {
		panic(errors.Internal(errors.PhaseRewrite, "expected constant array index, got %T", e))
	}
	return int(uint32(c.Value.I32))
}

// arrayNewSize returns the number of slots an array allocation creates.
func arrayNewSize(allocation ir.Expr) int {
	switch alloc := allocation.(type) {
	case *ir.ArrayNew:
		return constIndex(alloc.Size)
	case *ir.ArrayNewFixed:
		return len(alloc.Values)
	}
	panic(errors.Internal(errors.PhaseRewrite, "bad array allocation %T", allocation))
}
