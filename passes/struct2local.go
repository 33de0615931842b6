package passes

import (
	"github.com/wippyai/wasm-optimizer/errors"
	"github.com/wippyai/wasm-optimizer/ir"
)

// struct2Local rewrites a proven non-escaping struct allocation into locals,
// one per field plus one for the descriptor if present. The allocation is
// replaced by a null reference and every reached use is rewritten away; other
// passes clean up the dropped residue.
type struct2Local struct {
	allocation *ir.StructNew
	analyzer   *escapeAnalyzer
	fn         *ir.Function
	module     *ir.Module
	builder    ir.Builder
	fields     []ir.Field

	// localIndexes maps field indexes to the locals replacing them; the
	// descriptor local, if any, comes after the fields.
	localIndexes []int

	refinalize bool
}

func runStruct2Local(allocation *ir.StructNew, analyzer *escapeAnalyzer, fn *ir.Function, m *ir.Module) {
	s := &struct2Local{
		allocation: allocation,
		analyzer:   analyzer,
		fn:         fn,
		module:     m,
		builder:    ir.NewBuilder(m),
		fields:     allocation.Type().Heap().Fields,
	}

	for _, field := range s.fields {
		s.localIndexes = append(s.localIndexes, fn.AddVar(field.Unpacked()))
	}
	if allocation.Desc != nil {
		s.localIndexes = append(s.localIndexes, fn.AddVar(allocation.Desc.Type()))
	}

	ir.PostWalk(&fn.Body, s.visit)

	if s.refinalize {
		ir.Refinalize(fn, m)
	}
}

func (s *struct2Local) replace(slot *ir.Expr, rep ir.Expr) {
	s.analyzer.applyOldInteractionToReplacement(*slot, rep)
	*slot = rep
}

func (s *struct2Local) descLocal() int {
	return s.localIndexes[len(s.fields)]
}

func (s *struct2Local) visit(slot *ir.Expr) {
	switch t := (*slot).(type) {
	case *ir.Block:
		s.adjustTypeFlowingThrough(t)
	case *ir.Loop:
		s.adjustTypeFlowingThrough(t)
	case *ir.LocalSet:
		s.visitLocalSet(slot, t)
	case *ir.LocalGet:
		s.visitLocalGet(slot, t)
	case *ir.Break:
		s.visitBreak(t)
	case *ir.StructNew:
		s.visitStructNew(slot, t)
	case *ir.RefIsNull:
		s.visitRefIsNull(slot, t)
	case *ir.RefEq:
		s.visitRefEq(slot, t)
	case *ir.RefAs:
		s.visitRefAs(slot, t)
	case *ir.RefTest:
		s.visitRefTest(slot, t)
	case *ir.RefCast:
		s.visitRefCast(slot, t)
	case *ir.RefGetDesc:
		s.visitRefGetDesc(slot, t)
	case *ir.StructSet:
		s.visitStructSet(slot, t)
	case *ir.StructGet:
		s.visitStructGet(slot, t)
	case *ir.StructRMW:
		s.visitStructRMW(slot, t)
	case *ir.StructCmpxchg:
		s.visitStructCmpxchg(slot, t)
	}
}

// adjustTypeFlowingThrough makes the type of a scope the allocation flows
// through nullable. Uses of the allocation like ref.as_non_null are removed,
// so a non-nullable type here could fail to validate; every remaining
// consumer on the flow path is one that tolerates a null.
func (s *struct2Local) adjustTypeFlowingThrough(curr ir.Expr) {
	if s.analyzer.interactionOf(curr) != InteractionFlows {
		return
	}
	if !curr.Type().IsRef() {
		panic(errors.Internal(errors.PhaseRewrite, "flowing scope with non-ref type %s", curr.Type()))
	}
	ir.SetType(curr, curr.Type().WithNullable(true))
}

func (s *struct2Local) visitLocalSet(slot *ir.Expr, curr *ir.LocalSet) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// Sets of the reference are no longer needed.
	if curr.IsTee() {
		s.replace(slot, curr.Value)
	} else {
		s.replace(slot, s.builder.MakeDrop(curr.Value))
	}
}

func (s *struct2Local) visitLocalGet(slot *ir.Expr, curr *ir.LocalGet) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// Uses of this get will drop it, so the value does not matter, but the
	// set that fed it is gone; a null avoids reading the default value of a
	// non-nullable local, which would not validate.
	s.replace(slot, s.builder.MakeRefNull(curr.Type().Heap()))
}

func (s *struct2Local) visitBreak(curr *ir.Break) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// A br_if the allocation flows through now carries a nullable type.
	if curr.Cond != nil && curr.Value != nil {
		curr.Typ = curr.Value.Type()
	}
}

func (s *struct2Local) visitStructNew(slot *ir.Expr, curr *ir.StructNew) {
	if curr != s.allocation {
		return
	}

	var contents []ir.Expr

	// The locals representing the fields may already hold values if we are
	// in a loop, and computing a later field value may read an earlier
	// field. Evaluate all operands into temps first, then copy into the
	// field locals, so new values never contaminate the computation.
	numTemps := len(curr.Operands)
	if curr.Desc != nil {
		numTemps++
	}
	var tempIndexes []int
	if !curr.IsWithDefault() {
		for _, field := range s.fields {
			tempIndexes = append(tempIndexes, s.fn.AddVar(field.Unpacked()))
		}
	}
	if curr.Desc != nil {
		tempIndexes = append(tempIndexes, s.fn.AddVar(curr.Desc.Type()))
	}

	if !curr.IsWithDefault() {
		for i, operand := range curr.Operands {
			contents = append(contents, s.builder.MakeLocalSet(tempIndexes[i], operand))
		}
	}
	if curr.Desc != nil {
		// A null descriptor traps; keep that trap with a ref.as_non_null.
		desc := curr.Desc
		if desc.Type().IsNullable() {
			desc = s.builder.MakeRefAsNonNull(desc)
		}
		contents = append(contents, s.builder.MakeLocalSet(tempIndexes[numTemps-1], desc))
	}

	for i, field := range s.fields {
		var val ir.Expr
		if curr.IsWithDefault() {
			val = s.builder.MakeZeroExpr(field.Unpacked())
		} else {
			val = s.builder.MakeLocalGet(tempIndexes[i], field.Unpacked())
		}
		contents = append(contents, s.builder.MakeLocalSet(s.localIndexes[i], val))
	}
	if curr.Desc != nil {
		val := s.builder.MakeLocalGet(tempIndexes[numTemps-1], curr.Desc.Type())
		contents = append(contents, s.builder.MakeLocalSet(s.descLocal(), val))
	}

	// Replace the allocation itself with a null reference. The type changes
	// from non-nullable to nullable, but all code the allocation reaches is
	// being rewritten away.
	contents = append(contents, s.builder.MakeRefNull(curr.Type().Heap()))
	s.replace(slot, s.builder.MakeBlock(contents))
}

func (s *struct2Local) visitRefIsNull(slot *ir.Expr, curr *ir.RefIsNull) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// The allocation is never null.
	s.replace(slot, s.builder.MakeSequence(
		s.builder.MakeDrop(curr),
		s.builder.MakeConstI32(0)))
}

func (s *struct2Local) visitRefEq(slot *ir.Expr, curr *ir.RefEq) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	if curr.Typ == ir.Unreachable {
		// The result does not matter; DCE will remove this.
		return
	}
	// Compared to itself the result is 1; compared to anything else it must
	// be 0, as the reference reaches no other place.
	var result int32
	if s.analyzer.interactionOf(curr.Left) == InteractionFlows &&
		s.analyzer.interactionOf(curr.Right) == InteractionFlows {
		result = 1
	}
	s.replace(slot, s.builder.MakeBlock([]ir.Expr{
		s.builder.MakeDrop(curr.Left),
		s.builder.MakeDrop(curr.Right),
		s.builder.MakeConstI32(result),
	}))
}

func (s *struct2Local) visitRefAs(slot *ir.Expr, curr *ir.RefAs) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	if curr.Op != ir.RefAsNonNull {
		panic(errors.Internal(errors.PhaseRewrite, "unexpected ref.as op %d", curr.Op))
	}
	// The operand is our allocation, which is not null, so this cannot trap.
	s.replace(slot, curr.Value)
}

func (s *struct2Local) visitRefTest(slot *ir.Expr, curr *ir.RefTest) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// The test operates on the allocation, whose type is known precisely, so
	// the outcome is static.
	var result int32
	if ir.IsSubType(s.allocation.Type(), curr.CastType) {
		result = 1
	}
	s.replace(slot, s.builder.MakeSequence(
		s.builder.MakeDrop(curr.Ref),
		s.builder.MakeConstI32(result)))
}

func (s *struct2Local) visitRefCast(slot *ir.Expr, curr *ir.RefCast) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}

	if curr.Desc != nil {
		// A ref.cast_desc of an allocation without a descriptor must fail.
		// It must also fail, except on nulls it may let through, when the
		// allocation flows in as the descriptor: the cast value cannot have
		// been allocated with it, or the allocation would have escaped.
		allocIsCastRef := s.analyzer.interactionOf(curr.Ref) == InteractionFlows
		allocIsCastDesc := s.analyzer.interactionOf(curr.Desc) == InteractionFlows
		if s.allocation.Desc == nil || allocIsCastDesc {
			if allocIsCastDesc && !allocIsCastRef && curr.Typ.IsNullable() {
				// A null might pass the cast. Reuse curr as a cast to null,
				// stashing the reference past the descriptor in a scratch
				// local.
				scratch := s.fn.AddVar(curr.Ref.Type())
				rep := s.builder.Blockify(
					s.builder.MakeLocalSet(scratch, curr.Ref),
					s.builder.MakeDrop(curr.Desc),
					curr)
				s.replace(slot, rep)
				refType := curr.Ref.Type()
				curr.Desc = nil
				curr.Typ = curr.Typ.WithHeap(curr.Typ.Heap().Bottom())
				curr.Ref = s.builder.MakeLocalGet(scratch, refType)
			} else {
				// The cast certainly fails.
				s.replace(slot, s.builder.Blockify(
					s.builder.MakeDrop(curr.Ref),
					s.builder.MakeDrop(curr.Desc),
					s.builder.MakeUnreachable()))
			}
		} else {
			// The cast succeeds iff the given descriptor is the allocation's
			// own, and traps otherwise.
			descType := s.allocation.Desc.Type()
			s.replace(slot, s.builder.Blockify(
				s.builder.MakeDrop(curr.Ref),
				s.builder.MakeIf(
					s.builder.MakeRefEq(curr.Desc, s.builder.MakeLocalGet(s.descLocal(), descType)),
					s.builder.MakeRefNull(s.allocation.Type().Heap()),
					s.builder.MakeUnreachable())))
		}
	} else {
		// The cast receives our allocation, so its outcome is static.
		if ir.IsSubType(s.allocation.Type(), curr.Typ) {
			// A no-op; once the allocation is gone it is not even needed for
			// validation.
			s.replace(slot, curr.Ref)
		} else {
			s.replace(slot, s.builder.MakeSequence(
				s.builder.MakeDrop(curr.Ref),
				s.builder.MakeUnreachable()))
		}
	}

	// Either an unreachable appeared or a cast was replaced by its operand,
	// whose type may be less refined.
	s.refinalize = true
}

func (s *struct2Local) visitRefGetDesc(slot *ir.Expr, curr *ir.RefGetDesc) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	descType := s.allocation.Desc.Type()
	if descType != curr.Typ {
		// The allocation flowing in here is known exactly, so the descriptor
		// type may be more precise than this expression's static type.
		s.refinalize = true
	}
	value := s.builder.MakeLocalGet(s.descLocal(), descType)
	s.replace(slot, s.builder.Blockify(s.builder.MakeDrop(curr.Ref), value))
}

func (s *struct2Local) visitStructSet(slot *ir.Expr, curr *ir.StructSet) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	// Write to the local instead of the heap. The object never escapes this
	// function, so no fence is needed even for ordered sets.
	s.replace(slot, s.builder.MakeSequence(
		s.builder.MakeDrop(curr.Ref),
		s.builder.MakeLocalSet(s.localIndexes[curr.Index], curr.Value)))
}

func (s *struct2Local) visitStructGet(slot *ir.Expr, curr *ir.StructGet) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	field := s.fields[curr.Index]
	t := field.Unpacked()
	if t != curr.Typ {
		// The reference arriving here may be more refined than the get's
		// static type, as in a get through a supertyped block; the local was
		// created with the refined field type.
		s.refinalize = true
	}
	var value ir.Expr = s.builder.MakeLocalGet(s.localIndexes[curr.Index], t)
	// Fix up packing and signedness on gets; truncating on sets instead is
	// left to other passes.
	value = s.builder.MakePackedFieldGet(value, field, curr.Signed)
	s.replace(slot, s.builder.Blockify(s.builder.MakeDrop(curr.Ref), value))
}

func (s *struct2Local) visitStructRMW(slot *ir.Expr, curr *ir.StructRMW) {
	if s.analyzer.interactionOf(curr) == InteractionNone {
		return
	}
	t := curr.Typ

	// Stash the unmodified field value while the local is updated, and stash
	// the evaluated operand first in case its evaluation changes the field,
	// as with the struct.new temps.
	oldScratch := s.fn.AddVar(t)
	valScratch := s.fn.AddVar(t)
	local := s.localIndexes[curr.Index]

	list := []ir.Expr{
		s.builder.MakeDrop(curr.Ref),
		s.builder.MakeLocalSet(valScratch, curr.Value),
		s.builder.MakeLocalSet(oldScratch, s.builder.MakeLocalGet(local, t)),
	}

	var newVal ir.Expr
	if curr.Op == ir.RMWXchg {
		newVal = s.builder.MakeLocalGet(valScratch, t)
	} else {
		var op ir.AbstractOp
		switch curr.Op {
		case ir.RMWAdd:
			op = ir.OpAdd
		case ir.RMWSub:
			op = ir.OpSub
		case ir.RMWAnd:
			op = ir.OpAnd
		case ir.RMWOr:
			op = ir.OpOr
		case ir.RMWXor:
			op = ir.OpXor
		default:
			panic(errors.Internal(errors.PhaseRewrite, "unexpected rmw op %d", curr.Op))
		}
		newVal = s.builder.MakeBinary(ir.AbstractBinary(t, op),
			s.builder.MakeLocalGet(local, t),
			s.builder.MakeLocalGet(valScratch, t))
	}
	list = append(list,
		s.builder.MakeLocalSet(local, newVal),
		s.builder.MakeLocalGet(oldScratch, t))

	s.replace(slot, s.builder.MakeBlock(list))
}

func (s *struct2Local) visitStructCmpxchg(slot *ir.Expr, curr *ir.StructCmpxchg) {
	// The allocation may flow in as the expected value while the ref is a
	// real struct; then the cmpxchg stays. Only a ref that is being replaced
	// with locals requires rewriting.
	if s.analyzer.interactionOf(curr.Ref) != InteractionFlows {
		return
	}
	t := curr.Typ

	oldScratch := s.fn.AddVar(t)
	expectedScratch := s.fn.AddVar(t)
	replacementScratch := s.fn.AddVar(t)
	local := s.localIndexes[curr.Index]

	list := []ir.Expr{
		s.builder.MakeDrop(curr.Ref),
		s.builder.MakeLocalSet(expectedScratch, curr.Expected),
		s.builder.MakeLocalSet(replacementScratch, curr.Replacement),
		s.builder.MakeLocalSet(oldScratch, s.builder.MakeLocalGet(local, t)),
	}

	lhs := s.builder.MakeLocalGet(local, t)
	rhs := s.builder.MakeLocalGet(expectedScratch, t)
	var pred ir.Expr
	if t.IsRef() {
		pred = s.builder.MakeRefEq(lhs, rhs)
	} else {
		pred = s.builder.MakeBinary(ir.AbstractBinary(t, ir.OpEq), lhs, rhs)
	}

	list = append(list,
		s.builder.MakeIf(pred,
			s.builder.MakeLocalSet(local, s.builder.MakeLocalGet(replacementScratch, t)),
			nil),
		s.builder.MakeLocalGet(oldScratch, t))

	s.replace(slot, s.builder.MakeBlock(list))
}
