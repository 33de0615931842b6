package passes

import (
	"testing"

	"github.com/wippyai/wasm-optimizer/ir"
)

// describedPair returns a struct type and the descriptor type describing it.
func describedPair() (*ir.HeapType, *ir.HeapType) {
	s := ir.StructHeapType("s", ir.MutField(ir.I32))
	d := ir.StructHeapType("d")
	s.Desc = d
	d.Describes = s
	return s, d
}

func TestStruct2Local_CastDescSucceeds(t *testing.T) {
	m := ir.NewModule()
	s, d := describedPair()
	refD := ir.RefType(d, true)
	b := ir.NewBuilder(m)

	// The allocation flows in as the cast's ref and carries a descriptor:
	// the cast succeeds iff the given descriptor is the allocation's own.
	fn := &ir.Function{Name: "f", Vars: []ir.Type{refD}}
	alloc := &ir.StructNew{
		ExprBase: ir.ExprBase{Typ: ir.RefType(s, false)},
		Operands: []ir.Expr{b.MakeConstI32(42)},
		Desc:     b.MakeLocalGet(0, refD),
	}
	cast := &ir.RefCast{
		ExprBase: ir.ExprBase{Typ: ir.RefType(s, false)},
		Ref:      alloc,
		Desc:     b.MakeLocalGet(0, refD),
	}
	fn.Body = b.MakeDrop(cast)
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countHeapOps(fn.Body) != 0 {
		t.Fatalf("allocation should be lowered:\n%s", ir.PrintFunction(fn))
	}
	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.RefCast); return ok }) != 0 {
		t.Fatalf("the descriptor cast should be rewritten away:\n%s", ir.PrintFunction(fn))
	}
	// The runtime check compares the given descriptor against the stashed
	// descriptor local, yielding null on success and trapping otherwise.
	var iff *ir.If
	ir.Walk(fn.Body, func(e ir.Expr) {
		if i, ok := e.(*ir.If); ok {
			iff = i
		}
	})
	if iff == nil {
		t.Fatalf("expected a descriptor identity check:\n%s", ir.PrintFunction(fn))
	}
	if _, ok := iff.Cond.(*ir.RefEq); !ok {
		t.Fatalf("check condition should be ref.eq, got %T", iff.Cond)
	}
	if _, ok := iff.Then.(*ir.RefNull); !ok {
		t.Fatalf("success arm should yield a null, got %T", iff.Then)
	}
	if _, ok := iff.Else.(*ir.UnreachableExpr); !ok {
		t.Fatalf("failure arm must trap, got %T", iff.Else)
	}
	// A nullable descriptor operand keeps its trap via ref.as_non_null.
	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.RefAs); return ok }) != 1 {
		t.Fatalf("nullable descriptor operand must stay trapping:\n%s", ir.PrintFunction(fn))
	}
}

func TestStruct2Local_CastDescCertainlyFails(t *testing.T) {
	m := ir.NewModule()
	sd, sdd := describedPair()
	plain := ir.StructHeapType("plain", ir.MutField(ir.I32))
	b := ir.NewBuilder(m)

	// The allocation has no descriptor, so a ref.cast_desc of it must fail.
	fn := &ir.Function{Name: "f", Vars: []ir.Type{ir.RefType(sdd, true)}}
	alloc := b.MakeStructNew(plain, []ir.Expr{b.MakeConstI32(1)})
	cast := &ir.RefCast{
		ExprBase: ir.ExprBase{Typ: ir.RefType(sd, false)},
		Ref:      alloc,
		Desc:     b.MakeLocalGet(0, ir.RefType(sdd, true)),
	}
	fn.Body = b.MakeDrop(cast)
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countHeapOps(fn.Body) != 0 {
		t.Fatalf("allocation should be lowered:\n%s", ir.PrintFunction(fn))
	}
	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.RefCast); return ok }) != 0 {
		t.Fatalf("the impossible cast should be rewritten away:\n%s", ir.PrintFunction(fn))
	}
	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.UnreachableExpr); return ok }) == 0 {
		t.Fatalf("the cast's trap must be kept explicit:\n%s", ir.PrintFunction(fn))
	}
}

func TestStruct2Local_CastDescOnlyNullPasses(t *testing.T) {
	m := ir.NewModule()
	s, d := describedPair()
	refS := ir.RefType(s, true)
	b := ir.NewBuilder(m)

	// The eliminated allocation flows in as the descriptor of a nullable
	// cast: no real value can pass, but a null still may, so the cast is
	// reshaped into a cast to null with the ref stashed past the descriptor.
	fn := &ir.Function{Name: "f", Vars: []ir.Type{refS}}
	allocDesc := &ir.StructNew{ExprBase: ir.ExprBase{Typ: ir.RefType(d, false)}}
	cast := &ir.RefCast{
		ExprBase: ir.ExprBase{Typ: refS},
		Ref:      b.MakeLocalGet(0, refS),
		Desc:     allocDesc,
	}
	fn.Body = b.MakeDrop(cast)
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.StructNew); return ok }) != 0 {
		t.Fatalf("descriptor allocation should be lowered:\n%s", ir.PrintFunction(fn))
	}
	var cast2 *ir.RefCast
	ir.Walk(fn.Body, func(e ir.Expr) {
		if c, ok := e.(*ir.RefCast); ok {
			cast2 = c
		}
	})
	if cast2 == nil {
		t.Fatalf("the cast must survive as a cast to null:\n%s", ir.PrintFunction(fn))
	}
	if cast2.Desc != nil {
		t.Fatal("the surviving cast must not keep a descriptor operand")
	}
	if !cast2.Typ.IsNullable() || !cast2.Typ.Heap().IsBottom() {
		t.Fatalf("the surviving cast should target the nullable bottom, got %s", cast2.Typ)
	}
	if _, ok := cast2.Ref.(*ir.LocalGet); !ok {
		t.Fatalf("the ref should be restashed from a scratch local, got %T", cast2.Ref)
	}
	// The scratch local holding the ref past the dropped descriptor.
	if len(fn.Vars) != 2 || fn.Vars[1] != refS {
		t.Fatalf("expected a scratch local of the ref's type, got %v", fn.Vars)
	}
	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.UnreachableExpr); return ok }) != 0 {
		t.Fatal("a nullable cast must not become an unconditional trap")
	}
}

func TestStruct2Local_RefGetDesc(t *testing.T) {
	m := ir.NewModule()
	s, d := describedPair()
	refD := ir.RefType(d, true)
	b := ir.NewBuilder(m)

	fn := &ir.Function{Name: "f", Vars: []ir.Type{refD}}
	alloc := &ir.StructNew{
		ExprBase: ir.ExprBase{Typ: ir.RefType(s, false)},
		Operands: []ir.Expr{b.MakeConstI32(42)},
		Desc:     b.MakeLocalGet(0, refD),
	}
	getDesc := &ir.RefGetDesc{ExprBase: ir.ExprBase{Typ: ir.RefType(d, false)}, Ref: alloc}
	fn.Body = b.MakeDrop(getDesc)
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countHeapOps(fn.Body) != 0 {
		t.Fatalf("allocation should be lowered:\n%s", ir.PrintFunction(fn))
	}
	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.RefGetDesc); return ok }) != 0 {
		t.Fatalf("ref.get_desc should read the descriptor local:\n%s", ir.PrintFunction(fn))
	}
	// Locals: descriptor source, field, descriptor, and the two temps; the
	// descriptor local (index 2) is read exactly once, at the old use site.
	if len(fn.Vars) != 5 {
		t.Fatalf("expected 5 locals, got %v", fn.Vars)
	}
	reads := countKind(fn.Body, func(e ir.Expr) bool {
		g, ok := e.(*ir.LocalGet)
		return ok && g.Index == 2 && g.Typ == refD
	})
	if reads != 1 {
		t.Fatalf("expected one read of the descriptor local, got %d:\n%s", reads, ir.PrintFunction(fn))
	}
}

func TestStruct2Local_StructRMW(t *testing.T) {
	m := ir.NewModule()
	s := ir.StructHeapType("s", ir.MutField(ir.I32))
	refS := ir.RefType(s, true)
	b := ir.NewBuilder(m)

	fn := &ir.Function{Name: "f", Vars: []ir.Type{refS}}
	alloc := b.MakeStructNew(s, []ir.Expr{b.MakeConstI32(10)})
	rmw := &ir.StructRMW{
		ExprBase: ir.ExprBase{Typ: ir.I32},
		Op:       ir.RMWAdd,
		Ref:      b.MakeLocalGet(0, refS),
		Value:    b.MakeConstI32(5),
		Order:    ir.SeqCst,
	}
	fn.Body = b.MakeBlock([]ir.Expr{
		b.MakeLocalSet(0, alloc),
		b.MakeDrop(rmw),
	})
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countHeapOps(fn.Body) != 0 {
		t.Fatalf("rmw should be lowered onto the field local:\n%s", ir.PrintFunction(fn))
	}
	// Locals: ref(0), field(1), new-value temp(2), old scratch(3), operand
	// scratch(4). The new value is field + operand.
	var update *ir.LocalSet
	ir.Walk(fn.Body, func(e ir.Expr) {
		if set, ok := e.(*ir.LocalSet); ok {
			if _, isAdd := set.Value.(*ir.Binary); isAdd {
				update = set
			}
		}
	})
	if update == nil || update.Index != 1 {
		t.Fatalf("expected the field local to receive the computed value:\n%s", ir.PrintFunction(fn))
	}
	add := update.Value.(*ir.Binary)
	if add.Op != ir.AddInt32 {
		t.Fatalf("rmw.add must lower to i32.add, got op %d", add.Op)
	}
	if lhs, ok := add.Left.(*ir.LocalGet); !ok || lhs.Index != 1 {
		t.Fatalf("left operand should read the field local, got %T", add.Left)
	}
	if rhs, ok := add.Right.(*ir.LocalGet); !ok || rhs.Index != 4 {
		t.Fatalf("right operand should read the stashed operand, got %T", add.Right)
	}
	// The replacement yields the stashed pre-image as its final value.
	outer := fn.Body.(*ir.Block)
	rep, ok := outer.List[1].(*ir.Drop).Value.(*ir.Block)
	if !ok {
		t.Fatalf("rmw should become a block, got %T", outer.List[1].(*ir.Drop).Value)
	}
	old, ok := rep.List[len(rep.List)-1].(*ir.LocalGet)
	if !ok || old.Index != 3 {
		t.Fatalf("the old value must be yielded last:\n%s", ir.PrintFunction(fn))
	}
}

func TestStruct2Local_StructCmpxchgRefFlows(t *testing.T) {
	m := ir.NewModule()
	s := ir.StructHeapType("s", ir.MutField(ir.I32))
	refS := ir.RefType(s, true)
	b := ir.NewBuilder(m)

	fn := &ir.Function{Name: "f", Vars: []ir.Type{refS}}
	alloc := b.MakeStructNew(s, []ir.Expr{b.MakeConstI32(10)})
	cmpxchg := &ir.StructCmpxchg{
		ExprBase:    ir.ExprBase{Typ: ir.I32},
		Ref:         b.MakeLocalGet(0, refS),
		Expected:    b.MakeConstI32(10),
		Replacement: b.MakeConstI32(99),
		Order:       ir.SeqCst,
	}
	fn.Body = b.MakeBlock([]ir.Expr{
		b.MakeLocalSet(0, alloc),
		b.MakeDrop(cmpxchg),
	})
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countHeapOps(fn.Body) != 0 {
		t.Fatalf("cmpxchg on the eliminated ref should be lowered:\n%s", ir.PrintFunction(fn))
	}
	// Locals: ref(0), field(1), init temp(2), old(3), expected(4),
	// replacement(5). The conditional exchange compares against the stashed
	// expected value and overwrites the field local only on equality.
	var iff *ir.If
	ir.Walk(fn.Body, func(e ir.Expr) {
		if i, ok := e.(*ir.If); ok {
			iff = i
		}
	})
	if iff == nil || iff.Else != nil {
		t.Fatalf("expected a one-armed conditional exchange:\n%s", ir.PrintFunction(fn))
	}
	pred, ok := iff.Cond.(*ir.Binary)
	if !ok || pred.Op != ir.EqInt32 {
		t.Fatalf("non-ref fields compare with i32.eq, got %T", iff.Cond)
	}
	if rhs, ok := pred.Right.(*ir.LocalGet); !ok || rhs.Index != 4 {
		t.Fatalf("comparison should read the stashed expected value, got %T", pred.Right)
	}
	set, ok := iff.Then.(*ir.LocalSet)
	if !ok || set.Index != 1 {
		t.Fatalf("the exchange must write the field local, got %T", iff.Then)
	}
	if v, ok := set.Value.(*ir.LocalGet); !ok || v.Index != 5 {
		t.Fatalf("the exchange must install the stashed replacement, got %T", set.Value)
	}
	outer := fn.Body.(*ir.Block)
	rep := outer.List[1].(*ir.Drop).Value.(*ir.Block)
	if old, ok := rep.List[len(rep.List)-1].(*ir.LocalGet); !ok || old.Index != 3 {
		t.Fatalf("the old value must be yielded last:\n%s", ir.PrintFunction(fn))
	}
}

func TestStruct2Local_StructCmpxchgExpectedOnly(t *testing.T) {
	m := ir.NewModule()
	q := ir.StructHeapType("q")
	holder := ir.StructHeapType("holder", ir.MutField(ir.RefType(q, true)))
	refHolder := ir.RefType(holder, true)
	b := ir.NewBuilder(m)

	// Only the expected operand is the eliminated allocation; the cmpxchg
	// still runs against a real struct and must stay.
	fn := &ir.Function{Name: "f", Params: []ir.Type{refHolder}}
	cmpxchg := &ir.StructCmpxchg{
		ExprBase:    ir.ExprBase{Typ: ir.RefType(q, true)},
		Ref:         b.MakeLocalGet(0, refHolder),
		Expected:    b.MakeStructNew(q, nil),
		Replacement: b.MakeRefNull(q),
		Order:       ir.SeqCst,
	}
	fn.Body = b.MakeDrop(cmpxchg)
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.StructCmpxchg); return ok }) != 1 {
		t.Fatalf("cmpxchg with a real ref must stay:\n%s", ir.PrintFunction(fn))
	}
	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.StructNew); return ok }) != 0 {
		t.Fatalf("the expected-value allocation should still be lowered:\n%s", ir.PrintFunction(fn))
	}
}

func TestStruct2Local_RefEqFolds(t *testing.T) {
	m := ir.NewModule()
	s := ir.StructHeapType("s")
	refS := ir.RefType(s, true)
	b := ir.NewBuilder(m)

	// Both sides read the same eliminated allocation: identity holds.
	fn := &ir.Function{Name: "same", Vars: []ir.Type{refS}}
	eq := &ir.RefEq{
		ExprBase: ir.ExprBase{Typ: ir.I32},
		Left:     b.MakeLocalGet(0, refS),
		Right:    b.MakeLocalGet(0, refS),
	}
	fn.Body = b.MakeBlock([]ir.Expr{
		b.MakeLocalSet(0, b.MakeStructNew(s, nil)),
		b.MakeDrop(eq),
	})
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.RefEq); return ok }) != 0 {
		t.Fatalf("ref.eq over the allocation should fold:\n%s", ir.PrintFunction(fn))
	}
	consts := 0
	ir.Walk(fn.Body, func(e ir.Expr) {
		if c, ok := e.(*ir.Const); ok {
			consts++
			if c.Value.I32 != 1 {
				t.Fatalf("self comparison must fold to 1, got %d", c.Value.I32)
			}
		}
	})
	if consts != 1 {
		t.Fatalf("expected exactly the folded constant, got %d:\n%s", consts, ir.PrintFunction(fn))
	}
}

func TestStruct2Local_RefEqAgainstOtherRef(t *testing.T) {
	m := ir.NewModule()
	s := ir.StructHeapType("s")
	refS := ir.RefType(s, true)
	b := ir.NewBuilder(m)

	// The allocation never escapes, so comparing it against any unrelated
	// reference must yield 0.
	fn := &ir.Function{Name: "other", Params: []ir.Type{refS}, Vars: []ir.Type{refS}}
	eq := &ir.RefEq{
		ExprBase: ir.ExprBase{Typ: ir.I32},
		Left:     b.MakeLocalGet(1, refS),
		Right:    b.MakeLocalGet(0, refS),
	}
	fn.Body = b.MakeBlock([]ir.Expr{
		b.MakeLocalSet(1, b.MakeStructNew(s, nil)),
		b.MakeDrop(eq),
	})
	m.AddFunction(fn)

	NewHeap2Local().Run(m)

	if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.RefEq); return ok }) != 0 {
		t.Fatalf("ref.eq over the allocation should fold:\n%s", ir.PrintFunction(fn))
	}
	consts := 0
	ir.Walk(fn.Body, func(e ir.Expr) {
		if c, ok := e.(*ir.Const); ok {
			consts++
			if c.Value.I32 != 0 {
				t.Fatalf("comparison against another reference must fold to 0, got %d", c.Value.I32)
			}
		}
	})
	if consts != 1 {
		t.Fatalf("expected exactly the folded constant, got %d:\n%s", consts, ir.PrintFunction(fn))
	}
}
