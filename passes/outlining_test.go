package passes

import (
	"testing"

	"github.com/wippyai/wasm-optimizer/ir"
)

func TestOutlining_RepeatedPattern(t *testing.T) {
	m := buildTwoAddFuncs()
	NewOutlining().Run(m)

	if len(m.Functions) != 3 {
		t.Fatalf("expected one outlined function, got %d functions", len(m.Functions))
	}
	outlined := m.Functions[0]
	if outlined.Name != "outline$0" {
		t.Fatalf("outlined function should be first, got %s", outlined.Name)
	}
	if len(outlined.Params) != 0 || len(outlined.Results) != 1 || outlined.Results[0] != ir.I32 {
		t.Fatalf("expected () -> i32, got %v -> %v", outlined.Params, outlined.Results)
	}
	add, ok := outlined.Body.(*ir.Binary)
	if !ok || add.Op != ir.AddInt32 {
		t.Fatalf("outlined body should be the add tree, got:\n%s", ir.PrintFunction(outlined))
	}

	for _, name := range []string{"f1", "f2"} {
		fn := m.GetFunction(name)
		call, ok := fn.Body.(*ir.Call)
		if !ok || call.Target != "outline$0" {
			t.Fatalf("%s should be a single call to outline$0, got:\n%s", name, ir.PrintFunction(fn))
		}
		if call.Typ != ir.I32 {
			t.Fatalf("call should yield i32, got %s", call.Typ)
		}
	}
	if m.GetFunction("outline$0") != outlined {
		t.Fatal("name index stale after moving outlined functions")
	}
}

func TestOutlining_TwiceInOneFunction(t *testing.T) {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	body := b.MakeBlock([]ir.Expr{
		b.MakeDrop(b.MakeBinary(ir.AddInt32, b.MakeConstI32(1), b.MakeConstI32(2))),
		b.MakeDrop(b.MakeBinary(ir.AddInt32, b.MakeConstI32(1), b.MakeConstI32(2))),
	})
	fn := &ir.Function{Name: "f", Body: body}
	m.AddFunction(fn)

	NewOutlining().Run(m)

	if len(m.Functions) != 2 {
		t.Fatalf("expected one outlined function, got %d", len(m.Functions))
	}
	outlined := m.Functions[0]
	blk, ok := fn.Body.(*ir.Block)
	if !ok || len(blk.List) != 2 {
		t.Fatalf("host should keep a two-element block, got:\n%s", ir.PrintFunction(fn))
	}
	for i, e := range blk.List {
		call, ok := e.(*ir.Call)
		if !ok || call.Target != outlined.Name {
			t.Fatalf("occurrence %d should be a call to %s, got %T", i, outlined.Name, e)
		}
	}
	if countKind(outlined.Body, func(e ir.Expr) bool {
		bin, ok := e.(*ir.Binary)
		return ok && bin.Op == ir.AddInt32
	}) != 1 {
		t.Fatalf("outlined body should contain the add once:\n%s", ir.PrintFunction(outlined))
	}
}

func TestOutlining_RejectsLocalSet(t *testing.T) {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	for _, name := range []string{"f1", "f2"} {
		body := b.MakeBlock([]ir.Expr{
			b.MakeLocalSet(0, b.MakeBinary(ir.AddInt32, b.MakeConstI32(1), b.MakeConstI32(2))),
		})
		m.AddFunction(&ir.Function{Name: name, Vars: []ir.Type{ir.I32}, Body: body})
	}

	NewOutlining().Run(m)

	if len(m.Functions) != 2 {
		t.Fatalf("no outlining may occur, got %d functions", len(m.Functions))
	}
	for _, fn := range m.Functions {
		if countKind(fn.Body, func(e ir.Expr) bool { _, ok := e.(*ir.LocalSet); return ok }) != 1 {
			t.Fatalf("%s should be untouched:\n%s", fn.Name, ir.PrintFunction(fn))
		}
	}
}

func TestOutlining_RejectsLocalGet(t *testing.T) {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	for _, name := range []string{"f1", "f2"} {
		body := b.MakeDrop(b.MakeBinary(ir.AddInt32, b.MakeLocalGet(0, ir.I32), b.MakeConstI32(2)))
		m.AddFunction(&ir.Function{Name: name, Params: []ir.Type{ir.I32}, Body: body})
	}

	NewOutlining().Run(m)

	if len(m.Functions) != 2 {
		t.Fatalf("no outlining may occur, got %d functions", len(m.Functions))
	}
}

func TestOutlining_ParameterFromOutside(t *testing.T) {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	m.AddFunction(&ir.Function{Name: "imp", Results: []ir.Type{ir.I32}})

	// The repeated tail [const 5, add, drop] consumes one value produced
	// before the sequence; it becomes a parameter of the outlined function.
	f1 := &ir.Function{Name: "f1", Body: b.MakeDrop(
		b.MakeBinary(ir.AddInt32, b.MakeCall("imp", nil, ir.I32), b.MakeConstI32(5)))}
	f2 := &ir.Function{Name: "f2", Body: b.MakeDrop(
		b.MakeBinary(ir.AddInt32, b.MakeConstI32(9), b.MakeConstI32(5)))}
	m.AddFunction(f1)
	m.AddFunction(f2)

	NewOutlining().Run(m)

	if len(m.Functions) != 4 {
		t.Fatalf("expected one outlined function, got %d", len(m.Functions))
	}
	outlined := m.Functions[0]
	if len(outlined.Params) != 1 || outlined.Params[0] != ir.I32 {
		t.Fatalf("expected one i32 param, got %v", outlined.Params)
	}
	if len(outlined.Results) != 0 {
		t.Fatalf("drop leaves no result, got %v", outlined.Results)
	}
	if countKind(outlined.Body, func(e ir.Expr) bool {
		g, ok := e.(*ir.LocalGet)
		return ok && g.Index == 0
	}) != 1 {
		t.Fatalf("outlined body should read its parameter:\n%s", ir.PrintFunction(outlined))
	}

	call1, ok := f1.Body.(*ir.Call)
	if !ok || call1.Target != outlined.Name || len(call1.Operands) != 1 {
		t.Fatalf("f1 should call with one operand, got:\n%s", ir.PrintFunction(f1))
	}
	if inner, ok := call1.Operands[0].(*ir.Call); !ok || inner.Target != "imp" {
		t.Fatalf("f1's operand should be the import call, got %T", call1.Operands[0])
	}
	call2, ok := f2.Body.(*ir.Call)
	if !ok || len(call2.Operands) != 1 {
		t.Fatalf("f2 should call with one operand, got:\n%s", ir.PrintFunction(f2))
	}
	if c, ok := call2.Operands[0].(*ir.Const); !ok || c.Value.I32 != 9 {
		t.Fatalf("f2's operand should be const 9, got %T", call2.Operands[0])
	}
}

func TestOutlining_EndsUnreachable(t *testing.T) {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	for _, name := range []string{"f1", "f2"} {
		body := b.MakeBlock([]ir.Expr{
			b.MakeDrop(b.MakeBinary(ir.AddInt32, b.MakeConstI32(1), b.MakeConstI32(2))),
			b.MakeUnreachable(),
		})
		m.AddFunction(&ir.Function{Name: name, Results: []ir.Type{ir.I32}, Body: body})
	}

	NewOutlining().Run(m)

	if len(m.Functions) != 3 {
		t.Fatalf("expected one outlined function, got %d", len(m.Functions))
	}
	outlined := m.Functions[0]
	if len(outlined.Results) != 0 {
		t.Fatalf("polymorphic sequence has no declared results, got %v", outlined.Results)
	}
	for _, name := range []string{"f1", "f2"} {
		fn := m.GetFunction(name)
		blk, ok := fn.Body.(*ir.Block)
		if !ok {
			t.Fatalf("%s body should be a block, got %T", name, fn.Body)
		}
		list := blk.List
		if len(list) != 2 {
			t.Fatalf("%s should hold call + unreachable, got:\n%s", name, ir.PrintFunction(fn))
		}
		if _, ok := list[0].(*ir.Call); !ok {
			t.Fatalf("%s first instr should be the call, got %T", name, list[0])
		}
		if _, ok := list[1].(*ir.UnreachableExpr); !ok {
			t.Fatalf("%s must keep an unreachable after the call, got %T", name, list[1])
		}
		if fn.Body.Type() != ir.Unreachable {
			t.Fatalf("%s body should refinalize to unreachable, got %s", name, fn.Body.Type())
		}
	}
}
