package passes

import (
	"testing"

	"github.com/wippyai/wasm-optimizer/ir"
)

func buildTwoAddFuncs() *ir.Module {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	for _, name := range []string{"f1", "f2"} {
		m.AddFunction(&ir.Function{
			Name:    name,
			Results: []ir.Type{ir.I32},
			Body:    b.MakeBinary(ir.AddInt32, b.MakeConstI32(1), b.MakeConstI32(2)),
		})
	}
	return m
}

func TestStringify_ShallowEqualShareSymbols(t *testing.T) {
	m := buildTwoAddFuncs()
	st := stringifyModule(m)

	// func-start, c1, c2, add, end — twice.
	if len(st.hashString) != 10 {
		t.Fatalf("expected 10 symbols, got %d", len(st.hashString))
	}
	for _, off := range []int{1, 2, 3} {
		if st.hashString[off] != st.hashString[off+5] {
			t.Fatalf("shallow-equal expressions at %d should share a symbol", off)
		}
	}
	if st.hashString[1] == st.hashString[2] {
		t.Fatal("different constants must have different symbols")
	}
}

func TestStringify_SeparatorsUnique(t *testing.T) {
	m := buildTwoAddFuncs()
	st := stringifyModule(m)

	seen := map[uint32]int{}
	for i, sym := range st.hashString {
		if st.exprs[i] != nil {
			continue
		}
		if prev, dup := seen[sym]; dup {
			t.Fatalf("separator symbol %d repeats at %d and %d", sym, prev, i)
		}
		seen[sym] = i
	}
	if len(seen) != 4 {
		t.Fatalf("expected 4 separators, got %d", len(seen))
	}
}

func TestStringify_MakeRelative(t *testing.T) {
	m := buildTwoAddFuncs()
	st := stringifyModule(m)

	rel, fn := st.MakeRelative(6)
	if fn.Name != "f2" || rel != 1 {
		t.Fatalf("expected (1, f2), got (%d, %s)", rel, fn.Name)
	}
	rel, fn = st.MakeRelative(0)
	if fn.Name != "f1" || rel != 0 {
		t.Fatalf("function start should be relative 0, got (%d, %s)", rel, fn.Name)
	}
}

func TestStringify_ScopeBoundaries(t *testing.T) {
	m := ir.NewModule()
	b := ir.NewBuilder(m)
	iff := b.MakeIf(b.MakeConstI32(1), b.MakeDrop(b.MakeConstI32(2)), b.MakeDrop(b.MakeConstI32(3)))
	m.AddFunction(&ir.Function{Name: "f", Body: iff})

	st := stringifyModule(m)
	// func-start, cond, if-start, c2, drop, else, c3, drop, end, end
	if len(st.hashString) != 10 {
		t.Fatalf("expected 10 symbols, got %d", len(st.hashString))
	}
	if st.exprs[1] == nil {
		t.Fatal("the condition must be emitted before the if-start separator")
	}
	if st.exprs[2] != nil {
		t.Fatal("if-start should be a separator")
	}
	if st.exprs[5] != nil {
		t.Fatal("else should be a separator")
	}
}
