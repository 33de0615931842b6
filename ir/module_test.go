package ir

import "testing"

func TestModule_Functions(t *testing.T) {
	m := NewModule()
	f := m.AddFunction(&Function{Name: "a"})
	if m.GetFunction("a") != f {
		t.Fatal("lookup after add failed")
	}
	if m.GetFunction("missing") != nil {
		t.Fatal("missing function should be nil")
	}

	m.Functions = append([]*Function{{Name: "b"}}, m.Functions...)
	m.UpdateFunctionsMap()
	if m.GetFunction("b") == nil || m.GetFunction("a") != f {
		t.Fatal("index stale after UpdateFunctionsMap")
	}
}

func TestModule_UniqueFunctionName(t *testing.T) {
	m := NewModule()
	m.AddFunction(&Function{Name: "outline$0"})
	if got := m.UniqueFunctionName("outline$"); got != "outline$1" {
		t.Fatalf("expected outline$1, got %s", got)
	}
	if got := m.UniqueFunctionName("other$"); got != "other$0" {
		t.Fatalf("expected other$0, got %s", got)
	}
}

func TestFunction_Locals(t *testing.T) {
	fn := &Function{Name: "f", Params: []Type{I32, I64}}
	idx := fn.AddVar(F32)
	if idx != 2 {
		t.Fatalf("first var after two params should be 2, got %d", idx)
	}
	if fn.LocalType(0) != I32 || fn.LocalType(1) != I64 || fn.LocalType(2) != F32 {
		t.Fatal("local types misaddressed")
	}
	if fn.NumLocals() != 3 {
		t.Fatalf("expected 3 locals, got %d", fn.NumLocals())
	}
}
