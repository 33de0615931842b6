package ir

import (
	"fmt"
	"strings"
)

// Print renders a module in a folded WAT-like text form. The output is for
// diagnostics and test diffs, not for consumption by a text parser.
func Print(m *Module) string {
	var b strings.Builder
	b.WriteString("(module\n")
	for _, fn := range m.Functions {
		printFunction(&b, fn, 1)
	}
	b.WriteString(")\n")
	return b.String()
}

// PrintFunction renders a single function.
func PrintFunction(fn *Function) string {
	var b strings.Builder
	printFunction(&b, fn, 0)
	return b.String()
}

func printFunction(b *strings.Builder, fn *Function, depth int) {
	indent(b, depth)
	fmt.Fprintf(b, "(func $%s", fn.Name)
	if len(fn.Params) > 0 {
		fmt.Fprintf(b, " (param %s)", typeListString(fn.Params))
	}
	if len(fn.Results) > 0 {
		fmt.Fprintf(b, " (result %s)", typeListString(fn.Results))
	}
	if fn.Body == nil {
		b.WriteString(" (import))\n")
		return
	}
	b.WriteString("\n")
	for _, v := range fn.Vars {
		indent(b, depth+1)
		fmt.Fprintf(b, "(local %s)\n", v)
	}
	printExpr(b, fn.Body, depth+1)
	indent(b, depth)
	b.WriteString(")\n")
}

func indent(b *strings.Builder, depth int) {
	for i := 0; i < depth; i++ {
		b.WriteString(" ")
	}
}

func printExpr(b *strings.Builder, e Expr, depth int) {
	indent(b, depth)
	switch t := e.(type) {
	case *Block:
		head := "(block"
		if t.Name != "" {
			head += " $" + t.Name
		}
		if t.Typ.IsConcrete() {
			head += fmt.Sprintf(" (result %s)", t.Typ)
		}
		b.WriteString(head + "\n")
		for _, c := range t.List {
			printExpr(b, c, depth+1)
		}
		indent(b, depth)
		b.WriteString(")\n")
	case *Loop:
		head := "(loop"
		if t.Name != "" {
			head += " $" + t.Name
		}
		b.WriteString(head + "\n")
		printExpr(b, t.Body, depth+1)
		indent(b, depth)
		b.WriteString(")\n")
	case *If:
		b.WriteString("(if\n")
		printExpr(b, t.Cond, depth+1)
		indent(b, depth+1)
		b.WriteString("(then\n")
		printExpr(b, t.Then, depth+2)
		indent(b, depth+1)
		b.WriteString(")\n")
		if t.Else != nil {
			indent(b, depth+1)
			b.WriteString("(else\n")
			printExpr(b, t.Else, depth+2)
			indent(b, depth+1)
			b.WriteString(")\n")
		}
		indent(b, depth)
		b.WriteString(")\n")
	default:
		head, children := exprHead(e)
		if len(children) == 0 {
			b.WriteString("(" + head + ")\n")
			return
		}
		b.WriteString("(" + head + "\n")
		for _, c := range children {
			printExpr(b, *c, depth+1)
		}
		indent(b, depth)
		b.WriteString(")\n")
	}
}

func exprHead(e Expr) (string, []*Expr) {
	children := Children(e)
	switch t := e.(type) {
	case *Break:
		if t.Cond != nil {
			return "br_if $" + t.Name, children
		}
		return "br $" + t.Name, children
	case *Switch:
		return "br_table " + strings.Join(t.Names, " ") + " $" + t.Default, children
	case *BrOn:
		return "br_on $" + t.Name, children
	case *Call:
		return "call $" + t.Target, children
	case *LocalGet:
		return fmt.Sprintf("local.get %d", t.Index), nil
	case *LocalSet:
		if t.IsTee() {
			return fmt.Sprintf("local.tee %d", t.Index), children
		}
		return fmt.Sprintf("local.set %d", t.Index), children
	case *Const:
		return t.Value.String(), nil
	case *Binary:
		return binaryOpName(t.Op), children
	case *Drop:
		return "drop", children
	case *Return:
		return "return", children
	case *Nop:
		return "nop", nil
	case *UnreachableExpr:
		return "unreachable", nil
	case *Pop:
		return fmt.Sprintf("pop %s", t.Typ), nil
	case *Try:
		return "try $" + t.Name, children
	case *TryTable:
		return "try_table", children
	case *RefNull:
		return fmt.Sprintf("ref.null %s", t.Typ.Heap()), nil
	case *RefIsNull:
		return "ref.is_null", children
	case *RefEq:
		return "ref.eq", children
	case *RefAs:
		return "ref.as_non_null", children
	case *RefTest:
		return fmt.Sprintf("ref.test %s", t.CastType), children
	case *RefCast:
		if t.Desc != nil {
			return fmt.Sprintf("ref.cast_desc %s", t.Typ), children
		}
		return fmt.Sprintf("ref.cast %s", t.Typ), children
	case *RefGetDesc:
		return "ref.get_desc", children
	case *StructNew:
		if t.IsWithDefault() {
			return fmt.Sprintf("struct.new_default %s", heapOf(t.Typ)), children
		}
		return fmt.Sprintf("struct.new %s", heapOf(t.Typ)), children
	case *StructGet:
		return fmt.Sprintf("struct.get %d", t.Index), children
	case *StructSet:
		return fmt.Sprintf("struct.set %d", t.Index), children
	case *StructRMW:
		return fmt.Sprintf("struct.atomic.rmw %d", t.Index), children
	case *StructCmpxchg:
		return fmt.Sprintf("struct.atomic.rmw.cmpxchg %d", t.Index), children
	case *ArrayNew:
		if t.IsWithDefault() {
			return fmt.Sprintf("array.new_default %s", heapOf(t.Typ)), children
		}
		return fmt.Sprintf("array.new %s", heapOf(t.Typ)), children
	case *ArrayNewFixed:
		return fmt.Sprintf("array.new_fixed %s %d", heapOf(t.Typ), len(t.Values)), children
	case *ArrayGet:
		return "array.get", children
	case *ArraySet:
		return "array.set", children
	}
	return fmt.Sprintf("unknown %T", e), children
}

func heapOf(t Type) string {
	if t.IsRef() {
		return t.Heap().String()
	}
	return t.String()
}

func binaryOpName(op BinaryOp) string {
	switch op {
	case AddInt32:
		return "i32.add"
	case SubInt32:
		return "i32.sub"
	case MulInt32:
		return "i32.mul"
	case AndInt32:
		return "i32.and"
	case OrInt32:
		return "i32.or"
	case XorInt32:
		return "i32.xor"
	case EqInt32:
		return "i32.eq"
	case NeInt32:
		return "i32.ne"
	case ShlInt32:
		return "i32.shl"
	case ShrSInt32:
		return "i32.shr_s"
	case AddInt64:
		return "i64.add"
	case SubInt64:
		return "i64.sub"
	case MulInt64:
		return "i64.mul"
	case AndInt64:
		return "i64.and"
	case OrInt64:
		return "i64.or"
	case XorInt64:
		return "i64.xor"
	case EqInt64:
		return "i64.eq"
	case NeInt64:
		return "i64.ne"
	case AddFloat32:
		return "f32.add"
	case EqFloat32:
		return "f32.eq"
	case AddFloat64:
		return "f64.add"
	case EqFloat64:
		return "f64.eq"
	}
	return "unknown.op"
}
