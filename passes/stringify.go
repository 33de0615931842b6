package passes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/wippyai/wasm-optimizer/ir"
)

// separatorKind tags the control-flow boundary symbols the stringifier emits.
type separatorKind uint8

const (
	sepFuncStart separatorKind = iota
	sepBlockStart
	sepLoopStart
	sepIfStart
	sepElse
	sepTryStart
	sepCatch
	sepCatchAll
	sepTryTableStart
	sepEnd
)

// stringifyVisitor receives the linearized event stream of a function:
// concrete expressions in stack-machine order, and unique separator events at
// every control-flow scope boundary.
type stringifyVisitor interface {
	VisitExpr(e ir.Expr)
	VisitSeparator(kind separatorKind, scope ir.Expr)
}

// stringifyFunction linearizes one function depth-first. Scopes are bracketed
// by start and end separators; an if's condition is emitted into the
// enclosing scope before the if-start separator, matching stack-machine
// order.
func stringifyFunction(fn *ir.Function, v stringifyVisitor) {
	v.VisitSeparator(sepFuncStart, nil)
	stringifyExpr(fn.Body, v)
	v.VisitSeparator(sepEnd, nil)
}

func stringifyExpr(e ir.Expr, v stringifyVisitor) {
	switch t := e.(type) {
	case *ir.Block:
		v.VisitSeparator(sepBlockStart, t)
		for _, c := range t.List {
			stringifyExpr(c, v)
		}
		v.VisitSeparator(sepEnd, t)
	case *ir.Loop:
		v.VisitSeparator(sepLoopStart, t)
		stringifyExpr(t.Body, v)
		v.VisitSeparator(sepEnd, t)
	case *ir.If:
		stringifyExpr(t.Cond, v)
		v.VisitSeparator(sepIfStart, t)
		stringifyExpr(t.Then, v)
		if t.Else != nil {
			v.VisitSeparator(sepElse, t)
			stringifyExpr(t.Else, v)
		}
		v.VisitSeparator(sepEnd, t)
	case *ir.Try:
		v.VisitSeparator(sepTryStart, t)
		stringifyExpr(t.Body, v)
		for i, body := range t.CatchBodies {
			if t.HasCatchAll && i == len(t.CatchBodies)-1 {
				v.VisitSeparator(sepCatchAll, t)
			} else {
				v.VisitSeparator(sepCatch, t)
			}
			stringifyExpr(body, v)
		}
		v.VisitSeparator(sepEnd, t)
	case *ir.TryTable:
		v.VisitSeparator(sepTryTableStart, t)
		stringifyExpr(t.Body, v)
		v.VisitSeparator(sepEnd, t)
	default:
		for _, c := range ir.Children(e) {
			stringifyExpr(*c, v)
		}
		v.VisitExpr(e)
	}
}

// hashStringify linearizes a whole module into hashString: one 32-bit symbol
// per concrete expression, interned so that shallow-equal expressions share a
// symbol, and a globally unique fresh symbol per separator. exprs runs
// parallel to hashString with nil at separators.
type hashStringify struct {
	hashString []uint32
	exprs      []ir.Expr

	// funcStarts records the program index of each function-start separator,
	// the sole reset points of the per-function instruction counter.
	funcStarts []int
	funcs      []*ir.Function

	interned map[string]uint32
	next     uint32
}

func stringifyModule(m *ir.Module) *hashStringify {
	h := &hashStringify{interned: map[string]uint32{}}
	for _, fn := range m.Functions {
		if fn.Body == nil {
			continue
		}
		h.funcStarts = append(h.funcStarts, len(h.hashString))
		h.funcs = append(h.funcs, fn)
		stringifyFunction(fn, h)
	}
	return h
}

func (h *hashStringify) VisitExpr(e ir.Expr) {
	key := shallowKey(e)
	sym, ok := h.interned[key]
	if !ok {
		sym = h.next
		h.next++
		h.interned[key] = sym
	}
	h.hashString = append(h.hashString, sym)
	h.exprs = append(h.exprs, e)
}

func (h *hashStringify) VisitSeparator(kind separatorKind, scope ir.Expr) {
	// Each separator symbol is distinct from every other symbol ever
	// emitted, so no repeated substring can cross a scope boundary.
	h.hashString = append(h.hashString, h.next)
	h.next++
	h.exprs = append(h.exprs, nil)
}

// MakeRelative maps a program-wide index to the instruction index within its
// enclosing function, where the function-start separator is index 0.
func (h *hashStringify) MakeRelative(programIdx int) (int, *ir.Function) {
	i := sort.SearchInts(h.funcStarts, programIdx+1) - 1
	return programIdx - h.funcStarts[i], h.funcs[i]
}

// shallowKey builds the interning key of an expression: its kind and
// immediates, its child arity and child types, and its own type. Two
// expressions with equal keys are shallow-equal.
func shallowKey(e ir.Expr) string {
	var b strings.Builder
	switch t := e.(type) {
	case *ir.Break:
		if t.Cond != nil {
			fmt.Fprintf(&b, "br_if %s", t.Name)
		} else {
			fmt.Fprintf(&b, "br %s", t.Name)
		}
	case *ir.Switch:
		fmt.Fprintf(&b, "br_table %s %s", strings.Join(t.Names, ","), t.Default)
	case *ir.BrOn:
		fmt.Fprintf(&b, "br_on %d %s %s", t.Op, t.Name, typeKey(t.CastType))
	case *ir.Call:
		fmt.Fprintf(&b, "call %s %v", t.Target, t.IsReturn)
	case *ir.LocalGet:
		fmt.Fprintf(&b, "local.get %d", t.Index)
	case *ir.LocalSet:
		fmt.Fprintf(&b, "local.set %d %v", t.Index, t.IsTee())
	case *ir.Const:
		fmt.Fprintf(&b, "const %s %d", t.Value.Type, t.Value.Bits())
	case *ir.Binary:
		fmt.Fprintf(&b, "binary %d", t.Op)
	case *ir.Drop:
		b.WriteString("drop")
	case *ir.Return:
		b.WriteString("return")
	case *ir.Nop:
		b.WriteString("nop")
	case *ir.UnreachableExpr:
		b.WriteString("unreachable")
	case *ir.Pop:
		b.WriteString("pop")
	case *ir.RefNull:
		b.WriteString("ref.null")
	case *ir.RefIsNull:
		b.WriteString("ref.is_null")
	case *ir.RefEq:
		b.WriteString("ref.eq")
	case *ir.RefAs:
		fmt.Fprintf(&b, "ref.as %d", t.Op)
	case *ir.RefTest:
		fmt.Fprintf(&b, "ref.test %s", typeKey(t.CastType))
	case *ir.RefCast:
		fmt.Fprintf(&b, "ref.cast %v", t.Desc != nil)
	case *ir.RefGetDesc:
		b.WriteString("ref.get_desc")
	case *ir.StructNew:
		fmt.Fprintf(&b, "struct.new %v %v", t.IsWithDefault(), t.Desc != nil)
	case *ir.StructGet:
		fmt.Fprintf(&b, "struct.get %d %v %d", t.Index, t.Signed, t.Order)
	case *ir.StructSet:
		fmt.Fprintf(&b, "struct.set %d %d", t.Index, t.Order)
	case *ir.StructRMW:
		fmt.Fprintf(&b, "struct.rmw %d %d %d", t.Op, t.Index, t.Order)
	case *ir.StructCmpxchg:
		fmt.Fprintf(&b, "struct.cmpxchg %d %d", t.Index, t.Order)
	case *ir.ArrayNew:
		fmt.Fprintf(&b, "array.new %v", t.IsWithDefault())
	case *ir.ArrayNewFixed:
		fmt.Fprintf(&b, "array.new_fixed %d", len(t.Values))
	case *ir.ArrayGet:
		fmt.Fprintf(&b, "array.get %v %d", t.Signed, t.Order)
	case *ir.ArraySet:
		fmt.Fprintf(&b, "array.set %d", t.Order)
	default:
		fmt.Fprintf(&b, "%T", e)
	}
	for _, child := range ir.Children(e) {
		b.WriteByte('|')
		b.WriteString(typeKey((*child).Type()))
	}
	b.WriteByte('@')
	b.WriteString(typeKey(e.Type()))
	return b.String()
}

// typeKey is a canonical key for a type; heap types key by identity.
func typeKey(t ir.Type) string {
	if t.IsRef() {
		return fmt.Sprintf("ref(%p,%v)", t.Heap(), t.IsNullable())
	}
	return t.String()
}
