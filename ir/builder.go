package ir

// Builder wraps the boilerplate of constructing expression nodes with their
// static types filled in.
type Builder struct {
	Module *Module
}

// NewBuilder returns a builder for the given module.
func NewBuilder(m *Module) Builder { return Builder{Module: m} }

// AddVar appends a local to fn and returns its index.
func (b Builder) AddVar(fn *Function, t Type) int { return fn.AddVar(t) }

// MakeDrop drops a value.
func (b Builder) MakeDrop(value Expr) *Drop {
	d := &Drop{Value: value}
	if value.Type() == Unreachable {
		d.Typ = Unreachable
	}
	return d
}

// MakeBlock wraps a list of expressions, typed by the final element.
func (b Builder) MakeBlock(list []Expr) *Block {
	blk := &Block{List: list}
	if len(list) > 0 {
		blk.Typ = blockValueType(list[len(list)-1].Type())
	}
	return blk
}

// MakeSequence wraps two expressions, typed by the second.
func (b Builder) MakeSequence(first, second Expr) *Block {
	return b.MakeBlock([]Expr{first, second})
}

// Blockify concatenates expressions into a block, flattening a leading
// unnamed block.
func (b Builder) Blockify(exprs ...Expr) *Block {
	if len(exprs) > 0 {
		if blk, ok := exprs[0].(*Block); ok && blk.Name == "" {
			return b.MakeBlock(append(append([]Expr{}, blk.List...), exprs[1:]...))
		}
	}
	return b.MakeBlock(exprs)
}

// MakeIf builds an if, and an if-else when otherwise is non-nil.
func (b Builder) MakeIf(cond, then, otherwise Expr) *If {
	iff := &If{Cond: cond, Then: then, Else: otherwise}
	if otherwise != nil {
		iff.Typ = LeastUpperBound(then.Type(), otherwise.Type())
	}
	if cond.Type() == Unreachable {
		iff.Typ = Unreachable
	}
	return iff
}

// MakeLocalGet reads local index of the given type.
func (b Builder) MakeLocalGet(index int, t Type) *LocalGet {
	return &LocalGet{ExprBase: ExprBase{Typ: t}, Index: index}
}

// MakeLocalSet writes local index.
func (b Builder) MakeLocalSet(index int, value Expr) *LocalSet {
	s := &LocalSet{Index: index, Value: value}
	if value.Type() == Unreachable {
		s.Typ = Unreachable
	}
	return s
}

// MakeLocalTee writes local index and yields the value.
func (b Builder) MakeLocalTee(index int, value Expr, t Type) *LocalSet {
	s := &LocalSet{ExprBase: ExprBase{Typ: t}, Index: index, Value: value}
	if value.Type() == Unreachable {
		s.Typ = Unreachable
	}
	return s
}

// MakeConst builds a numeric constant.
func (b Builder) MakeConst(lit Literal) *Const {
	return &Const{ExprBase: ExprBase{Typ: lit.Type}, Value: lit}
}

// MakeConstI32 builds an i32 constant.
func (b Builder) MakeConstI32(v int32) *Const { return b.MakeConst(LitI32(v)) }

// MakeConstantExpression builds the constant expression for a literal.
func (b Builder) MakeConstantExpression(lit Literal) Expr { return b.MakeConst(lit) }

// MakeZeroExpr builds the default value of a field's unpacked type: a zero
// constant for numeric types, a null for references.
func (b Builder) MakeZeroExpr(t Type) Expr {
	if t.IsRef() {
		return b.MakeRefNull(t.Heap())
	}
	return b.MakeConst(MakeZero(t))
}

// MakeRefNull builds a null reference of the given heap type.
func (b Builder) MakeRefNull(heap *HeapType) *RefNull {
	return &RefNull{ExprBase: ExprBase{Typ: RefType(heap, true)}}
}

// MakeRefAsNonNull asserts a reference non-null.
func (b Builder) MakeRefAsNonNull(value Expr) *RefAs {
	r := &RefAs{Op: RefAsNonNull, Value: value}
	switch {
	case value.Type() == Unreachable:
		r.Typ = Unreachable
	case value.Type().IsRef():
		r.Typ = value.Type().WithNullable(false)
	default:
		r.Typ = value.Type()
	}
	return r
}

// MakeRefEq compares two references for identity.
func (b Builder) MakeRefEq(left, right Expr) *RefEq {
	eq := &RefEq{ExprBase: ExprBase{Typ: I32}, Left: left, Right: right}
	if left.Type() == Unreachable || right.Type() == Unreachable {
		eq.Typ = Unreachable
	}
	return eq
}

// MakeBinary applies a binary operator.
func (b Builder) MakeBinary(op BinaryOp, left, right Expr) *Binary {
	bin := &Binary{Op: op, Left: left, Right: right}
	bin.Typ = binaryResult(op, left.Type())
	if left.Type() == Unreachable || right.Type() == Unreachable {
		bin.Typ = Unreachable
	}
	return bin
}

// MakeStructNew allocates a struct of the given heap type.
func (b Builder) MakeStructNew(heap *HeapType, operands []Expr) *StructNew {
	return &StructNew{ExprBase: ExprBase{Typ: RefType(heap, false)}, Operands: operands}
}

// MakeStructGet reads field index of ref, with the given result type.
func (b Builder) MakeStructGet(index int, ref Expr, order MemoryOrder, t Type, signed bool) *StructGet {
	g := &StructGet{ExprBase: ExprBase{Typ: t}, Ref: ref, Index: index, Signed: signed, Order: order}
	if ref.Type() == Unreachable {
		g.Typ = Unreachable
	}
	return g
}

// MakeStructSet writes field index of ref.
func (b Builder) MakeStructSet(index int, ref, value Expr, order MemoryOrder) *StructSet {
	s := &StructSet{Ref: ref, Index: index, Value: value, Order: order}
	if ref.Type() == Unreachable || value.Type() == Unreachable {
		s.Typ = Unreachable
	}
	return s
}

// MakeCall invokes a function with the given result type.
func (b Builder) MakeCall(target string, operands []Expr, result Type) *Call {
	return &Call{ExprBase: ExprBase{Typ: result}, Target: target, Operands: operands}
}

// MakeUnreachable traps.
func (b Builder) MakeUnreachable() *UnreachableExpr {
	return &UnreachableExpr{ExprBase: ExprBase{Typ: Unreachable}}
}

// MakePackedFieldGet adjusts a raw field-local read for a packed field,
// applying sign or zero extension; non-packed fields pass through.
func (b Builder) MakePackedFieldGet(value Expr, field Field, signed bool) Expr {
	if !field.IsPacked() {
		return value
	}
	shift := int32(32 - field.Packed.Bits())
	if signed {
		return b.MakeBinary(ShrSInt32,
			b.MakeBinary(ShlInt32, value, b.MakeConstI32(shift)),
			b.MakeConstI32(shift))
	}
	mask := int32(1)<<field.Packed.Bits() - 1
	return b.MakeBinary(AndInt32, value, b.MakeConstI32(mask))
}

// blockValueType derives a block's type from its final element's type.
func blockValueType(last Type) Type {
	if last == Unreachable {
		return Unreachable
	}
	if !last.IsConcrete() {
		return None
	}
	return last
}
