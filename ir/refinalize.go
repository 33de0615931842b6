package ir

// Refinalize recomputes every static type in fn's body bottom-up, restoring
// type-correctness after in-place rewrites: unreachability is propagated and
// scope types are rejoined from their fallthrough and branch values.
func Refinalize(fn *Function, m *Module) {
	if fn.Body == nil {
		return
	}
	bt := BuildBranchTargets(fn.Body)
	Walk(fn.Body, func(e Expr) { finalize(e, m, bt) })
}

// RefinalizeModule refinalizes every defined function.
func RefinalizeModule(m *Module) {
	for _, fn := range m.Functions {
		Refinalize(fn, m)
	}
}

func anyUnreachable(children []*Expr) bool {
	for _, c := range children {
		if (*c).Type() == Unreachable {
			return true
		}
	}
	return false
}

func finalize(e Expr, m *Module, bt *BranchTargetsMap) {
	switch t := e.(type) {
	case *Const:
		t.Typ = t.Value.Type
	case *Nop:
		t.Typ = None
	case *UnreachableExpr, *Return:
		SetType(e, Unreachable)
	case *Drop:
		if t.Value.Type() == Unreachable {
			t.Typ = Unreachable
		} else {
			t.Typ = None
		}
	case *LocalGet:
		// The declared type stays; rewrites that retype a get do so
		// deliberately.
	case *LocalSet:
		if t.Value.Type() == Unreachable {
			t.Typ = Unreachable
		} else if !t.Typ.IsConcrete() {
			t.Typ = None
		}
	case *Block:
		finalizeBlock(t, bt)
	case *Loop:
		t.Typ = blockValueType(t.Body.Type())
	case *If:
		switch {
		case t.Cond.Type() == Unreachable:
			t.Typ = Unreachable
		case t.Else == nil:
			t.Typ = None
		default:
			t.Typ = LeastUpperBound(t.Then.Type(), t.Else.Type())
		}
	case *Break:
		switch {
		case t.Cond == nil:
			t.Typ = Unreachable
		case t.Cond.Type() == Unreachable,
			t.Value != nil && t.Value.Type() == Unreachable:
			t.Typ = Unreachable
		case t.Value != nil:
			t.Typ = t.Value.Type()
		default:
			t.Typ = None
		}
	case *Switch:
		t.Typ = Unreachable
	case *BrOn:
		if t.Ref.Type() == Unreachable {
			t.Typ = Unreachable
		} else if t.Op == BrOnNull && t.Ref.Type().IsRef() {
			t.Typ = t.Ref.Type().WithNullable(false)
		}
	case *Call:
		if anyUnreachable(Children(e)) || t.IsReturn {
			t.Typ = Unreachable
		} else if target := m.GetFunction(t.Target); target != nil {
			t.Typ = target.ResultType()
		}
	case *Binary:
		if t.Left.Type() == Unreachable || t.Right.Type() == Unreachable {
			t.Typ = Unreachable
		} else {
			t.Typ = binaryResult(t.Op, t.Left.Type())
		}
	case *RefNull:
		// Carries its own heap type.
	case *RefIsNull:
		t.Typ = unreachableOr(t.Value.Type(), I32)
	case *RefTest:
		t.Typ = unreachableOr(t.Ref.Type(), I32)
	case *RefEq:
		if t.Left.Type() == Unreachable || t.Right.Type() == Unreachable {
			t.Typ = Unreachable
		} else {
			t.Typ = I32
		}
	case *RefAs:
		if t.Value.Type() == Unreachable {
			t.Typ = Unreachable
		} else if t.Value.Type().IsRef() {
			t.Typ = t.Value.Type().WithNullable(false)
		}
	case *RefCast:
		if anyUnreachable(Children(e)) {
			t.Typ = Unreachable
		}
	case *RefGetDesc:
		rt := t.Ref.Type()
		switch {
		case rt == Unreachable:
			t.Typ = Unreachable
		case rt.IsRef() && rt.Heap().Desc != nil:
			t.Typ = RefType(rt.Heap().Desc, false)
		}
	case *StructNew, *ArrayNew, *ArrayNewFixed:
		if anyUnreachable(Children(e)) {
			SetType(e, Unreachable)
		}
	case *StructGet:
		rt := t.Ref.Type()
		switch {
		case rt == Unreachable, rt.IsRef() && rt.Heap().IsBottom():
			t.Typ = Unreachable
		case rt.IsRef() && rt.Heap().IsStruct():
			t.Typ = rt.Heap().Fields[t.Index].Unpacked()
		}
	case *StructSet:
		if anyUnreachable(Children(e)) {
			t.Typ = Unreachable
		} else {
			t.Typ = None
		}
	case *StructRMW:
		rt := t.Ref.Type()
		switch {
		case anyUnreachable(Children(e)):
			t.Typ = Unreachable
		case rt.IsRef() && rt.Heap().IsStruct():
			t.Typ = rt.Heap().Fields[t.Index].Unpacked()
		}
	case *StructCmpxchg:
		rt := t.Ref.Type()
		switch {
		case anyUnreachable(Children(e)):
			t.Typ = Unreachable
		case rt.IsRef() && rt.Heap().IsStruct():
			t.Typ = rt.Heap().Fields[t.Index].Unpacked()
		}
	case *ArrayGet:
		rt := t.Ref.Type()
		switch {
		case anyUnreachable(Children(e)), rt.IsRef() && rt.Heap().IsBottom():
			t.Typ = Unreachable
		case rt.IsRef() && rt.Heap().IsArray():
			t.Typ = rt.Heap().Element.Unpacked()
		}
	case *ArraySet:
		if anyUnreachable(Children(e)) {
			t.Typ = Unreachable
		} else {
			t.Typ = None
		}
	case *Pop:
		// Carries its declared type.
	case *Try:
		join := t.Body.Type()
		for _, c := range t.CatchBodies {
			join = LeastUpperBound(join, c.Type())
		}
		t.Typ = blockValueType(join)
		if join == Unreachable {
			t.Typ = Unreachable
		}
	case *TryTable:
		t.Typ = blockValueType(t.Body.Type())
	}
}

func unreachableOr(child Type, result Type) Type {
	if child == Unreachable {
		return Unreachable
	}
	return result
}

func finalizeBlock(b *Block, bt *BranchTargetsMap) {
	var last Type = None
	if len(b.List) > 0 {
		last = b.List[len(b.List)-1].Type()
	}
	var branches []Expr
	if b.Name != "" {
		branches = bt.Branches(b.Name)
	}
	if len(branches) == 0 {
		b.Typ = blockValueType(last)
		return
	}
	t := blockValueType(last)
	for _, br := range branches {
		var sent Type = None
		if v := SentValue(br); v != nil {
			sent = v.Type()
		}
		if sent == Unreachable {
			continue
		}
		if t == Unreachable {
			t = blockValueType(sent)
			continue
		}
		if !t.IsConcrete() || !sent.IsConcrete() {
			t = None
			continue
		}
		t = LeastUpperBound(t, sent)
	}
	b.Typ = t
}
