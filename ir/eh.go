package ir

// FixupNestedPops repairs catch bodies whose pop stopped being the first
// instruction of the catch scope after rewrites wrapped it in fresh blocks.
// Such a pop is hoisted into a scratch local set at the top of the catch body
// and the original pop site reads the local instead.
func FixupNestedPops(fn *Function) {
	if fn.Body == nil {
		return
	}
	Walk(fn.Body, func(e Expr) {
		tr, ok := e.(*Try)
		if !ok {
			return
		}
		for i := range tr.CatchBodies {
			fixupCatch(fn, &tr.CatchBodies[i])
		}
	})
}

func fixupCatch(fn *Function, body *Expr) {
	if popIsLeftmost(*body) {
		return
	}
	slot := findPop(body)
	if slot == nil {
		return
	}
	pop := (*slot).(*Pop)
	local := fn.AddVar(pop.Typ)
	*slot = &LocalGet{ExprBase: ExprBase{Typ: pop.Typ}, Index: local}
	set := &LocalSet{Index: local, Value: pop}
	*body = &Block{
		ExprBase: ExprBase{Typ: (*body).Type()},
		List:     []Expr{set, *body},
	}
}

// popIsLeftmost reports whether the catch body begins with its pop: the
// leftmost instruction reached through leading operand positions without
// crossing any scope. Only the catch body's own root block is transparent; a
// pop inside any nested scope does not validate.
func popIsLeftmost(e Expr) bool {
	if blk, ok := e.(*Block); ok {
		if len(blk.List) == 0 {
			return false
		}
		e = blk.List[0]
	}
	for {
		switch e.(type) {
		case *Pop:
			return true
		case *Block, *Loop, *If, *Try, *TryTable:
			return false
		default:
			children := Children(e)
			if len(children) == 0 {
				return false
			}
			e = *children[0]
		}
	}
}

// findPop locates the first pop slot under e.
func findPop(slot *Expr) *Expr {
	if _, ok := (*slot).(*Pop); ok {
		return slot
	}
	for _, child := range Children(*slot) {
		if found := findPop(child); found != nil {
			return found
		}
	}
	return nil
}
