package ir

// StackSignature describes the stack effect of an instruction or of a
// composed instruction sequence: the types it pops (bottom of stack first)
// and the types it pushes. Polymorphic signatures end in unreachable code and
// satisfy any downstream pops.
type StackSignature struct {
	Params      []Type
	Results     []Type
	Polymorphic bool
}

// ExprStackSignature computes the shallow stack effect of a single
// expression: its operand children are pops and its own value is the push.
// Control-flow structures are not meaningful here; callers linearize scopes
// separately.
func ExprStackSignature(e Expr) StackSignature {
	var sig StackSignature
	for _, child := range Children(e) {
		if t := (*child).Type(); t.IsConcrete() {
			sig.Params = append(sig.Params, t)
		}
	}
	switch t := e.Type(); {
	case t == Unreachable:
		sig.Polymorphic = true
	case t.IsConcrete():
		sig.Results = []Type{t}
	}
	return sig
}

// Compose appends next's stack effect to s. Values next pops beyond what s
// produced become additional parameters of the composition.
func (s StackSignature) Compose(next StackSignature) StackSignature {
	results := append([]Type{}, s.Results...)
	take := len(next.Params)
	if take > len(results) {
		take = len(results)
	}
	deficit := len(next.Params) - take
	results = results[:len(results)-take]

	params := append([]Type{}, s.Params...)
	if deficit > 0 && !s.Polymorphic {
		params = append(append([]Type{}, next.Params[:deficit]...), params...)
	}

	out := StackSignature{Params: params, Polymorphic: s.Polymorphic || next.Polymorphic}
	if next.Polymorphic {
		out.Results = append([]Type{}, next.Results...)
	} else {
		out.Results = append(results, next.Results...)
	}
	return out
}

// SequenceStackSignature composes the shallow signatures of a sequence of
// expressions in order.
func SequenceStackSignature(exprs []Expr) StackSignature {
	var sig StackSignature
	for i, e := range exprs {
		if i == 0 {
			sig = ExprStackSignature(e)
			continue
		}
		sig = sig.Compose(ExprStackSignature(e))
	}
	return sig
}
