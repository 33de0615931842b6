package passes

import (
	"github.com/wippyai/wasm-optimizer/errors"
	"github.com/wippyai/wasm-optimizer/ir"
)

// Interaction classifies how a parent expression receives its child operand
// with regard to the behavior of an allocation flowing through the child.
type Interaction uint8

const (
	// InteractionNone: the expression is not relevant to the analysis.
	// Expressions absent from the reached map have this interaction.
	InteractionNone Interaction = iota
	// InteractionEscapes: the parent lets the child escape, e.g. a call.
	InteractionEscapes
	// InteractionFullyConsumes: the parent consumes the child safely and
	// nothing remains to flow further, e.g. a struct.get reading from it.
	InteractionFullyConsumes
	// InteractionFlows: the child is the single value that can flow out of
	// the parent, e.g. the final value of a branchless block.
	InteractionFlows
	// InteractionMixes: the child's value continues through the parent but
	// other values may mix in, e.g. a block with branches carrying values.
	InteractionMixes
)

// escapeAnalyzer decides whether one allocation escapes its function, and if
// not, records every expression the allocation reaches together with its
// interaction there.
type escapeAnalyzer struct {
	localGraph    *ir.LazyLocalGraph
	parents       ir.ParentMap
	branchTargets *ir.BranchTargetsMap

	// sets are the local.sets observed writing the allocation; exclusivity of
	// their gets is verified once the flow analysis drains.
	sets map[*ir.LocalSet]bool

	// reached maps every expression the allocation flows to or through to the
	// interaction of the allocation there. Absent means InteractionNone.
	reached map[ir.Expr]Interaction
}

func newEscapeAnalyzer(localGraph *ir.LazyLocalGraph, parents ir.ParentMap, branchTargets *ir.BranchTargetsMap) *escapeAnalyzer {
	return &escapeAnalyzer{
		localGraph:    localGraph,
		parents:       parents,
		branchTargets: branchTargets,
		sets:          map[*ir.LocalSet]bool{},
		reached:       map[ir.Expr]Interaction{},
	}
}

type childParentFlow struct {
	child  ir.Expr
	parent ir.Expr
}

// escapes analyzes an allocation, returning true when it cannot be lowered
// into locals. When false, the reached map is populated.
func (a *escapeAnalyzer) escapes(allocation ir.Expr) bool {
	// A queue of child-to-parent flows. An entry means the allocation is
	// known to be fine at the child, and we must check whether it is fine at
	// the parent and may flow from the child into it. Each flow is processed
	// at most once, ever.
	seen := map[childParentFlow]bool{}
	var queue []childParentFlow
	push := func(f childParentFlow) {
		if !seen[f] {
			seen[f] = true
			queue = append(queue, f)
		}
	}

	push(childParentFlow{allocation, a.parents.Parent(allocation)})

	for len(queue) > 0 {
		flow := queue[0]
		queue = queue[1:]
		child, parent := flow.child, flow.parent

		interaction := a.interaction(allocation, parent, child)
		if interaction == InteractionEscapes || interaction == InteractionMixes {
			return true
		}

		if interaction == InteractionFlows {
			// The value flows through the parent; look at the grandparent.
			push(childParentFlow{parent, a.parents.Parent(parent)})
		}

		if set, ok := parent.(*ir.LocalSet); ok {
			// One of the sets the allocation is written to. Note it for the
			// exclusivity check, and follow the flow out of every get that
			// may read it.
			a.sets[set] = true
			for _, get := range a.localGraph.SetInfluences(set) {
				push(childParentFlow{get, a.parents.Parent(get)})
			}
		}

		// If the parent sends the child on branches, follow the flow to each
		// branch target.
		for _, name := range ir.SentBranches(parent, child) {
			push(childParentFlow{child, a.branchTargets.Target(name)})
		}

		a.reached[child] = InteractionFlows
		a.reached[parent] = interaction
	}

	return !a.getsAreExclusiveToSets()
}

// interaction classifies the parent's handling of the child operand.
func (a *escapeAnalyzer) interaction(allocation, parent, child ir.Expr) Interaction {
	// No parent means we are the function body and flow out to the caller.
	if parent == nil {
		return InteractionEscapes
	}

	// Assume escaping unless the parent's tag proves otherwise. When
	// fullyConsumes is set nothing remains to flow onward; otherwise the
	// value that falls through is analyzed for mixing below.
	escapes := true
	fullyConsumes := false

	switch p := parent.(type) {
	case *ir.Block:
		// The value may continue through; do not mark fullyConsumes.
		escapes = false
	case *ir.Loop:
		escapes = false
	case *ir.Drop:
		escapes = false
		fullyConsumes = true
	case *ir.Break:
		escapes = false
	case *ir.Switch:
		escapes = false
	case *ir.LocalGet:
		escapes = false
	case *ir.LocalSet:
		escapes = false
	case *ir.RefIsNull:
		// Compared to null, nothing more.
		escapes = false
		fullyConsumes = true
	case *ir.RefEq:
		// Compared for identity, nothing more.
		escapes = false
		fullyConsumes = true
	case *ir.RefAs:
		if p.Op == ir.RefAsNonNull {
			// Our allocation flows through here, so it is not null and the
			// operation cannot trap.
			escapes = false
		}
	case *ir.RefTest:
		escapes = false
		fullyConsumes = true
	case *ir.RefCast:
		// Whether the cast succeeds or fails, it does not escape.
		escapes = false
		if p.Ref == child {
			// If the cast fails the allocation is fully consumed and does
			// not flow further (we trap instead).
			if !ir.IsSubType(allocation.Type(), p.Typ) {
				fullyConsumes = true
			}
		} else {
			// The child is the descriptor operand, or it was originally and
			// an earlier rewrite already replaced the ref; either way it is
			// consumed here.
			fullyConsumes = true
		}
	case *ir.RefGetDesc:
		escapes = false
		fullyConsumes = true
	case *ir.StructSet:
		// The reference does not escape (the stored value might, but that is
		// a different child).
		if p.Ref == child {
			escapes = false
			fullyConsumes = true
		}
	case *ir.StructGet:
		escapes = false
		fullyConsumes = true
	case *ir.StructRMW:
		if p.Ref == child {
			escapes = false
			fullyConsumes = true
		}
	case *ir.StructCmpxchg:
		if p.Ref == child || p.Expected == child {
			escapes = false
			fullyConsumes = true
		}
	case *ir.ArraySet:
		// Nonconstant indexes do not escape in the normal sense, but they
		// escape our ability to analyze them.
		if isConstExpr(p.Index) && p.Ref == child {
			escapes = false
			fullyConsumes = true
		}
	case *ir.ArrayGet:
		if isConstExpr(p.Index) {
			escapes = false
			fullyConsumes = true
		}
	}

	if escapes {
		return InteractionEscapes
	}

	// A parent whose type is not a reference by definition does not flow the
	// allocation onward.
	if fullyConsumes || !parent.Type().IsRef() {
		return InteractionFullyConsumes
	}

	// Check for mixing. If the child is the immediate fallthrough of the
	// parent then no other value can be mixed in.
	if ir.ImmediateFallthrough(parent, a.branchTargets) == child {
		return InteractionFlows
	}

	// Likewise if the child branches to the parent as its sole branch and no
	// value flows out of the scope's end.
	if name, ok := ir.DefinedName(parent); ok {
		branches := a.branchTargets.Branches(name)
		if len(branches) == 1 && ir.SentValue(branches[0]) == child {
			if block, ok := parent.(*ir.Block); ok && len(block.List) > 0 {
				if block.List[len(block.List)-1].Type() == ir.Unreachable {
					return InteractionFlows
				}
			}
		}
	}

	return InteractionMixes
}

// getsAreExclusiveToSets verifies that every get which may read one of our
// sets can only ever read from those sets. If a get could observe any other
// set, the allocation is not used exclusively through the local and the
// rewrite would need conditional disambiguation, which this pass rejects.
func (a *escapeAnalyzer) getsAreExclusiveToSets() bool {
	gets := map[*ir.LocalGet]bool{}
	for set := range a.sets {
		for _, get := range a.localGraph.SetInfluences(set) {
			gets[get] = true
		}
	}
	for get := range gets {
		for _, set := range a.localGraph.Sets(get) {
			if set == nil || !a.sets[set] {
				return false
			}
		}
	}
	return true
}

// interactionOf returns the recorded interaction of an expression.
func (a *escapeAnalyzer) interactionOf(e ir.Expr) Interaction {
	return a.reached[e]
}

// applyOldInteractionToReplacement transfers the recorded interaction of a
// rewritten expression to its drop-in replacement. Replacements that are
// unreachable left the analysis domain and get nothing.
func (a *escapeAnalyzer) applyOldInteractionToReplacement(old, rep ir.Expr) {
	interaction, ok := a.reached[old]
	if !ok {
		panic(errors.Internal(errors.PhaseRewrite,
			"replacing an expression the analysis never reached: %T", old))
	}
	if rep.Type() != ir.Unreachable {
		a.reached[rep] = interaction
	}
}

func isConstExpr(e ir.Expr) bool {
	_, ok := e.(*ir.Const)
	return ok
}
