package passes

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-optimizer/errors"
	"github.com/wippyai/wasm-optimizer/ir"
	"github.com/wippyai/wasm-optimizer/passes/internal/suffix"
)

// Outlining finds repeated instruction subsequences across the whole module,
// extracts each into a fresh function, and replaces every occurrence with a
// call. Sequences are found by linearizing the module into a symbol string
// and mining it with a suffix automaton; filters then drop sequences that
// cannot be extracted without changing behavior.
type Outlining struct{}

// NewOutlining returns the pass.
func NewOutlining() *Outlining { return &Outlining{} }

// Name implements Pass.
func (p *Outlining) Name() string { return "outlining" }

// Run implements Pass.
func (p *Outlining) Run(m *ir.Module) {
	stringify := stringifyModule(m)

	// Collect every substring appearing more than once, then filter.
	substrings := suffix.Repeats(stringify.hashString)
	substrings = dedupe(substrings, stringify.hashString)
	substrings = filterOverlaps(substrings)
	// Branches, returns, and exception tables may target scopes outside the
	// extracted range.
	substrings = filterBranches(substrings, stringify.exprs)
	// Written locals would have to be returned and written back.
	substrings = filterLocalSets(substrings, stringify.exprs)
	// Read locals would have to be passed in as arguments.
	substrings = filterLocalGets(substrings, stringify.exprs)
	substrings = filterMultiResult(substrings, stringify.exprs)

	// Substring indices are program-wide; sequences are relative to their
	// enclosing function, which is what the reconstruction walks.
	seqByFunc, created := makeSequences(m, substrings, stringify)

	for _, fn := range m.Functions {
		seqs, ok := seqByFunc[fn]
		if !ok {
			continue
		}
		reconstruct(m, fn, seqs)
	}

	outlined := pruneUnusedOutlined(m, created)
	moveOutlinedFunctions(m, outlined)

	// The reconstruction drives scopes in stringified rather than nested
	// order, so control-flow types may be under-computed; recompute them all.
	ir.RefinalizeModule(m)

	passLogger.Debug("outlining complete",
		zap.Int("candidates", len(substrings)),
		zap.Int("outlined", len(outlined)))
}

// outliningSequence is a half-open instruction range [start, end) in the
// linearized order of a single function, to be replaced by a call to
// funcName.
type outliningSequence struct {
	funcName string
	start    int
	end      int
	// endsUnreachable is set when the last expression of the range has
	// unreachable type; the call is then followed by an unreachable to keep
	// the type of the original scope.
	endsUnreachable bool
}

// makeSequences mints one outlined function per substring and maps each host
// function to its occurrences, sorted by start index. It returns the created
// function names in creation order.
func makeSequences(m *ir.Module, substrings []suffix.RepeatedSubstring, stringify *hashStringify) (map[*ir.Function][]outliningSequence, []string) {
	seqByFunc := map[*ir.Function][]outliningSequence{}
	var created []string
	for _, substring := range substrings {
		sig := substringSignature(substring, stringify.exprs)
		name := m.UniqueFunctionName("outline$")
		m.AddFunction(&ir.Function{
			Name:    name,
			Params:  sig.Params,
			Results: sig.Results,
		})
		created = append(created, name)
		for _, programIdx := range substring.StartIndices {
			relativeIdx, fn := stringify.MakeRelative(programIdx)
			last := stringify.exprs[programIdx+substring.Length-1]
			seqByFunc[fn] = append(seqByFunc[fn], outliningSequence{
				funcName:        name,
				start:           relativeIdx,
				end:             relativeIdx + substring.Length,
				endsUnreachable: last.Type() == ir.Unreachable,
			})
		}
	}

	// Per function: sort by start index so the reconstruction counter meets
	// sequences in order, and drop occurrences of different substrings that
	// overlap an earlier kept one.
	for fn, seqs := range seqByFunc {
		sortSequences(seqs)
		var kept []outliningSequence
		lastEnd := -1
		for _, seq := range seqs {
			if seq.start >= lastEnd {
				kept = append(kept, seq)
				lastEnd = seq.end
			}
		}
		seqByFunc[fn] = kept
	}
	return seqByFunc, created
}

func sortSequences(seqs []outliningSequence) {
	for i := 1; i < len(seqs); i++ {
		for j := i; j > 0 && seqs[j].start < seqs[j-1].start; j-- {
			seqs[j], seqs[j-1] = seqs[j-1], seqs[j]
		}
	}
}

// pruneUnusedOutlined removes created functions that never received a body:
// every occurrence of their substring was dropped by the per-function overlap
// guard, so no call sites exist either. It returns the surviving outlined
// functions in creation order.
func pruneUnusedOutlined(m *ir.Module, created []string) []*ir.Function {
	dead := map[string]bool{}
	var alive []*ir.Function
	for _, name := range created {
		if fn := m.GetFunction(name); fn.Body == nil {
			dead[name] = true
		} else {
			alive = append(alive, fn)
		}
	}
	if len(dead) > 0 {
		kept := m.Functions[:0]
		for _, fn := range m.Functions {
			if !dead[fn.Name] {
				kept = append(kept, fn)
			}
		}
		m.Functions = kept
		m.UpdateFunctionsMap()
	}
	return alive
}

// moveOutlinedFunctions positions the outlined functions first in the
// module's function list, which keeps test expectations readable, and
// rebuilds the name index.
func moveOutlinedFunctions(m *ir.Module, outlined []*ir.Function) {
	if len(outlined) == 0 {
		return
	}
	isOutlined := map[*ir.Function]bool{}
	for _, fn := range outlined {
		isOutlined[fn] = true
	}
	rest := make([]*ir.Function, 0, len(m.Functions)-len(outlined))
	for _, fn := range m.Functions {
		if !isOutlined[fn] {
			rest = append(rest, fn)
		}
	}
	m.Functions = append(append([]*ir.Function{}, outlined...), rest...)
	m.UpdateFunctionsMap()
}

// Reconstruction state: whether the walk is outside any sequence, inside the
// first occurrence of one (populating the outlined body), or inside a later
// occurrence (skipping instructions already outlined).
const (
	stateNotInSeq = iota
	stateInSeq
	stateInSkipSeq
)

// reconstructor replays a function's stringify event stream, rebuilding each
// scope's child list from an explicit frame stack and diverting sequence
// ranges into outlined functions.
type reconstructor struct {
	m       *ir.Module
	fn      *ir.Function
	builder ir.Builder
	seqs    []outliningSequence

	// idx counts instructions since the function began, matching the
	// relative indices produced by the stringifier.
	idx        int
	seqCounter int
	state      int

	frames     []*frame
	outlined   *frame
	outlinedFn *ir.Function
}

// frame buffers the children of one scope until its end event arrives. parts
// holds the completed arms of multi-part scopes (if/else, try/catch).
type frame struct {
	scope ir.Expr // nil for the function scope
	stack []ir.Expr
	parts [][]ir.Expr
}

func reconstruct(m *ir.Module, fn *ir.Function, seqs []outliningSequence) {
	r := &reconstructor{
		m:       m,
		fn:      fn,
		builder: ir.NewBuilder(m),
		seqs:    seqs,
	}
	stringifyFunction(fn, r)
}

func (r *reconstructor) topFrame() *frame {
	if len(r.frames) == 0 {
		panic(errors.Internal(errors.PhaseReconstruct, "no open scope in $%s", r.fn.Name))
	}
	return r.frames[len(r.frames)-1]
}

func (r *reconstructor) VisitSeparator(kind separatorKind, scope ir.Expr) {
	if kind == sepFuncStart {
		r.idx = 0
		r.seqCounter = 0
		r.state = stateNotInSeq
		r.frames = []*frame{{scope: nil}}
		return
	}
	r.idx++

	switch kind {
	case sepBlockStart, sepLoopStart, sepIfStart, sepTryStart, sepTryTableStart:
		r.frames = append(r.frames, &frame{scope: scope})
	case sepElse, sepCatch, sepCatchAll:
		f := r.topFrame()
		f.parts = append(f.parts, f.stack)
		f.stack = nil
	case sepEnd:
		r.finishScope()
	}
}

func (r *reconstructor) finishScope() {
	f := r.topFrame()
	r.frames = r.frames[:len(r.frames)-1]
	parts := append(f.parts, f.stack)

	if f.scope == nil {
		r.fn.Body = r.blockifyPart(parts[0])
		return
	}

	switch scope := f.scope.(type) {
	case *ir.Block:
		scope.List = parts[0]
	case *ir.Loop:
		scope.Body = r.blockifyPart(parts[0])
	case *ir.If:
		scope.Then = r.blockifyPart(parts[0])
		if len(parts) > 1 {
			scope.Else = r.blockifyPart(parts[1])
		}
		// The condition was rebuilt into the enclosing scope before the
		// if-start event; reclaim it.
		parent := r.topFrame()
		scope.Cond = r.popOne(parent)
	case *ir.Try:
		scope.Body = r.blockifyPart(parts[0])
		for i := range scope.CatchBodies {
			scope.CatchBodies[i] = r.blockifyPart(parts[1+i])
		}
	case *ir.TryTable:
		scope.Body = r.blockifyPart(parts[0])
	default:
		panic(errors.Internal(errors.PhaseReconstruct, "unexpected scope %T", f.scope))
	}
	parent := r.topFrame()
	parent.stack = append(parent.stack, f.scope)
}

func (r *reconstructor) VisitExpr(e ir.Expr) {
	r.idx++

	cur := r.currState()
	if cur != r.state {
		switch cur {
		case stateInSeq:
			r.transitionToInSeq()
		case stateInSkipSeq:
			r.transitionToInSkipSeq()
		}
		r.state = cur
	}

	switch r.state {
	case stateNotInSeq:
		r.pushInstr(r.topFrame(), e)
	case stateInSeq:
		r.pushInstr(r.outlined, e)
	case stateInSkipSeq:
		// Already outlined; the call replaced this range.
	}

	if r.state != stateNotInSeq {
		r.maybeEndSeq()
	}
}

func (r *reconstructor) currState() int {
	if r.seqCounter < len(r.seqs) {
		seq := r.seqs[r.seqCounter]
		if r.idx >= seq.start && r.idx < seq.end {
			if r.m.GetFunction(seq.funcName).Body != nil {
				return stateInSkipSeq
			}
			return stateInSeq
		}
	}
	return stateNotInSeq
}

// transitionToInSeq begins populating the outlined function with the first
// occurrence of its sequence, seeding its stack with a local.get per
// parameter, and replaces the range in the host with a call.
func (r *reconstructor) transitionToInSeq() {
	seq := r.seqs[r.seqCounter]
	ofn := r.m.GetFunction(seq.funcName)
	r.outlinedFn = ofn
	r.outlined = &frame{}
	r.emitHostCall(ofn, seq)
	for i, param := range ofn.Params {
		r.outlined.stack = append(r.outlined.stack, r.builder.MakeLocalGet(i, param))
	}
}

// transitionToInSkipSeq handles a later occurrence: only the call is emitted
// and the range's instructions are skipped.
func (r *reconstructor) transitionToInSkipSeq() {
	seq := r.seqs[r.seqCounter]
	r.emitHostCall(r.m.GetFunction(seq.funcName), seq)
}

func (r *reconstructor) emitHostCall(ofn *ir.Function, seq outliningSequence) {
	host := r.topFrame()
	operands := r.popN(host, len(ofn.Params))
	host.stack = append(host.stack, r.builder.MakeCall(ofn.Name, operands, ofn.ResultType()))
	// Keep the unreachable type of the original range in the host scope.
	if seq.endsUnreachable {
		host.stack = append(host.stack, r.builder.MakeUnreachable())
	}
}

func (r *reconstructor) maybeEndSeq() {
	if r.idx+1 != r.seqs[r.seqCounter].end {
		return
	}
	if r.state == stateInSeq {
		r.outlinedFn.Body = r.blockifyPart(r.outlined.stack)
		r.outlinedFn = nil
		r.outlined = nil
	}
	r.seqCounter++
	r.state = stateNotInSeq
}

// pushInstr rebuilds one instruction into a frame: its operand slots are
// refilled from the values on the frame's stack, and the instruction becomes
// the new top value. Usually the popped values are the instruction's original
// children; at a sequence boundary they are the substituted call.
func (r *reconstructor) pushInstr(f *frame, e ir.Expr) {
	slots := ir.Children(e)
	vals := r.popN(f, len(slots))
	for i, slot := range slots {
		*slot = vals[i]
	}
	f.stack = append(f.stack, e)
}

func (r *reconstructor) popN(f *frame, n int) []ir.Expr {
	if len(f.stack) < n {
		panic(errors.Internal(errors.PhaseReconstruct,
			"value stack underflow in $%s: need %d, have %d", r.fn.Name, n, len(f.stack)))
	}
	vals := append([]ir.Expr{}, f.stack[len(f.stack)-n:]...)
	f.stack = f.stack[:len(f.stack)-n]
	return vals
}

func (r *reconstructor) popOne(f *frame) ir.Expr {
	return r.popN(f, 1)[0]
}

// blockifyPart folds a rebuilt child list into a single expression.
func (r *reconstructor) blockifyPart(list []ir.Expr) ir.Expr {
	switch len(list) {
	case 0:
		return &ir.Nop{}
	case 1:
		return list[0]
	}
	return r.builder.MakeBlock(list)
}
