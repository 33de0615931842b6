package ir

// LazyLocalGraph answers, for a function body, which LocalSets may be
// observed by each LocalGet and which LocalGets each LocalSet may influence.
// The nil *LocalSet stands for the local's initial value (parameter or
// default).
//
// The graph is demand driven: the first query runs a reaching-definitions
// interpretation of the body and memoizes the result, so querying more never
// changes prior answers. Scope names are assumed unique within the function.
type LazyLocalGraph struct {
	fn       *Function
	getSets  map[*LocalGet]map[*LocalSet]bool
	setInfl  map[*LocalSet]map[*LocalGet]bool
	computed bool
}

// NewLazyLocalGraph returns an unpopulated graph for fn.
func NewLazyLocalGraph(fn *Function) *LazyLocalGraph {
	return &LazyLocalGraph{
		fn:      fn,
		getSets: map[*LocalGet]map[*LocalSet]bool{},
		setInfl: map[*LocalSet]map[*LocalGet]bool{},
	}
}

// Sets returns every set that get may observe; a nil entry stands for the
// local's initial value.
func (g *LazyLocalGraph) Sets(get *LocalGet) []*LocalSet {
	g.ensure()
	out := make([]*LocalSet, 0, len(g.getSets[get]))
	for s := range g.getSets[get] {
		out = append(out, s)
	}
	return out
}

// SetInfluences returns every get that may observe set.
func (g *LazyLocalGraph) SetInfluences(set *LocalSet) []*LocalGet {
	g.ensure()
	out := make([]*LocalGet, 0, len(g.setInfl[set]))
	for get := range g.setInfl[set] {
		out = append(out, get)
	}
	return out
}

func (g *LazyLocalGraph) ensure() {
	if g.computed {
		return
	}
	g.computed = true
	if g.fn.Body == nil {
		return
	}
	fl := &localFlow{g: g, branch: map[string]*localState{}}
	fl.exec(g.fn.Body, liveState())
}

func (g *LazyLocalGraph) addEdge(get *LocalGet, set *LocalSet) {
	m := g.getSets[get]
	if m == nil {
		m = map[*LocalSet]bool{}
		g.getSets[get] = m
	}
	m[set] = true
	if set == nil {
		return
	}
	infl := g.setInfl[set]
	if infl == nil {
		infl = map[*LocalGet]bool{}
		g.setInfl[set] = infl
	}
	infl[get] = true
}

// localState is the set of definitions that may reach the current program
// point, per local. A local absent from defs is only reached by its initial
// value; the nil *LocalSet denotes that initial value explicitly after
// merges.
type localState struct {
	defs map[int]map[*LocalSet]bool
	live bool
}

func liveState() *localState {
	return &localState{live: true, defs: map[int]map[*LocalSet]bool{}}
}

func deadState() *localState { return &localState{} }

func cloneState(s *localState) *localState {
	if s == nil || !s.live {
		return deadState()
	}
	out := liveState()
	for idx, defs := range s.defs {
		m := make(map[*LocalSet]bool, len(defs))
		for d := range defs {
			m[d] = true
		}
		out.defs[idx] = m
	}
	return out
}

// defsAt returns the reaching definitions of local idx, normalizing the
// absent case to the initial value.
func defsAt(s *localState, idx int) map[*LocalSet]bool {
	if defs, ok := s.defs[idx]; ok {
		return defs
	}
	return map[*LocalSet]bool{nil: true}
}

func mergeStates(a, b *localState) *localState {
	if a == nil || !a.live {
		return cloneState(b)
	}
	if b == nil || !b.live {
		return cloneState(a)
	}
	out := cloneState(a)
	for idx := range b.defs {
		merged := out.defs[idx]
		if merged == nil {
			merged = map[*LocalSet]bool{nil: true}
			out.defs[idx] = merged
		}
		for d := range b.defs[idx] {
			merged[d] = true
		}
	}
	for idx := range out.defs {
		if _, ok := b.defs[idx]; !ok {
			out.defs[idx][nil] = true
		}
	}
	return out
}

func equalStates(a, b *localState) bool {
	if a.live != b.live {
		return false
	}
	if !a.live {
		return true
	}
	keys := map[int]bool{}
	for idx := range a.defs {
		keys[idx] = true
	}
	for idx := range b.defs {
		keys[idx] = true
	}
	for idx := range keys {
		da, db := defsAt(a, idx), defsAt(b, idx)
		if len(da) != len(db) {
			return false
		}
		for d := range da {
			if !db[d] {
				return false
			}
		}
	}
	return true
}

type localFlow struct {
	g      *LazyLocalGraph
	branch map[string]*localState
}

func (f *localFlow) send(name string, s *localState) {
	if !s.live {
		return
	}
	f.branch[name] = mergeStates(f.branch[name], s)
}

func (f *localFlow) take(name string) *localState {
	s := f.branch[name]
	delete(f.branch, name)
	return s
}

func (f *localFlow) exec(e Expr, s *localState) *localState {
	switch t := e.(type) {
	case *Block:
		for _, c := range t.List {
			s = f.exec(c, s)
		}
		if t.Name != "" {
			if bs := f.take(t.Name); bs != nil {
				s = mergeStates(s, bs)
			}
		}
		return s

	case *Loop:
		if t.Name == "" {
			return f.exec(t.Body, s)
		}
		// Iterate to a fixed point over the back edge. Definition sets only
		// grow, so this terminates.
		entry := cloneState(s)
		for {
			out := f.exec(t.Body, cloneState(entry))
			back := f.take(t.Name)
			next := mergeStates(entry, back)
			if equalStates(next, entry) {
				return out
			}
			entry = next
		}

	case *If:
		s = f.exec(t.Cond, s)
		thenOut := f.exec(t.Then, cloneState(s))
		if t.Else != nil {
			elseOut := f.exec(t.Else, s)
			return mergeStates(thenOut, elseOut)
		}
		return mergeStates(thenOut, s)

	case *Break:
		if t.Value != nil {
			s = f.exec(t.Value, s)
		}
		if t.Cond != nil {
			s = f.exec(t.Cond, s)
		}
		f.send(t.Name, s)
		if t.Cond == nil {
			return deadState()
		}
		return s

	case *Switch:
		if t.Value != nil {
			s = f.exec(t.Value, s)
		}
		s = f.exec(t.Cond, s)
		for _, n := range t.Names {
			f.send(n, s)
		}
		f.send(t.Default, s)
		return deadState()

	case *BrOn:
		s = f.exec(t.Ref, s)
		f.send(t.Name, s)
		return s

	case *Return:
		if t.Value != nil {
			s = f.exec(t.Value, s)
		}
		return deadState()

	case *UnreachableExpr:
		return deadState()

	case *LocalGet:
		if s.live {
			for d := range defsAt(s, t.Index) {
				f.g.addEdge(t, d)
			}
		}
		return s

	case *LocalSet:
		s = f.exec(t.Value, s)
		if s.live {
			s.defs[t.Index] = map[*LocalSet]bool{t: true}
		}
		return s

	case *Try:
		// A throw can interrupt the body at any point, so a catch may observe
		// the state at entry plus any subset of the body's sets.
		catchIn := cloneState(s)
		addBodySets(catchIn, t.Body)
		out := f.exec(t.Body, s)
		for _, body := range t.CatchBodies {
			out = mergeStates(out, f.exec(body, cloneState(catchIn)))
		}
		if t.Name != "" {
			if bs := f.take(t.Name); bs != nil {
				out = mergeStates(out, bs)
			}
		}
		return out

	case *TryTable:
		catchIn := cloneState(s)
		addBodySets(catchIn, t.Body)
		for _, c := range t.Catches {
			f.send(c.Label, catchIn)
		}
		return f.exec(t.Body, s)

	default:
		for _, c := range Children(e) {
			s = f.exec(*c, s)
		}
		return s
	}
}

// addBodySets unions every LocalSet inside body into st.
func addBodySets(st *localState, body Expr) {
	if !st.live {
		return
	}
	Walk(body, func(e Expr) {
		set, ok := e.(*LocalSet)
		if !ok {
			return
		}
		defs := st.defs[set.Index]
		if defs == nil {
			defs = map[*LocalSet]bool{nil: true}
			st.defs[set.Index] = defs
		}
		defs[set] = true
	})
}
