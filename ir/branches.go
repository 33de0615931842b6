package ir

// BranchTargetsMap resolves scope names to their defining scopes and to the
// branch expressions targeting them.
type BranchTargetsMap struct {
	targets  map[string]Expr
	branches map[string][]Expr
}

// BuildBranchTargets scans a body for named scopes and the branches that
// target them.
func BuildBranchTargets(body Expr) *BranchTargetsMap {
	bt := &BranchTargetsMap{
		targets:  map[string]Expr{},
		branches: map[string][]Expr{},
	}
	Walk(body, func(e Expr) {
		if name, ok := DefinedName(e); ok && name != "" {
			bt.targets[name] = e
		}
		for _, name := range branchTargetNames(e) {
			bt.branches[name] = append(bt.branches[name], e)
		}
	})
	return bt
}

// Target returns the scope defining name, or nil.
func (bt *BranchTargetsMap) Target(name string) Expr { return bt.targets[name] }

// Branches returns every branch expression targeting name.
func (bt *BranchTargetsMap) Branches(name string) []Expr { return bt.branches[name] }

// DefinedName returns the branch-target name a scope defines, if any.
func DefinedName(e Expr) (string, bool) {
	switch t := e.(type) {
	case *Block:
		return t.Name, t.Name != ""
	case *Loop:
		return t.Name, t.Name != ""
	case *Try:
		return t.Name, t.Name != ""
	}
	return "", false
}

// branchTargetNames returns every scope name e may branch to.
func branchTargetNames(e Expr) []string {
	switch t := e.(type) {
	case *Break:
		return []string{t.Name}
	case *Switch:
		return append(append([]string{}, t.Names...), t.Default)
	case *BrOn:
		return []string{t.Name}
	case *TryTable:
		names := make([]string, len(t.Catches))
		for i, c := range t.Catches {
			names[i] = c.Label
		}
		return names
	}
	return nil
}

// SentValue returns the value a branch expression carries to its target, or
// nil.
func SentValue(branch Expr) Expr {
	switch t := branch.(type) {
	case *Break:
		return t.Value
	case *Switch:
		return t.Value
	case *BrOn:
		return t.Ref
	}
	return nil
}

// SentBranches returns the names of every scope that parent branches to while
// carrying child as the sent value.
func SentBranches(parent, child Expr) []string {
	switch t := parent.(type) {
	case *Break:
		if t.Value == child {
			return []string{t.Name}
		}
	case *Switch:
		if t.Value == child {
			return append(append([]string{}, t.Names...), t.Default)
		}
	case *BrOn:
		if t.Ref == child {
			return []string{t.Name}
		}
	}
	return nil
}
