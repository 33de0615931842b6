package passes

import (
	"github.com/wippyai/wasm-optimizer/ir"
	"github.com/wippyai/wasm-optimizer/passes/internal/suffix"
)

// The filter pipeline rejects mined substrings that cannot be outlined
// safely. Filters run in a fixed order; each takes and returns the surviving
// substrings.

// dedupe drops any substring whose content is contained in a longer kept
// substring. The miner reports the longest string per occurrence class, but
// prefixes of a repeat can surface as separate classes.
func dedupe(subs []suffix.RepeatedSubstring, hashString []uint32) []suffix.RepeatedSubstring {
	var kept []suffix.RepeatedSubstring
	for _, sub := range subs {
		if !containedInAny(sub, kept, hashString) {
			kept = append(kept, sub)
		}
	}
	return kept
}

func containedInAny(sub suffix.RepeatedSubstring, kept []suffix.RepeatedSubstring, hashString []uint32) bool {
	content := hashString[sub.StartIndices[0] : sub.StartIndices[0]+sub.Length]
	for _, k := range kept {
		if k.Length < sub.Length {
			continue
		}
		window := hashString[k.StartIndices[0] : k.StartIndices[0]+k.Length]
		for off := 0; off+sub.Length <= len(window); off++ {
			if symbolsEqual(window[off:off+sub.Length], content) {
				return true
			}
		}
	}
	return false
}

func symbolsEqual(a, b []uint32) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// filterOverlaps drops, within each substring's own start-index set, any
// occurrence overlapping an earlier kept one, and then drops substrings left
// with fewer than two occurrences.
func filterOverlaps(subs []suffix.RepeatedSubstring) []suffix.RepeatedSubstring {
	var out []suffix.RepeatedSubstring
	for _, sub := range subs {
		var starts []int
		lastEnd := -1
		for _, start := range sub.StartIndices {
			if start >= lastEnd {
				starts = append(starts, start)
				lastEnd = start + sub.Length
			}
		}
		if len(starts) >= 2 {
			out = append(out, suffix.RepeatedSubstring{Length: sub.Length, StartIndices: starts})
		}
	}
	return out
}

// filterBranches rejects substrings containing branches, returns, or
// exception-table scopes: the target scope may lie outside the extracted
// range.
func filterBranches(subs []suffix.RepeatedSubstring, exprs []ir.Expr) []suffix.RepeatedSubstring {
	return filterExprs(subs, exprs, func(e ir.Expr) bool {
		switch t := e.(type) {
		case *ir.Break, *ir.Switch, *ir.BrOn, *ir.Return, *ir.TryTable:
			return true
		case *ir.Pop:
			// A pop only works at the top of its catch scope.
			return true
		case *ir.Call:
			return t.IsReturn
		}
		return false
	})
}

// filterLocalSets rejects substrings containing local.set: the written value
// would have to be returned from the outlined function and written back.
func filterLocalSets(subs []suffix.RepeatedSubstring, exprs []ir.Expr) []suffix.RepeatedSubstring {
	return filterExprs(subs, exprs, func(e ir.Expr) bool {
		_, ok := e.(*ir.LocalSet)
		return ok
	})
}

// filterLocalGets rejects substrings containing local.get: the local's value
// would have to be passed into the outlined function.
func filterLocalGets(subs []suffix.RepeatedSubstring, exprs []ir.Expr) []suffix.RepeatedSubstring {
	return filterExprs(subs, exprs, func(e ir.Expr) bool {
		_, ok := e.(*ir.LocalGet)
		return ok
	})
}

// filterMultiResult rejects substrings whose composed stack effect yields
// more than one value, since the IR has no tuple types for the outlined
// function's results. It also rejects unreachable code anywhere but at the
// very end of the range, where the stack effect stops being a plain
// composition.
func filterMultiResult(subs []suffix.RepeatedSubstring, exprs []ir.Expr) []suffix.RepeatedSubstring {
	var out []suffix.RepeatedSubstring
	for _, sub := range subs {
		if midUnreachable(sub, exprs) {
			continue
		}
		sig := substringSignature(sub, exprs)
		if len(sig.Results) <= 1 {
			out = append(out, sub)
		}
	}
	return out
}

func midUnreachable(sub suffix.RepeatedSubstring, exprs []ir.Expr) bool {
	start := sub.StartIndices[0]
	for i := start; i < start+sub.Length; i++ {
		e := exprs[i]
		if i != start+sub.Length-1 && e.Type() == ir.Unreachable {
			return true
		}
		for _, child := range ir.Children(e) {
			if (*child).Type() == ir.Unreachable {
				return true
			}
		}
	}
	return false
}

// filterExprs drops substrings whose occurrence window contains an
// expression matched by reject. All occurrences carry the same symbols, so
// inspecting the first one suffices.
func filterExprs(subs []suffix.RepeatedSubstring, exprs []ir.Expr, reject func(ir.Expr) bool) []suffix.RepeatedSubstring {
	var out []suffix.RepeatedSubstring
	for _, sub := range subs {
		start := sub.StartIndices[0]
		rejected := false
		for i := start; i < start+sub.Length; i++ {
			if exprs[i] != nil && reject(exprs[i]) {
				rejected = true
				break
			}
		}
		if !rejected {
			out = append(out, sub)
		}
	}
	return out
}

// substringSignature composes the stack effects of a substring's window.
func substringSignature(sub suffix.RepeatedSubstring, exprs []ir.Expr) ir.StackSignature {
	start := sub.StartIndices[0]
	window := make([]ir.Expr, 0, sub.Length)
	for i := start; i < start+sub.Length; i++ {
		window = append(window, exprs[i])
	}
	return ir.SequenceStackSignature(window)
}
