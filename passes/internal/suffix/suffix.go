// Package suffix extracts repeated substrings from symbol strings using a
// suffix automaton. Each automaton state is a right-equivalence class of
// substrings; the longest string of every class occurring at least twice is
// reported, together with all of its start indices.
package suffix

import "sort"

// MinLength is the shortest substring worth reporting; outlining a single
// instruction is never profitable.
const MinLength = 2

// RepeatedSubstring is a substring of the input occurring at two or more
// start indices.
type RepeatedSubstring struct {
	Length       int
	StartIndices []int
}

type state struct {
	next   map[uint32]int
	link   int
	length int
	// ends collects the end positions of this state's occurrences; clone
	// states start empty and accumulate from their link-tree children.
	ends []int
}

// Repeats returns every maximal repeated substring of s with at least two
// occurrences and length >= MinLength, longest first.
func Repeats(s []uint32) []RepeatedSubstring {
	// Two occurrences of a MinLength substring may overlap, so the shortest
	// input that can hold them is MinLength+1 symbols.
	if len(s) < MinLength+1 {
		return nil
	}

	states := []state{{next: map[uint32]int{}, link: -1}}
	last := 0

	extend := func(sym uint32, pos int) {
		cur := len(states)
		states = append(states, state{
			next:   map[uint32]int{},
			link:   -1,
			length: states[last].length + 1,
			ends:   []int{pos},
		})
		p := last
		for p != -1 {
			if _, ok := states[p].next[sym]; ok {
				break
			}
			states[p].next[sym] = cur
			p = states[p].link
		}
		if p == -1 {
			states[cur].link = 0
		} else {
			q := states[p].next[sym]
			if states[p].length+1 == states[q].length {
				states[cur].link = q
			} else {
				clone := len(states)
				cl := state{
					next:   make(map[uint32]int, len(states[q].next)),
					link:   states[q].link,
					length: states[p].length + 1,
				}
				for k, v := range states[q].next {
					cl.next[k] = v
				}
				states = append(states, cl)
				for p != -1 && states[p].next[sym] == q {
					states[p].next[sym] = clone
					p = states[p].link
				}
				states[q].link = clone
				states[cur].link = clone
			}
		}
		last = cur
	}

	for i, sym := range s {
		extend(sym, i)
	}

	// Accumulate occurrence end positions up the suffix-link tree in order
	// of decreasing length, so every state sees its children first.
	order := make([]int, 0, len(states)-1)
	for i := 1; i < len(states); i++ {
		order = append(order, i)
	}
	sort.Slice(order, func(a, b int) bool {
		return states[order[a]].length > states[order[b]].length
	})

	var out []RepeatedSubstring
	for _, i := range order {
		st := &states[i]
		if link := st.link; link > 0 {
			states[link].ends = append(states[link].ends, st.ends...)
		}
		if st.length < MinLength || len(st.ends) < 2 {
			continue
		}
		starts := make([]int, len(st.ends))
		for j, end := range st.ends {
			starts[j] = end - st.length + 1
		}
		sort.Ints(starts)
		out = append(out, RepeatedSubstring{Length: st.length, StartIndices: starts})
	}

	sort.Slice(out, func(a, b int) bool {
		if out[a].Length != out[b].Length {
			return out[a].Length > out[b].Length
		}
		return out[a].StartIndices[0] < out[b].StartIndices[0]
	})
	return out
}
