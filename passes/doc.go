// Package passes provides the optimization passes and the infrastructure to
// run them over a module.
//
// Reference implementation: Binaryen's Heap2Local and Outlining passes
// https://github.com/WebAssembly/binaryen/blob/main/src/passes
//
// Two passes are implemented:
//
//   - Heap2Local: escape analysis that lowers non-escaping struct and
//     fixed-size array allocations into one local per field. It is
//     function-parallel; the Runner fans it out over a bounded worker pool.
//   - Outlining: module-wide extraction of repeated instruction subsequences
//     into fresh functions, found by stringifying the module into a symbol
//     string and mining it with a suffix automaton.
//
// Both passes are total: they either produce a semantically equivalent module
// or panic on an internal invariant violation. Neither introduces traps; a
// rewrite that removes an operation that could trap substitutes an explicit
// unreachable so observable trapping behavior is unchanged.
//
// Run passes through a Runner:
//
//	r := passes.NewRunner(module)
//	r.Run(passes.NewHeap2Local(), passes.NewOutlining())
package passes
