// Package wasmoptimizer provides intraprocedural optimization passes over a
// typed, tree-structured WebAssembly intermediate representation.
//
// Reference implementation: Binaryen's Heap2Local and Outlining passes
// https://github.com/WebAssembly/binaryen/blob/main/src/passes
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasm-optimizer/      Root package with the Optimize convenience entrypoint
//	├── ir/              Typed expression tree IR: types, modules, analyses
//	├── passes/          Pass infrastructure, Heap2Local, and Outlining
//	│   └── internal/suffix/  Repeated-substring mining over symbol strings
//	└── errors/          Structured error types for debugging
//
// # Passes
//
// Heap2Local performs escape analysis on GC heap allocations (struct.new and
// fixed-size array.new variants) and lowers allocations that never leave their
// function into one local per field. It runs function-parallel.
//
// Outlining linearizes the whole module into a string of content hash symbols,
// mines repeated instruction subsequences with a suffix automaton, extracts
// each surviving sequence into a fresh function, and replaces every occurrence
// with a call.
//
// # Quick Start
//
// Run the default pipeline over a module:
//
//	if err := wasmoptimizer.Optimize(module); err != nil {
//	    log.Fatal(err)
//	}
//
// Or run selected passes:
//
//	err := wasmoptimizer.Optimize(module, "heap2local")
//
// Binary and text frontends, the validator, and the pass CLI are external to
// this layer: callers hand in an already-built *ir.Module and receive the same
// module, optimized in place.
package wasmoptimizer
