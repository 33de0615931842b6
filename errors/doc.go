// Package errors provides structured error types for the wasm-optimizer
// library.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type includes the function being processed, a position
// path, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRewrite, errors.KindInvalidIR).
//		Func("example").
//		Detail("struct.get index %d out of range", idx).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseRun, "pass", name)
//	err := errors.Internal(errors.PhaseAnalyze, "unexpected parent kind %T", parent)
//
// The passes are total transformations; Internal errors mark invariant
// violations that are unreachable by construction, and callers panic with
// them rather than returning them.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
