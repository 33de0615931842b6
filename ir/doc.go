// Package ir provides a typed, tree-structured intermediate representation
// for WebAssembly functions, plus the analyses the optimization passes build
// on: parent maps, lazy local dataflow, branch-target resolution, fallthrough
// queries, stack signatures, and type refinalization.
//
// Expressions are tagged nodes dispatched with Go type switches. Each
// function body is a tree: every node is reachable from the root exactly
// once, and rewrites replace nodes in place through child-slot pointers
// (see Children and PostWalk).
package ir
