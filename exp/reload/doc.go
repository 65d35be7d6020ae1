// Package reload provides experimental hot-reload orchestration for comptree.
//
// Reconciler is the core type and performs:
// 1. hash the subtree of every root group in the next configuration
// 2. keep the instances of unchanged roots
// 3. destroy the instances of removed and changed roots
// 4. replace the engine's store content with the next configuration
// 5. request the added and changed roots again
//
// This package is EXPERIMENTAL and its API may change before v1.
package reload
