// Package settings provides the immutable settings snapshot shared between
// the host and a running module, and the optimistic update protocol used to
// edit it.
//
// # Snapshots
//
// A *Map is never mutated after construction. Every edit derives a new Map
// (With, Without) whose version is one above its parent. Key order is the
// order of first insertion; overwriting a key keeps its position.
//
// # Compare-and-swap
//
// Store holds the current snapshot behind an atomic pointer. Writers read the
// current snapshot, derive a new one and swap it in only if the pointer is
// still the one they started from (identity compare). On a miss the writer
// re-reads and retries, so an edit is never lost to an unrelated concurrent
// edit. Two writers racing on the same key resolve to the later commit.
//
// # Values
//
// Value is a sealed set: Bool, Int, Float, String, List and *Map. FromAny
// converts decoded JSON/YAML documents into this set.
package settings
