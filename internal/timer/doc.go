// Package timer implements the game timer driven by a module and by the
// control surface, together with the session log both sides write to.
//
// All state sits behind one reader-writer lock. Reads (Snapshot, Logs) take
// the shared side; every mutation takes the exclusive side for the minimum
// scope: the state change plus an in-memory log append. Observers and the
// slog mirror run after the lock is released.
//
// Transitions:
//
//	Start      NotRunning -> Running; no-op otherwise
//	Split      Running: split index +1; no-op otherwise
//	SkipSplit  same as Split, reported with a different action
//	UndoSplit  Ended -> Running, then Running: split index -1 (saturating)
//	Reset      any -> NotRunning with split index, game time, game time
//	           phase and variables cleared
//	End        Running -> Ended (external signal, never produced by the
//	           module-facing operations)
package timer
