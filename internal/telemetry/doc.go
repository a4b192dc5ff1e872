// Package telemetry holds the process-wide tick statistics shared between
// the tick scheduler and the control side.
//
// Ownership: only the scheduler writes tick samples, memory, handle count
// and the process snapshot, and it does so through a Recorder. Everyone
// else reads through State. The host and the control surface may reset
// statistics; a reset racing with a tick may be partially overwritten by
// that tick, which is harmless.
package telemetry
