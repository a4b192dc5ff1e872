// Package host owns the module lifecycle: load, reload, restart, kill and
// memory dumps.
//
// Every lifecycle operation follows the same order:
//
//  1. compile (load and reload only) and instantiate the replacement
//  2. retire the active instance through the Guard
//  3. reset telemetry, then publish the replacement (possibly none)
//  4. clear timer variables and log the outcome
//
// Telemetry is reset before publishing so no sample from the replacement
// is wiped. Control operations are serialized by the host; the scheduler is
// never blocked by them for longer than it takes to run one update.
package host
