// Package journal persists the session log and timer events to SQLite.
//
// The journal is append-only. Each run of the host opens one session
// (UUIDv7 id); log entries and timer transitions are written under it by a
// background Writer so the timer never waits on disk I/O.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait up to 5s on lock contention
//   - foreign_keys=ON: entries must reference an existing session
//
// # Deterministic Ordering
//
// All queries order by seq, the autoincrement insertion order, never by
// timestamp.
package journal
