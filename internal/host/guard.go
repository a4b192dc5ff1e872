package host

import (
	"time"

	"github.com/roach88/splithost/internal/module"
)

// Default guard window: 100 attempts one millisecond apart.
const (
	DefaultAttempts = 100
	DefaultBackoff  = time.Millisecond
)

// Guard acquires a module's execution lock with a bounded number of
// attempts. The control side never waits on a module any longer than
// Attempts*Backoff.
type Guard struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultGuard returns the standard guard window.
func DefaultGuard() Guard {
	return Guard{Attempts: DefaultAttempts, Backoff: DefaultBackoff}
}

// Acquire tries inst's execution lock up to Attempts times, sleeping
// Backoff between attempts. On success the caller owns the lock.
func (g Guard) Acquire(inst module.Instance) bool {
	attempts := max(g.Attempts, 1)
	for i := 0; i < attempts; i++ {
		if inst.TryLock() {
			return true
		}
		if i < attempts-1 {
			time.Sleep(g.Backoff)
		}
	}
	return false
}

// Retire takes inst out of service. If the lock is acquired the instance is
// marked retired and released; otherwise it is marked retired without the
// lock and interrupted exactly once. Retire reports whether it had to
// interrupt.
func (g Guard) Retire(inst module.Instance) (interrupted bool) {
	if g.Acquire(inst) {
		inst.Retire()
		inst.Unlock()
		return false
	}
	inst.Retire()
	inst.Interrupt()
	return true
}
