package module

import (
	"sync"
	"sync/atomic"
)

// Exec carries the execution lock, the interrupt flag and the retired
// flag. Engines embed it to satisfy the locking half of Instance.
type Exec struct {
	mu          sync.Mutex
	interrupted atomic.Bool
	retired     atomic.Bool
	interrupts  atomic.Int64
}

func (e *Exec) Lock()         { e.mu.Lock() }
func (e *Exec) TryLock() bool { return e.mu.TryLock() }
func (e *Exec) Unlock()       { e.mu.Unlock() }

// Interrupt sets the interrupt flag.
func (e *Exec) Interrupt() {
	e.interrupts.Add(1)
	e.interrupted.Store(true)
}

func (e *Exec) Interrupted() bool { return e.interrupted.Load() }

// Interrupts counts Interrupt calls.
func (e *Exec) Interrupts() int64 { return e.interrupts.Load() }

func (e *Exec) Retire()       { e.retired.Store(true) }
func (e *Exec) Retired() bool { return e.retired.Load() }
