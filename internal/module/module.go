// Package module defines the contract between the host and a module
// engine: compile source once, instantiate it any number of times, and
// drive the running instance tick by tick.
//
// Engines are opaque to the host. The only things the host relies on are
// the execution lock, the interrupt signal and the capability surface
// (Timer) handed to every instance.
package module

import (
	"log/slog"
	"time"

	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/timer"
)

// Timer is the capability surface a module drives. Every method must be
// non-blocking apart from short in-memory critical sections.
// *timer.Timer implements it.
type Timer interface {
	Phase() timer.Phase
	Start()
	Split()
	SkipSplit()
	UndoSplit()
	Reset()
	SetGameTime(time.Duration)
	PauseGameTime()
	ResumeGameTime()
	SetVariable(key, value string)
	LogModuleMessage(text string)
	LogRuntimeMessage(text string, level slog.Level)
}

var _ Timer = (*timer.Timer)(nil)

// Engine compiles module source.
type Engine interface {
	Compile(name string, src []byte) (Compiled, error)
}

// Compiled is a module ready to be instantiated.
type Compiled interface {
	// Instantiate builds a running instance. initial seeds the settings
	// store and may be nil. scriptPath is the optional auxiliary script
	// handed to the module; empty means none.
	Instantiate(t Timer, initial *settings.Map, scriptPath string) (Instance, error)
}

// Instance is a running module.
//
// Update, TickRate, MemorySize, Memory, HandleCount and AttachedProcesses
// must only be called while holding the execution lock. Interrupt,
// Interrupted, Retire, Retired, Settings and Widgets are safe at any time.
type Instance interface {
	Update() error
	TickRate() time.Duration
	MemorySize() int
	Memory() []byte
	HandleCount() uint64
	AttachedProcesses() []telemetry.Process

	Settings() *settings.Store
	Widgets() []settings.Widget

	Lock()
	TryLock() bool
	Unlock()

	// Interrupt asks a running or future Update to abort at its next
	// check-point. It never blocks.
	Interrupt()
	Interrupted() bool

	// Retire marks the instance as replaced. The scheduler skips retired
	// instances it still holds a reference to.
	Retire()
	Retired() bool
}
