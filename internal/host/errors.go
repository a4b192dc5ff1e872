package host

import (
	"errors"
	"fmt"
)

// Kind categorizes host errors.
type Kind string

const (
	// LoadError: the module file could not be read or the engine rejected it.
	LoadError Kind = "LOAD_ERROR"

	// InstantiateError: the compiled module failed to start.
	InstantiateError Kind = "INSTANTIATE_ERROR"

	// TickError: a module update failed. Non-fatal; the scheduler keeps going.
	TickError Kind = "TICK_ERROR"

	// LivenessTimeout: the module never released its execution lock within
	// the guard window and was interrupted instead.
	LivenessTimeout Kind = "LIVENESS_TIMEOUT"
)

// Op names the operation an error happened in.
type Op string

const (
	OpLoad    Op = "load"
	OpReload  Op = "reload"
	OpRestart Op = "restart"
	OpTick    Op = "tick"
	OpDump    Op = "dump"
	OpKill    Op = "kill"
)

// Error is the error type of every host operation. None of them are fatal
// to the host; the worst outcome is that no module is loaded.
type Error struct {
	Kind Kind
	Op   Op
	// Path is the module file involved, when there is one.
	Path string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a host Error of kind k.
// Uses errors.As to handle wrapped errors.
func IsKind(err error, k Kind) bool {
	var he *Error
	if errors.As(err, &he) {
		return he.Kind == k
	}
	return false
}

// ErrNoModule is returned when an operation needs a module and none is
// loaded or compiled.
var ErrNoModule = errors.New("no module loaded")

// ErrTimedOut is returned when the guard could not acquire the module.
var ErrTimedOut = errors.New("timed out waiting for module")
