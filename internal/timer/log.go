package timer

import (
	"log/slog"
	"time"
)

// Kind classifies a log entry by origin.
type Kind int

const (
	// KindRuntime entries come from the host or the engine and carry a level.
	KindRuntime Kind = iota
	// KindModule entries are messages printed by the module itself.
	KindModule
)

func (k Kind) String() string {
	if k == KindModule {
		return "module"
	}
	return "runtime"
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Entry is one line of the session log.
type Entry struct {
	Time    time.Time  `json:"time"`
	Message string     `json:"message"`
	Kind    Kind       `json:"kind"`
	Level   slog.Level `json:"level"`
}

// Clock renders the entry time as HH:MM:SS in loc (local time when nil).
func (e Entry) Clock(loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return e.Time.In(loc).Format("15:04:05")
}

// IsError reports whether the entry is a runtime error.
func (e Entry) IsError() bool {
	return e.Kind == KindRuntime && e.Level >= slog.LevelError
}
