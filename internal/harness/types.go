package harness

import (
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/timer"
)

// Trace event types.
const (
	TraceTransition = "event"
	TraceLog        = "log"
)

// TraceEvent is one timer transition or session log entry. Step is the
// 1-based step that produced it; 0 is the initial load.
type TraceEvent struct {
	Step int    `json:"step"`
	Type string `json:"type"`

	// Transition fields.
	Action     string `json:"action,omitempty"`
	Phase      string `json:"phase,omitempty"`
	SplitIndex int    `json:"split_index"`

	// Log fields.
	Message string `json:"message,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Level   string `json:"level,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expectation matched.
	Pass bool `json:"pass"`

	// Trace holds every transition and log entry in order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists expectation mismatches. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final is the timer state after the last step.
	Final timer.State `json:"final"`

	// Settings is the active instance's settings after the last step, nil
	// when no module is running.
	Settings *settings.Map `json:"settings,omitempty"`
}

// NewResult creates a passing result with an empty trace.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a mismatch and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addTimerEvent appends ev to the trace.
func (r *Result) addTimerEvent(step int, ev timer.Event) {
	if ev.Entry != nil {
		r.Trace = append(r.Trace, TraceEvent{
			Step:    step,
			Type:    TraceLog,
			Message: ev.Entry.Message,
			Kind:    ev.Entry.Kind.String(),
			Level:   ev.Entry.Level.String(),
		})
		return
	}
	r.Trace = append(r.Trace, TraceEvent{
		Step:       step,
		Type:       TraceTransition,
		Action:     string(ev.Action),
		Phase:      ev.Phase.String(),
		SplitIndex: ev.SplitIndex,
	})
}
