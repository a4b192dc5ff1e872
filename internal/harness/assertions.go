package harness

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/timer"
)

// check compares the current state against e and returns one message per
// mismatch.
func (h *Harness) check(e *Expect) []string {
	var errs []string
	state := h.timer.Snapshot()

	if e.Phase != "" && state.Phase.String() != e.Phase {
		errs = append(errs, fmt.Sprintf("phase: expected %s, got %s", e.Phase, state.Phase))
	}
	if e.SplitIndex != nil && state.SplitIndex != *e.SplitIndex {
		errs = append(errs, fmt.Sprintf("split_index: expected %d, got %d", *e.SplitIndex, state.SplitIndex))
	}
	if e.GameTime != "" {
		want, _ := time.ParseDuration(e.GameTime)
		if state.GameTime != want {
			errs = append(errs, fmt.Sprintf("game_time: expected %s, got %s", want, state.GameTime))
		}
	}
	if e.GameTimePhase != "" && state.GameTimePhase.String() != e.GameTimePhase {
		errs = append(errs, fmt.Sprintf("game_time_phase: expected %s, got %s", e.GameTimePhase, state.GameTimePhase))
	}
	errs = append(errs, checkVariables(state, e.Variables)...)
	errs = append(errs, h.checkSettings(e.Settings)...)
	errs = append(errs, checkLogs(h.timer.Logs(), e.Logs)...)

	if e.Handles != nil {
		got := 0
		if inst := h.handle.Load(); inst != nil {
			got = int(inst.HandleCount())
		}
		if got != *e.Handles {
			errs = append(errs, fmt.Sprintf("handles: expected %d, got %d", *e.Handles, got))
		}
	}
	return errs
}

func checkVariables(state timer.State, want map[string]string) []string {
	var errs []string
	for _, key := range slices.Sorted(maps.Keys(want)) {
		got, ok := state.Variable(key)
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("variables.%s: missing", key))
		case got != want[key]:
			errs = append(errs, fmt.Sprintf("variables.%s: expected %q, got %q", key, want[key], got))
		}
	}
	return errs
}

func (h *Harness) checkSettings(want map[string]any) []string {
	if len(want) == 0 {
		return nil
	}
	inst := h.handle.Load()
	if inst == nil {
		return []string{"settings: no module running"}
	}
	current := inst.Settings().Load()

	var errs []string
	for _, key := range slices.Sorted(maps.Keys(want)) {
		expected, err := settings.FromAny(want[key])
		if err != nil {
			errs = append(errs, fmt.Sprintf("settings.%s: %v", key, err))
			continue
		}
		got, ok := current.Get(key)
		switch {
		case !ok:
			errs = append(errs, fmt.Sprintf("settings.%s: missing", key))
		case !settings.Equal(got, expected):
			errs = append(errs, fmt.Sprintf("settings.%s: expected %s, got %s", key, settings.Format(expected), settings.Format(got)))
		}
	}
	return errs
}

func checkLogs(entries []timer.Entry, want []string) []string {
	var errs []string
	for _, msg := range want {
		found := slices.ContainsFunc(entries, func(e timer.Entry) bool {
			return e.Message == msg
		})
		if !found {
			errs = append(errs, fmt.Sprintf("logs: %q not found", msg))
		}
	}
	return errs
}
