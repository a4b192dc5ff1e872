package harness

import (
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/roach88/splithost/internal/host"
	"github.com/roach88/splithost/internal/luamod"
	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/procscan"
	"github.com/roach88/splithost/internal/scheduler"
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/testutil"
	"github.com/roach88/splithost/internal/timer"
)

// Epoch is the instant every scenario clock starts at.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness holds the wiring of one scenario run.
type Harness struct {
	clock     *testutil.ManualClock
	timer     *timer.Timer
	procs     *procscan.Static
	handle    *module.Handle
	telemetry *telemetry.State
	host      *host.Host
	scheduler *scheduler.Scheduler

	mu     sync.Mutex
	step   int
	result *Result
}

// Run executes a scenario and returns the result. Each run gets a fresh
// timer, host and process table. An error means the scenario could not be
// executed at all; expectation mismatches are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	initial, err := toMap(scenario.Settings)
	if err != nil {
		return nil, fmt.Errorf("scenario settings: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &Harness{
		clock:     testutil.NewManualClock(Epoch),
		handle:    &module.Handle{},
		telemetry: telemetry.New(),
		procs:     procscan.NewStatic(processTable(scenario.Processes)),
		result:    NewResult(),
	}
	h.timer = timer.New(timer.WithClock(h.clock.Now), timer.WithLogger(logger))
	h.timer.Subscribe(h.observe)

	engine := luamod.New(luamod.WithFinder(h.procs), luamod.WithLogger(logger))
	opts := []host.Option{host.WithLogger(logger)}
	if initial != nil {
		opts = append(opts, host.WithInitialSettings(initial))
	}
	h.host = host.New(engine, h.handle, h.timer, h.telemetry, opts...)
	h.scheduler = scheduler.New(h.handle, h.telemetry, h.timer,
		scheduler.WithClock(h.clock),
		scheduler.WithLogger(logger),
	)

	// Load failures are part of the trace, not a harness error.
	_ = h.host.Load(scenario.Module)
	if scenario.Script != "" {
		_ = h.host.SetScriptPath(scenario.Script)
	}

	for i, step := range scenario.Steps {
		h.setStep(i + 1)
		if err := h.execute(&step); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
		if step.Expect != nil {
			for _, msg := range h.check(step.Expect) {
				h.result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
			}
		}
	}

	res := h.snapshotResult()
	res.Final = h.timer.Snapshot()
	if inst := h.handle.Load(); inst != nil {
		res.Settings = inst.Settings().Load()
	}
	return res, nil
}

func (h *Harness) observe(ev timer.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result.addTimerEvent(h.step, ev)
}

func (h *Harness) setStep(n int) {
	h.mu.Lock()
	h.step = n
	h.mu.Unlock()
}

func (h *Harness) snapshotResult() *Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *Harness) execute(st *Step) error {
	switch {
	case st.Tick > 0:
		for range st.Tick {
			h.clock.Advance(h.scheduler.Tick())
		}
	case st.Action != "":
		h.action(st.Action)
	case st.Set != nil:
		return h.set(st.Set)
	case st.Exit != "":
		h.procs.Kill(st.Exit)
	}
	return nil
}

// action performs a control-side action. Lifecycle errors land in the
// session log, which is where scenarios observe them.
func (h *Harness) action(name string) {
	switch name {
	case ActionStart:
		h.timer.Start()
	case ActionSplit:
		h.timer.Split()
	case ActionSkipSplit:
		h.timer.SkipSplit()
	case ActionUndoSplit:
		h.timer.UndoSplit()
	case ActionReset:
		h.timer.Reset()
	case ActionEnd:
		h.timer.End()
	case ActionReload:
		_ = h.host.Reload()
	case ActionRestart:
		_ = h.host.Restart()
	case ActionKill:
		h.host.Kill()
	case ActionClearLogs:
		h.timer.ClearLogs()
	}
}

// set applies the edits in key order through the CAS protocol.
func (h *Harness) set(edits map[string]any) error {
	inst := h.handle.Load()
	if inst == nil {
		return host.ErrNoModule
	}
	for _, key := range slices.Sorted(maps.Keys(edits)) {
		v, err := settings.FromAny(edits[key])
		if err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
		inst.Settings().Set(key, v)
	}
	return nil
}

func toMap(m map[string]any) (*settings.Map, error) {
	if m == nil {
		return nil, nil
	}
	v, err := settings.FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(*settings.Map), nil
}

func processTable(specs map[string]ProcessSpec) map[string]telemetry.Process {
	procs := make(map[string]telemetry.Process, len(specs))
	for name, p := range specs {
		procs[name] = telemetry.Process{ID: p.ID, Path: p.Path}
	}
	return procs
}
