package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/roach88/splithost/internal/host"
	"github.com/roach88/splithost/internal/luamod"
	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/procscan"
	"github.com/roach88/splithost/internal/scheduler"
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/timer"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Ticks    int
	Script   string
	Settings string
}

// CheckResult is the report of a check run.
type CheckResult struct {
	Module      string            `json:"module"`
	Loaded      bool              `json:"loaded"`
	Ticks       int               `json:"ticks"`
	Failures    uint64            `json:"failures"`
	TickRateHz  float64           `json:"tick_rate_hz"`
	Memory      int64             `json:"memory_bytes"`
	Handles     uint64            `json:"handles"`
	Widgets     []settings.Widget `json:"widgets"`
	Timer       timer.State       `json:"timer"`
	Errors      []string          `json:"errors,omitempty"`
	SlowestTick time.Duration     `json:"slowest_tick_ns"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <module>",
		Short: "Load a module and run a few ticks",
		Long: `Compile and start a module, run it for a number of ticks without
sleeping, then report what it did.

Exit codes:
  0 - Module loaded and every tick succeeded
  1 - Module failed to load or a tick failed
  2 - Command error (bad flags, unreadable settings)

Examples:
  splithost check ./splitter.lua
  splithost check ./splitter.lua --ticks 100 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Ticks, "ticks", 1, "number of ticks to run")
	cmd.Flags().StringVar(&opts.Script, "script", "", "auxiliary script handed to the module")
	cmd.Flags().StringVar(&opts.Settings, "settings", "", "YAML file seeding the module settings")

	return cmd
}

func runCheck(opts *CheckOptions, modulePath string, cmd *cobra.Command) error {
	if opts.Ticks < 0 {
		return NewExitError(ExitCommandError, "ticks must not be negative")
	}
	logger := newLogger(opts.RootOptions)

	var initial *settings.Map
	if opts.Settings != "" {
		m, err := settings.LoadFile(opts.Settings)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load settings", err)
		}
		initial = m
	}

	t := timer.New(timer.WithLogger(logger))
	tel := telemetry.New()
	handle := &module.Handle{}

	engineOpts := []luamod.Option{luamod.WithLogger(logger)}
	if finder, err := procscan.NewProcFS(""); err == nil {
		engineOpts = append(engineOpts, luamod.WithFinder(finder))
	}
	hostOpts := []host.Option{host.WithLogger(logger)}
	if initial != nil {
		hostOpts = append(hostOpts, host.WithInitialSettings(initial))
	}
	h := host.New(luamod.New(engineOpts...), handle, t, tel, hostOpts...)

	result := CheckResult{Module: modulePath, Widgets: []settings.Widget{}}
	if err := h.Load(modulePath); err == nil {
		result.Loaded = true
		if opts.Script != "" {
			_ = h.SetScriptPath(opts.Script)
		}
		sched := scheduler.New(handle, tel, t, scheduler.WithLogger(logger))
		for range opts.Ticks {
			sched.Tick()
			result.Ticks++
		}
	}

	snap := tel.Snapshot()
	result.Failures = snap.Failures
	result.Memory = snap.MemorySize
	result.Handles = snap.HandleCount
	result.SlowestTick = snap.SlowestTick
	if snap.TickRate > 0 {
		result.TickRateHz = float64(time.Second) / float64(snap.TickRate)
	}
	if inst := handle.Load(); inst != nil {
		result.Widgets = append(result.Widgets, inst.Widgets()...)
	}
	result.Timer = t.Snapshot()
	for _, e := range t.Logs() {
		if e.IsError() {
			result.Errors = append(result.Errors, e.Message)
		}
	}

	out := &Output{Format: opts.Format, Writer: cmd.OutOrStdout()}
	text := func(w io.Writer) { writeCheckText(w, result) }

	switch {
	case !result.Loaded:
		if err := out.Fail(CodeLoad, "module failed to load", result, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "module failed to load")
	case result.Failures > 0:
		msg := fmt.Sprintf("%d of %d ticks failed", result.Failures, result.Ticks)
		if err := out.Fail(CodeTick, msg, result, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	logger.Debug("check passed", "module", modulePath, "ticks", result.Ticks)
	return out.Emit(result, text)
}

func writeCheckText(w io.Writer, r CheckResult) {
	fmt.Fprintf(w, "Module:   %s\n", r.Module)
	if !r.Loaded {
		for _, e := range r.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
		return
	}
	fmt.Fprintf(w, "Ticks:    %d (%d failed)\n", r.Ticks, r.Failures)
	fmt.Fprintf(w, "Rate:     %.1f Hz\n", r.TickRateHz)
	fmt.Fprintf(w, "Slowest:  %s\n", r.SlowestTick)
	fmt.Fprintf(w, "Memory:   %s\n", humanize.IBytes(uint64(max(r.Memory, 0))))
	fmt.Fprintf(w, "Handles:  %d\n", r.Handles)
	fmt.Fprintf(w, "Timer:    %s (split %d)\n", r.Timer.Phase, r.Timer.SplitIndex)
	for _, v := range r.Timer.Variables {
		fmt.Fprintf(w, "  %s = %s\n", v.Key, v.Value)
	}
	if len(r.Widgets) > 0 {
		fmt.Fprintf(w, "Settings: %d widget(s)\n", len(r.Widgets))
		for _, wd := range r.Widgets {
			fmt.Fprintf(w, "  [%s] %s: %s\n", wd.Kind, wd.Key, wd.Description)
		}
	}
	for _, e := range r.Errors {
		fmt.Fprintf(w, "  %s\n", e)
	}
}
