// Package scheduler runs the tick loop that drives the active module.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/splithost/internal/host"
	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/telemetry"
)

// IdleTickRate is the interval used while no module is loaded.
const IdleTickRate = 100 * time.Millisecond

// Logger is where update failures are reported. *timer.Timer implements it.
type Logger interface {
	LogRuntimeMessage(text string, level slog.Level)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// Scheduler is the single-writer tick loop.
//
// CRITICAL: Run must be called from exactly one goroutine. It is the only
// writer of tick telemetry.
type Scheduler struct {
	handle *module.Handle
	rec    *telemetry.Recorder
	log    Logger
	clock  Clock
	logger *slog.Logger
}

// New creates a scheduler driving whatever handle holds.
func New(handle *module.Handle, tel *telemetry.State, log Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		handle: handle,
		rec:    tel.Recorder(),
		log:    log,
		clock:  SystemClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run ticks until ctx is cancelled. A tick that overruns its interval is
// followed by exactly one immediate tick; missed ticks are not replayed.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler starting")

	next := s.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			s.logger.Info("scheduler stopping: context cancelled")
			return err
		}

		next = next.Add(s.Tick())

		now := s.clock.Now()
		if now.After(next) {
			next = now
			continue
		}
		if err := s.clock.SleepUntil(ctx, next); err != nil {
			s.logger.Info("scheduler stopping: context cancelled")
			return err
		}
	}
}

// Tick runs one iteration and returns the interval until the next one.
// Exported for the scenario harness, which steps modules without the loop.
func (s *Scheduler) Tick() time.Duration {
	inst := s.handle.Load()
	if inst == nil {
		s.rec.ClearProcesses()
		s.rec.SetTickRate(IdleTickRate)
		return IdleTickRate
	}

	inst.Lock()
	if inst.Retired() {
		// The host is about to publish a replacement.
		inst.Unlock()
		return IdleTickRate
	}

	start := s.clock.Now()
	err := inst.Update()
	elapsed := s.clock.Now().Sub(start)

	if inst.Retired() {
		// Retired while updating: the host has already reset telemetry
		// for the replacement, so this tick leaves no trace.
		inst.Unlock()
		return IdleTickRate
	}

	rate := inst.TickRate()
	if rate <= 0 {
		rate = IdleTickRate
	}
	s.rec.SetMemory(int64(inst.MemorySize()))
	s.rec.SetHandles(inst.HandleCount())
	s.rec.SetProcesses(inst.AttachedProcesses())
	s.rec.Tick(elapsed, err != nil)
	s.rec.SetTickRate(rate)
	inst.Unlock()

	if err != nil {
		terr := &host.Error{Kind: host.TickError, Op: host.OpTick, Err: err}
		s.report(terr)
	}
	return rate
}

func (s *Scheduler) report(err *host.Error) {
	s.logger.Debug("module update failed", "error", err)
	s.log.LogRuntimeMessage(fmt.Sprintf("Failed executing the module: %v", errors.Unwrap(err)), slog.LevelError)
}
