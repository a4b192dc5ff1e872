package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Action names what happened to the timer in an Event.
type Action string

const (
	ActionStart     Action = "start"
	ActionSplit     Action = "split"
	ActionSkipSplit Action = "skip_split"
	ActionUndoSplit Action = "undo_split"
	ActionReset     Action = "reset"
	ActionEnd       Action = "end"
	ActionLog       Action = "log"
)

// Event is delivered to observers after a transition or a log append.
// For ActionLog, Entry is set and SplitIndex is meaningless.
type Event struct {
	Time       time.Time
	Action     Action
	Phase      Phase
	SplitIndex int
	Entry      *Entry
}

// Observer receives events outside the timer lock, in commit order. It may
// read the timer but must not block or mutate it.
type Observer func(Event)

// Option configures a Timer.
type Option func(*Timer)

// WithClock replaces time.Now as the source of event and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(t *Timer) {
		t.now = now
	}
}

// WithLogger sets the slog logger entries are mirrored to.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Timer) {
		t.logger = logger
	}
}

// Timer is the game timer plus the session log.
//
// Thread-safety: every method is safe for concurrent use. Module-facing
// methods never block on anything but the state lock, which is only ever
// held for in-memory work.
type Timer struct {
	mu            sync.RWMutex
	phase         Phase
	splitIndex    int
	gameTime      time.Duration
	gameTimePhase GameTimePhase
	vars          variables
	logs          []Entry

	// pubMu is taken before mu is released, so sections publish in the
	// order they committed.
	pubMu     sync.Mutex
	obsMu     sync.RWMutex
	observers []Observer

	now    func() time.Time
	logger *slog.Logger
}

// New creates a timer in the NotRunning phase with an empty log.
func New(opts ...Option) *Timer {
	t := &Timer{
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers an observer for all future events.
func (t *Timer) Subscribe(o Observer) {
	t.obsMu.Lock()
	t.observers = append(t.observers, o)
	t.obsMu.Unlock()
}

// pending collects what a locked section produced so it can be published
// after the lock is released.
type pending struct {
	events []Event
}

// transitionLocked records a state transition event. Caller holds t.mu.
func (t *Timer) transitionLocked(p *pending, at time.Time, action Action) {
	p.events = append(p.events, Event{
		Time:       at,
		Action:     action,
		Phase:      t.phase,
		SplitIndex: t.splitIndex,
	})
}

// appendLocked appends an entry to the log. Caller holds t.mu.
func (t *Timer) appendLocked(p *pending, e Entry) {
	t.logs = append(t.logs, e)
	entry := e
	p.events = append(p.events, Event{Time: e.Time, Action: ActionLog, Phase: t.phase, SplitIndex: t.splitIndex, Entry: &entry})
}

func (t *Timer) debugLocked(p *pending, at time.Time, msg string) {
	t.appendLocked(p, Entry{Time: at, Message: msg, Kind: KindRuntime, Level: slog.LevelDebug})
}

// publish mirrors log entries to slog and fans events out to observers.
// Caller holds t.pubMu but not t.mu.
func (t *Timer) publish(p *pending) {
	if len(p.events) == 0 {
		return
	}
	for _, ev := range p.events {
		if ev.Entry == nil {
			continue
		}
		if ev.Entry.Kind == KindModule {
			t.logger.Info(ev.Entry.Message, "source", "module")
		} else {
			t.logger.Log(context.Background(), ev.Entry.Level, ev.Entry.Message, "source", "runtime")
		}
	}

	t.obsMu.RLock()
	observers := t.observers
	t.obsMu.RUnlock()
	for _, o := range observers {
		for _, ev := range p.events {
			o(ev)
		}
	}
}

// mutate runs fn under the exclusive lock and publishes what it produced.
func (t *Timer) mutate(fn func(p *pending, at time.Time)) {
	var p pending
	at := t.now()
	t.mu.Lock()
	fn(&p, at)
	t.pubMu.Lock()
	t.mu.Unlock()
	t.publish(&p)
	t.pubMu.Unlock()
}

// Start begins a run. No-op unless NotRunning.
func (t *Timer) Start() {
	t.mutate(func(p *pending, at time.Time) {
		if t.phase != NotRunning {
			return
		}
		t.phase = Running
		t.transitionLocked(p, at, ActionStart)
		t.debugLocked(p, at, "Timer started.")
	})
}

// Split advances the split index. No-op unless Running.
func (t *Timer) Split() {
	t.advance(ActionSplit, "Splitted.")
}

// SkipSplit advances the split index like Split but is reported as a skip.
func (t *Timer) SkipSplit() {
	t.advance(ActionSkipSplit, "Split skipped.")
}

func (t *Timer) advance(action Action, msg string) {
	t.mutate(func(p *pending, at time.Time) {
		if t.phase != Running {
			return
		}
		t.splitIndex++
		t.transitionLocked(p, at, action)
		t.debugLocked(p, at, msg)
	})
}

// UndoSplit steps back one split. From Ended the run resumes first. The
// split index never drops below zero. No-op from NotRunning.
func (t *Timer) UndoSplit() {
	t.mutate(func(p *pending, at time.Time) {
		switch t.phase {
		case Ended:
			t.phase = Running
		case Running:
		default:
			return
		}
		if t.splitIndex > 0 {
			t.splitIndex--
		}
		t.transitionLocked(p, at, ActionUndoSplit)
		t.debugLocked(p, at, "Split undone.")
	})
}

// Reset returns the timer to the zero state from any phase.
func (t *Timer) Reset() {
	t.mutate(func(p *pending, at time.Time) {
		t.resetLocked()
		t.transitionLocked(p, at, ActionReset)
		t.debugLocked(p, at, "Run reset.")
	})
}

func (t *Timer) resetLocked() {
	t.phase = NotRunning
	t.splitIndex = 0
	t.gameTime = 0
	t.gameTimePhase = GameTimeNotInitialized
	t.vars.clear()
}

// End finishes the run. It is the external signal that makes Ended
// reachable; modules cannot call it. No-op unless Running.
func (t *Timer) End() {
	t.mutate(func(p *pending, at time.Time) {
		if t.phase != Running {
			return
		}
		t.phase = Ended
		t.transitionLocked(p, at, ActionEnd)
		t.debugLocked(p, at, "Run ended.")
	})
}

// SetGameTime sets the game time. The first call moves the game time
// phase out of NotInitialized.
func (t *Timer) SetGameTime(d time.Duration) {
	t.mu.Lock()
	t.gameTime = d
	if t.gameTimePhase == GameTimeNotInitialized {
		t.gameTimePhase = GameTimeRunning
	}
	t.mu.Unlock()
}

// PauseGameTime marks game time as paused.
func (t *Timer) PauseGameTime() {
	t.mu.Lock()
	t.gameTimePhase = GameTimePaused
	t.mu.Unlock()
}

// ResumeGameTime marks game time as running.
func (t *Timer) ResumeGameTime() {
	t.mu.Lock()
	t.gameTimePhase = GameTimeRunning
	t.mu.Unlock()
}

// SetVariable overwrites key in place or appends it.
func (t *Timer) SetVariable(key, value string) {
	t.mu.Lock()
	t.vars.set(key, value)
	t.mu.Unlock()
}

// ClearVariables drops all variables without touching the run.
func (t *Timer) ClearVariables() {
	t.mu.Lock()
	t.vars.clear()
	t.mu.Unlock()
}

// Clear resets the run and empties the log without writing an entry.
// Used when a fresh module is loaded.
func (t *Timer) Clear() {
	t.mutate(func(p *pending, at time.Time) {
		t.resetLocked()
		t.logs = nil
		t.transitionLocked(p, at, ActionReset)
	})
}

// LogModuleMessage appends a message printed by the module.
func (t *Timer) LogModuleMessage(text string) {
	t.mutate(func(p *pending, at time.Time) {
		t.appendLocked(p, Entry{Time: at, Message: text, Kind: KindModule, Level: slog.LevelInfo})
	})
}

// LogRuntimeMessage appends a host or engine message at level.
func (t *Timer) LogRuntimeMessage(text string, level slog.Level) {
	t.mutate(func(p *pending, at time.Time) {
		t.appendLocked(p, Entry{Time: at, Message: text, Kind: KindRuntime, Level: level})
	})
}

// ClearLogs empties the session log.
func (t *Timer) ClearLogs() {
	t.mu.Lock()
	t.logs = nil
	t.mu.Unlock()
}

// Logs returns a copy of the session log, oldest first.
func (t *Timer) Logs() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Entry(nil), t.logs...)
}

// Phase returns the current run phase.
func (t *Timer) Phase() Phase {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.phase
}

// Snapshot returns a copy of the full timer state.
func (t *Timer) Snapshot() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return State{
		Phase:         t.phase,
		SplitIndex:    t.splitIndex,
		GameTime:      t.gameTime,
		GameTimePhase: t.gameTimePhase,
		Variables:     t.vars.snapshot(),
	}
}
