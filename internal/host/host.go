package host

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/timer"
)

// DefaultDumpPath is where DumpMemory writes when no path is configured.
const DefaultDumpPath = "memory_dump.bin"

// Option configures a Host.
type Option func(*Host)

// WithGuard overrides the liveness guard window.
func WithGuard(g Guard) Option {
	return func(h *Host) {
		h.guard = g
	}
}

// WithLogger sets the slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Host) {
		h.logger = logger
	}
}

// WithInitialSettings seeds the settings of the first loaded module only.
func WithInitialSettings(m *settings.Map) Option {
	return func(h *Host) {
		h.initial = m
	}
}

// Host drives the module lifecycle.
//
// Thread-safety: all methods are safe for concurrent use. Lifecycle
// operations are serialized. Status, ModulePath, ScriptPath and Kill never
// take the host lock, so they answer while a lifecycle operation is stuck
// in the engine.
type Host struct {
	mu        sync.Mutex
	view      atomic.Pointer[view]
	engine    module.Engine
	handle    *module.Handle
	timer     *timer.Timer
	telemetry *telemetry.State
	guard     Guard
	logger    *slog.Logger

	modulePath string
	scriptPath string
	compiled   module.Compiled
	initial    *settings.Map
}

// New creates a host publishing instances to handle.
func New(engine module.Engine, handle *module.Handle, t *timer.Timer, tel *telemetry.State, opts ...Option) *Host {
	h := &Host{
		engine:    engine,
		handle:    handle,
		timer:     t,
		telemetry: tel,
		guard:     DefaultGuard(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.publishLocked()
	return h
}

// view is the lifecycle state readable without the host lock.
type view struct {
	modulePath string
	scriptPath string
	compiled   bool
}

// publishLocked snapshots the lifecycle fields for lock-free readers.
func (h *Host) publishLocked() {
	h.view.Store(&view{
		modulePath: h.modulePath,
		scriptPath: h.scriptPath,
		compiled:   h.compiled != nil,
	})
}

// Status describes what the host currently has loaded.
type Status struct {
	ModulePath string `json:"module_path"`
	ScriptPath string `json:"script_path"`
	Compiled   bool   `json:"compiled"`
	Running    bool   `json:"running"`
}

// Status returns the current lifecycle status.
// While a lifecycle operation runs it reports the state before it.
func (h *Host) Status() Status {
	v := h.view.Load()
	return Status{
		ModulePath: v.modulePath,
		ScriptPath: v.scriptPath,
		Compiled:   v.compiled,
		Running:    h.handle.Load() != nil,
	}
}

// ModulePath returns the path of the last Load.
func (h *Host) ModulePath() string {
	return h.view.Load().modulePath
}

// ScriptPath returns the auxiliary script path, empty when none.
func (h *Host) ScriptPath() string {
	return h.view.Load().scriptPath
}

// Load reads, compiles and starts the module at path, replacing whatever
// runs now. The timer is reset and the session log cleared first, so only
// entries produced by this load remain.
func (h *Host) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.publishLocked()

	h.timer.Clear()
	h.modulePath = path
	carried := h.initial
	h.initial = nil

	err := h.compileLocked(OpLoad)
	return h.replaceLocked(OpLoad, carried, err)
}

// Reload recompiles the module from its recorded path and restarts it with
// the active instance's settings.
func (h *Host) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.publishLocked()

	if h.modulePath == "" {
		return ErrNoModule
	}
	carried := h.activeSettings()
	err := h.compileLocked(OpReload)
	return h.replaceLocked(OpReload, carried, err)
}

// Restart instantiates the already compiled module again, carrying the
// active instance's settings and the script path.
func (h *Host) Restart() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.restartLocked()
}

func (h *Host) restartLocked() error {
	if h.compiled == nil {
		return ErrNoModule
	}
	return h.replaceLocked(OpRestart, h.activeSettings(), nil)
}

// SetScriptPath records the auxiliary script handed to the module and
// restarts it. Setting the same path again counts as a script reload.
func (h *Host) SetScriptPath(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	defer h.publishLocked()

	msg := "Script loaded."
	if path == h.scriptPath {
		msg = "Script reloaded."
	}
	h.scriptPath = path
	h.timer.LogRuntimeMessage(msg, slog.LevelInfo)

	if err := h.restartLocked(); err != nil && !errors.Is(err, ErrNoModule) {
		return err
	}
	return nil
}

// Kill interrupts the active instance without replacing it. Every later
// update of that instance fails. Kill does not wait for a running lifecycle
// operation.
func (h *Host) Kill() bool {
	inst := h.handle.Load()
	if inst == nil {
		return false
	}
	inst.Interrupt()
	h.logger.Warn("module killed", "path", h.ModulePath())
	return true
}

// DumpMemory writes the active instance's memory image to path (or
// DefaultDumpPath). The module is only waited on for the guard window.
func (h *Host) DumpMemory(path string) (int, error) {
	if path == "" {
		path = DefaultDumpPath
	}
	inst := h.handle.Load()
	if inst == nil {
		return 0, ErrNoModule
	}
	if !h.guard.Acquire(inst) {
		h.timer.LogRuntimeMessage("Timed out waiting for module.", slog.LevelError)
		return 0, &Error{Kind: LivenessTimeout, Op: OpDump, Err: ErrTimedOut}
	}
	mem := inst.Memory()
	inst.Unlock()

	if err := os.WriteFile(path, mem, 0o644); err != nil {
		h.timer.LogRuntimeMessage(fmt.Sprintf("Failed to dump memory: %v", err), slog.LevelError)
		return 0, fmt.Errorf("dump memory: %w", err)
	}
	h.logger.Info("memory dumped", "path", path, "bytes", len(mem))
	return len(mem), nil
}

// activeSettings reads the live instance's settings before it is retired.
func (h *Host) activeSettings() *settings.Map {
	if inst := h.handle.Load(); inst != nil {
		return inst.Settings().Load()
	}
	return nil
}

// compileLocked reads and compiles the module at h.modulePath. On failure
// the compiled module is dropped and the error is logged.
func (h *Host) compileLocked(op Op) error {
	src, err := os.ReadFile(h.modulePath)
	if err != nil {
		err = fmt.Errorf("read module: %w", err)
	} else {
		var compiled module.Compiled
		compiled, err = h.engine.Compile(filepath.Base(h.modulePath), src)
		if err == nil {
			h.compiled = compiled
			return nil
		}
		err = fmt.Errorf("compile module: %w", err)
	}

	h.compiled = nil
	lerr := &Error{Kind: LoadError, Op: op, Path: h.modulePath, Err: err}
	h.report(lerr, "Failed loading the module")
	return lerr
}

// replaceLocked runs the shared tail of every lifecycle operation. prior is
// the compile error, if any; it suppresses instantiation and the success
// entry but not the retirement of the old instance.
func (h *Host) replaceLocked(op Op, carried *settings.Map, prior error) error {
	err := prior

	var next module.Instance
	if err == nil && h.compiled != nil {
		inst, ierr := h.compiled.Instantiate(h.timer, carried, h.scriptPath)
		if ierr != nil {
			err = &Error{Kind: InstantiateError, Op: op, Path: h.modulePath, Err: ierr}
			h.report(err, "Failed starting the module")
		} else {
			next = inst
		}
	}

	if old := h.handle.Load(); old != nil {
		if h.guard.Retire(old) {
			h.report(&Error{Kind: LivenessTimeout, Op: op, Path: h.modulePath, Err: ErrTimedOut}, "Module did not react and was interrupted")
		}
	}
	h.telemetry.Reset()
	// Cleared before the swap so the first update's variables survive.
	h.timer.ClearVariables()
	h.handle.Swap(next)

	if err != nil {
		return err
	}
	h.timer.LogRuntimeMessage(successMessage(op), slog.LevelInfo)
	h.logger.Info("module ready", "op", op, "path", h.modulePath, "script", h.scriptPath)
	return nil
}

// report writes err to the session log. Liveness timeouts are warnings;
// everything else is an error.
func (h *Host) report(err error, prefix string) {
	level := slog.LevelError
	if IsKind(err, LivenessTimeout) {
		level = slog.LevelWarn
	}
	h.timer.LogRuntimeMessage(fmt.Sprintf("%s: %v", prefix, unwrapHost(err)), level)
}

func unwrapHost(err error) error {
	var he *Error
	if errors.As(err, &he) {
		return he.Err
	}
	return err
}

func successMessage(op Op) string {
	switch op {
	case OpReload:
		return "Module reloaded."
	case OpRestart:
		return "Module restarted."
	default:
		return "Module loaded."
	}
}
