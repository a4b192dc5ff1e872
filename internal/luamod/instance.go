package luamod

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/procscan"
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
)

// ErrInterrupted is returned by Update once the instance was interrupted.
var ErrInterrupted = errors.New("module interrupted")

// Instance is a running Lua module.
type Instance struct {
	module.Exec

	l          *lua.State
	timer      module.Timer
	store      *settings.Store
	finder     procscan.Finder
	scriptPath string
	logger     *slog.Logger

	// Guarded by the execution lock.
	rate       time.Duration
	procs      map[int]telemetry.Process
	nextHandle int
	baseline   map[string]bool

	widgetMu sync.Mutex
	widgets  []settings.Widget
}

var _ module.Instance = (*Instance)(nil)

func newInstance(e *Engine, t module.Timer, initial *settings.Map, scriptPath string) *Instance {
	inst := &Instance{
		l:          lua.NewState(),
		timer:      t,
		store:      settings.NewStore(initial),
		finder:     e.finder,
		scriptPath: scriptPath,
		logger:     e.logger,
		rate:       DefaultTickRate,
		procs:      make(map[int]telemetry.Process),
		nextHandle: 1,
	}
	l := inst.l
	openLibraries(l)
	inst.register(l)
	inst.baseline = globalNames(l)

	lua.SetDebugHook(l, func(l *lua.State, _ lua.Debug) {
		if inst.Interrupted() {
			lua.Errorf(l, "%s", ErrInterrupted.Error())
		}
	}, lua.MaskCount, e.hookInterval)
	return inst
}

// openLibraries opens the sandboxed subset of the standard library. io, os
// and debug are left out.
func openLibraries(l *lua.State) {
	libs := []lua.RegistryFunction{
		{Name: "_G", Function: lua.BaseOpen},
		{Name: "string", Function: lua.StringOpen},
		{Name: "table", Function: lua.TableOpen},
		{Name: "math", Function: lua.MathOpen},
		{Name: "bit32", Function: lua.Bit32Open},
	}
	for _, lib := range libs {
		lua.Require(l, lib.Name, lib.Function, true)
		l.Pop(1)
	}
}

// Update calls the module's update function.
func (i *Instance) Update() error {
	if i.Interrupted() {
		return ErrInterrupted
	}
	l := i.l
	top := l.Top()
	defer l.SetTop(top)

	l.Global("update")
	if err := l.ProtectedCall(0, 0, 0); err != nil {
		if i.Interrupted() {
			return ErrInterrupted
		}
		return fmt.Errorf("update: %w", err)
	}
	return nil
}

// TickRate is the interval the module asked for.
func (i *Instance) TickRate() time.Duration { return i.rate }

// Memory renders the module's own globals. See renderGlobals.
func (i *Instance) Memory() []byte {
	return renderGlobals(i.l, i.baseline)
}

// MemorySize is the size of the memory image in bytes.
func (i *Instance) MemorySize() int { return len(i.Memory()) }

// HandleCount is the number of attached processes.
func (i *Instance) HandleCount() uint64 { return uint64(len(i.procs)) }

// AttachedProcesses lists attached processes in attach order.
func (i *Instance) AttachedProcesses() []telemetry.Process {
	handles := make([]int, 0, len(i.procs))
	for h := range i.procs {
		handles = append(handles, h)
	}
	slices.Sort(handles)
	out := make([]telemetry.Process, 0, len(handles))
	for _, h := range handles {
		out = append(out, i.procs[h])
	}
	return out
}

// Settings is the instance's settings store.
func (i *Instance) Settings() *settings.Store { return i.store }

// Widgets returns the settings widgets the module registered, in
// registration order.
func (i *Instance) Widgets() []settings.Widget {
	i.widgetMu.Lock()
	defer i.widgetMu.Unlock()
	return slices.Clone(i.widgets)
}

func (i *Instance) addWidget(w settings.Widget) {
	i.widgetMu.Lock()
	defer i.widgetMu.Unlock()
	for n := range i.widgets {
		if i.widgets[n].Key == w.Key {
			i.widgets[n] = w
			return
		}
	}
	i.widgets = append(i.widgets, w)
}
