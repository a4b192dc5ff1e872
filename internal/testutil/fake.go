package testutil

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
)

// ErrFakeSyntax is returned by FakeEngine for sources starting with "error".
var ErrFakeSyntax = errors.New("fake syntax error")

// ErrInterrupted is returned by FakeInstance.Update once interrupted.
var ErrInterrupted = errors.New("module interrupted")

// FakeEngine is an in-memory module engine for host and scheduler tests.
//
// Compile rejects any source starting with "error". Instantiate fails with
// InstantiateErr when set. Every created instance is kept for inspection.
type FakeEngine struct {
	mu             sync.Mutex
	InstantiateErr error
	// Starting runs at the top of every Instantiate; it may block.
	Starting func()
	// Configure runs on each new instance before it is returned.
	Configure func(*FakeInstance)
	compiles  int
	instances []*FakeInstance
}

// Compile implements module.Engine.
func (e *FakeEngine) Compile(name string, src []byte) (module.Compiled, error) {
	e.mu.Lock()
	e.compiles++
	e.mu.Unlock()
	if strings.HasPrefix(string(src), "error") {
		return nil, ErrFakeSyntax
	}
	return &FakeCompiled{engine: e, Name: name, Source: string(src)}, nil
}

// Compiles reports how many times Compile ran.
func (e *FakeEngine) Compiles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.compiles
}

// Instances returns every instance created so far, oldest first.
func (e *FakeEngine) Instances() []*FakeInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*FakeInstance(nil), e.instances...)
}

// Last returns the newest instance or nil.
func (e *FakeEngine) Last() *FakeInstance {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.instances) == 0 {
		return nil
	}
	return e.instances[len(e.instances)-1]
}

// FakeCompiled is the compiled form produced by FakeEngine.
type FakeCompiled struct {
	engine *FakeEngine
	Name   string
	Source string
}

// Instantiate implements module.Compiled.
func (c *FakeCompiled) Instantiate(t module.Timer, initial *settings.Map, scriptPath string) (module.Instance, error) {
	if c.engine.Starting != nil {
		c.engine.Starting()
	}
	if err := c.engine.InstantiateErr; err != nil {
		return nil, err
	}
	inst := &FakeInstance{
		Timer:      t,
		Source:     c.Source,
		ScriptPath: scriptPath,
		Rate:       time.Second / 120,
		store:      settings.NewStore(initial),
	}
	if c.engine.Configure != nil {
		c.engine.Configure(inst)
	}
	c.engine.mu.Lock()
	c.engine.instances = append(c.engine.instances, inst)
	c.engine.mu.Unlock()
	return inst, nil
}

// FakeInstance is a scriptable running module.
type FakeInstance struct {
	module.Exec

	Timer      module.Timer
	Source     string
	ScriptPath string

	// OnUpdate runs on every Update that is not interrupted.
	OnUpdate   func(*FakeInstance) error
	Rate       time.Duration
	Mem        []byte
	Handles    uint64
	Processes  []telemetry.Process
	WidgetList []settings.Widget

	store   *settings.Store
	updates atomic.Int64
}

// Update implements module.Instance.
func (f *FakeInstance) Update() error {
	f.updates.Add(1)
	if f.Interrupted() {
		return ErrInterrupted
	}
	if f.OnUpdate != nil {
		return f.OnUpdate(f)
	}
	return nil
}

// Updates counts Update calls.
func (f *FakeInstance) Updates() int64 { return f.updates.Load() }

func (f *FakeInstance) TickRate() time.Duration                { return f.Rate }
func (f *FakeInstance) MemorySize() int                        { return len(f.Mem) }
func (f *FakeInstance) Memory() []byte                         { return f.Mem }
func (f *FakeInstance) HandleCount() uint64                    { return f.Handles }
func (f *FakeInstance) AttachedProcesses() []telemetry.Process { return f.Processes }
func (f *FakeInstance) Settings() *settings.Store              { return f.store }
func (f *FakeInstance) Widgets() []settings.Widget             { return f.WidgetList }
