// Package luamod is the Lua module engine.
//
// A module is a Lua chunk that defines a global update function. The chunk
// runs once per instance, with the capability tables timer, runtime,
// settings and process already installed; update then runs once per tick.
//
// Interruption is cooperative: a count hook fires every HookInterval VM
// instructions and raises an error once the instance is interrupted. The
// chunk itself gets StartTimeout to finish before it is interrupted.
//
// Variables set with timer.set_variable while the chunk runs do not
// survive: the host clears the variable map when it publishes the new
// instance. Set them from update instead.
package luamod

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/procscan"
	"github.com/roach88/splithost/internal/settings"
)

// DefaultTickRate is the tick interval until a module sets its own.
const DefaultTickRate = time.Second / 120

// DefaultHookInterval is how many VM instructions run between interrupt
// checks.
const DefaultHookInterval = 1000

// DefaultStartTimeout bounds how long the chunk may run on Instantiate.
const DefaultStartTimeout = time.Second

// ErrStartTimeout is returned by Instantiate when the chunk had to be
// interrupted.
var ErrStartTimeout = errors.New("module did not finish starting")

// Option configures an Engine.
type Option func(*Engine)

// WithFinder sets the process finder behind process.attach.
func WithFinder(f procscan.Finder) Option {
	return func(e *Engine) {
		e.finder = f
	}
}

// WithHookInterval sets the interrupt check interval in instructions.
func WithHookInterval(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.hookInterval = n
		}
	}
}

// WithStartTimeout sets how long the chunk may run before it is interrupted.
func WithStartTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.startTimeout = d
		}
	}
}

// WithLogger sets the slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine compiles Lua modules.
type Engine struct {
	finder       procscan.Finder
	hookInterval int
	startTimeout time.Duration
	logger       *slog.Logger
}

var _ module.Engine = (*Engine)(nil)

// New creates an engine. Without a finder, process.attach never finds
// anything.
func New(opts ...Option) *Engine {
	e := &Engine{
		hookInterval: DefaultHookInterval,
		startTimeout: DefaultStartTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile syntax-checks src. The chunk itself only runs on Instantiate.
func (e *Engine) Compile(name string, src []byte) (module.Compiled, error) {
	l := lua.NewState()
	if err := l.Load(bytes.NewReader(src), chunkName(name), "t"); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &Compiled{engine: e, name: name, src: bytes.Clone(src)}, nil
}

func chunkName(name string) string {
	return "@" + name
}

// Compiled is a syntax-checked module.
type Compiled struct {
	engine *Engine
	name   string
	src    []byte
}

// Instantiate builds a fresh Lua state, installs the capability tables,
// runs the chunk and checks that it defined update. A chunk still running
// after the start timeout is interrupted and ErrStartTimeout returned.
func (c *Compiled) Instantiate(t module.Timer, initial *settings.Map, scriptPath string) (module.Instance, error) {
	inst := newInstance(c.engine, t, initial, scriptPath)
	l := inst.l

	if err := l.Load(bytes.NewReader(c.src), chunkName(c.name), "t"); err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.name, err)
	}

	deadline := time.AfterFunc(c.engine.startTimeout, inst.Interrupt)
	err := l.ProtectedCall(0, 0, 0)
	deadline.Stop()
	if inst.Interrupted() {
		c.engine.logger.Warn("module start interrupted", "module", c.name, "timeout", c.engine.startTimeout)
		return nil, fmt.Errorf("run %s: %w", c.name, ErrStartTimeout)
	}
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", c.name, err)
	}

	l.Global("update")
	isFunc := l.IsFunction(-1)
	l.Pop(1)
	if !isFunc {
		return nil, fmt.Errorf("%s does not define a global update function", c.name)
	}
	return inst, nil
}
