package host

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/splithost/internal/luamod"
	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/testutil"
	"github.com/roach88/splithost/internal/timer"
)

type fixture struct {
	engine *testutil.FakeEngine
	handle *module.Handle
	timer  *timer.Timer
	tel    *telemetry.State
	host   *Host
	dir    string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		engine: &testutil.FakeEngine{},
		handle: &module.Handle{},
		timer:  timer.New(timer.WithLogger(discardLogger())),
		tel:    telemetry.New(),
		dir:    t.TempDir(),
	}
	opts = append([]Option{WithLogger(discardLogger()), WithGuard(Guard{Attempts: 5, Backoff: time.Millisecond})}, opts...)
	f.host = New(f.engine, f.handle, f.timer, f.tel, opts...)
	return f
}

func (f *fixture) write(t *testing.T, name, src string) string {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func (f *fixture) active(t *testing.T) *testutil.FakeInstance {
	t.Helper()
	inst := f.handle.Load()
	require.NotNil(t, inst)
	return inst.(*testutil.FakeInstance)
}

func messages(t *timer.Timer, minLevel slog.Level) []string {
	var out []string
	for _, e := range t.Logs() {
		if e.Kind == timer.KindRuntime && e.Level >= minLevel {
			out = append(out, e.Message)
		}
	}
	return out
}

func errorEntries(t *timer.Timer) int {
	n := 0
	for _, e := range t.Logs() {
		if e.IsError() {
			n++
		}
	}
	return n
}

func dirtyTelemetry(tel *telemetry.State) {
	r := tel.Recorder()
	r.Tick(40*time.Millisecond, false)
	r.SetMemory(1024)
	r.SetHandles(3)
	r.SetProcesses([]telemetry.Process{{ID: 7, Path: "/bin/game"}})
}

func assertTelemetryEmpty(t *testing.T, tel *telemetry.State) {
	t.Helper()
	snap := tel.Snapshot()
	assert.Zero(t, snap.SlowestTick)
	assert.Zero(t, snap.AvgTick)
	assert.Zero(t, snap.MemorySize)
	assert.Zero(t, snap.HandleCount)
	assert.Empty(t, tel.Processes())
	assert.Equal(t, int64(0), tel.Performance().Count)
}

func TestHost_Load(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "split.lua", "ok")

	require.NoError(t, f.host.Load(path))

	inst := f.active(t)
	assert.Equal(t, "ok", inst.Source)
	assert.Equal(t, []string{"Module loaded."}, messages(f.timer, slog.LevelInfo))
	assert.Equal(t, Status{ModulePath: path, Compiled: true, Running: true}, f.host.Status())
}

func TestHost_Load_CompileFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Load(f.write(t, "good.lua", "ok")))
	old := f.active(t)
	dirtyTelemetry(f.tel)

	err := f.host.Load(f.write(t, "bad.lua", "error: nope"))

	require.Error(t, err)
	assert.True(t, IsKind(err, LoadError))
	assert.ErrorIs(t, err, testutil.ErrFakeSyntax)
	assert.Nil(t, f.handle.Load())
	assert.True(t, old.Retired())
	assert.Equal(t, 1, errorEntries(f.timer))
	assert.NotContains(t, messages(f.timer, slog.LevelInfo), "Module loaded.")
	assertTelemetryEmpty(t, f.tel)
	assert.False(t, f.host.Status().Compiled)
}

func TestHost_Load_MissingFile(t *testing.T) {
	f := newFixture(t)

	err := f.host.Load(filepath.Join(f.dir, "missing.lua"))

	assert.True(t, IsKind(err, LoadError))
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Nil(t, f.handle.Load())
	assert.Equal(t, 1, errorEntries(f.timer))
	assert.Equal(t, 0, f.engine.Compiles())
}

func TestHost_Load_InstantiateFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	old := f.active(t)
	f.engine.InstantiateErr = errors.New("no update function")

	err := f.host.Restart()

	assert.True(t, IsKind(err, InstantiateError))
	assert.Nil(t, f.handle.Load())
	assert.True(t, old.Retired())
	assert.Equal(t, 1, errorEntries(f.timer))
}

func TestHost_Load_ResetsTimerAndLog(t *testing.T) {
	f := newFixture(t)
	f.timer.Start()
	f.timer.Split()
	f.timer.LogModuleMessage("old")

	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))

	assert.Equal(t, timer.NotRunning, f.timer.Phase())
	logs := f.timer.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "Module loaded.", logs[0].Message)
}

func TestHost_Load_RetiresPreviousWithoutInterrupt(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	old := f.active(t)

	require.NoError(t, f.host.Load(f.write(t, "b.lua", "ok too")))

	assert.True(t, old.Retired())
	assert.Equal(t, int64(0), old.Interrupts())
	assert.Equal(t, "ok too", f.active(t).Source)
	assert.True(t, old.TryLock(), "retire must release the lock")
}

func TestHost_Reload_CarriesSettings(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "a.lua", "v1")
	require.NoError(t, f.host.Load(path))
	f.active(t).Settings().Set("category", settings.String("any%"))
	f.timer.Start()
	f.timer.SetVariable("lap", "1")

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	require.NoError(t, f.host.Reload())

	inst := f.active(t)
	assert.Equal(t, "v2", inst.Source)
	v, ok := inst.Settings().Load().Get("category")
	require.True(t, ok)
	assert.Equal(t, settings.String("any%"), v)
	assert.Equal(t, 2, f.engine.Compiles())
	assert.Equal(t, timer.Running, f.timer.Phase(), "reload keeps the run")
	assert.Empty(t, f.timer.Snapshot().Variables)
	assert.Contains(t, messages(f.timer, slog.LevelInfo), "Module reloaded.")
}

func TestHost_Reload_CompileFailureRetiresAndClears(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "a.lua", "ok")
	require.NoError(t, f.host.Load(path))
	old := f.active(t)
	dirtyTelemetry(f.tel)

	require.NoError(t, os.WriteFile(path, []byte("error"), 0o644))
	err := f.host.Reload()

	assert.True(t, IsKind(err, LoadError))
	assert.True(t, old.Retired())
	assert.Nil(t, f.handle.Load())
	assertTelemetryEmpty(t, f.tel)
	assert.ErrorIs(t, f.host.Restart(), ErrNoModule)
}

func TestHost_Restart_KeepsCompiledModule(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	f.active(t).Settings().Set("k", settings.Int(1))

	require.NoError(t, f.host.Restart())

	assert.Equal(t, 1, f.engine.Compiles())
	assert.Len(t, f.engine.Instances(), 2)
	v, _ := f.active(t).Settings().Load().Get("k")
	assert.Equal(t, settings.Int(1), v)
	assert.Contains(t, messages(f.timer, slog.LevelInfo), "Module restarted.")
}

func TestHost_NothingLoaded(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.host.Reload(), ErrNoModule)
	assert.ErrorIs(t, f.host.Restart(), ErrNoModule)
	assert.False(t, f.host.Kill())
	_, err := f.host.DumpMemory(filepath.Join(f.dir, "dump.bin"))
	assert.ErrorIs(t, err, ErrNoModule)
}

func TestHost_InitialSettingsApplyToFirstLoadOnly(t *testing.T) {
	initial := settings.Empty().With("start_on_load", settings.Bool(true))
	f := newFixture(t, WithInitialSettings(initial))

	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	assert.Same(t, initial, f.active(t).Settings().Load())

	require.NoError(t, f.host.Load(f.write(t, "b.lua", "ok")))
	assert.Equal(t, 0, f.active(t).Settings().Load().Len())
}

func TestHost_SetScriptPath(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	script := f.write(t, "route.txt", "1-1")

	require.NoError(t, f.host.SetScriptPath(script))
	assert.Equal(t, script, f.active(t).ScriptPath)

	require.NoError(t, f.host.SetScriptPath(script))

	msgs := messages(f.timer, slog.LevelInfo)
	assert.Equal(t, []string{"Module loaded.", "Script loaded.", "Module restarted.", "Script reloaded.", "Module restarted."}, msgs)
	assert.Equal(t, script, f.host.ScriptPath())
}

func TestHost_SetScriptPath_BeforeLoad(t *testing.T) {
	f := newFixture(t)
	script := f.write(t, "route.txt", "x")

	require.NoError(t, f.host.SetScriptPath(script))
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))

	assert.Equal(t, script, f.active(t).ScriptPath)
}

func TestHost_LivenessGuard_StuckModuleIsInterruptedOnce(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	stuck := f.active(t)
	stuck.Lock() // never released: simulates an update that never returns

	start := time.Now()
	require.NoError(t, f.host.Restart())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, int64(1), stuck.Interrupts())
	assert.True(t, stuck.Retired())
	assert.NotSame(t, stuck, f.active(t))
	assert.Contains(t, messages(f.timer, slog.LevelWarn), "Module did not react and was interrupted: timed out waiting for module")
	assert.Equal(t, 0, errorEntries(f.timer))
}

func TestHost_Kill(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	inst := f.active(t)

	assert.True(t, f.host.Kill())

	assert.True(t, inst.Interrupted())
	assert.Same(t, inst, f.active(t), "kill does not replace the module")
	assert.ErrorIs(t, inst.Update(), testutil.ErrInterrupted)
}

func TestHost_StatusAndKillDoNotWaitForLifecycle(t *testing.T) {
	f := newFixture(t)
	path := f.write(t, "a.lua", "ok")
	require.NoError(t, f.host.Load(path))
	running := f.active(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.engine.Starting = func() {
		close(entered)
		<-release
	}
	done := make(chan error, 1)
	go func() { done <- f.host.Restart() }()
	<-entered

	answered := make(chan Status, 1)
	go func() {
		f.host.Kill()
		_ = f.host.ModulePath()
		_ = f.host.ScriptPath()
		answered <- f.host.Status()
	}()
	select {
	case st := <-answered:
		assert.Equal(t, Status{ModulePath: path, Compiled: true, Running: true}, st)
	case <-time.After(5 * time.Second):
		t.Fatal("status blocked behind a stuck restart")
	}
	assert.True(t, running.Interrupted())

	close(release)
	require.NoError(t, <-done)
	assert.NotSame(t, running, f.active(t))
}

func TestHost_Load_SpinningModuleFailsToStart(t *testing.T) {
	engine := luamod.New(
		luamod.WithLogger(discardLogger()),
		luamod.WithHookInterval(100),
		luamod.WithStartTimeout(50*time.Millisecond),
	)
	handle := &module.Handle{}
	tm := timer.New(timer.WithLogger(discardLogger()))
	h := New(engine, handle, tm, telemetry.New(), WithLogger(discardLogger()))
	path := filepath.Join(t.TempDir(), "spin.lua")
	require.NoError(t, os.WriteFile(path, []byte("while true do end\nfunction update() end\n"), 0o644))

	done := make(chan error, 1)
	go func() { done <- h.Load(path) }()

	var err error
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("load hung on a spinning module")
	}
	assert.True(t, IsKind(err, InstantiateError))
	assert.ErrorIs(t, err, luamod.ErrStartTimeout)
	assert.Nil(t, handle.Load())
	assert.Equal(t, Status{ModulePath: path, Compiled: true}, h.Status())
	assert.Equal(t, 1, errorEntries(tm))
}

func TestHost_VariablesSetWhileStartingAreCleared(t *testing.T) {
	f := newFixture(t)
	f.engine.Configure = func(i *testutil.FakeInstance) {
		i.Timer.SetVariable("boot", "1")
		i.OnUpdate = func(i *testutil.FakeInstance) error {
			i.Timer.SetVariable("level", "2")
			return nil
		}
	}
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	assert.Empty(t, f.timer.Snapshot().Variables)

	inst := f.active(t)
	inst.Lock()
	require.NoError(t, inst.Update())
	inst.Unlock()

	vars := f.timer.Snapshot().Variables
	require.Len(t, vars, 1)
	assert.Equal(t, "level", vars[0].Key)
}

func TestHost_DumpMemory(t *testing.T) {
	f := newFixture(t)
	f.engine.Configure = func(i *testutil.FakeInstance) { i.Mem = []byte("abc") }
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))

	out := filepath.Join(f.dir, "memory_dump.bin")
	n, err := f.host.DumpMemory(out)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestHost_DumpMemory_TimesOut(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.host.Load(f.write(t, "a.lua", "ok")))
	inst := f.active(t)
	inst.Lock()
	defer inst.Unlock()

	_, err := f.host.DumpMemory(filepath.Join(f.dir, "dump.bin"))

	assert.True(t, IsKind(err, LivenessTimeout))
	assert.Contains(t, messages(f.timer, slog.LevelError), "Timed out waiting for module.")
	assert.Equal(t, int64(0), inst.Interrupts(), "dumping never interrupts")
}

func TestGuard_Acquire(t *testing.T) {
	inst := &testutil.FakeInstance{}
	g := Guard{Attempts: 3, Backoff: time.Millisecond}

	require.True(t, g.Acquire(inst))
	assert.False(t, g.Acquire(inst))
	inst.Unlock()
}

func TestGuard_Retire(t *testing.T) {
	g := Guard{Attempts: 2, Backoff: time.Millisecond}

	free := &testutil.FakeInstance{}
	assert.False(t, g.Retire(free))
	assert.True(t, free.Retired())
	assert.False(t, free.Interrupted())

	busy := &testutil.FakeInstance{}
	busy.Lock()
	assert.True(t, g.Retire(busy))
	assert.True(t, busy.Retired())
	assert.Equal(t, int64(1), busy.Interrupts())
}

func TestError_Format(t *testing.T) {
	err := &Error{Kind: LoadError, Op: OpLoad, Path: "a.lua", Err: errors.New("boom")}
	assert.Equal(t, "LOAD_ERROR: load a.lua: boom", err.Error())

	err = &Error{Kind: TickError, Op: OpTick, Err: errors.New("bad")}
	assert.Equal(t, "TICK_ERROR: tick: bad", err.Error())

	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsKind(wrapped, TickError))
	assert.False(t, IsKind(wrapped, LoadError))
	assert.False(t, IsKind(errors.New("plain"), TickError))
}
