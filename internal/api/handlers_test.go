package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/splithost/internal/host"
	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/testutil"
	"github.com/roach88/splithost/internal/timer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	engine *testutil.FakeEngine
	handle *module.Handle
	timer  *timer.Timer
	tel    *telemetry.State
	host   *host.Host
	router *gin.Engine
	dir    string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		engine: &testutil.FakeEngine{},
		handle: &module.Handle{},
		timer:  timer.New(timer.WithLogger(discardLogger())),
		tel:    telemetry.New(),
		dir:    t.TempDir(),
	}
	f.host = host.New(f.engine, f.handle, f.timer, f.tel,
		host.WithLogger(discardLogger()),
		host.WithGuard(host.Guard{Attempts: 2, Backoff: time.Millisecond}),
	)
	reg := prometheus.NewRegistry()
	telemetry.RegisterMetrics(reg, f.tel)
	h := NewHandlers(f.host, f.handle, f.timer, f.tel,
		WithDumpPath(filepath.Join(f.dir, "memory_dump.bin")),
		WithLocation(time.UTC),
		WithLogger(discardLogger()),
	)
	f.router = NewRouter(h, reg)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

// load writes a module file and loads it through the API.
func (f *fixture) load(t *testing.T, src string) *testutil.FakeInstance {
	t.Helper()
	path := filepath.Join(f.dir, "module.lua")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	w := f.do(t, http.MethodPost, "/v1/module/load", PathRequest{Path: path})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return f.engine.Last()
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandlers_StatusWithoutModule(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[map[string]any](t, w)
	assert.Equal(t, false, resp["running"])
	assert.Equal(t, false, resp["compiled"])
	assert.Equal(t, "0 B", resp["memory"])
	assert.Equal(t, "not_running", resp["timer"].(map[string]any)["phase"])
}

func TestHandlers_LoadAndStatus(t *testing.T) {
	f := newFixture(t)
	f.engine.Configure = func(fi *testutil.FakeInstance) {
		fi.Mem = make([]byte, 2048)
	}
	inst := f.load(t, "module")
	require.NotNil(t, inst)

	f.tel.Recorder().SetMemory(int64(len(inst.Mem)))
	f.tel.Recorder().SetTickRate(time.Second / 120)

	resp := decode[map[string]any](t, f.do(t, http.MethodGet, "/v1/status", nil))
	assert.Equal(t, true, resp["running"])
	assert.Equal(t, filepath.Join(f.dir, "module.lua"), resp["module_path"])
	assert.Equal(t, "2.0 KiB", resp["memory"])
	assert.InDelta(t, 120.0, resp["tick_rate_hz"], 0.01)
}

func TestHandlers_LoadRequiresPath(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/module/load", PathRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_LoadErrorMapsToUnprocessable(t *testing.T) {
	f := newFixture(t)
	path := filepath.Join(f.dir, "broken.lua")
	require.NoError(t, os.WriteFile(path, []byte("error here"), 0o644))

	w := f.do(t, http.MethodPost, "/v1/module/load", PathRequest{Path: path})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, string(host.LoadError), resp.Code)
	assert.Contains(t, resp.Error, "fake syntax error")
}

func TestHandlers_LifecycleWithoutModuleConflicts(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/v1/module/reload", "/v1/module/restart", "/v1/module/kill", "/v1/module/dump"} {
		w := f.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusConflict, w.Code, path)
	}
}

func TestHandlers_RestartReplacesInstance(t *testing.T) {
	f := newFixture(t)
	first := f.load(t, "module")

	w := f.do(t, http.MethodPost, "/v1/module/restart", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, first.Retired())
	assert.NotSame(t, first, f.engine.Last())
	assert.Same(t, f.engine.Last(), f.handle.Load())
}

func TestHandlers_KillInterruptsActive(t *testing.T) {
	f := newFixture(t)
	inst := f.load(t, "module")

	w := f.do(t, http.MethodPost, "/v1/module/kill", nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.True(t, inst.Interrupted())
	assert.Same(t, inst, f.handle.Load())
}

func TestHandlers_DumpWritesDefaultPath(t *testing.T) {
	f := newFixture(t)
	f.engine.Configure = func(fi *testutil.FakeInstance) {
		fi.Mem = []byte("x = 1\n")
	}
	f.load(t, "module")

	w := f.do(t, http.MethodPost, "/v1/module/dump", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[DumpResponse](t, w)
	assert.Equal(t, filepath.Join(f.dir, "memory_dump.bin"), resp.Path)
	assert.Equal(t, 6, resp.Bytes)

	data, err := os.ReadFile(resp.Path)
	require.NoError(t, err)
	assert.Equal(t, "x = 1\n", string(data))
}

func TestHandlers_DumpExplicitPath(t *testing.T) {
	f := newFixture(t)
	f.engine.Configure = func(fi *testutil.FakeInstance) {
		fi.Mem = []byte("abc")
	}
	f.load(t, "module")
	target := filepath.Join(f.dir, "other.bin")

	w := f.do(t, http.MethodPost, "/v1/module/dump", PathRequest{Path: target})
	require.Equal(t, http.StatusOK, w.Code)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}

func TestHandlers_DumpTimesOutOnBusyModule(t *testing.T) {
	f := newFixture(t)
	inst := f.load(t, "module")
	inst.Lock()
	defer inst.Unlock()

	w := f.do(t, http.MethodPost, "/v1/module/dump", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, string(host.LivenessTimeout), decode[ErrorResponse](t, w).Code)

	logs := f.timer.Logs()
	require.NotEmpty(t, logs)
	assert.Equal(t, "Timed out waiting for module.", logs[len(logs)-1].Message)
}

func TestHandlers_ScriptLoadedThenReloaded(t *testing.T) {
	f := newFixture(t)
	f.load(t, "module")
	script := filepath.Join(f.dir, "script.txt")

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/script", PathRequest{Path: script}).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/script", PathRequest{Path: script}).Code)

	var messages []string
	for _, e := range f.timer.Logs() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "Script loaded.")
	assert.Contains(t, messages, "Script reloaded.")
	assert.Equal(t, script, f.engine.Last().ScriptPath)
}

func TestHandlers_TimerStartAndReset(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/v1/timer/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "running", decode[map[string]any](t, w)["phase"])

	w = f.do(t, http.MethodPost, "/v1/timer/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "not_running", decode[map[string]any](t, w)["phase"])
	assert.Equal(t, timer.NotRunning, f.timer.Phase())
}

func TestHandlers_LogsRenderClockAndClear(t *testing.T) {
	f := newFixture(t)
	f.load(t, "module")

	w := f.do(t, http.MethodGet, "/v1/logs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]LogEntry](t, w)
	require.NotEmpty(t, entries)

	last := entries[len(entries)-1]
	assert.Equal(t, "Module loaded.", last.Message)
	assert.Equal(t, "runtime", last.Kind)
	assert.Equal(t, "INFO", last.Level)
	assert.Equal(t, last.Time.UTC().Format("15:04:05"), last.Clock)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/logs", nil).Code)
	assert.Empty(t, f.timer.Logs())
}

func TestHandlers_VariablesKeepInsertionOrder(t *testing.T) {
	f := newFixture(t)
	f.timer.SetVariable("b", "1")
	f.timer.SetVariable("a", "2")
	f.timer.SetVariable("b", "3")

	vars := decode[[]timer.Variable](t, f.do(t, http.MethodGet, "/v1/variables", nil))
	assert.Equal(t, []timer.Variable{{Key: "b", Value: "3"}, {Key: "a", Value: "2"}}, vars)
}

func TestHandlers_ProcessesEmptyList(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/v1/processes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	f.tel.Recorder().SetProcesses([]telemetry.Process{{ID: 42, Path: "/usr/bin/game"}})
	procs := decode[[]telemetry.Process](t, f.do(t, http.MethodGet, "/v1/processes", nil))
	assert.Equal(t, []telemetry.Process{{ID: 42, Path: "/usr/bin/game"}}, procs)
}

func TestHandlers_SettingsRequireModule(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodGet, "/v1/settings", nil).Code)
	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodGet, "/v1/settings/widgets", nil).Code)
}

func TestHandlers_SettingsETagIsHash(t *testing.T) {
	f := newFixture(t)
	inst := f.load(t, "module")
	inst.Settings().Set("split_on_boss", settings.Bool(true))

	w := f.do(t, http.MethodGet, "/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)

	sum, err := settings.Hash(inst.Settings().Load())
	require.NoError(t, err)
	assert.Equal(t, `"`+sum+`"`, w.Header().Get("ETag"))
	assert.JSONEq(t, `{"split_on_boss":true}`, w.Body.String())
}

func TestHandlers_SetSettingKeepsIntegers(t *testing.T) {
	f := newFixture(t)
	inst := f.load(t, "module")

	w := f.do(t, http.MethodPut, "/v1/settings/count", map[string]any{"value": 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	v, ok := inst.Settings().Load().Get("count")
	require.True(t, ok)
	assert.Equal(t, settings.Int(3), v)
}

func TestHandlers_SetSettingRejectsNull(t *testing.T) {
	f := newFixture(t)
	f.load(t, "module")

	w := f.do(t, http.MethodPut, "/v1/settings/count", map[string]any{"value": nil})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlers_SetSettingIfMatch(t *testing.T) {
	f := newFixture(t)
	inst := f.load(t, "module")

	etag := f.do(t, http.MethodGet, "/v1/settings", nil).Header().Get("ETag")
	require.NotEmpty(t, etag)

	// The module edits settings between the read and the write.
	inst.Settings().Set("module_side", settings.String("x"))

	w := f.do(t, http.MethodPut, "/v1/settings/user_side", map[string]any{"value": "y"}, "If-Match", etag)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	_, ok := inst.Settings().Load().Get("user_side")
	assert.False(t, ok)

	etag = f.do(t, http.MethodGet, "/v1/settings", nil).Header().Get("ETag")
	w = f.do(t, http.MethodPut, "/v1/settings/user_side", map[string]any{"value": "y"}, "If-Match", etag)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEqual(t, etag, w.Header().Get("ETag"))

	m := inst.Settings().Load()
	assert.Equal(t, []string{"module_side", "user_side"}, m.Keys())
}

func TestHandlers_ResetSettings(t *testing.T) {
	f := newFixture(t)
	inst := f.load(t, "module")
	inst.Settings().Set("a", settings.Int(1))

	w := f.do(t, http.MethodDelete, "/v1/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "{}", w.Body.String())
	assert.Equal(t, 0, inst.Settings().Load().Len())
}

func TestHandlers_Widgets(t *testing.T) {
	f := newFixture(t)
	f.engine.Configure = func(fi *testutil.FakeInstance) {
		fi.WidgetList = []settings.Widget{{Key: "start", Description: "Start on reset", Kind: settings.WidgetBool, DefaultBool: true}}
	}
	f.load(t, "module")

	widgets := decode[[]settings.Widget](t, f.do(t, http.MethodGet, "/v1/settings/widgets", nil))
	require.Len(t, widgets, 1)
	assert.Equal(t, "start", widgets[0].Key)
	assert.Equal(t, settings.WidgetBool, widgets[0].Kind)
}

func TestHandlers_PerformanceAndSlowest(t *testing.T) {
	f := newFixture(t)
	rec := f.tel.Recorder()
	rec.Tick(2*time.Millisecond, false)
	rec.Tick(5*time.Millisecond, false)

	perf := decode[telemetry.Performance](t, f.do(t, http.MethodGet, "/v1/performance", nil))
	assert.Equal(t, int64(2), perf.Count)
	assert.NotEmpty(t, perf.Bars)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/performance", nil).Code)
	assert.Equal(t, int64(0), f.tel.Performance().Count)

	require.Equal(t, 5*time.Millisecond, f.tel.SlowestTick())
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/telemetry/slowest", nil).Code)
	assert.Equal(t, time.Duration(0), f.tel.SlowestTick())
}

func TestNewRouter_ServesMetrics(t *testing.T) {
	f := newFixture(t)
	f.tel.Recorder().Tick(time.Millisecond, true)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, "splithost_ticks_total 1"), body)
	assert.True(t, strings.Contains(body, "splithost_tick_failures_total 1"), body)
}
