package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"github.com/roach88/splithost/internal/host"
	"github.com/roach88/splithost/internal/module"
	"github.com/roach88/splithost/internal/settings"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/timer"
)

// Handlers serves the control surface over one host.
type Handlers struct {
	host      *host.Host
	handle    *module.Handle
	timer     *timer.Timer
	telemetry *telemetry.State
	dumpPath  string
	location  *time.Location
	logger    *slog.Logger
}

// Option configures Handlers.
type Option func(*Handlers)

// WithDumpPath sets the default memory dump target.
func WithDumpPath(path string) Option {
	return func(h *Handlers) {
		h.dumpPath = path
	}
}

// WithLocation sets the zone log clocks are rendered in. Defaults to local time.
func WithLocation(loc *time.Location) Option {
	return func(h *Handlers) {
		h.location = loc
	}
}

// WithLogger sets the slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handlers) {
		h.logger = logger
	}
}

// NewHandlers creates handlers over the host's shared state.
func NewHandlers(hst *host.Host, handle *module.Handle, t *timer.Timer, tel *telemetry.State, opts ...Option) *Handlers {
	h := &Handlers{
		host:      hst,
		handle:    handle,
		timer:     t,
		telemetry: tel,
		dumpPath:  host.DefaultDumpPath,
		location:  time.Local,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleStatus handles GET /v1/status.
func (h *Handlers) HandleStatus(c *gin.Context) {
	snap := h.telemetry.Snapshot()
	resp := StatusResponse{
		Status:    h.host.Status(),
		Timer:     h.timer.Snapshot(),
		Telemetry: snap,
		Memory:    humanize.IBytes(uint64(max(snap.MemorySize, 0))),
	}
	if snap.TickRate > 0 {
		resp.TickRateHz = float64(time.Second) / float64(snap.TickRate)
	}
	c.JSON(http.StatusOK, resp)
}

// HandleLoad handles POST /v1/module/load.
func (h *Handlers) HandleLoad(c *gin.Context) {
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "path is required"})
		return
	}
	h.action(c, "load", h.host.Load(req.Path))
}

// HandleReload handles POST /v1/module/reload.
func (h *Handlers) HandleReload(c *gin.Context) {
	h.action(c, "reload", h.host.Reload())
}

// HandleRestart handles POST /v1/module/restart.
func (h *Handlers) HandleRestart(c *gin.Context) {
	h.action(c, "restart", h.host.Restart())
}

// HandleKill handles POST /v1/module/kill.
func (h *Handlers) HandleKill(c *gin.Context) {
	if !h.host.Kill() {
		h.fail(c, fmt.Errorf("kill: %w", host.ErrNoModule))
		return
	}
	c.JSON(http.StatusOK, ActionResponse{OK: true})
}

// HandleDump handles POST /v1/module/dump. The body is optional; without a
// path the configured dump path is used.
func (h *Handlers) HandleDump(c *gin.Context) {
	var req PathRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
			return
		}
	}
	path := req.Path
	if path == "" {
		path = h.dumpPath
	}
	n, err := h.host.DumpMemory(path)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, DumpResponse{Path: path, Bytes: n, Size: humanize.IBytes(uint64(n))})
}

// HandleScript handles POST /v1/script.
func (h *Handlers) HandleScript(c *gin.Context) {
	var req PathRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Path == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "path is required"})
		return
	}
	h.action(c, "script", h.host.SetScriptPath(req.Path))
}

// HandleTimerStart handles POST /v1/timer/start.
func (h *Handlers) HandleTimerStart(c *gin.Context) {
	h.timer.Start()
	c.JSON(http.StatusOK, h.timer.Snapshot())
}

// HandleTimerReset handles POST /v1/timer/reset.
func (h *Handlers) HandleTimerReset(c *gin.Context) {
	h.timer.Reset()
	c.JSON(http.StatusOK, h.timer.Snapshot())
}

// HandleLogs handles GET /v1/logs.
func (h *Handlers) HandleLogs(c *gin.Context) {
	entries := h.timer.Logs()
	out := make([]LogEntry, len(entries))
	for i, e := range entries {
		out[i] = LogEntry{
			Time:    e.Time,
			Clock:   e.Clock(h.location),
			Message: e.Message,
			Kind:    e.Kind.String(),
			Level:   e.Level.String(),
		}
	}
	c.JSON(http.StatusOK, out)
}

// HandleClearLogs handles DELETE /v1/logs.
func (h *Handlers) HandleClearLogs(c *gin.Context) {
	h.timer.ClearLogs()
	c.Status(http.StatusNoContent)
}

// HandleVariables handles GET /v1/variables. Order is insertion order.
func (h *Handlers) HandleVariables(c *gin.Context) {
	c.JSON(http.StatusOK, h.timer.Snapshot().Variables)
}

// HandleProcesses handles GET /v1/processes.
func (h *Handlers) HandleProcesses(c *gin.Context) {
	procs := h.telemetry.Processes()
	if procs == nil {
		procs = []telemetry.Process{}
	}
	c.JSON(http.StatusOK, procs)
}

// HandleSettings handles GET /v1/settings. The ETag is the snapshot hash.
func (h *Handlers) HandleSettings(c *gin.Context) {
	store, ok := h.settingsStore(c)
	if !ok {
		return
	}
	h.writeSettings(c, store.Load())
}

// HandleSetSetting handles PUT /v1/settings/:key with body {"value": ...}.
//
// With If-Match the edit is a single compare-and-swap against the snapshot
// carrying that ETag and fails with 412 when the settings moved on.
// Without it the edit retries until it lands.
func (h *Handlers) HandleSetSetting(c *gin.Context) {
	store, ok := h.settingsStore(c)
	if !ok {
		return
	}
	key := c.Param("key")
	value, err := decodeValue(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	match := strings.Trim(c.GetHeader("If-Match"), `"`)
	if match == "" {
		h.writeSettings(c, store.Set(key, value))
		return
	}

	current := store.Load()
	sum, err := settings.Hash(current)
	if err != nil {
		h.fail(c, err)
		return
	}
	next := current.With(key, value)
	if sum != match || !store.CompareAndSwap(current, next) {
		c.JSON(http.StatusPreconditionFailed, ErrorResponse{Error: "settings changed concurrently"})
		return
	}
	h.writeSettings(c, next)
}

// HandleResetSettings handles DELETE /v1/settings.
func (h *Handlers) HandleResetSettings(c *gin.Context) {
	store, ok := h.settingsStore(c)
	if !ok {
		return
	}
	next, _ := store.Update(func(*settings.Map) *settings.Map {
		return settings.Empty()
	})
	h.writeSettings(c, next)
}

// HandleWidgets handles GET /v1/settings/widgets.
func (h *Handlers) HandleWidgets(c *gin.Context) {
	inst := h.handle.Load()
	if inst == nil {
		h.fail(c, host.ErrNoModule)
		return
	}
	widgets := inst.Widgets()
	if widgets == nil {
		widgets = []settings.Widget{}
	}
	c.JSON(http.StatusOK, widgets)
}

// HandlePerformance handles GET /v1/performance.
func (h *Handlers) HandlePerformance(c *gin.Context) {
	c.JSON(http.StatusOK, h.telemetry.Performance())
}

// HandleClearPerformance handles DELETE /v1/performance.
func (h *Handlers) HandleClearPerformance(c *gin.Context) {
	h.telemetry.ClearHistogram()
	c.Status(http.StatusNoContent)
}

// HandleResetSlowest handles DELETE /v1/telemetry/slowest.
func (h *Handlers) HandleResetSlowest(c *gin.Context) {
	h.telemetry.ResetSlowest()
	c.Status(http.StatusNoContent)
}

func (h *Handlers) action(c *gin.Context, name string, err error) {
	if err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Debug("api action", "action", name)
	c.JSON(http.StatusOK, ActionResponse{OK: true})
}

func (h *Handlers) settingsStore(c *gin.Context) (*settings.Store, bool) {
	inst := h.handle.Load()
	if inst == nil {
		h.fail(c, host.ErrNoModule)
		return nil, false
	}
	return inst.Settings(), true
}

func (h *Handlers) writeSettings(c *gin.Context, m *settings.Map) {
	sum, err := settings.Hash(m)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("ETag", `"`+sum+`"`)
	c.JSON(http.StatusOK, m)
}

// fail maps host errors onto status codes.
func (h *Handlers) fail(c *gin.Context, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var he *host.Error
	switch {
	case errors.Is(err, host.ErrNoModule):
		status = http.StatusConflict
	case errors.As(err, &he):
		resp.Code = string(he.Kind)
		switch he.Kind {
		case host.LoadError, host.InstantiateError:
			status = http.StatusUnprocessableEntity
		case host.LivenessTimeout:
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("api request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, resp)
}

// decodeValue reads {"value": ...} keeping integers distinct from floats.
func decodeValue(r io.Reader) (settings.Value, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var req struct {
		Value any `json:"value"`
	}
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}
	v, err := settings.FromAny(req.Value)
	if err != nil {
		return nil, fmt.Errorf("invalid value: %w", err)
	}
	return v, nil
}
