package api

import (
	"time"

	"github.com/roach88/splithost/internal/host"
	"github.com/roach88/splithost/internal/telemetry"
	"github.com/roach88/splithost/internal/timer"
)

// ErrorResponse is the error body of every failed request.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the host error kind, when there is one.
	Code string `json:"code,omitempty"`
}

// PathRequest carries a file path for load, script and dump requests.
type PathRequest struct {
	Path string `json:"path"`
}

// StatusResponse is returned by GET /v1/status.
type StatusResponse struct {
	host.Status
	Timer     timer.State        `json:"timer"`
	Telemetry telemetry.Snapshot `json:"telemetry"`

	// TickRateHz is the current tick frequency, 0 before the first tick.
	TickRateHz float64 `json:"tick_rate_hz"`

	// Memory is the module memory size in human-readable form.
	Memory string `json:"memory"`
}

// LogEntry is one session log line as rendered by the API.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Clock   string    `json:"clock"`
	Message string    `json:"message"`
	Kind    string    `json:"kind"`
	Level   string    `json:"level"`
}

// DumpResponse is returned by POST /v1/module/dump.
type DumpResponse struct {
	Path  string `json:"path"`
	Bytes int    `json:"bytes"`
	Size  string `json:"size"`
}

// ActionResponse acknowledges a lifecycle or timer action.
type ActionResponse struct {
	OK bool `json:"ok"`
}
