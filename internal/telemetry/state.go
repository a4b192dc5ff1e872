package telemetry

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Smoothing factor of the tick time moving average.
const avgDecay = 0.999

// Histogram bounds in nanoseconds. Samples above the ceiling are clamped.
const (
	histogramMin     = 1
	histogramMax     = int64(time.Hour)
	histogramSigFigs = 3
)

// Process is one process the module currently observes.
type Process struct {
	ID   int64  `json:"id"`
	Path string `json:"path"`
}

// State is the shared telemetry handle. Create one per host with New and
// pass it explicitly; there is no package-level instance.
type State struct {
	tickRate atomic.Int64  // ns
	slowest  atomic.Int64  // ns
	avgBits  atomic.Uint64 // float64 seconds
	memory   atomic.Int64
	handles  atomic.Uint64
	ticks    atomic.Uint64
	failures atomic.Uint64

	mu        sync.Mutex
	histogram *hdrhistogram.Histogram
	processes []Process
}

// New creates an empty telemetry state.
func New() *State {
	return &State{
		histogram: hdrhistogram.New(histogramMin, histogramMax, histogramSigFigs),
	}
}

// Snapshot is a point-in-time copy of the scalar statistics.
type Snapshot struct {
	TickRate    time.Duration `json:"tick_rate_ns"`
	AvgTick     float64       `json:"avg_tick_seconds"`
	SlowestTick time.Duration `json:"slowest_tick_ns"`
	MemorySize  int64         `json:"memory_size"`
	HandleCount uint64        `json:"handle_count"`
	Ticks       uint64        `json:"ticks"`
	Failures    uint64        `json:"failures"`
}

// Snapshot reads every scalar statistic.
func (s *State) Snapshot() Snapshot {
	return Snapshot{
		TickRate:    s.TickRate(),
		AvgTick:     s.AvgTick(),
		SlowestTick: s.SlowestTick(),
		MemorySize:  s.memory.Load(),
		HandleCount: s.handles.Load(),
		Ticks:       s.ticks.Load(),
		Failures:    s.failures.Load(),
	}
}

// TickRate is the interval the scheduler currently runs at.
func (s *State) TickRate() time.Duration { return time.Duration(s.tickRate.Load()) }

// SlowestTick is the high-water mark of tick durations since the last reset.
func (s *State) SlowestTick() time.Duration { return time.Duration(s.slowest.Load()) }

// AvgTick is the moving average of tick durations, in seconds.
func (s *State) AvgTick() float64 { return math.Float64frombits(s.avgBits.Load()) }

// Processes returns a copy of the current process snapshot.
func (s *State) Processes() []Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.processes)
}

// Reset clears tick statistics, memory, handles and processes. The host
// calls it after every load, reload or restart.
func (s *State) Reset() {
	s.slowest.Store(0)
	s.avgBits.Store(0)
	s.memory.Store(0)
	s.handles.Store(0)
	s.mu.Lock()
	s.histogram.Reset()
	s.processes = nil
	s.mu.Unlock()
}

// ResetSlowest clears the slowest tick high-water mark.
func (s *State) ResetSlowest() {
	s.slowest.Store(0)
}

// ClearHistogram drops every recorded sample and the moving average.
func (s *State) ClearHistogram() {
	s.avgBits.Store(0)
	s.mu.Lock()
	s.histogram.Reset()
	s.mu.Unlock()
}

// Recorder is the write side of State. Only the tick scheduler holds one.
type Recorder struct {
	s *State
}

// Recorder returns the writer view of s.
func (s *State) Recorder() *Recorder {
	return &Recorder{s: s}
}

// Tick records one module update that took elapsed.
func (r *Recorder) Tick(elapsed time.Duration, failed bool) {
	s := r.s
	s.ticks.Add(1)
	if failed {
		s.failures.Add(1)
	}

	ns := int64(elapsed)
	for {
		cur := s.slowest.Load()
		if ns <= cur || s.slowest.CompareAndSwap(cur, ns) {
			break
		}
	}

	avg := avgDecay*math.Float64frombits(s.avgBits.Load()) + (1-avgDecay)*elapsed.Seconds()
	s.avgBits.Store(math.Float64bits(avg))

	sample := min(max(ns, histogramMin), histogramMax)
	s.mu.Lock()
	_ = s.histogram.RecordValue(sample)
	s.mu.Unlock()
}

// SetTickRate publishes the interval the scheduler will sleep for.
func (r *Recorder) SetTickRate(d time.Duration) { r.s.tickRate.Store(int64(d)) }

// SetMemory publishes the module's memory footprint in bytes.
func (r *Recorder) SetMemory(n int64) { r.s.memory.Store(n) }

// SetHandles publishes the module's handle count.
func (r *Recorder) SetHandles(n uint64) { r.s.handles.Store(n) }

// SetProcesses replaces the process snapshot wholesale.
func (r *Recorder) SetProcesses(ps []Process) {
	cp := slices.Clone(ps)
	r.s.mu.Lock()
	r.s.processes = cp
	r.s.mu.Unlock()
}

// ClearProcesses empties the process snapshot.
func (r *Recorder) ClearProcesses() {
	r.s.mu.Lock()
	r.s.processes = nil
	r.s.mu.Unlock()
}
