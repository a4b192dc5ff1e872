// Package procscan finds processes for modules to attach to.
package procscan

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/prometheus/procfs"

	"github.com/roach88/splithost/internal/telemetry"
)

// Finder looks processes up by name.
type Finder interface {
	// Find returns the first process whose command name or executable
	// base name equals name.
	Find(name string) (telemetry.Process, bool, error)
	// Alive reports whether pid still exists.
	Alive(pid int64) bool
}

// ProcFS is a Finder backed by a proc filesystem.
type ProcFS struct {
	fs procfs.FS
}

// NewProcFS opens the proc filesystem mounted at mountPoint
// (procfs.DefaultMountPoint when empty).
func NewProcFS(mountPoint string) (*ProcFS, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}
	return &ProcFS{fs: fs}, nil
}

// Find implements Finder. Processes that vanish mid-scan are skipped.
func (p *ProcFS) Find(name string) (telemetry.Process, bool, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return telemetry.Process{}, false, fmt.Errorf("list processes: %w", err)
	}
	for _, proc := range procs {
		exe, _ := proc.Executable()
		comm, err := proc.Comm()
		if err != nil {
			continue
		}
		if comm == name || (exe != "" && filepath.Base(exe) == name) {
			return telemetry.Process{ID: int64(proc.PID), Path: exe}, true, nil
		}
	}
	return telemetry.Process{}, false, nil
}

// Alive implements Finder.
func (p *ProcFS) Alive(pid int64) bool {
	_, err := p.fs.Proc(int(pid))
	return err == nil
}

// Static is a fixed process table, used by scenarios and tests.
type Static struct {
	mu    sync.Mutex
	procs map[string]telemetry.Process
}

// NewStatic creates a table keyed by process name.
func NewStatic(procs map[string]telemetry.Process) *Static {
	s := &Static{procs: make(map[string]telemetry.Process, len(procs))}
	for name, p := range procs {
		s.procs[name] = p
	}
	return s
}

// Find implements Finder.
func (s *Static) Find(name string) (telemetry.Process, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[name]
	return p, ok, nil
}

// Alive implements Finder.
func (s *Static) Alive(pid int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.procs {
		if p.ID == pid {
			return true
		}
	}
	return false
}

// Kill removes name from the table, as if the process exited.
func (s *Static) Kill(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.procs, name)
}
