// Package watch reloads the module when its file changes and restarts it
// when the auxiliary script changes.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// syncInterval is how often the watched directories are re-derived from
// the host's current paths.
const syncInterval = time.Second

// Reloader is the part of the host the watcher drives.
type Reloader interface {
	ModulePath() string
	ScriptPath() string
	Reload() error
	SetScriptPath(path string) error
}

// Watcher watches the directories holding the module and the script.
// Directories rather than files are watched so atomic-rename saves are
// seen.
type Watcher struct {
	host     Reloader
	fsw      *fsnotify.Watcher
	debounce time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	dirs map[string]bool
}

// New creates a watcher. Call Run to start it.
func New(host Reloader, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		host:     host,
		fsw:      fsw,
		debounce: debounce,
		logger:   logger,
		dirs:     make(map[string]bool),
	}, nil
}

// Sync starts watching the directories of the current module and script.
// Directories no longer needed are dropped.
func (w *Watcher) Sync() {
	want := map[string]bool{}
	for _, p := range []string{w.host.ModulePath(), w.host.ScriptPath()} {
		if p == "" {
			continue
		}
		want[filepath.Dir(absPath(p))] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for dir := range w.dirs {
		if !want[dir] {
			_ = w.fsw.Remove(dir)
			delete(w.dirs, dir)
		}
	}
	for dir := range want {
		if w.dirs[dir] {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Warn("watch directory failed", "dir", dir, "error", err)
			continue
		}
		w.dirs[dir] = true
	}
}

// Run dispatches file changes until ctx is cancelled, then closes the
// underlying watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	w.Sync()

	resync := time.NewTicker(syncInterval)
	defer resync.Stop()

	var moduleChanged, scriptChanged bool
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case <-resync.C:
			w.Sync()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			name := absPath(ev.Name)
			switch name {
			case absPath(w.host.ModulePath()):
				moduleChanged = true
			case absPath(w.host.ScriptPath()):
				scriptChanged = true
			default:
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("file watcher error", "error", err)

		case <-timerC:
			timer, timerC = nil, nil
			w.dispatch(moduleChanged, scriptChanged)
			moduleChanged, scriptChanged = false, false
		}
	}
}

// dispatch reloads the module, or restarts it for a script change. A
// module reload already picks up the current script.
func (w *Watcher) dispatch(moduleChanged, scriptChanged bool) {
	switch {
	case moduleChanged:
		w.logger.Info("module changed on disk, reloading", "path", w.host.ModulePath())
		if err := w.host.Reload(); err != nil {
			w.logger.Warn("auto reload failed", "error", err)
		}
	case scriptChanged:
		path := w.host.ScriptPath()
		w.logger.Info("script changed on disk, restarting", "path", path)
		if err := w.host.SetScriptPath(path); err != nil {
			w.logger.Warn("script reload failed", "error", err)
		}
	}
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
