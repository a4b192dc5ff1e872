package watch

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	mu      sync.Mutex
	module  string
	script  string
	reloads int
	scripts []string
}

func (f *fakeHost) ModulePath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.module
}

func (f *fakeHost) ScriptPath() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.script
}

func (f *fakeHost) Reload() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reloads++
	return nil
}

func (f *fakeHost) SetScriptPath(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, p)
	return nil
}

func (f *fakeHost) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reloads, len(f.scripts)
}

func startWatcher(t *testing.T, h *fakeHost) {
	t.Helper()
	w, err := New(h, 20*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give Run a moment to register the directories.
	time.Sleep(50 * time.Millisecond)
}

func TestWatcher_ModuleChangeReloads(t *testing.T) {
	dir := t.TempDir()
	mod := filepath.Join(dir, "split.lua")
	require.NoError(t, os.WriteFile(mod, []byte("v1"), 0o644))
	h := &fakeHost{module: mod}
	startWatcher(t, h)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(mod, []byte("v2"), 0o644))
	}

	assert.Eventually(t, func() bool {
		r, _ := h.counts()
		return r >= 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	r, s := h.counts()
	assert.Equal(t, 1, r, "a burst of writes is one reload")
	assert.Equal(t, 0, s)
}

func TestWatcher_ScriptChangeRestarts(t *testing.T) {
	dir := t.TempDir()
	mod := filepath.Join(dir, "split.lua")
	script := filepath.Join(dir, "route.txt")
	require.NoError(t, os.WriteFile(mod, []byte("v1"), 0o644))
	require.NoError(t, os.WriteFile(script, []byte("a"), 0o644))
	h := &fakeHost{module: mod, script: script}
	startWatcher(t, h)

	require.NoError(t, os.WriteFile(script, []byte("b"), 0o644))

	assert.Eventually(t, func() bool {
		_, s := h.counts()
		return s >= 1
	}, 2*time.Second, 10*time.Millisecond)
	r, _ := h.counts()
	assert.Equal(t, 0, r)
	h.mu.Lock()
	assert.Equal(t, script, h.scripts[0])
	h.mu.Unlock()
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	mod := filepath.Join(dir, "split.lua")
	require.NoError(t, os.WriteFile(mod, []byte("v1"), 0o644))
	h := &fakeHost{module: mod}
	startWatcher(t, h)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)

	r, s := h.counts()
	assert.Equal(t, 0, r)
	assert.Equal(t, 0, s)
}

func TestWatcher_NothingLoaded(t *testing.T) {
	h := &fakeHost{}
	w, err := New(h, 0, nil)
	require.NoError(t, err)
	w.Sync()
	assert.Empty(t, w.dirs)
	require.NoError(t, w.fsw.Close())
}
