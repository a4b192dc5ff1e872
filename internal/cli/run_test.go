package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/splithost/internal/journal"
	"github.com/roach88/splithost/internal/testutil"
)

func TestRunCommand_JournalsSession(t *testing.T) {
	dir := t.TempDir()
	modulePath := writeModule(t, dir, "splitter.lua", startSplitModule)
	dbPath := filepath.Join(dir, "session.db")

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text"},
		IDs:         testutil.NewFixedIDGenerator("run-1"),
	}
	cmd := newRunCommand(opts)
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--listen", "", "--no-watch", "--journal", dbPath, modulePath})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.NoError(t, cmd.ExecuteContext(ctx))
	assert.Contains(t, out.String(), "Host started.")

	st, err := journal.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	sessions, err := st.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "run-1", sessions[0].ID)
	assert.Equal(t, modulePath, sessions[0].ModulePath)

	entries, err := st.Entries(context.Background(), "run-1")
	require.NoError(t, err)
	var messages []string
	for _, e := range entries {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "Module loaded.")
	assert.Contains(t, messages, "Timer started.")
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	t.Setenv("SPLITHOST_LIVENESS_ATTEMPTS", "0")

	cmd := newRunCommand(&RunOptions{RootOptions: &RootOptions{Format: "text"}})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--listen", "", "--no-watch"})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "liveness attempts must be at least 1")
}

func TestRunCommand_MissingSettingsFile(t *testing.T) {
	cmd := newRunCommand(&RunOptions{RootOptions: &RootOptions{Format: "text"}})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--listen", "", "--no-watch", "--settings", filepath.Join(t.TempDir(), "absent.yaml")})

	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
