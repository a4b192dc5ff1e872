package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const splitScenario = `name: start_and_split
description: "Module starts the run on the first tick, then splits"
module: splitter.lua
steps:
  - tick: 2
    expect:
      phase: running
      split_index: 1
`

func scenarioDir(t *testing.T, scenario string) string {
	t.Helper()
	dir := t.TempDir()
	writeModule(t, dir, "splitter.lua", startSplitModule)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "start_and_split.yaml"), []byte(scenario), 0o644))
	return dir
}

func TestTestCommand_UpdateThenMatch(t *testing.T) {
	dir := scenarioDir(t, splitScenario)

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ start_and_split (golden updated)")

	golden := filepath.Join(dir, "golden", "start_and_split.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario":"start_and_split"`)

	out, err = execute(t, "--format", "json", "test", dir)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "match", resp.Data.Scenarios[0].Golden)
}

func TestTestCommand_GoldenMismatch(t *testing.T) {
	dir := scenarioDir(t, splitScenario)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "start_and_split.golden"), []byte(`{}`), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ start_and_split")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommand_ExpectationFailure(t *testing.T) {
	dir := scenarioDir(t, `name: wrong_split
description: "Expects a split that never happens"
module: splitter.lua
steps:
  - tick: 1
    expect:
      split_index: 3
`)

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "split_index: expected 3, got 0")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestTestCommand_Filter(t *testing.T) {
	dir := scenarioDir(t, splitScenario)

	out, err := execute(t, "test", dir, "--filter", "level_*")
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")
}

func TestTestCommand_MissingDirectory(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommand_InvalidScenario(t *testing.T) {
	dir := scenarioDir(t, "name: broken\n")

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "failed to load scenario")
}
