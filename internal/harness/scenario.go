package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted run of a module.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Module is the module file to load. Relative paths are resolved
	// against the scenario file.
	Module string `yaml:"module"`

	// Script is the optional auxiliary script handed to the module.
	Script string `yaml:"script,omitempty"`

	// Settings seeds the first instance.
	Settings map[string]any `yaml:"settings,omitempty"`

	// Processes is the process table behind process.attach, keyed by name.
	Processes map[string]ProcessSpec `yaml:"processes,omitempty"`

	Steps []Step `yaml:"steps"`
}

// ProcessSpec is one entry of the static process table.
type ProcessSpec struct {
	ID   int64  `yaml:"id"`
	Path string `yaml:"path"`
}

// Step is one scenario step. At most one of Tick, Action, Set and Exit is
// set; Expect may accompany any of them.
type Step struct {
	Tick   int            `yaml:"tick,omitempty"`
	Action string         `yaml:"action,omitempty"`
	Set    map[string]any `yaml:"set,omitempty"`
	Exit   string         `yaml:"exit,omitempty"`
	Expect *Expect        `yaml:"expect,omitempty"`
}

// Expect is a partial match against the state after a step. Unset fields
// are not checked.
type Expect struct {
	Phase         string            `yaml:"phase,omitempty"`
	SplitIndex    *int              `yaml:"split_index,omitempty"`
	GameTime      string            `yaml:"game_time,omitempty"`
	GameTimePhase string            `yaml:"game_time_phase,omitempty"`
	Variables     map[string]string `yaml:"variables,omitempty"`
	Settings      map[string]any    `yaml:"settings,omitempty"`

	// Logs lists messages that must appear in the session log.
	Logs []string `yaml:"logs,omitempty"`

	// Handles is the expected number of attached processes.
	Handles *int `yaml:"handles,omitempty"`
}

// Step actions.
const (
	ActionStart     = "start"
	ActionSplit     = "split"
	ActionSkipSplit = "skip_split"
	ActionUndoSplit = "undo_split"
	ActionReset     = "reset"
	ActionEnd       = "end"
	ActionReload    = "reload"
	ActionRestart   = "restart"
	ActionKill      = "kill"
	ActionClearLogs = "clear_logs"
)

var validActions = map[string]bool{
	ActionStart: true, ActionSplit: true, ActionSkipSplit: true,
	ActionUndoSplit: true, ActionReset: true, ActionEnd: true,
	ActionReload: true, ActionRestart: true, ActionKill: true,
	ActionClearLogs: true,
}

// LoadScenario reads and validates a scenario file, resolving module and
// script paths against the file's directory. Unknown fields are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	base := filepath.Dir(path)
	scenario.Module = resolve(base, scenario.Module)
	scenario.Script = resolve(base, scenario.Script)

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func resolve(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}

// validateScenario checks required fields and step shapes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Module == "" {
		return fmt.Errorf("module is required")
	}
	if _, err := os.Stat(s.Module); err != nil {
		return fmt.Errorf("module file not found: %s", s.Module)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	ops := 0
	if st.Tick != 0 {
		ops++
	}
	if st.Action != "" {
		ops++
	}
	if st.Set != nil {
		ops++
	}
	if st.Exit != "" {
		ops++
	}

	switch {
	case ops > 1:
		return fmt.Errorf("steps[%d]: only one of tick, action, set, exit may be given", index)
	case ops == 0 && st.Expect == nil:
		return fmt.Errorf("steps[%d]: step is empty", index)
	case st.Tick < 0:
		return fmt.Errorf("steps[%d]: tick must be positive", index)
	case st.Action != "" && !validActions[st.Action]:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}

	if e := st.Expect; e != nil {
		if e.GameTime != "" {
			if _, err := time.ParseDuration(e.GameTime); err != nil {
				return fmt.Errorf("steps[%d].expect: invalid game_time: %w", index, err)
			}
		}
		for _, ln := range e.Logs {
			if strings.TrimSpace(ln) == "" {
				return fmt.Errorf("steps[%d].expect: empty log message", index)
			}
		}
	}
	return nil
}

// FindScenarios lists the YAML files under dir, optionally filtered by a
// glob over the base name without extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}
