package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/splithost/internal/settings"
)

// Snapshot encodes a trace canonically for golden comparison. Log events
// carry no split index and transitions no message, so each kind only
// contributes the fields it owns.
func Snapshot(scenarioName string, trace []TraceEvent) ([]byte, error) {
	events := make(settings.List, len(trace))
	for i, ev := range trace {
		b := settings.NewBuilder().
			Set("step", settings.Int(ev.Step)).
			Set("type", settings.String(ev.Type))
		if ev.Type == TraceLog {
			b.Set("message", settings.String(ev.Message)).
				Set("kind", settings.String(ev.Kind)).
				Set("level", settings.String(ev.Level))
		} else {
			b.Set("action", settings.String(ev.Action)).
				Set("phase", settings.String(ev.Phase)).
				Set("split_index", settings.Int(ev.SplitIndex))
		}
		events[i] = b.Map()
	}

	doc := settings.NewBuilder().
		Set("scenario", settings.String(scenarioName)).
		Set("trace", events).
		Map()
	return settings.MarshalCanonical(doc)
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against the golden
// file named after scenarioName.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result.Trace)
	if err != nil {
		return err
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}
