package timer

import (
	"fmt"
	"time"
)

// Phase is the run phase of the timer.
type Phase int

const (
	NotRunning Phase = iota
	Running
	Ended
)

var phaseNames = map[Phase]string{
	NotRunning: "not_running",
	Running:    "running",
	Ended:      "ended",
}

func (p Phase) String() string {
	if s, ok := phaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParsePhase is the inverse of Phase.String.
func ParsePhase(s string) (Phase, error) {
	for p, name := range phaseNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown timer phase %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Phase) UnmarshalText(b []byte) error {
	v, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// GameTimePhase tracks whether the module has taken over game time.
type GameTimePhase int

const (
	GameTimeNotInitialized GameTimePhase = iota
	GameTimePaused
	GameTimeRunning
)

var gameTimePhaseNames = map[GameTimePhase]string{
	GameTimeNotInitialized: "not_initialized",
	GameTimePaused:         "paused",
	GameTimeRunning:        "running",
}

func (p GameTimePhase) String() string {
	if s, ok := gameTimePhaseNames[p]; ok {
		return s
	}
	return fmt.Sprintf("game_time_phase(%d)", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p GameTimePhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ParseGameTimePhase is the inverse of GameTimePhase.String.
func ParseGameTimePhase(s string) (GameTimePhase, error) {
	for p, name := range gameTimePhaseNames {
		if name == s {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown game time phase %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *GameTimePhase) UnmarshalText(b []byte) error {
	v, err := ParseGameTimePhase(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Variable is one entry of the ordered variable mapping.
type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// State is a copy of the timer state, safe to retain without locking.
type State struct {
	Phase         Phase         `json:"phase"`
	SplitIndex    int           `json:"split_index"`
	GameTime      time.Duration `json:"game_time_ns"`
	GameTimePhase GameTimePhase `json:"game_time_phase"`
	Variables     []Variable    `json:"variables"`
}

// Variable looks up a variable by key.
func (s State) Variable(key string) (string, bool) {
	for _, v := range s.Variables {
		if v.Key == key {
			return v.Value, true
		}
	}
	return "", false
}

// variables is the insertion-ordered key/value store. Overwriting a key
// keeps its original position.
type variables struct {
	items []Variable
	index map[string]int
}

func (v *variables) set(key, value string) {
	if i, ok := v.index[key]; ok {
		v.items[i].Value = value
		return
	}
	if v.index == nil {
		v.index = make(map[string]int)
	}
	v.index[key] = len(v.items)
	v.items = append(v.items, Variable{Key: key, Value: value})
}

func (v *variables) clear() {
	v.items = nil
	v.index = nil
}

func (v *variables) snapshot() []Variable {
	out := make([]Variable, len(v.items))
	copy(out, v.items)
	return out
}
