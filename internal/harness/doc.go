// Package harness runs scripted scenarios against real modules.
//
// A scenario loads one module into a host with a manual clock, a static
// process table and the real tick scheduler, then walks a list of steps.
// Every timer transition and session log entry is recorded in a trace
// that can be compared against a golden file.
//
// # Scenario Format
//
//	name: start_and_split
//	description: "Module starts the run, then splits"
//	module: ../modules/start_split.lua
//	script: optional/aux/script.txt
//	settings:
//	  split_on_boss: true
//	processes:
//	  game.exe: { id: 100, path: /games/game.exe }
//	steps:
//	  - tick: 2
//	  - action: reset
//	  - set: { split_on_boss: false }
//	  - exit: game.exe
//	  - expect:
//	      phase: running
//	      split_index: 1
//	      game_time: 1.5s
//	      game_time_phase: paused
//	      variables: { level: "2" }
//	      settings: { split_on_boss: false }
//	      logs: ["Module loaded."]
//	      handles: 1
//
// Module and script paths are relative to the scenario file.
//
// # Steps
//
//   - tick: run the scheduler N times, advancing the clock by each interval
//   - action: a control-side action; timer actions (start, split,
//     skip_split, undo_split, reset, end) or lifecycle actions (reload,
//     restart, kill, clear_logs)
//   - set: edit settings through the compare-and-swap protocol
//   - exit: remove a process from the table, as if it exited
//   - expect: check the current state; may accompany any other step and is
//     evaluated after it
//
// # Determinism
//
// The clock starts at a fixed instant and only moves with ticks, so traces
// are identical across runs. The trace carries no timestamps.
package harness
