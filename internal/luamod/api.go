package luamod

import (
	"log/slog"
	"strings"
	"time"

	"github.com/Shopify/go-lua"

	"github.com/roach88/splithost/internal/settings"
)

// register installs the capability tables and replaces print.
func (i *Instance) register(l *lua.State) {
	tables := []struct {
		name  string
		funcs []lua.RegistryFunction
	}{
		{"timer", i.timerFuncs()},
		{"runtime", i.runtimeFuncs()},
		{"settings", i.settingsFuncs()},
		{"process", i.processFuncs()},
	}
	for _, t := range tables {
		l.NewTable()
		lua.SetFunctions(l, t.funcs, 0)
		if t.name == "runtime" && i.scriptPath != "" {
			l.PushString(i.scriptPath)
			l.SetField(-2, "script_path")
		}
		l.SetGlobal(t.name)
	}

	l.PushGoFunction(i.print)
	l.SetGlobal("print")
}

func (i *Instance) timerFuncs() []lua.RegistryFunction {
	action := func(f func()) lua.Function {
		return func(*lua.State) int {
			f()
			return 0
		}
	}
	return []lua.RegistryFunction{
		{Name: "start", Function: action(i.timer.Start)},
		{Name: "split", Function: action(i.timer.Split)},
		{Name: "skip_split", Function: action(i.timer.SkipSplit)},
		{Name: "undo_split", Function: action(i.timer.UndoSplit)},
		{Name: "reset", Function: action(i.timer.Reset)},
		{Name: "pause_game_time", Function: action(i.timer.PauseGameTime)},
		{Name: "resume_game_time", Function: action(i.timer.ResumeGameTime)},
		{Name: "set_game_time", Function: func(l *lua.State) int {
			secs := lua.CheckNumber(l, 1)
			i.timer.SetGameTime(time.Duration(secs * float64(time.Second)))
			return 0
		}},
		{Name: "set_variable", Function: func(l *lua.State) int {
			i.timer.SetVariable(lua.CheckString(l, 1), lua.CheckString(l, 2))
			return 0
		}},
		{Name: "state", Function: func(l *lua.State) int {
			l.PushString(i.timer.Phase().String())
			return 1
		}},
	}
}

var logLevels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

func (i *Instance) runtimeFuncs() []lua.RegistryFunction {
	return []lua.RegistryFunction{
		{Name: "set_tick_rate", Function: func(l *lua.State) int {
			hz := lua.CheckNumber(l, 1)
			if hz <= 0 {
				lua.ArgumentError(l, 1, "tick rate must be positive")
			}
			i.rate = time.Duration(float64(time.Second) / hz)
			return 0
		}},
		{Name: "print_message", Function: func(l *lua.State) int {
			i.timer.LogModuleMessage(lua.CheckString(l, 1))
			return 0
		}},
		{Name: "log", Function: func(l *lua.State) int {
			name := strings.ToLower(lua.CheckString(l, 1))
			level, ok := logLevels[name]
			if !ok {
				lua.ArgumentError(l, 1, "unknown log level "+name)
			}
			i.timer.LogRuntimeMessage(lua.CheckString(l, 2), level)
			return 0
		}},
	}
}

// print mirrors Lua's print into the session log as a module message.
func (i *Instance) print(l *lua.State) int {
	n := l.Top()
	parts := make([]string, 0, n)
	for idx := 1; idx <= n; idx++ {
		s, _ := lua.ToStringMeta(l, idx)
		l.Pop(1)
		parts = append(parts, s)
	}
	i.timer.LogModuleMessage(strings.Join(parts, "\t"))
	return 0
}

func (i *Instance) settingsFuncs() []lua.RegistryFunction {
	return []lua.RegistryFunction{
		{Name: "get", Function: func(l *lua.State) int {
			v, ok := i.store.Load().Get(lua.CheckString(l, 1))
			if !ok {
				l.PushNil()
				return 1
			}
			pushValue(l, v)
			return 1
		}},
		{Name: "set", Function: func(l *lua.State) int {
			key := lua.CheckString(l, 1)
			if l.IsNoneOrNil(2) {
				i.store.Delete(key)
				return 0
			}
			v, err := toValue(l, 2, 0)
			if err != nil {
				lua.ArgumentError(l, 2, err.Error())
			}
			i.store.Set(key, v)
			return 0
		}},
		{Name: "add_bool", Function: func(l *lua.State) int {
			w := settings.Widget{
				Kind:        settings.WidgetBool,
				Key:         lua.CheckString(l, 1),
				Description: lua.CheckString(l, 2),
				DefaultBool: l.ToBoolean(3),
				Tooltip:     lua.OptString(l, 4, ""),
			}
			return i.pushWidget(l, w)
		}},
		{Name: "add_title", Function: func(l *lua.State) int {
			w := settings.Widget{
				Kind:         settings.WidgetTitle,
				Key:          lua.CheckString(l, 1),
				Description:  lua.CheckString(l, 2),
				HeadingLevel: lua.OptInteger(l, 3, 0),
			}
			return i.pushWidget(l, w)
		}},
		{Name: "add_choice", Function: func(l *lua.State) int {
			w := settings.Widget{
				Kind:        settings.WidgetChoice,
				Key:         lua.CheckString(l, 1),
				Description: lua.CheckString(l, 2),
				DefaultKey:  lua.CheckString(l, 3),
			}
			lua.CheckType(l, 4, lua.TypeTable)
			w.Options = choiceOptions(l, 4)
			return i.pushWidget(l, w)
		}},
		{Name: "add_file_select", Function: func(l *lua.State) int {
			w := settings.Widget{
				Kind:        settings.WidgetFileSelect,
				Key:         lua.CheckString(l, 1),
				Description: lua.CheckString(l, 2),
			}
			return i.pushWidget(l, w)
		}},
	}
}

// pushWidget records w and pushes its current value (nothing for titles).
func (i *Instance) pushWidget(l *lua.State, w settings.Widget) int {
	i.addWidget(w)
	v, ok := w.Current(i.store.Load())
	if !ok {
		l.PushNil()
		return 1
	}
	pushValue(l, v)
	return 1
}

func (i *Instance) processFuncs() []lua.RegistryFunction {
	return []lua.RegistryFunction{
		{Name: "attach", Function: func(l *lua.State) int {
			name := lua.CheckString(l, 1)
			if i.finder == nil {
				l.PushNil()
				return 1
			}
			p, ok, err := i.finder.Find(name)
			if err != nil {
				i.logger.Debug("process lookup failed", "name", name, "error", err)
			}
			if !ok {
				l.PushNil()
				return 1
			}
			h := i.nextHandle
			i.nextHandle++
			i.procs[h] = p
			l.PushInteger(h)
			return 1
		}},
		{Name: "detach", Function: func(l *lua.State) int {
			delete(i.procs, lua.CheckInteger(l, 1))
			return 0
		}},
		{Name: "is_open", Function: func(l *lua.State) int {
			p, ok := i.procs[lua.CheckInteger(l, 1)]
			l.PushBoolean(ok && i.finder != nil && i.finder.Alive(p.ID))
			return 1
		}},
		{Name: "pid", Function: func(l *lua.State) int {
			p, ok := i.procs[lua.CheckInteger(l, 1)]
			if !ok {
				l.PushNil()
				return 1
			}
			l.PushInteger(int(p.ID))
			return 1
		}},
	}
}
