package luamod

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"

	"github.com/roach88/splithost/internal/settings"
)

// maxDepth bounds nested tables in settings and the memory image.
const maxDepth = 8

// pushValue pushes a settings value as the matching Lua value.
func pushValue(l *lua.State, v settings.Value) {
	switch v := v.(type) {
	case settings.Bool:
		l.PushBoolean(bool(v))
	case settings.Int:
		l.PushInteger(int(v))
	case settings.Float:
		l.PushNumber(float64(v))
	case settings.String:
		l.PushString(string(v))
	case settings.List:
		l.CreateTable(len(v), 0)
		for n, item := range v {
			pushValue(l, item)
			l.RawSetInt(-2, n+1)
		}
	case *settings.Map:
		l.CreateTable(0, v.Len())
		for key, item := range v.All() {
			pushValue(l, item)
			l.SetField(-2, key)
		}
	default:
		l.PushNil()
	}
}

// toValue converts the Lua value at idx. Integral numbers become Int.
// Tables with keys 1..n become List, tables with string keys become a Map
// with keys in lexical order.
func toValue(l *lua.State, idx, depth int) (settings.Value, error) {
	idx = l.AbsIndex(idx)
	switch l.TypeOf(idx) {
	case lua.TypeBoolean:
		return settings.Bool(l.ToBoolean(idx)), nil
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return settings.Int(int64(n)), nil
		}
		return settings.Float(n), nil
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return settings.String(s), nil
	case lua.TypeTable:
		if depth >= maxDepth {
			return nil, fmt.Errorf("table nested deeper than %d", maxDepth)
		}
		return tableValue(l, idx, depth+1)
	default:
		return nil, fmt.Errorf("unsupported setting type %s", lua.TypeNameOf(l, idx))
	}
}

func tableValue(l *lua.State, idx, depth int) (settings.Value, error) {
	ints := map[int]settings.Value{}
	strs := map[string]settings.Value{}

	l.PushNil()
	for l.Next(idx) {
		v, err := toValue(l, -1, depth)
		if err != nil {
			l.Pop(2)
			return nil, err
		}
		switch l.TypeOf(-2) {
		case lua.TypeString:
			k, _ := l.ToString(-2)
			strs[k] = v
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			if n != math.Trunc(n) || n < 1 {
				l.Pop(2)
				return nil, fmt.Errorf("unsupported table key %v", n)
			}
			ints[int(n)] = v
		default:
			l.Pop(2)
			return nil, fmt.Errorf("unsupported table key type %s", lua.TypeNameOf(l, -2))
		}
		l.Pop(1)
	}

	switch {
	case len(ints) > 0 && len(strs) > 0:
		return nil, fmt.Errorf("table mixes list and map keys")
	case len(ints) > 0:
		list := make(settings.List, len(ints))
		for n := 1; n <= len(ints); n++ {
			v, ok := ints[n]
			if !ok {
				return nil, fmt.Errorf("list has a hole at %d", n)
			}
			list[n-1] = v
		}
		return list, nil
	default:
		b := settings.NewBuilder()
		keys := make([]string, 0, len(strs))
		for k := range strs {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			b.Set(k, strs[k])
		}
		return b.Map(), nil
	}
}

// choiceOptions reads a {key = description} table, sorted by key.
func choiceOptions(l *lua.State, idx int) []settings.Option {
	idx = l.AbsIndex(idx)
	var opts []settings.Option
	l.PushNil()
	for l.Next(idx) {
		if l.TypeOf(-2) == lua.TypeString {
			k, _ := l.ToString(-2)
			desc, _ := lua.ToStringMeta(l, -1)
			l.Pop(1)
			opts = append(opts, settings.Option{Key: k, Description: desc})
		}
		l.Pop(1)
	}
	slices.SortFunc(opts, func(a, b settings.Option) int { return strings.Compare(a.Key, b.Key) })
	return opts
}

// globalNames returns the string keys of the global table.
func globalNames(l *lua.State) map[string]bool {
	names := map[string]bool{}
	l.PushGlobalTable()
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) == lua.TypeString {
			k, _ := l.ToString(-2)
			names[k] = true
		}
		l.Pop(1)
	}
	l.Pop(1)
	return names
}

// renderGlobals renders every global not in baseline as "name = value"
// lines sorted by name. Tables render with sorted keys up to maxDepth;
// functions, userdata and threads render as their type name. The output
// is deterministic for a given module state.
func renderGlobals(l *lua.State, baseline map[string]bool) []byte {
	type entry struct{ name, value string }
	var entries []entry

	l.PushGlobalTable()
	l.PushNil()
	for l.Next(-2) {
		if l.TypeOf(-2) == lua.TypeString {
			k, _ := l.ToString(-2)
			if !baseline[k] {
				entries = append(entries, entry{k, renderValue(l, -1, 0)})
			}
		}
		l.Pop(1)
	}
	l.Pop(1)

	slices.SortFunc(entries, func(a, b entry) int { return strings.Compare(a.name, b.name) })
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.name)
		sb.WriteString(" = ")
		sb.WriteString(e.value)
		sb.WriteByte('\n')
	}
	return []byte(sb.String())
}

func renderValue(l *lua.State, idx, depth int) string {
	idx = l.AbsIndex(idx)
	switch l.TypeOf(idx) {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return strconv.FormatBool(l.ToBoolean(idx))
	case lua.TypeNumber:
		n, _ := l.ToNumber(idx)
		return strconv.FormatFloat(n, 'g', -1, 64)
	case lua.TypeString:
		s, _ := l.ToString(idx)
		return strconv.Quote(s)
	case lua.TypeTable:
		if depth >= maxDepth {
			return "{...}"
		}
		return renderTable(l, idx, depth+1)
	default:
		return lua.TypeNameOf(l, idx)
	}
}

func renderTable(l *lua.State, idx, depth int) string {
	type field struct{ key, value string }
	var fields []field
	l.PushNil()
	for l.Next(idx) {
		var key string
		switch l.TypeOf(-2) {
		case lua.TypeString:
			s, _ := l.ToString(-2)
			key = s
		case lua.TypeNumber:
			n, _ := l.ToNumber(-2)
			key = "[" + strconv.FormatFloat(n, 'g', -1, 64) + "]"
		default:
			key = "[" + lua.TypeNameOf(l, -2) + "]"
		}
		fields = append(fields, field{key, renderValue(l, -1, depth)})
		l.Pop(1)
	}
	slices.SortFunc(fields, func(a, b field) int { return strings.Compare(a.key, b.key) })

	parts := make([]string, len(fields))
	for n, f := range fields {
		parts[n] = f.key + " = " + f.value
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
