// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"fmt"
	"sort"

	lua "github.com/yuin/gopher-lua"

	"github.com/ufitools/widgethost/internal/state"
	"github.com/ufitools/widgethost/internal/telemetry"
)

// maxDepth bounds conversion of nested tables; self-referencing tables are
// cut off there.
const maxDepth = 32

// toLua converts a JSON-compatible Go value to Lua.
func toLua(L *lua.LState, v any) lua.LValue {
	return toLuaDepth(L, v, 0)
}

func toLuaDepth(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxDepth {
		return lua.LNil
	}
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return t
	case string:
		return lua.LString(t)
	case []byte:
		return lua.LString(string(t))
	case bool:
		return lua.LBool(t)
	case float64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case uint64:
		return lua.LNumber(t)
	case map[string]any:
		tbl := L.CreateTable(0, len(t))
		for k, item := range t {
			tbl.RawSetString(k, toLuaDepth(L, item, depth+1))
		}
		return tbl
	case []any:
		tbl := L.CreateTable(len(t), 0)
		for _, item := range t {
			tbl.Append(toLuaDepth(L, item, depth+1))
		}
		return tbl
	case []string:
		tbl := L.CreateTable(len(t), 0)
		for _, item := range t {
			tbl.Append(lua.LString(item))
		}
		return tbl
	case telemetry.Sample:
		return toLuaDepth(L, t.Map(), depth)
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// fromLua converts a Lua value to a JSON-compatible Go value. Functions and
// other non-data values become nil.
func fromLua(v lua.LValue) any {
	return fromLuaDepth(v, 0)
}

func fromLuaDepth(v lua.LValue, depth int) any {
	if depth > maxDepth {
		return nil
	}
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LNumber:
		return float64(t)
	case lua.LString:
		return string(t)
	case *lua.LTable:
		return tableToAny(t, depth)
	case *lua.LUserData:
		if st, ok := t.Value.(*state.Store); ok {
			return st.Snapshot()
		}
		return nil
	default:
		return nil
	}
}

// tableToAny returns a []any for a table that is a proper sequence and a
// map[string]any otherwise.
func tableToAny(tbl *lua.LTable, depth int) any {
	n := tbl.Len()
	count := 0
	tbl.ForEach(func(lua.LValue, lua.LValue) { count++ })

	if n > 0 && count == n {
		out := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			out = append(out, fromLuaDepth(tbl.RawGetInt(i), depth+1))
		}
		return out
	}
	return tableToMap(tbl, depth)
}

func tableToMap(tbl *lua.LTable, depth int) map[string]any {
	out := make(map[string]any)
	tbl.ForEach(func(k, v lua.LValue) {
		if _, fn := v.(*lua.LFunction); fn {
			return
		}
		out[k.String()] = fromLuaDepth(v, depth+1)
	})
	return out
}

// functions collects the function-valued string keys of tbl.
func functions(tbl *lua.LTable) map[string]*lua.LFunction {
	out := make(map[string]*lua.LFunction)
	tbl.ForEach(func(k, v lua.LValue) {
		name, ok := k.(lua.LString)
		if !ok {
			return
		}
		if fn, ok := v.(*lua.LFunction); ok {
			out[string(name)] = fn
		}
	})
	return out
}

func sortedNames(m map[string]*lua.LFunction) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
