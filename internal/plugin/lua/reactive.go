// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/ufitools/widgethost/internal/state"
)

// stateTypeName is the metatable name of state proxies.
const stateTypeName = "widgethost.state"

// registerStateType installs the proxy metatable and the reactive()
// constructor.
//
// A proxy reads and writes the top-level keys of a state.Store. Assigning a
// key notifies the store's watchers, which is what schedules a redraw.
// Assigning nil deletes the key. Tables read through a proxy are copies:
// mutating one in place is not observed until it is assigned back.
func registerStateType(L *lua.LState) {
	mt := L.NewTypeMetatable(stateTypeName)
	L.SetField(mt, "__index", L.NewFunction(stateIndex))
	L.SetField(mt, "__newindex", L.NewFunction(stateNewIndex))
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("state"))
		return 1
	}))
	L.SetGlobal("reactive", L.NewFunction(reactive))
}

func newStateProxy(L *lua.LState, st *state.Store) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = st
	L.SetMetatable(ud, L.GetTypeMetatable(stateTypeName))
	return ud
}

// storeOf returns the store behind v, if v is a state proxy.
func storeOf(v lua.LValue) (*state.Store, bool) {
	ud, ok := v.(*lua.LUserData)
	if !ok {
		return nil, false
	}
	st, ok := ud.Value.(*state.Store)
	return st, ok
}

func checkState(L *lua.LState, n int) *state.Store {
	st, ok := storeOf(L.Get(n))
	if !ok {
		L.ArgError(n, "state expected")
	}
	return st
}

func stateIndex(L *lua.LState) int {
	st := checkState(L, 1)
	key := L.CheckString(2)
	v, ok := st.Get(key)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(toLua(L, v))
	return 1
}

func stateNewIndex(L *lua.LState) int {
	st := checkState(L, 1)
	key := L.CheckString(2)
	v := L.Get(3)
	if v == lua.LNil {
		st.Delete(key)
		return 0
	}
	st.Set(key, fromLua(v))
	return 0
}

// reactive(tbl) wraps a copy of tbl in a new observable state.
func reactive(L *lua.LState) int {
	initial := map[string]any{}
	if tbl, ok := L.Get(1).(*lua.LTable); ok {
		initial = tableToMap(tbl, 0)
	}
	L.Push(newStateProxy(L, state.New(initial)))
	return 1
}
