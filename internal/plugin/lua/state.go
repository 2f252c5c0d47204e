// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package lua runs widget plugins written in Lua inside a sandboxed state.
package lua

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// safeLibrary represents a Lua library that is safe to load in sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns the list of libraries safe to load.
// Safe: base, table, string, math.
// Blocked: os, io, debug, package, coroutine, channel.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

const (
	defaultCallStackSize = 120
	defaultRegistrySize  = 1024 * 20
)

// StateFactory creates sandboxed Lua states with only safe libraries.
type StateFactory struct {
	// libraries allows overriding the default safe libraries for testing.
	libraries     []safeLibrary
	callStackSize int
	registrySize  int
}

// NewStateFactory creates a new state factory.
func NewStateFactory() *StateFactory {
	return &StateFactory{
		libraries:     defaultSafeLibraries(),
		callStackSize: defaultCallStackSize,
		registrySize:  defaultRegistrySize,
	}
}

// unsafeBaseFunctions are base library functions removed from every state.
// The loaders reach the filesystem or compile arbitrary chunks; print writes
// straight to the host's stdout.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "print"}

// NewState creates a fresh Lua state with only safe libraries loaded and the
// widget state type registered. Contexts are bound per call by the runtime,
// so ctx is only checked for cancellation here.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: f.callStackSize,
		RegistrySize:  f.registrySize,
	})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}

	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	registerStateType(L)
	return L, nil
}
