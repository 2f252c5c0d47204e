// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"context"
	"log/slog"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/ufitools/widgethost/internal/notify"
	"github.com/ufitools/widgethost/pkg/errutil"
)

// pushError pushes nil followed by an error string to the Lua stack and returns 2.
// This is the standard pattern for returning errors from host functions.
func pushError(L *lua.LState, err error) int {
	L.Push(lua.LNil)
	L.Push(lua.LString(err.Error()))
	return 2
}

// pushSuccess pushes a value followed by nil (no error) to the Lua stack and returns 2.
func pushSuccess(L *lua.LState, value lua.LValue) int {
	L.Push(value)
	L.Push(lua.LNil)
	return 2
}

// ctxOf returns the context bound to the running call.
func ctxOf(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// installAPI builds the api table and sets it as a global. Every capability
// goes through the instance bridge; failures come back as nil, err pairs.
func (s *script) installAPI() *lua.LTable {
	L := s.L
	mod := L.NewTable()
	L.SetFuncs(mod, map[string]lua.LGFunction{
		"fetch":          s.fetch,
		"exec":           s.exec,
		"storage_get":    s.storageGet,
		"storage_set":    s.storageSet,
		"storage_remove": s.storageRemove,
		"notify":         s.notify,
		"set_interval":   s.setInterval,
		"log":            s.log,
	})
	if s.env.Surface != nil {
		L.SetField(mod, "open_surface", L.NewFunction(s.openSurface))
		L.SetField(mod, "close_surface", L.NewFunction(s.closeSurface))
	}
	L.SetField(mod, "plugin", lua.LString(s.env.Plugin))
	L.SetField(mod, "instance", lua.LString(s.env.Instance))
	L.SetGlobal("api", mod)
	return mod
}

func (s *script) fetch(L *lua.LState) int {
	path := L.CheckString(1)
	sample, err := s.env.Bridge.Fetch(ctxOf(L), path)
	if err != nil {
		return pushError(L, err)
	}
	return pushSuccess(L, toLua(L, sample))
}

// exec returns the output even on failure, alongside the error.
func (s *script) exec(L *lua.LState) int {
	command := L.CheckString(1)
	out, err := s.env.Bridge.Exec(ctxOf(L), command)
	if err != nil {
		if out == "" {
			return pushError(L, err)
		}
		L.Push(lua.LString(out))
		L.Push(lua.LString(err.Error()))
		return 2
	}
	return pushSuccess(L, lua.LString(out))
}

// storage_get returns nil, nil for a missing key.
func (s *script) storageGet(L *lua.LState) int {
	key := L.CheckString(1)
	value, found, err := s.env.Bridge.StorageGet(ctxOf(L), key)
	if err != nil {
		return pushError(L, err)
	}
	if !found {
		return pushSuccess(L, lua.LNil)
	}
	return pushSuccess(L, lua.LString(string(value)))
}

func (s *script) storageSet(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)
	if err := s.env.Bridge.StorageSet(ctxOf(L), key, []byte(value)); err != nil {
		return pushError(L, err)
	}
	return pushSuccess(L, lua.LTrue)
}

func (s *script) storageRemove(L *lua.LState) int {
	key := L.CheckString(1)
	if err := s.env.Bridge.StorageRemove(ctxOf(L), key); err != nil {
		return pushError(L, err)
	}
	return pushSuccess(L, lua.LTrue)
}

func (s *script) notify(L *lua.LState) int {
	message := L.CheckString(1)
	severity := L.OptString(2, string(notify.SeverityInfo))
	s.env.Bridge.Notify(ctxOf(L), message, notify.ParseSeverity(severity))
	return 0
}

// set_interval(fn, ms) returns a handle with cancel() and cancelled().
func (s *script) setInterval(L *lua.LState) int {
	fn := L.CheckFunction(1)
	ms := float64(L.CheckNumber(2))
	interval := time.Duration(ms * float64(time.Millisecond))

	handle, err := s.env.Bridge.ScheduleTimer(ctxOf(L), func(ctx context.Context) error {
		return s.call(ctx, fn, 0)
	}, interval)
	if err != nil {
		return pushError(L, err)
	}

	h := L.NewTable()
	L.SetField(h, "cancel", L.NewFunction(func(L *lua.LState) int {
		handle.Cancel()
		return 0
	}))
	L.SetField(h, "cancelled", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LBool(handle.Cancelled()))
		return 1
	}))
	return pushSuccess(L, h)
}

func (s *script) log(L *lua.LState) int {
	level := L.CheckString(1)
	message := L.CheckString(2)

	switch level {
	case "debug":
		s.logger.Debug(message)
	case "warn":
		s.logger.Warn(message)
	case "error":
		s.logger.Error(message)
	default:
		s.logger.Info(message)
	}
	return 0
}

func (s *script) openSurface(L *lua.LState) int {
	id, err := s.env.Surface.OpenSurface(ctxOf(L))
	if err != nil {
		errutil.LogWarn(s.logger, "opening surface failed", err)
		return pushError(L, err)
	}
	return pushSuccess(L, lua.LString(id))
}

func (s *script) closeSurface(L *lua.LState) int {
	L.Push(lua.LBool(s.env.Surface.CloseSurface()))
	return 1
}

func pluginLogger(logger *slog.Logger, plugin, instance string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With("plugin", plugin, "instance", instance)
}
