// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

//nolint:gocritic // captLocal: L is the idiomatic name for lua.LState
package lua

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/ufitools/widgethost/internal/plugin"
	"github.com/ufitools/widgethost/internal/state"
)

// Compile-time interface check.
var _ plugin.Runtime = (*Runtime)(nil)

// Extension is the entry extension served by this runtime.
const Extension = ".lua"

// Global names inspected to decide the authoring shape.
const (
	globalSetup     = "setup"
	globalData      = "data"
	globalMethods   = "methods"
	globalMounted   = "mounted"
	globalDestroyed = "destroyed"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLogger sets the logger plugin log calls go to.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runtime) { r.logger = logger }
}

// WithStateFactory replaces the sandbox factory.
func WithStateFactory(f *StateFactory) Option {
	return func(r *Runtime) { r.factory = f }
}

// Runtime loads Lua plugin entries.
//
// Each instance gets its own Lua state, used only from the loop goroutine.
// The authoring shape is decided by inspecting the globals the entry
// defines: setup() for the functional shape, data() and methods for the
// declarative one.
type Runtime struct {
	factory *StateFactory
	logger  *slog.Logger
}

// NewRuntime creates a Lua runtime.
func NewRuntime(opts ...Option) *Runtime {
	r := &Runtime{
		factory: NewStateFactory(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// script is one loaded entry bound to one instance.
type script struct {
	L      *lua.LState
	env    plugin.Env
	api    *lua.LTable
	logger *slog.Logger
}

// Load reads, sandboxes and runs the entry, then inspects its globals.
func (r *Runtime) Load(ctx context.Context, req plugin.LoadRequest) (plugin.Definition, error) {
	m := req.Manifest
	errb := oops.In("lua").With("plugin", m.Name).With("operation", "load").With("entry", m.Entry)

	entryPath := filepath.Join(req.Dir, m.Entry)
	code, err := os.ReadFile(filepath.Clean(entryPath))
	if err != nil {
		return plugin.Definition{}, errb.With("path", entryPath).Hint("failed to read entry file").Wrap(err)
	}

	L, err := r.factory.NewState(ctx)
	if err != nil {
		return plugin.Definition{}, errb.Hint("failed to create state").Wrap(err)
	}

	logger := req.Env.Logger
	if logger == nil {
		logger = pluginLogger(r.logger, m.Name, req.Env.Instance)
	}
	s := &script{
		L:      L,
		env:    req.Env,
		logger: logger,
	}
	s.api = s.installAPI()

	if err := s.run(ctx, string(code), m.Entry); err != nil {
		L.Close()
		return plugin.Definition{}, errb.Hint("entry failed to run").Wrap(err)
	}
	return s.definition(), nil
}

// run executes a chunk with ctx bound to the state.
func (s *script) run(ctx context.Context, code, name string) error {
	fn, err := s.L.Load(strings.NewReader(code), name)
	if err != nil {
		return err
	}
	return s.call(ctx, fn, 0)
}

// call invokes fn in protected mode with ctx bound for host functions. The
// first nret results are left on the stack.
func (s *script) call(ctx context.Context, fn *lua.LFunction, nret int, args ...lua.LValue) error {
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()
	return s.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...)
}

// callResult invokes fn and returns its single result.
func (s *script) callResult(ctx context.Context, fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	if err := s.call(ctx, fn, 1, args...); err != nil {
		return lua.LNil, err
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

func (s *script) function(name string) *lua.LFunction {
	fn, _ := s.L.GetGlobal(name).(*lua.LFunction)
	return fn
}

// definition reports every shape the entry declares. Deciding whether the
// combination is valid is left to plugin.Normalize.
func (s *script) definition() plugin.Definition {
	def := plugin.Definition{Release: s.L.Close}

	if setup := s.function(globalSetup); setup != nil {
		def.Functional = &plugin.FunctionalDef{Setup: s.setup(setup)}
	}

	data := s.function(globalData)
	methods, _ := s.L.GetGlobal(globalMethods).(*lua.LTable)
	if data != nil || methods != nil {
		d := &plugin.DeclarativeDef{
			Mounted:   s.hook(s.function(globalMounted)),
			Destroyed: s.hook(s.function(globalDestroyed)),
		}
		if data != nil {
			d.Data = s.data(data)
		}
		if methods != nil {
			d.Methods = s.methods(methods)
		}
		def.Declarative = d
	}
	return def
}

// setup calls setup(api) and binds the table it returns.
func (s *script) setup(fn *lua.LFunction) func(context.Context, plugin.Env) (plugin.Bound, error) {
	return func(ctx context.Context, _ plugin.Env) (plugin.Bound, error) {
		errb := oops.In("lua").With("plugin", s.env.Plugin).With("operation", globalSetup)
		ret, err := s.callResult(ctx, fn, s.api)
		if err != nil {
			return plugin.Bound{}, errb.Wrap(err)
		}
		tbl, ok := ret.(*lua.LTable)
		if !ok {
			return plugin.Bound{}, errb.Errorf("setup must return a table, got %s", ret.Type())
		}

		var bound plugin.Bound
		switch v := tbl.RawGetString("state").(type) {
		case *lua.LUserData:
			st, isState := storeOf(v)
			if !isState {
				return plugin.Bound{}, errb.Errorf("setup state must come from reactive()")
			}
			bound.State = st
		case *lua.LTable:
			bound.State = state.New(tableToMap(v, 0))
		case *lua.LNilType:
			bound.State = state.New(nil)
		default:
			return plugin.Bound{}, errb.Errorf("setup state must be a table, got %s", v.Type())
		}

		bound.Methods = make(map[string]func(context.Context, ...any) error)
		if mt, isTable := tbl.RawGetString("methods").(*lua.LTable); isTable {
			for name, mfn := range functions(mt) {
				bound.Methods[name] = func(ctx context.Context, args ...any) error {
					return s.invoke(ctx, name, mfn, nil, args)
				}
			}
		}
		if on, isFn := tbl.RawGetString("on_mount").(*lua.LFunction); isFn {
			bound.OnMount = func(ctx context.Context) error { return s.call(ctx, on, 0) }
		}
		if off, isFn := tbl.RawGetString("on_unmount").(*lua.LFunction); isFn {
			bound.OnUnmount = func(ctx context.Context) error { return s.call(ctx, off, 0) }
		}
		return bound, nil
	}
}

// data calls data() for the initial state.
func (s *script) data(fn *lua.LFunction) func(context.Context) (map[string]any, error) {
	return func(ctx context.Context) (map[string]any, error) {
		errb := oops.In("lua").With("plugin", s.env.Plugin).With("operation", globalData)
		ret, err := s.callResult(ctx, fn)
		if err != nil {
			return nil, errb.Wrap(err)
		}
		switch v := ret.(type) {
		case *lua.LTable:
			return tableToMap(v, 0), nil
		case *lua.LNilType:
			return map[string]any{}, nil
		default:
			return nil, errb.Errorf("data must return a table, got %s", ret.Type())
		}
	}
}

// methods binds each function of the methods table with self as the state.
func (s *script) methods(tbl *lua.LTable) map[string]plugin.Method {
	fns := functions(tbl)
	out := make(map[string]plugin.Method, len(fns))
	for _, name := range sortedNames(fns) {
		fn := fns[name]
		out[name] = func(ctx context.Context, st *state.Store, args ...any) error {
			return s.invoke(ctx, name, fn, st, args)
		}
	}
	return out
}

func (s *script) hook(fn *lua.LFunction) plugin.Hook {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, st *state.Store) error {
		return s.call(ctx, fn, 0, newStateProxy(s.L, st))
	}
}

// invoke calls a plugin method. With a non-nil st the state proxy is passed
// first, as self.
func (s *script) invoke(ctx context.Context, name string, fn *lua.LFunction, st *state.Store, args []any) error {
	largs := make([]lua.LValue, 0, len(args)+1)
	if st != nil {
		largs = append(largs, newStateProxy(s.L, st))
	}
	for _, a := range args {
		largs = append(largs, toLua(s.L, a))
	}
	if err := s.call(ctx, fn, 0, largs...); err != nil {
		return oops.In("lua").With("plugin", s.env.Plugin).With("method", name).Wrap(err)
	}
	return nil
}
