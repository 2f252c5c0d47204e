// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/samber/oops"

	"github.com/ufitools/widgethost/internal/bridge"
	"github.com/ufitools/widgethost/internal/state"
)

// CodeMethodNotFound marks a call to a method the plugin does not define.
const CodeMethodNotFound = "METHOD_NOT_FOUND"

// Shape is the authoring shape a plugin was written in.
type Shape int

// Authoring shapes.
const (
	// ShapeFunctional plugins run a setup routine that returns a bound
	// state handle plus closures over it.
	ShapeFunctional Shape = iota + 1
	// ShapeDeclarative plugins declare a state factory and a method table;
	// methods receive the state as their receiver.
	ShapeDeclarative
)

func (s Shape) String() string {
	switch s {
	case ShapeFunctional:
		return "functional"
	case ShapeDeclarative:
		return "declarative"
	default:
		return "unknown"
	}
}

// SurfaceControl opens and closes the isolated surface of a full-surface
// plugin instance.
type SurfaceControl interface {
	OpenSurface(ctx context.Context) (string, error)
	CloseSurface() bool
}

// Env is what a plugin definition is instantiated against.
type Env struct {
	Plugin   string
	Instance string
	Bridge   *bridge.Bridge
	// Surface is nil unless the manifest declares a surface block.
	Surface SurfaceControl
	Logger  *slog.Logger
}

// Method is a normalized plugin method.
type Method func(ctx context.Context, st *state.Store, args ...any) error

// Hook is a normalized lifecycle hook.
type Hook func(ctx context.Context, st *state.Store) error

// Bound is what a functional setup routine returns.
type Bound struct {
	State     *state.Store
	Methods   map[string]func(ctx context.Context, args ...any) error
	OnMount   func(ctx context.Context) error
	OnUnmount func(ctx context.Context) error
}

// FunctionalDef is the functional authoring shape.
type FunctionalDef struct {
	Setup func(ctx context.Context, env Env) (Bound, error)
}

// DeclarativeDef is the declarative authoring shape. Data and Methods are
// both required.
type DeclarativeDef struct {
	Data      func(ctx context.Context) (map[string]any, error)
	Methods   map[string]Method
	Mounted   Hook
	Destroyed Hook
}

// Definition is what a runtime found in a plugin's entry. A runtime fills
// in whichever shapes it detected; Normalize decides whether that is valid.
type Definition struct {
	Functional  *FunctionalDef
	Declarative *DeclarativeDef
	// Release frees runtime resources. It runs once at teardown.
	Release func()
}

// MethodTable resolves method names.
type MethodTable struct {
	lookup func(name string) (Method, bool)
	names  func() []string
}

// Names returns the method names in sorted order.
func (t MethodTable) Names() []string {
	if t.names == nil {
		return nil
	}
	names := t.names()
	sort.Strings(names)
	return names
}

// Call runs method name.
func (t MethodTable) Call(ctx context.Context, st *state.Store, name string, args ...any) error {
	var fn Method
	ok := false
	if t.lookup != nil {
		fn, ok = t.lookup(name)
	}
	if !ok {
		return oops.In("plugin").Code(CodeMethodNotFound).With("method", name).Errorf("no method %q", name)
	}
	return fn(ctx, st, args...)
}

// Contract is the uniform runtime contract every shape reduces to.
type Contract struct {
	Shape       Shape
	CreateState func(ctx context.Context) (*state.Store, error)
	Methods     MethodTable
	OnMount     Hook
	OnUnmount   Hook
	Release     func()
}

// Normalize reduces def to a Contract. A definition declaring both shapes,
// or neither, is malformed; the error names what is missing.
func Normalize(name string, def Definition, env Env) (*Contract, error) {
	hasFunctional := def.Functional != nil && def.Functional.Setup != nil
	hasDeclarative := def.Declarative != nil &&
		(def.Declarative.Data != nil || def.Declarative.Methods != nil)

	var c *Contract
	switch {
	case hasFunctional && hasDeclarative:
		return nil, malformed(name).Errorf("entry mixes functional and declarative shapes")
	case hasFunctional:
		c = normalizeFunctional(def.Functional, env)
	case hasDeclarative:
		var missing []string
		if def.Declarative.Data == nil {
			missing = append(missing, "data")
		}
		if def.Declarative.Methods == nil {
			missing = append(missing, "methods")
		}
		if len(missing) > 0 {
			return nil, malformed(name).With("missing", missing).
				Errorf("declarative entry is missing %s", strings.Join(missing, " and "))
		}
		c = normalizeDeclarative(def.Declarative)
	default:
		return nil, malformed(name).With("missing", []string{"setup", "data", "methods"}).
			Errorf("entry defines neither setup nor data and methods")
	}

	c.Release = def.Release
	return c, nil
}

func normalizeFunctional(def *FunctionalDef, env Env) *Contract {
	var bound Bound
	return &Contract{
		Shape: ShapeFunctional,
		CreateState: func(ctx context.Context) (*state.Store, error) {
			b, err := def.Setup(ctx, env)
			if err != nil {
				return nil, err
			}
			if b.State == nil {
				b.State = state.New(nil)
			}
			bound = b
			return b.State, nil
		},
		Methods: MethodTable{
			lookup: func(name string) (Method, bool) {
				fn, ok := bound.Methods[name]
				if !ok || fn == nil {
					return nil, false
				}
				return func(ctx context.Context, _ *state.Store, args ...any) error {
					return fn(ctx, args...)
				}, true
			},
			names: func() []string { return keys(bound.Methods) },
		},
		OnMount: func(ctx context.Context, _ *state.Store) error {
			if bound.OnMount == nil {
				return nil
			}
			return bound.OnMount(ctx)
		},
		OnUnmount: func(ctx context.Context, _ *state.Store) error {
			if bound.OnUnmount == nil {
				return nil
			}
			return bound.OnUnmount(ctx)
		},
	}
}

func normalizeDeclarative(def *DeclarativeDef) *Contract {
	return &Contract{
		Shape: ShapeDeclarative,
		CreateState: func(ctx context.Context) (*state.Store, error) {
			initial, err := def.Data(ctx)
			if err != nil {
				return nil, err
			}
			return state.New(initial), nil
		},
		Methods: MethodTable{
			lookup: func(name string) (Method, bool) {
				fn, ok := def.Methods[name]
				return fn, ok && fn != nil
			},
			names: func() []string { return keys(def.Methods) },
		},
		OnMount:   optionalHook(def.Mounted),
		OnUnmount: optionalHook(def.Destroyed),
	}
}

func optionalHook(h Hook) Hook {
	if h == nil {
		return func(context.Context, *state.Store) error { return nil }
	}
	return h
}

func keys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// safeHook runs a hook and converts a panic into an error.
func safeHook(ctx context.Context, h Hook, st *state.Store) (err error) {
	if h == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return h(ctx, st)
}
