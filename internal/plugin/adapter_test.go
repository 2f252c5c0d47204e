// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufitools/widgethost/internal/plugin"
	"github.com/ufitools/widgethost/internal/state"
	"github.com/ufitools/widgethost/pkg/errutil"
)

// counterFunctional and counterDeclarative define the same counter widget
// in both authoring shapes.
func counterFunctional(log *[]string) plugin.Definition {
	return plugin.Definition{
		Functional: &plugin.FunctionalDef{
			Setup: func(_ context.Context, _ plugin.Env) (plugin.Bound, error) {
				st := state.New(map[string]any{"count": 0})
				return plugin.Bound{
					State: st,
					Methods: map[string]func(context.Context, ...any) error{
						"increment": func(_ context.Context, args ...any) error {
							n, _ := st.Get("count")
							st.Set("count", n.(int)+args[0].(int))
							return nil
						},
					},
					OnMount:   func(context.Context) error { *log = append(*log, "mount"); return nil },
					OnUnmount: func(context.Context) error { *log = append(*log, "unmount"); return nil },
				}, nil
			},
		},
	}
}

func counterDeclarative(log *[]string) plugin.Definition {
	return plugin.Definition{
		Declarative: &plugin.DeclarativeDef{
			Data: func(context.Context) (map[string]any, error) {
				return map[string]any{"count": 0}, nil
			},
			Methods: map[string]plugin.Method{
				"increment": func(_ context.Context, st *state.Store, args ...any) error {
					n, _ := st.Get("count")
					st.Set("count", n.(int)+args[0].(int))
					return nil
				},
			},
			Mounted:   func(context.Context, *state.Store) error { *log = append(*log, "mount"); return nil },
			Destroyed: func(context.Context, *state.Store) error { *log = append(*log, "unmount"); return nil },
		},
	}
}

func TestNormalize_ShapesBehaveTheSame(t *testing.T) {
	tests := []struct {
		name  string
		def   func(*[]string) plugin.Definition
		shape plugin.Shape
	}{
		{name: "functional", def: counterFunctional, shape: plugin.ShapeFunctional},
		{name: "declarative", def: counterDeclarative, shape: plugin.ShapeDeclarative},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			var log []string

			c, err := plugin.Normalize("counter", tt.def(&log), plugin.Env{Plugin: "counter"})
			require.NoError(t, err)
			assert.Equal(t, tt.shape, c.Shape)

			st, err := c.CreateState(ctx)
			require.NoError(t, err)
			require.NoError(t, c.OnMount(ctx, st))

			assert.Equal(t, []string{"increment"}, c.Methods.Names())
			require.NoError(t, c.Methods.Call(ctx, st, "increment", 2))
			require.NoError(t, c.Methods.Call(ctx, st, "increment", 3))
			require.NoError(t, c.OnUnmount(ctx, st))

			assert.Equal(t, map[string]any{"count": 5}, st.Snapshot())
			assert.Equal(t, []string{"mount", "unmount"}, log)
		})
	}
}

func TestNormalize_Malformed(t *testing.T) {
	noop := func(context.Context, *state.Store, ...any) error { return nil }
	data := func(context.Context) (map[string]any, error) { return nil, nil }
	setup := func(context.Context, plugin.Env) (plugin.Bound, error) { return plugin.Bound{}, nil }

	tests := []struct {
		name    string
		def     plugin.Definition
		wantErr string
	}{
		{
			name: "both shapes",
			def: plugin.Definition{
				Functional:  &plugin.FunctionalDef{Setup: setup},
				Declarative: &plugin.DeclarativeDef{Data: data, Methods: map[string]plugin.Method{"a": noop}},
			},
			wantErr: "mixes functional and declarative",
		},
		{
			name:    "declarative without methods",
			def:     plugin.Definition{Declarative: &plugin.DeclarativeDef{Data: data}},
			wantErr: "missing methods",
		},
		{
			name:    "declarative without data",
			def:     plugin.Definition{Declarative: &plugin.DeclarativeDef{Methods: map[string]plugin.Method{"a": noop}}},
			wantErr: "missing data",
		},
		{
			name:    "neither shape",
			def:     plugin.Definition{},
			wantErr: "neither setup nor data and methods",
		},
		{
			name:    "functional without setup",
			def:     plugin.Definition{Functional: &plugin.FunctionalDef{}},
			wantErr: "neither setup nor data and methods",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := plugin.Normalize("broken", tt.def, plugin.Env{})
			require.Error(t, err)
			assert.Nil(t, c)
			assert.Contains(t, err.Error(), tt.wantErr)
			errutil.AssertErrorCode(t, err, plugin.CodeMalformedManifest)
			errutil.AssertErrorContext(t, err, "plugin", "broken")
		})
	}
}

func TestNormalize_DeclarativeWithEmptyMethodTable(t *testing.T) {
	def := plugin.Definition{Declarative: &plugin.DeclarativeDef{
		Data:    func(context.Context) (map[string]any, error) { return map[string]any{}, nil },
		Methods: map[string]plugin.Method{},
	}}
	c, err := plugin.Normalize("empty", def, plugin.Env{})
	require.NoError(t, err)
	assert.Empty(t, c.Methods.Names())
}

func TestMethodTable_UnknownMethod(t *testing.T) {
	var log []string
	c, err := plugin.Normalize("counter", counterDeclarative(&log), plugin.Env{})
	require.NoError(t, err)
	st, err := c.CreateState(context.Background())
	require.NoError(t, err)

	err = c.Methods.Call(context.Background(), st, "reset")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, plugin.CodeMethodNotFound)
	errutil.AssertErrorContext(t, err, "method", "reset")
}

func TestNormalize_FunctionalDefaults(t *testing.T) {
	released := false
	def := plugin.Definition{
		Functional: &plugin.FunctionalDef{
			Setup: func(context.Context, plugin.Env) (plugin.Bound, error) { return plugin.Bound{}, nil },
		},
		Release: func() { released = true },
	}
	c, err := plugin.Normalize("bare", def, plugin.Env{})
	require.NoError(t, err)

	st, err := c.CreateState(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Empty(t, st.Keys())
	assert.NoError(t, c.OnMount(context.Background(), st))
	assert.NoError(t, c.OnUnmount(context.Background(), st))

	c.Release()
	assert.True(t, released)
}

func TestNormalize_SetupErrorPropagates(t *testing.T) {
	boom := errors.New("boom")
	def := plugin.Definition{Functional: &plugin.FunctionalDef{
		Setup: func(context.Context, plugin.Env) (plugin.Bound, error) { return plugin.Bound{}, boom },
	}}
	c, err := plugin.Normalize("failing", def, plugin.Env{})
	require.NoError(t, err)

	_, err = c.CreateState(context.Background())
	assert.ErrorIs(t, err, boom)
}
