// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufitools/widgethost/internal/state"
)

func TestStore_SetNotifiesWatchers(t *testing.T) {
	s := state.New(nil)

	var got []string
	unwatch := s.Watch(func(key string) { got = append(got, key) })

	s.Set("loading", true)
	s.Set("info", map[string]any{"rsrp": -95.0})
	s.Delete("loading")
	s.Delete("never-set")

	assert.Equal(t, []string{"loading", "info", "loading"}, got)

	unwatch()
	s.Set("loading", false)
	assert.Len(t, got, 3)
}

func TestStore_NewCopiesInitial(t *testing.T) {
	initial := map[string]any{"info": map[string]any{"band": "B3"}}
	s := state.New(initial)

	initial["info"].(map[string]any)["band"] = "B1"

	v, ok := s.Lookup("info.band")
	require.True(t, ok)
	assert.Equal(t, "B3", v)
}

func TestStore_Lookup(t *testing.T) {
	s := state.New(map[string]any{
		"info": map[string]any{
			"rsrp":  -101.0,
			"cells": []any{"a", "b"},
		},
		"name": "widget",
	})

	tests := []struct {
		name   string
		path   string
		want   any
		wantOK bool
	}{
		{name: "top level", path: "name", want: "widget", wantOK: true},
		{name: "nested", path: "info.rsrp", want: -101.0, wantOK: true},
		{name: "missing root", path: "nope", wantOK: false},
		{name: "missing leaf", path: "info.sinr", wantOK: false},
		{name: "through non-map", path: "name.length", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.Lookup(tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStore_SnapshotIsDeepCopy(t *testing.T) {
	s := state.New(map[string]any{"list": []any{"x"}})

	snap := s.Snapshot()
	snap["list"].([]any)[0] = "y"

	v, _ := s.Get("list")
	assert.Equal(t, []any{"x"}, v)
}

func TestStore_Keys(t *testing.T) {
	s := state.New(map[string]any{"b": 1.0, "a": 2.0})
	s.Set("c", nil)
	assert.Equal(t, []string{"a", "b", "c"}, s.Keys())
}
