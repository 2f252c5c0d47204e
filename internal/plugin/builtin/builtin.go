// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package builtin holds plugins compiled into the host and served to
// manifests whose entry is builtin:<name>.
package builtin

import (
	"context"
	"time"

	"github.com/ufitools/widgethost/internal/plugin"
	"github.com/ufitools/widgethost/internal/state"
	"github.com/ufitools/widgethost/internal/telemetry"
)

// HostPath is the telemetry path the host-stats plugin reads.
const HostPath = "/host"

// hostRefresh is how often host-stats polls.
const hostRefresh = 2 * time.Second

// Registry returns every builtin plugin by name.
func Registry() plugin.Builtins {
	return plugin.Builtins{
		"host-stats": hostStats,
	}
}

var hostFields = []string{
	telemetry.FieldCPUUsage,
	telemetry.FieldThermalTemp,
	telemetry.FieldTotalRAM,
	telemetry.FieldFreeRAM,
}

// hostStats mirrors host resource metrics into state. It needs the
// fetch./host and timer capabilities.
func hostStats(req plugin.LoadRequest) (plugin.Definition, error) {
	env := req.Env

	refresh := func(ctx context.Context, st *state.Store) error {
		sample, err := env.Bridge.Fetch(ctx, HostPath)
		if err != nil {
			st.Set("error", err.Error())
			return err
		}
		st.Delete("error")
		for _, f := range hostFields {
			if v, ok := sample.Float(f); ok {
				st.Set(f, v)
			}
		}
		return nil
	}

	return plugin.Definition{Declarative: &plugin.DeclarativeDef{
		Data: func(context.Context) (map[string]any, error) {
			data := make(map[string]any, len(hostFields))
			for _, f := range hostFields {
				data[f] = "-"
			}
			return data, nil
		},
		Methods: map[string]plugin.Method{
			"refresh": func(ctx context.Context, st *state.Store, _ ...any) error {
				return refresh(ctx, st)
			},
		},
		Mounted: func(ctx context.Context, st *state.Store) error {
			// A failing first read still leaves the timer running.
			_ = refresh(ctx, st)
			_, err := env.Bridge.ScheduleTimer(ctx, func(ctx context.Context) error {
				return refresh(ctx, st)
			}, hostRefresh)
			return err
		},
	}}, nil
}
