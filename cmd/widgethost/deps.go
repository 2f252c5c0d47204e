// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"context"
	"log/slog"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ufitools/widgethost/internal/observability"
	"github.com/ufitools/widgethost/internal/store"
	"github.com/ufitools/widgethost/internal/telemetry"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// StoreOpener opens the plugin storage backend.
	// Default: store.Open
	StoreOpener func(ctx context.Context, driver, dsn string) (store.Backend, error)

	// HostProbes read resource metrics for the /host telemetry path.
	// Default: telemetry.DefaultCollectors
	HostProbes *telemetry.Collectors

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// ListenerFactory creates the HTTP listener.
	// Default: net.Listen
	ListenerFactory func(network, address string) (net.Listener, error)

	// OnReady, when set, is called with the bound HTTP address once every
	// plugin is loaded.
	OnReady func(addr string)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	SetLogger(logger *slog.Logger)
	SetVersion(version string)
	RegisterMetrics(cs ...prometheus.Collector) error
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *ServeDeps) defaults() {
	if d.StoreOpener == nil {
		d.StoreOpener = store.Open
	}
	if d.HostProbes == nil {
		probes := telemetry.DefaultCollectors()
		d.HostProbes = &probes
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, ready)
		}
	}
	if d.ListenerFactory == nil {
		d.ListenerFactory = net.Listen
	}
}
