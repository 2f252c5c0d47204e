// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface

import "github.com/prometheus/client_golang/prometheus"

var (
	surfacesOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "widgethost_surfaces_open",
		Help: "Number of isolated surfaces currently open",
	})

	telemetryPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgethost_telemetry_polls_total",
			Help: "Total number of surface telemetry polls by outcome",
		},
		[]string{"status"},
	)
)

// Collectors returns the metrics of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{surfacesOpen, telemetryPolls}
}
