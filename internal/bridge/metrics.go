// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package bridge

import "github.com/prometheus/client_golang/prometheus"

var capabilityCalls = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "widgethost_capability_calls_total",
		Help: "Total number of plugin capability calls by kind and status",
	},
	[]string{"kind", "status"},
)

// Collectors returns the metrics of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{capabilityCalls}
}
