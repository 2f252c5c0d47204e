// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package plugin

import "github.com/prometheus/client_golang/prometheus"

var (
	instancesActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "widgethost_plugin_instances",
		Help: "Number of mounted plugin instances",
	})

	registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widgethost_plugin_registrations_total",
			Help: "Total number of plugin registrations by result",
		},
		[]string{"result"},
	)
)

// Collectors returns the metrics of this package for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{instancesActive, registrations}
}
