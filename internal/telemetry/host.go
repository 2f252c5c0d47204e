// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package telemetry

import (
	"context"
	"log/slog"
	"math"
	"strings"

	"github.com/samber/oops"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/sensors"
)

const bytesPerMiB = 1024 * 1024

// Collectors are the system probes used by HostSource. Tests replace them.
type Collectors struct {
	CPUPercent   func(ctx context.Context) ([]float64, error)
	VirtualMem   func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	Temperatures func(ctx context.Context) ([]sensors.TemperatureStat, error)
	HostInfo     func(ctx context.Context) (*host.InfoStat, error)
}

// DefaultCollectors returns probes backed by gopsutil.
func DefaultCollectors() Collectors {
	return Collectors{
		CPUPercent: func(ctx context.Context) ([]float64, error) {
			// Zero interval compares against the previous call.
			return cpu.PercentWithContext(ctx, 0, false)
		},
		VirtualMem:   mem.VirtualMemoryWithContext,
		Temperatures: sensors.TemperaturesWithContext,
		HostInfo:     host.InfoWithContext,
	}
}

// HostSource reports resource metrics of the machine the host runs on.
// Individual probe failures are logged and the field is left absent; the
// fetch fails only when every probe fails.
type HostSource struct {
	probes Collectors
	logger *slog.Logger
}

// NewHostSource creates a host source. A nil logger uses slog.Default.
func NewHostSource(probes Collectors, logger *slog.Logger) *HostSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &HostSource{probes: probes, logger: logger}
}

// Fetch implements Fetcher. The path is ignored.
func (h *HostSource) Fetch(ctx context.Context, _ string) (Sample, error) {
	fields := make(map[string]any)
	failures := 0

	if h.probes.CPUPercent != nil {
		pct, err := h.probes.CPUPercent(ctx)
		switch {
		case err != nil:
			failures++
			h.logger.Debug("cpu probe failed", "error", err)
		case len(pct) > 0:
			fields[FieldCPUUsage] = round2(pct[0])
		}
	}

	if h.probes.VirtualMem != nil {
		vm, err := h.probes.VirtualMem(ctx)
		if err != nil {
			failures++
			h.logger.Debug("memory probe failed", "error", err)
		} else {
			fields[FieldTotalRAM] = float64(vm.Total / bytesPerMiB)
			fields[FieldFreeRAM] = float64(vm.Free / bytesPerMiB)
			fields["ram_percent"] = round2(vm.UsedPercent)
		}
	}

	if h.probes.Temperatures != nil {
		temps, err := h.probes.Temperatures(ctx)
		if t, ok := thermalAverage(temps); ok {
			fields[FieldThermalTemp] = t
		} else if err != nil {
			failures++
			h.logger.Debug("thermal probe failed", "error", err)
		}
	}

	if h.probes.HostInfo != nil {
		info, err := h.probes.HostInfo(ctx)
		if err != nil {
			failures++
			h.logger.Debug("host probe failed", "error", err)
		} else {
			fields[FieldMachine] = info.KernelArch
			fields[FieldVersion] = info.KernelVersion
			fields["hostname"] = info.Hostname
			fields["uptime"] = float64(info.Uptime)
		}
	}

	if len(fields) == 0 && failures > 0 {
		return Sample{}, oops.In("telemetry").Code(CodeUnreachable).
			With("failures", failures).
			Errorf("all host probes failed")
	}
	return NewSample(fields), nil
}

// thermalAverage averages thermal zone readings, the way the device firmware
// reports a single temperature. Partial sensor errors still return readings.
func thermalAverage(temps []sensors.TemperatureStat) (float64, bool) {
	var sum float64
	var n int
	for _, t := range temps {
		if t.Temperature <= 0 {
			continue
		}
		if !strings.Contains(t.SensorKey, "thermal") && !strings.Contains(t.SensorKey, "cpu") &&
			!strings.Contains(t.SensorKey, "coretemp") {
			continue
		}
		sum += t.Temperature
		n++
	}
	if n == 0 {
		return 0, false
	}
	return round2(sum / float64(n)), true
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
