// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/telemetry"
	"github.com/ufitools/widgethost/pkg/errutil"
)

// Poll outcomes.
const (
	pollOK        = "ok"
	pollError     = "error"
	pollDiscarded = "discarded"
)

// Sync polls telemetry on the loop and forwards each sample to a surface.
type Sync struct {
	timer    *loop.Timer
	surface  *Surface
	fetcher  telemetry.Fetcher
	path     string
	logger   *slog.Logger
	stopOnce sync.Once

	mu     sync.Mutex
	posted int
	failed int
}

// StartSync begins polling path every interval. A failed poll is logged and
// never stops the loop.
func StartSync(l *loop.Loop, s *Surface, f telemetry.Fetcher, path string, interval time.Duration, logger *slog.Logger) (*Sync, error) {
	if l == nil {
		return nil, oops.In("surface").Errorf("no loop to run telemetry sync on")
	}
	if logger == nil {
		logger = slog.Default()
	}
	sy := &Sync{surface: s, fetcher: f, path: path, logger: logger}
	timer, err := l.Every(interval, sy.tick)
	if err != nil {
		return nil, oops.In("surface").With("path", path).With("interval", interval).Wrap(err)
	}
	sy.timer = timer
	return sy, nil
}

func (sy *Sync) tick(ctx context.Context) error {
	sample, err := sy.fetcher.Fetch(ctx, sy.path)
	if err != nil {
		sy.mu.Lock()
		sy.failed++
		sy.mu.Unlock()
		telemetryPolls.WithLabelValues(pollError).Inc()
		errutil.LogWarn(sy.logger, "telemetry poll failed", err)
		return nil
	}

	// The fetch may have outlived the surface.
	if ctx.Err() != nil || sy.surface.Closed() || !sy.surface.Exists() {
		telemetryPolls.WithLabelValues(pollDiscarded).Inc()
		sy.logger.Debug("discarding telemetry for closed surface")
		return nil
	}

	if err := sy.surface.Post(ctx, TelemetryUpdate{Payload: sample}); err != nil {
		telemetryPolls.WithLabelValues(pollError).Inc()
		errutil.LogWarn(sy.logger, "posting telemetry failed", err)
		return nil
	}
	sy.mu.Lock()
	sy.posted++
	sy.mu.Unlock()
	telemetryPolls.WithLabelValues(pollOK).Inc()
	return nil
}

// Stop cancels polling. Only the first call has an effect.
func (sy *Sync) Stop() {
	sy.stopOnce.Do(sy.timer.Cancel)
}

// Stopped reports whether Stop has been called.
func (sy *Sync) Stopped() bool { return sy.timer.Cancelled() }

// Posted returns how many updates were posted.
func (sy *Sync) Posted() int {
	sy.mu.Lock()
	defer sy.mu.Unlock()
	return sy.posted
}

// Failed returns how many polls failed.
func (sy *Sync) Failed() int {
	sy.mu.Lock()
	defer sy.mu.Unlock()
	return sy.failed
}
