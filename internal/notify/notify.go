// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package notify delivers best-effort user notifications raised by plugins.
//
// Sinks are passed explicitly to each plugin instance's capability bridge;
// there is no process-wide notifier.
package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Severity classifies a notification.
type Severity string

// Supported severities.
const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity normalises s. Unknown or empty values map to info.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(s))) {
	case SeveritySuccess:
		return SeveritySuccess
	case SeverityWarning, "warn":
		return SeverityWarning
	case SeverityError:
		return SeverityError
	default:
		return SeverityInfo
	}
}

// Notification is one message raised by a plugin.
type Notification struct {
	Plugin   string    `json:"plugin"`
	Message  string    `json:"message"`
	Severity Severity  `json:"severity"`
	At       time.Time `json:"at"`
}

// Sink receives notifications. Implementations must not block for long and
// must not fail observably; Notify has no error return.
type Sink interface {
	Notify(ctx context.Context, n Notification)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification)

// Notify implements Sink.
func (f SinkFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

// LogSink writes notifications to a structured logger.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements Sink.
func (s LogSink) Notify(ctx context.Context, n Notification) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch n.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityError:
		level = slog.LevelError
	}
	logger.Log(ctx, level, n.Message, "plugin", n.Plugin, "severity", string(n.Severity))
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

// Notify implements Sink.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, n)
}

// All returns a copy of the recorded notifications.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Fanout delivers to several sinks. A panicking sink does not stop delivery
// to the others.
type Fanout []Sink

// Notify implements Sink.
func (f Fanout) Notify(ctx context.Context, n Notification) {
	for _, s := range f {
		deliver(ctx, s, n)
	}
}

func deliver(ctx context.Context, s Sink, n Notification) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("notification sink panicked", "plugin", n.Plugin, "panic", r)
		}
	}()
	s.Notify(ctx, n)
}
