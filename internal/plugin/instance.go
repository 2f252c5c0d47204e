// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/ufitools/widgethost/internal/bridge"
	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/plugin/capability"
	"github.com/ufitools/widgethost/internal/state"
	"github.com/ufitools/widgethost/internal/surface"
	"github.com/ufitools/widgethost/internal/view"
	"github.com/ufitools/widgethost/pkg/errutil"
)

// Status is the lifecycle status of an instance. It only moves forward.
type Status int32

// Lifecycle statuses.
const (
	StatusUnmounted Status = iota
	StatusMounted
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusUnmounted:
		return "unmounted"
	case StatusMounted:
		return "mounted"
	case StatusDestroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// Compile-time interface check.
var _ SurfaceControl = (*Instance)(nil)

// Instance is one mounted plugin. It owns its state exclusively.
type Instance struct {
	id       string
	manifest *Manifest
	dir      string
	logger   *slog.Logger

	contract *Contract
	state    *state.Store
	bridge   *bridge.Bridge
	binder   *view.Binder

	loop     *loop.Loop
	surfaces *surface.Manager
	enforcer *capability.Enforcer

	status      atomic.Int32
	tearingDown atomic.Bool
	removeHook  func()
	onDestroyed func(*Instance)

	mu      sync.Mutex
	surface *surface.Surface

	teardownOnce sync.Once
}

// ID returns the instance id (a ULID).
func (i *Instance) ID() string { return i.id }

// Name returns the plugin name.
func (i *Instance) Name() string { return i.manifest.Name }

// Manifest returns the manifest the instance was registered from.
func (i *Instance) Manifest() *Manifest { return i.manifest }

// Dir returns the plugin directory.
func (i *Instance) Dir() string { return i.dir }

// Status returns the lifecycle status.
func (i *Instance) Status() Status { return Status(i.status.Load()) }

// Shape returns the authoring shape the plugin was written in.
func (i *Instance) Shape() Shape { return i.contract.Shape }

// State returns the instance state.
func (i *Instance) State() *state.Store { return i.state }

// Bridge returns the instance capability bridge.
func (i *Instance) Bridge() *bridge.Bridge { return i.bridge }

// Methods returns the method names the plugin defines.
func (i *Instance) Methods() []string { return i.contract.Methods.Names() }

// Text returns the current rendering of the plugin view.
func (i *Instance) Text() string { return i.binder.Text() }

// Surface returns the open surface of the instance, if any.
func (i *Instance) Surface() (*surface.Surface, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.surface == nil || i.surface.Closed() {
		return nil, false
	}
	return i.surface, true
}

func (i *Instance) flush() {
	if i.binder != nil {
		i.binder.Flush()
	}
}

// call runs a method on the loop goroutine.
func (i *Instance) call(ctx context.Context, method string, args ...any) (err error) {
	if i.Status() != StatusMounted {
		return oops.In("plugin").Code(CodePluginNotFound).
			With("plugin", i.Name()).With("instance", i.id).
			Errorf("instance is %s", i.Status())
	}
	defer func() {
		if r := recover(); r != nil {
			err = oops.In("plugin").With("plugin", i.Name()).With("method", method).
				Errorf("method panicked: %v", r)
		}
	}()
	return i.contract.Methods.Call(ctx, i.state, method, args...)
}

// OpenSurface opens the instance's isolated surface and starts its
// telemetry sync. An already open surface is returned as is.
func (i *Instance) OpenSurface(ctx context.Context) (string, error) {
	cfg := i.manifest.Surface
	errb := oops.In("plugin").With("plugin", i.Name()).With("instance", i.id)
	switch {
	case cfg == nil:
		return "", errb.Errorf("plugin declares no surface")
	case i.surfaces == nil:
		return "", errb.Errorf("no surface manager configured")
	case i.Status() != StatusMounted || i.tearingDown.Load():
		return "", errb.Code(surface.CodeSurfaceClosed).Errorf("instance is %s", i.Status())
	case i.enforcer != nil && !i.enforcer.Check(i.Name(), capability.Surface):
		return "", errb.Code(bridge.CodeCapabilityDenied).Errorf("capability %q not granted", capability.Surface)
	}

	if s, ok := i.Surface(); ok {
		return s.ID(), nil
	}

	bundle, err := surface.LoadBundle(i.dir, cfg.Bundle)
	if err != nil {
		return "", errb.Wrap(err)
	}
	interval, err := cfg.Period()
	if err != nil {
		return "", errb.Wrap(err)
	}

	s, err := i.surfaces.Open(ctx, surface.OpenOptions{
		Owner:         i.id,
		Title:         i.Name(),
		Bundle:        bundle,
		Masking:       i.binder.Masking(),
		Fetcher:       i.bridge,
		TelemetryPath: cfg.TelemetryPath,
		Interval:      interval,
		OnClose:       i.surfaceClosed,
	})
	if err != nil {
		return "", errb.Wrap(err)
	}

	i.mu.Lock()
	i.surface = s
	i.mu.Unlock()
	return s.ID(), nil
}

// CloseSurface closes the open surface. It reports whether one was open.
func (i *Instance) CloseSurface() bool {
	i.mu.Lock()
	s := i.surface
	i.surface = nil
	i.mu.Unlock()
	if s == nil || s.Closed() {
		return false
	}
	s.Close()
	return true
}

// surfaceClosed runs on whichever goroutine closed the surface, so teardown
// is handed to the loop rather than run here.
func (i *Instance) surfaceClosed(s *surface.Surface, origin surface.CloseOrigin) {
	i.mu.Lock()
	if i.surface == s {
		i.surface = nil
	}
	i.mu.Unlock()

	if !i.manifest.Surface.CloseUnmounts || i.tearingDown.Load() {
		return
	}
	i.logger.Info("surface closed, unmounting owner", "surface", s.ID(), "origin", origin.String())
	if err := i.loop.Submit(func(ctx context.Context) error {
		i.teardown(ctx)
		return nil
	}); err != nil {
		i.logger.Debug("could not schedule teardown", "error", err)
	}
}

// teardown runs at most once: timers, surface, onUnmount, then release.
// It must run on the loop goroutine.
func (i *Instance) teardown(ctx context.Context) {
	i.teardownOnce.Do(func() {
		i.tearingDown.Store(true)
		i.bridge.CancelTimers()
		i.CloseSurface()

		if i.Status() == StatusMounted {
			if err := safeHook(ctx, i.contract.OnUnmount, i.state); err != nil {
				errutil.LogWarn(i.logger, "onUnmount failed", err)
			}
		}
		i.status.Store(int32(StatusDestroyed))

		i.binder.Close()
		if i.removeHook != nil {
			i.removeHook()
		}
		i.bridge.Close()
		if i.contract.Release != nil {
			i.contract.Release()
		}

		instancesActive.Dec()
		i.logger.Info("plugin instance destroyed")
		if i.onDestroyed != nil {
			i.onDestroyed(i)
		}
	})
}
