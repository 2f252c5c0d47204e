// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package bridge mediates every host capability a plugin instance can reach.
//
// One Bridge is built per plugin instance with its collaborators passed in
// explicitly. Each call is checked against the plugin's grants, traced, counted
// and dispatched to the matching collaborator. Failures come back as
// *CapabilityError values; nothing a collaborator does (including panicking)
// escapes the call.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ufitools/widgethost/internal/hostexec"
	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/notify"
	"github.com/ufitools/widgethost/internal/plugin/capability"
	"github.com/ufitools/widgethost/internal/store"
	"github.com/ufitools/widgethost/internal/telemetry"
	"github.com/ufitools/widgethost/pkg/errutil"
)

var tracer = otel.Tracer("widgethost/bridge")

// Deps are the host collaborators behind a bridge. A nil collaborator makes
// its operations fail with the operation's default code; a nil Enforcer grants
// everything.
type Deps struct {
	Fetcher  telemetry.Fetcher
	Executor hostexec.Runner
	Store    store.KVStore
	Notifier notify.Sink
	Loop     *loop.Loop
	Enforcer *capability.Enforcer
	Logger   *slog.Logger
}

// Observer sees every request in issuance order, before grant checks.
type Observer func(plugin string, req Request)

// Option configures a Bridge.
type Option func(*Bridge)

// WithSuspendHook sets a function run before every capability call. The
// render binder uses it to flush pending redraws.
func WithSuspendHook(fn func()) Option {
	return func(b *Bridge) { b.suspend = fn }
}

// WithObserver records requests as they are issued.
func WithObserver(o Observer) Option {
	return func(b *Bridge) { b.observer = o }
}

// Bridge is the capability surface of one plugin instance.
type Bridge struct {
	plugin   string
	deps     Deps
	logger   *slog.Logger
	suspend  func()
	observer Observer

	mu     sync.Mutex
	timers map[*TimerHandle]struct{}
	closed bool
}

// New creates the bridge of plugin. The plugin name doubles as its storage
// namespace and must be a valid one.
func New(plugin string, deps Deps, opts ...Option) (*Bridge, error) {
	if err := store.ValidateNamespace(plugin); err != nil {
		return nil, oops.In("bridge").With("plugin", plugin).Wrap(err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		plugin: plugin,
		deps:   deps,
		logger: logger.With("plugin", plugin),
		timers: make(map[*TimerHandle]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Plugin returns the name of the plugin this bridge serves.
func (b *Bridge) Plugin() string { return b.plugin }

// Invoke runs one capability request.
func (b *Bridge) Invoke(ctx context.Context, req Request) (res Result, err error) {
	if b.observer != nil {
		b.observer(b.plugin, req)
	}
	if b.suspend != nil {
		b.suspend()
	}

	ctx, span := tracer.Start(ctx, "bridge."+string(req.Kind),
		trace.WithAttributes(
			attribute.String("plugin", b.plugin),
			attribute.String("capability.kind", string(req.Kind)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res, err = b.safeDispatch(ctx, req)

	status := "ok"
	if err != nil {
		status = strings.ToLower(CodeOf(err))
	}
	capabilityCalls.WithLabelValues(string(req.Kind), status).Inc()

	if err != nil && req.Kind == KindNotify {
		errutil.LogWarn(b.logger, "notification dropped", err)
		return Result{}, nil
	}
	return res, err
}

func (b *Bridge) safeDispatch(ctx context.Context, req Request) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = b.failf(req.Kind, CodeInternal, "capability panicked: %v", r)
		}
	}()

	if b.isClosed() {
		return Result{}, b.failf(req.Kind, CodeInternal, "bridge closed")
	}
	if name := grantFor(req); !b.granted(name) {
		return Result{}, b.failf(req.Kind, CodeCapabilityDenied, "capability %q not granted", name)
	}

	switch req.Kind {
	case KindFetch:
		return b.fetch(ctx, req)
	case KindExec:
		return b.exec(ctx, req)
	case KindStorageGet:
		return b.storageGet(ctx, req)
	case KindStorageSet:
		return b.storageSet(ctx, req)
	case KindStorageRemove:
		return b.storageRemove(ctx, req)
	case KindNotify:
		return b.notify(ctx, req)
	case KindScheduleTimer:
		return b.scheduleTimer(req)
	default:
		return Result{}, b.failf(req.Kind, CodeInvalidRequest, "unknown capability kind %q", req.Kind)
	}
}

func grantFor(req Request) string {
	switch req.Kind {
	case KindFetch:
		return capability.ForFetch(req.Path)
	case KindExec:
		return capability.Exec
	case KindStorageGet:
		return capability.StorageGet
	case KindStorageSet:
		return capability.StorageSet
	case KindStorageRemove:
		return capability.StorageRemove
	case KindNotify:
		return capability.Notify
	case KindScheduleTimer:
		return capability.Timer
	default:
		return ""
	}
}

func (b *Bridge) granted(name string) bool {
	if b.deps.Enforcer == nil {
		return true
	}
	return b.deps.Enforcer.Check(b.plugin, name)
}

func (b *Bridge) fetch(ctx context.Context, req Request) (Result, error) {
	if strings.Trim(req.Path, "/") == "" {
		return Result{}, b.failf(req.Kind, CodeInvalidRequest, "fetch path is empty")
	}
	if b.deps.Fetcher == nil {
		return Result{}, b.failf(req.Kind, CodeUnreachable, "no telemetry source configured")
	}
	sample, err := b.deps.Fetcher.Fetch(ctx, req.Path)
	if err != nil {
		return Result{}, b.fail(req.Kind, classify(req.Kind, err), err)
	}
	return Result{Sample: sample}, nil
}

func (b *Bridge) exec(ctx context.Context, req Request) (Result, error) {
	if b.deps.Executor == nil {
		return Result{}, b.failf(req.Kind, CodeExecutionFailed, "no command runner configured")
	}
	out, err := b.deps.Executor.Exec(ctx, req.Command)
	if err != nil {
		return Result{Output: out}, b.fail(req.Kind, classify(req.Kind, err), err)
	}
	return Result{Output: out}, nil
}

func (b *Bridge) storageGet(ctx context.Context, req Request) (Result, error) {
	if b.deps.Store == nil {
		return Result{}, b.failf(req.Kind, CodeStorageFailed, "no storage configured")
	}
	value, err := b.deps.Store.Get(ctx, b.plugin, req.Key)
	if err != nil {
		return Result{}, b.fail(req.Kind, classify(req.Kind, err), err)
	}
	return Result{Value: value, Found: value != nil}, nil
}

func (b *Bridge) storageSet(ctx context.Context, req Request) (Result, error) {
	if b.deps.Store == nil {
		return Result{}, b.failf(req.Kind, CodeStorageFailed, "no storage configured")
	}
	if err := b.deps.Store.Set(ctx, b.plugin, req.Key, req.Value); err != nil {
		return Result{}, b.fail(req.Kind, classify(req.Kind, err), err)
	}
	return Result{}, nil
}

func (b *Bridge) storageRemove(ctx context.Context, req Request) (Result, error) {
	if b.deps.Store == nil {
		return Result{}, b.failf(req.Kind, CodeStorageFailed, "no storage configured")
	}
	if err := b.deps.Store.Delete(ctx, b.plugin, req.Key); err != nil {
		return Result{}, b.fail(req.Kind, classify(req.Kind, err), err)
	}
	return Result{}, nil
}

func (b *Bridge) notify(ctx context.Context, req Request) (Result, error) {
	if b.deps.Notifier == nil {
		return Result{}, nil
	}
	b.deps.Notifier.Notify(ctx, notify.Notification{
		Plugin:   b.plugin,
		Message:  req.Message,
		Severity: notify.ParseSeverity(string(req.Severity)),
		At:       time.Now(),
	})
	return Result{}, nil
}

func (b *Bridge) scheduleTimer(req Request) (Result, error) {
	if req.Callback == nil {
		return Result{}, b.failf(req.Kind, CodeInvalidRequest, "timer callback is nil")
	}
	if req.Interval <= 0 {
		return Result{}, b.failf(req.Kind, CodeInvalidRequest, "timer interval must be positive, got %s", req.Interval)
	}
	if b.deps.Loop == nil {
		return Result{}, b.failf(req.Kind, CodeInternal, "no scheduler configured")
	}

	h := &TimerHandle{bridge: b}
	callback := req.Callback
	timer, err := b.deps.Loop.Every(req.Interval, func(ctx context.Context) error {
		if cbErr := callback(ctx); cbErr != nil {
			errutil.LogWarn(b.logger, "timer callback failed", cbErr)
		}
		return nil
	})
	if err != nil {
		return Result{}, b.fail(req.Kind, CodeInternal, err)
	}
	h.timer = timer

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		timer.Cancel()
		return Result{}, b.failf(req.Kind, CodeInternal, "bridge closed")
	}
	b.timers[h] = struct{}{}
	b.mu.Unlock()

	return Result{Timer: h}, nil
}

// Timers returns the number of live timers scheduled through the bridge.
func (b *Bridge) Timers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

// CancelTimers cancels every timer scheduled through the bridge.
func (b *Bridge) CancelTimers() {
	b.mu.Lock()
	handles := make([]*TimerHandle, 0, len(b.timers))
	for h := range b.timers {
		handles = append(handles, h)
	}
	b.mu.Unlock()

	for _, h := range handles {
		h.Cancel()
	}
}

// Close cancels every timer and rejects further calls. Close is idempotent.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.CancelTimers()
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) forget(h *TimerHandle) {
	b.mu.Lock()
	delete(b.timers, h)
	b.mu.Unlock()
}

// TimerHandle cancels a timer scheduled through a bridge.
type TimerHandle struct {
	bridge *Bridge
	timer  *loop.Timer
	once   sync.Once
}

// Cancel stops the timer. No firing runs after Cancel returns, including one
// already queued. Calling Cancel again is a no-op.
func (h *TimerHandle) Cancel() {
	h.once.Do(func() {
		h.timer.Cancel()
		h.bridge.forget(h)
	})
}

// Cancelled reports whether the timer has been cancelled.
func (h *TimerHandle) Cancelled() bool { return h.timer.Cancelled() }

// Fetch requests a telemetry resource. Bridge satisfies telemetry.Fetcher so
// the sync loop polls through the same grants and accounting as plugin code.
func (b *Bridge) Fetch(ctx context.Context, path string) (telemetry.Sample, error) {
	res, err := b.Invoke(ctx, FetchRequest(path))
	return res.Sample, err
}

// Exec runs a host command and returns its output. On failure the output
// collected so far is returned alongside the error.
func (b *Bridge) Exec(ctx context.Context, command string) (string, error) {
	res, err := b.Invoke(ctx, ExecRequest(command))
	return res.Output, err
}

// StorageGet reads key. A missing key yields (nil, false, nil).
func (b *Bridge) StorageGet(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := b.Invoke(ctx, StorageGetRequest(key))
	return res.Value, res.Found, err
}

// StorageSet writes key.
func (b *Bridge) StorageSet(ctx context.Context, key string, value []byte) error {
	_, err := b.Invoke(ctx, StorageSetRequest(key, value))
	return err
}

// StorageRemove deletes key. Deleting a missing key succeeds.
func (b *Bridge) StorageRemove(ctx context.Context, key string) error {
	_, err := b.Invoke(ctx, StorageRemoveRequest(key))
	return err
}

// Notify delivers a best-effort notification. It never fails.
func (b *Bridge) Notify(ctx context.Context, message string, severity notify.Severity) {
	//nolint:errcheck // notify never reports failure
	b.Invoke(ctx, NotifyRequest(message, severity))
}

// ScheduleTimer runs callback on the loop every interval until the returned
// handle is cancelled or the bridge is closed.
func (b *Bridge) ScheduleTimer(ctx context.Context, callback loop.Task, interval time.Duration) (*TimerHandle, error) {
	res, err := b.Invoke(ctx, ScheduleTimerRequest(callback, interval))
	return res.Timer, err
}

// String identifies the bridge in logs.
func (b *Bridge) String() string {
	return fmt.Sprintf("bridge(%s)", b.plugin)
}
