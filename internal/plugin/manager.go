// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ufitools/widgethost/internal/bridge"
	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/plugin/capability"
	"github.com/ufitools/widgethost/internal/state"
	"github.com/ufitools/widgethost/internal/surface"
	"github.com/ufitools/widgethost/internal/telemetry"
	"github.com/ufitools/widgethost/internal/view"
	"github.com/ufitools/widgethost/pkg/errutil"
)

// Lifecycle error codes.
const (
	CodePluginNotFound = "PLUGIN_NOT_FOUND"
	CodePluginActive   = "PLUGIN_ALREADY_REGISTERED"
	CodeLoadFailed     = "LOAD_FAILED"
)

// ErrManagerClosed is returned by Register after Close.
var ErrManagerClosed = errors.New("plugin manager closed")

const defaultWatchDebounce = 250 * time.Millisecond

// forgetter is implemented by renderers that keep per-instance frames.
type forgetter interface {
	Forget(instance string)
}

// Manager discovers plugins and runs their instance lifecycle on the loop.
type Manager struct {
	pluginsDir string
	loop       *loop.Loop
	runtimes   map[string]Runtime
	deps       bridge.Deps
	enforcer   *capability.Enforcer
	surfaces   *surface.Manager
	renderer   view.Renderer
	masker     *telemetry.Masker
	observer   bridge.Observer
	logger     *slog.Logger
	debounce   time.Duration

	mu        sync.RWMutex
	instances map[string]*Instance
	byName    map[string]*Instance
	closed    bool
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithRuntime serves entries with the given runtime key (".lua", or
// BuiltinRuntime) from rt.
func WithRuntime(key string, rt Runtime) ManagerOption {
	return func(m *Manager) { m.runtimes[key] = rt }
}

// WithBridgeDeps sets the host collaborators every instance bridge uses.
// The loop and enforcer are always the manager's own.
func WithBridgeDeps(deps bridge.Deps) ManagerOption {
	return func(m *Manager) { m.deps = deps }
}

// WithEnforcer shares a capability enforcer.
func WithEnforcer(e *capability.Enforcer) ManagerOption {
	return func(m *Manager) { m.enforcer = e }
}

// WithSurfaces enables isolated surfaces for plugins that declare one.
func WithSurfaces(s *surface.Manager) ManagerOption {
	return func(m *Manager) { m.surfaces = s }
}

// WithRenderer sets where rendered frames go.
func WithRenderer(r view.Renderer) ManagerOption {
	return func(m *Manager) { m.renderer = r }
}

// WithMasker shares the masking flag used by every view.
func WithMasker(masker *telemetry.Masker) ManagerOption {
	return func(m *Manager) { m.masker = masker }
}

// WithObserver sees every capability request of every instance.
func WithObserver(o bridge.Observer) ManagerOption {
	return func(m *Manager) { m.observer = o }
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithWatchDebounce sets how long Watch waits for a plugin directory to
// settle before reloading it.
func WithWatchDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) { m.debounce = d }
}

// NewManager creates a plugin manager. Instances run on l.
func NewManager(pluginsDir string, l *loop.Loop, opts ...ManagerOption) *Manager {
	m := &Manager{
		pluginsDir: pluginsDir,
		loop:       l,
		runtimes:   make(map[string]Runtime),
		enforcer:   capability.NewEnforcer(),
		renderer:   view.NewLatest(),
		masker:     telemetry.NewMasker(true),
		logger:     slog.Default(),
		debounce:   defaultWatchDebounce,
		instances:  make(map[string]*Instance),
		byName:     make(map[string]*Instance),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// DiscoveredPlugin contains a manifest and its directory.
type DiscoveredPlugin struct {
	Manifest *Manifest
	Dir      string
}

// Discover finds all valid plugins in the plugins directory.
// Invalid plugins are logged and skipped.
func (m *Manager) Discover(_ context.Context) ([]*DiscoveredPlugin, error) {
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}

	var plugins []*DiscoveredPlugin
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dp, err := LoadDir(filepath.Join(m.pluginsDir, entry.Name()))
		if err != nil {
			errutil.LogWarn(m.logger.With("dir", entry.Name()), "skipping plugin", err)
			continue
		}
		plugins = append(plugins, dp)
	}

	return plugins, nil
}

// LoadDir reads and validates the manifest in dir.
func LoadDir(dir string) (*DiscoveredPlugin, error) {
	manifestPath := filepath.Join(dir, ManifestFile)
	data, err := os.ReadFile(manifestPath) //nolint:gosec // manifestPath is built from the plugins dir
	if err != nil {
		return nil, oops.In("plugin").With("path", manifestPath).Wrapf(err, "read manifest")
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	return &DiscoveredPlugin{Manifest: manifest, Dir: dir}, nil
}

// LoadAll discovers and registers every plugin. One plugin failing to load
// is logged and does not stop the others.
func (m *Manager) LoadAll(ctx context.Context) error {
	discovered, err := m.Discover(ctx)
	if err != nil {
		return err
	}

	for _, dp := range discovered {
		if _, err := m.Register(ctx, dp); err != nil {
			errutil.LogError(m.logger.With("plugin", dp.Manifest.Name), "failed to load plugin", err)
			continue
		}
	}
	return nil
}

// Register creates state for a discovered plugin, mounts it and returns the
// instance. A plugin whose entry declares neither (or both) authoring shapes
// fails with MALFORMED_MANIFEST and leaves no instance behind. A failing
// mount hook is logged; the instance still mounts.
func (m *Manager) Register(ctx context.Context, dp *DiscoveredPlugin) (*Instance, error) {
	var inst *Instance
	err := m.loop.Do(ctx, func(ctx context.Context) error {
		var err error
		inst, err = m.register(ctx, dp)
		return err
	})
	if err != nil {
		registrations.WithLabelValues(registrationResult(err)).Inc()
		return nil, err
	}
	registrations.WithLabelValues("ok").Inc()
	return inst, nil
}

func registrationResult(err error) string {
	if IsMalformed(err) {
		return "malformed"
	}
	return "failed"
}

func (m *Manager) register(ctx context.Context, dp *DiscoveredPlugin) (*Instance, error) {
	man := dp.Manifest
	errb := oops.In("plugin").With("plugin", man.Name)

	m.mu.RLock()
	closed := m.closed
	existing := m.byName[man.Name]
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}
	if existing != nil {
		return nil, errb.Code(CodePluginActive).With("instance", existing.id).
			Errorf("plugin already registered")
	}

	tmpl, err := loadTemplate(dp)
	if err != nil {
		return nil, err
	}
	rt, ok := m.runtimes[RuntimeKey(man.Entry)]
	if !ok {
		return nil, noRuntime(man)
	}
	if err := m.enforcer.SetGrants(man.Name, man.Capabilities); err != nil {
		return nil, malformed(man.Name).Wrapf(err, "invalid capabilities")
	}

	id := ulid.Make().String()
	inst := &Instance{
		id:          id,
		manifest:    man,
		dir:         dp.Dir,
		logger:      m.logger.With("plugin", man.Name, "instance", id),
		loop:        m.loop,
		surfaces:    m.surfaces,
		enforcer:    m.enforcer,
		onDestroyed: m.forget,
	}

	deps := m.deps
	deps.Loop = m.loop
	deps.Enforcer = m.enforcer
	if deps.Logger == nil {
		deps.Logger = m.logger
	}
	br, err := bridge.New(man.Name, deps,
		bridge.WithSuspendHook(inst.flush),
		bridge.WithObserver(m.observer))
	if err != nil {
		m.enforcer.RemoveGrants(man.Name)
		return nil, malformed(man.Name).Wrap(err)
	}
	inst.bridge = br

	env := Env{Plugin: man.Name, Instance: id, Bridge: br, Logger: inst.logger}
	if man.Surface != nil {
		env.Surface = inst
	}

	abort := func(release func()) {
		br.Close()
		if release != nil {
			release()
		}
		m.enforcer.RemoveGrants(man.Name)
	}

	def, err := rt.Load(ctx, LoadRequest{Manifest: man, Dir: dp.Dir, Env: env})
	if err != nil {
		abort(nil)
		if IsMalformed(err) {
			return nil, err
		}
		return nil, errb.Code(CodeLoadFailed).Wrap(err)
	}
	contract, err := Normalize(man.Name, def, env)
	if err != nil {
		abort(def.Release)
		return nil, err
	}
	st, err := createState(ctx, contract)
	if err != nil {
		abort(def.Release)
		return nil, errb.Code(CodeLoadFailed).Wrapf(err, "creating state")
	}

	inst.contract = contract
	inst.state = st
	inst.binder = view.NewBinder(tmpl, st, m.renderer,
		view.WithMasker(m.masker),
		view.WithIdentity(man.Name, id))
	inst.removeHook = m.loop.AfterTask(inst.flush)
	inst.status.Store(int32(StatusMounted))

	m.mu.Lock()
	m.instances[id] = inst
	m.byName[man.Name] = inst
	m.mu.Unlock()
	instancesActive.Inc()

	if err := safeHook(ctx, contract.OnMount, st); err != nil {
		errutil.LogWarn(inst.logger, "onMount failed", err)
	}
	inst.flush()

	inst.logger.Info("plugin instance mounted",
		"shape", contract.Shape.String(),
		"version", man.Version)
	return inst, nil
}

func createState(ctx context.Context, c *Contract) (st *state.Store, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("state factory panicked: %v", r)
		}
	}()
	return c.CreateState(ctx)
}

func loadTemplate(dp *DiscoveredPlugin) (*view.Template, error) {
	man := dp.Manifest
	src := man.Template
	if man.View != "" {
		data, err := os.ReadFile(filepath.Join(dp.Dir, man.View)) //nolint:gosec // view is checked to be local
		if err != nil {
			return nil, malformed(man.Name).With("view", man.View).Wrapf(err, "read view")
		}
		src = string(data)
	}
	tmpl, err := view.Parse(src)
	if err != nil {
		return nil, malformed(man.Name).Wrapf(err, "invalid view template")
	}
	return tmpl, nil
}

func (m *Manager) forget(inst *Instance) {
	m.mu.Lock()
	delete(m.instances, inst.id)
	if m.byName[inst.Name()] == inst {
		delete(m.byName, inst.Name())
		m.enforcer.RemoveGrants(inst.Name())
	}
	m.mu.Unlock()
	if f, ok := m.renderer.(forgetter); ok {
		f.Forget(inst.id)
	}
}

// Get returns a live instance by id.
func (m *Manager) Get(id string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.instances[id]
	return inst, ok
}

// Lookup returns the live instance of a plugin by name.
func (m *Manager) Lookup(name string) (*Instance, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inst, ok := m.byName[name]
	return inst, ok
}

// Instances returns the live instances ordered by plugin name.
func (m *Manager) Instances() []*Instance {
	m.mu.RLock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// ListPlugins returns the names of plugins with a live instance.
func (m *Manager) ListPlugins() []string {
	insts := m.Instances()
	names := make([]string, len(insts))
	for i, inst := range insts {
		names[i] = inst.Name()
	}
	return names
}

// Call runs a plugin method on the loop and returns its error.
func (m *Manager) Call(ctx context.Context, id, method string, args ...any) error {
	return m.loop.Do(ctx, func(ctx context.Context) error {
		inst, ok := m.Get(id)
		if !ok {
			return oops.In("plugin").Code(CodePluginNotFound).With("instance", id).Errorf("no such instance")
		}
		return inst.call(ctx, method, args...)
	})
}

// Teardown unmounts an instance. Tearing down an instance that is already
// gone is a no-op.
func (m *Manager) Teardown(ctx context.Context, id string) error {
	return m.loop.Do(ctx, func(ctx context.Context) error {
		if inst, ok := m.Get(id); ok {
			inst.teardown(ctx)
		}
		return nil
	})
}

// SetMasking switches identifier masking for every view and redraws the
// affected expressions immediately.
func (m *Manager) SetMasking(ctx context.Context, enabled bool) error {
	return m.loop.Do(ctx, func(context.Context) error {
		m.masker.SetEnabled(enabled)
		for _, inst := range m.Instances() {
			inst.binder.SetMasking(enabled)
		}
		return nil
	})
}

// Masking reports whether identifier masking is on.
func (m *Manager) Masking() bool { return m.masker.Enabled() }

// Close tears down every instance and rejects further registrations.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	err := m.loop.Do(ctx, func(ctx context.Context) error {
		for _, inst := range m.Instances() {
			inst.teardown(ctx)
		}
		return nil
	})
	if errors.Is(err, loop.ErrStopped) {
		return nil
	}
	return err
}
