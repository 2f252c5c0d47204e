// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package surface runs isolated rendering surfaces: a separate document fed
// with telemetry over a message channel, torn down exactly once whichever
// side closes it.
package surface

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/telemetry"
)

// CodeSurfaceClosed marks operations on a closed surface.
const CodeSurfaceClosed = "SURFACE_CLOSED"

// CloseOrigin says which side closed a surface.
type CloseOrigin int

// Close origins.
const (
	// ClosedByHost is an explicit host-side close.
	ClosedByHost CloseOrigin = iota
	// ClosedBySurface is a surface-close message from the surface.
	ClosedBySurface
	// ClosedExternally means the rendering context disappeared.
	ClosedExternally
)

func (o CloseOrigin) String() string {
	switch o {
	case ClosedByHost:
		return "host"
	case ClosedBySurface:
		return "surface"
	case ClosedExternally:
		return "external"
	default:
		return "unknown"
	}
}

// OpenOptions describe a surface to open.
type OpenOptions struct {
	// Owner identifies the plugin instance that opened the surface.
	Owner  string
	Title  string
	Bundle Bundle
	// Masking is the initial masking flag handed to the bundle.
	Masking bool

	// Fetcher, when set, is polled every Interval for TelemetryPath and the
	// samples are posted to the surface.
	Fetcher       telemetry.Fetcher
	TelemetryPath string
	Interval      time.Duration

	// OnClose runs once after teardown, whichever side closed the surface.
	OnClose func(s *Surface, origin CloseOrigin)
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithChannelPath sets how a surface id maps to its channel path, which is
// injected into the bundle.
func WithChannelPath(fn func(id string) string) Option {
	return func(m *Manager) { m.channelPath = fn }
}

// Manager opens and tracks surfaces.
type Manager struct {
	provider    Provider
	loop        *loop.Loop
	logger      *slog.Logger
	channelPath func(id string) string

	mu       sync.Mutex
	surfaces map[string]*Surface
	wg       sync.WaitGroup
}

// NewManager creates a surface manager. Sync loops run on l.
func NewManager(provider Provider, l *loop.Loop, opts ...Option) *Manager {
	m := &Manager{
		provider:    provider,
		loop:        l,
		logger:      slog.Default(),
		channelPath: ChannelPath,
		surfaces:    make(map[string]*Surface),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open creates a rendering context, injects the bundle, wires the channel
// and starts telemetry sync when a fetcher is given.
func (m *Manager) Open(ctx context.Context, opts OpenOptions) (*Surface, error) {
	id := ulid.Make().String()
	errb := oops.In("surface").With("surface", id).With("owner", opts.Owner)

	doc, err := opts.Bundle.Render(BundleData{
		SurfaceID:   id,
		ChannelPath: m.channelPath(id),
		Title:       opts.Title,
		Masking:     opts.Masking,
	})
	if err != nil {
		return nil, errb.Wrap(err)
	}

	rc, err := m.provider.Create(ctx, id, doc)
	if err != nil {
		return nil, errb.Wrapf(err, "creating rendering context")
	}

	s := &Surface{
		id:      id,
		owner:   opts.Owner,
		rc:      rc,
		manager: m,
		onClose: opts.OnClose,
		done:    make(chan struct{}),
		logger:  m.logger.With("surface", id, "owner", opts.Owner),
	}

	if opts.Fetcher != nil {
		syncer, syncErr := StartSync(m.loop, s, opts.Fetcher, opts.TelemetryPath, opts.Interval, s.logger)
		if syncErr != nil {
			_ = rc.Remove()
			return nil, errb.Wrapf(syncErr, "starting telemetry sync")
		}
		s.sync = syncer
	}

	m.mu.Lock()
	m.surfaces[id] = s
	m.mu.Unlock()
	surfacesOpen.Inc()

	m.wg.Add(1)
	go s.listen()

	s.logger.Info("surface opened", "path", opts.TelemetryPath, "interval", opts.Interval)
	return s, nil
}

// Get returns an open surface.
func (m *Manager) Get(id string) (*Surface, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.surfaces[id]
	return s, ok
}

// Close closes the surface with id. Unknown ids are ignored; it reports
// whether a surface was found.
func (m *Manager) Close(id string) bool {
	s, ok := m.Get(id)
	if !ok {
		return false
	}
	s.Close()
	return true
}

// Surfaces returns the open surfaces ordered by id.
func (m *Manager) Surfaces() []*Surface {
	m.mu.Lock()
	out := make([]*Surface, 0, len(m.surfaces))
	for _, s := range m.surfaces {
		out = append(out, s)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// CloseAll closes every surface and waits for their listeners to exit.
func (m *Manager) CloseAll() {
	for _, s := range m.Surfaces() {
		s.Close()
	}
	m.wg.Wait()
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	_, ok := m.surfaces[id]
	delete(m.surfaces, id)
	m.mu.Unlock()
	if ok {
		surfacesOpen.Dec()
	}
}

// ChannelPath is the default websocket path of a surface.
func ChannelPath(id string) string { return "/surfaces/" + id + "/ws" }

// Surface is one open isolated surface.
type Surface struct {
	id      string
	owner   string
	rc      RenderContext
	manager *Manager
	sync    *Sync
	onClose func(*Surface, CloseOrigin)
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
	origin    CloseOrigin
}

// ID returns the surface id.
func (s *Surface) ID() string { return s.id }

// Owner returns the id of the instance that opened the surface.
func (s *Surface) Owner() string { return s.owner }

// Sync returns the telemetry sync loop, or nil.
func (s *Surface) Sync() *Sync { return s.sync }

// Done is closed once the surface is torn down.
func (s *Surface) Done() <-chan struct{} { return s.done }

// Closed reports whether teardown has happened.
func (s *Surface) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Origin reports which side closed the surface. It is only meaningful after
// Done is closed.
func (s *Surface) Origin() CloseOrigin {
	<-s.done
	return s.origin
}

// Exists reports whether the rendering context is still present.
func (s *Surface) Exists() bool { return s.rc.Exists() }

// Post sends a message to the surface. Posting after close is a silent
// no-op: a late tick or reply racing teardown is expected.
func (s *Surface) Post(ctx context.Context, m Message) error {
	if s.Closed() {
		s.logger.Debug("dropping message for closed surface", "kind", string(m.Kind()))
		return nil
	}
	if err := s.rc.Post(ctx, m); err != nil {
		if errors.Is(err, ErrContextRemoved) {
			s.logger.Debug("dropping message for removed context", "kind", string(m.Kind()))
			return nil
		}
		return oops.In("surface").With("surface", s.id).Wrap(err)
	}
	return nil
}

// Close tears the surface down from the host side. It is idempotent and safe
// after the context was removed externally.
func (s *Surface) Close() { s.teardown(ClosedByHost) }

func (s *Surface) teardown(origin CloseOrigin) {
	s.closeOnce.Do(func() {
		s.origin = origin
		if s.sync != nil {
			s.sync.Stop()
		}
		if s.rc.Exists() {
			if err := s.rc.Remove(); err != nil {
				s.logger.Warn("removing rendering context failed", "error", err)
			}
		}
		s.manager.forget(s.id)
		close(s.done)
		s.logger.Info("surface closed", "origin", origin.String())

		if s.onClose != nil {
			s.onClose(s, origin)
		}
	})
}

// listen handles messages from the surface until the context goes away.
func (s *Surface) listen() {
	defer s.manager.wg.Done()
	for msg := range s.rc.Inbound() {
		if _, ok := msg.(SurfaceClose); ok {
			s.teardown(ClosedBySurface)
			return
		}
		s.logger.Debug("ignoring message from surface", "kind", string(msg.Kind()))
	}
	s.teardown(ClosedExternally)
}
