// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package view

import (
	"strings"
	"sync"

	"github.com/ufitools/widgethost/internal/state"
	"github.com/ufitools/widgethost/internal/telemetry"
)

// Frame is one rendering of a plugin view.
type Frame struct {
	Plugin   string `json:"plugin"`
	Instance string `json:"instance"`
	Text     string `json:"text"`
	Seq      uint64 `json:"seq"`
}

// Renderer receives frames. It is the dashboard shell side of the binder.
type Renderer interface {
	Render(Frame)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Frame)

// Render implements Renderer.
func (f RendererFunc) Render(fr Frame) { f(fr) }

// Option configures a Binder.
type Option func(*Binder)

// WithMasker shares a masking flag with other binders.
func WithMasker(m *telemetry.Masker) Option {
	return func(b *Binder) { b.masker = m }
}

// WithIdentity stamps frames with the plugin and instance they belong to.
func WithIdentity(plugin, instance string) Option {
	return func(b *Binder) {
		b.plugin = plugin
		b.instance = instance
	}
}

// Binder keeps a rendered template in sync with a state store.
//
// Each interpolation depends on the root key of its path. A store mutation
// marks only the interpolations reading that key dirty; Flush re-evaluates
// those and emits a frame when the text changed.
type Binder struct {
	tmpl     *Template
	store    *state.Store
	renderer Renderer
	masker   *telemetry.Masker
	plugin   string
	instance string

	mu       sync.Mutex
	values   []string
	dirty    map[int]struct{}
	byKey    map[string][]int
	masked   []int
	text     string
	seq      uint64
	rendered bool
	evals    int
	unwatch  func()
	closed   bool
}

// NewBinder binds tmpl to store. Nothing is rendered until the first Flush.
func NewBinder(tmpl *Template, store *state.Store, renderer Renderer, opts ...Option) *Binder {
	b := &Binder{
		tmpl:     tmpl,
		store:    store,
		renderer: renderer,
		values:   make([]string, len(tmpl.Segments)),
		dirty:    make(map[int]struct{}),
		byKey:    make(map[string][]int),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.masker == nil {
		b.masker = telemetry.NewMasker(true)
	}

	for i, seg := range tmpl.Segments {
		if seg.Expr == nil {
			b.values[i] = seg.Text
			continue
		}
		root := seg.Expr.Path.Root()
		b.byKey[root] = append(b.byKey[root], i)
		if seg.Expr.Masked() {
			b.masked = append(b.masked, i)
		}
		b.dirty[i] = struct{}{}
	}
	b.unwatch = store.Watch(b.invalidate)
	return b
}

func (b *Binder) invalidate(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, i := range b.byKey[key] {
		b.dirty[i] = struct{}{}
	}
}

// Flush re-evaluates dirty interpolations and renders a frame if the text
// changed, or if nothing has been rendered yet. It reports whether a frame was
// emitted.
func (b *Binder) Flush() bool {
	b.mu.Lock()
	if b.closed || (len(b.dirty) == 0 && b.rendered) {
		b.mu.Unlock()
		return false
	}

	masking := b.masker.Enabled()
	for i := range b.dirty {
		b.values[i] = b.tmpl.Segments[i].Expr.Eval(b.store.Lookup, masking)
		b.evals++
	}
	clear(b.dirty)

	text := strings.Join(b.values, "")
	if b.rendered && text == b.text {
		b.mu.Unlock()
		return false
	}
	b.text = text
	b.rendered = true
	b.seq++
	frame := Frame{Plugin: b.plugin, Instance: b.instance, Text: text, Seq: b.seq}
	b.mu.Unlock()

	if b.renderer != nil {
		b.renderer.Render(frame)
	}
	return true
}

// SetMasking toggles identifier masking and redraws immediately.
func (b *Binder) SetMasking(enabled bool) {
	b.masker.SetEnabled(enabled)
	b.mu.Lock()
	for _, i := range b.masked {
		b.dirty[i] = struct{}{}
	}
	b.mu.Unlock()
	b.Flush()
}

// Masking reports the current masking flag.
func (b *Binder) Masking() bool { return b.masker.Enabled() }

// Text returns the last rendered text.
func (b *Binder) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.text
}

// Evaluations returns how many interpolation evaluations have run.
func (b *Binder) Evaluations() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.evals
}

// Close stops tracking the store. Later flushes do nothing.
func (b *Binder) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.unwatch()
}
