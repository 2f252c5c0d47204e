// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/oops"
)

// ErrContextRemoved is returned when posting to a removed rendering context.
var ErrContextRemoved = errors.New("rendering context removed")

// inboundBuffer bounds messages queued from a surface to the host. The host
// only acts on the first surface-close, so overflow is dropped.
const inboundBuffer = 8

// RenderContext is one isolated rendering context and its message channel.
type RenderContext interface {
	// ID identifies the context.
	ID() string
	// Post sends a message into the context.
	Post(ctx context.Context, m Message) error
	// Inbound delivers messages sent by the context. It is closed when the
	// context is removed, from either side.
	Inbound() <-chan Message
	// Remove destroys the context. It is idempotent.
	Remove() error
	// Exists reports whether the context is still present.
	Exists() bool
}

// Provider creates rendering contexts.
type Provider interface {
	Create(ctx context.Context, id string, document []byte) (RenderContext, error)
}

// channel is the inbound side shared by providers. Sends never block and
// never race with close.
type channel struct {
	mu      sync.Mutex
	inbound chan Message
	removed bool
}

func (c *channel) deliver(m Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return false
	}
	select {
	case c.inbound <- m:
		return true
	default:
		return false
	}
}

// finish marks the channel removed. It reports whether this call did it.
func (c *channel) finish() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.removed {
		return false
	}
	c.removed = true
	close(c.inbound)
	return true
}

func (c *channel) exists() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.removed
}

// MemoryProvider keeps rendering contexts in memory. The far side of each
// context is driven through MemoryContext, which is what tests and embedded
// hosts use.
type MemoryProvider struct {
	mu       sync.Mutex
	contexts map[string]*MemoryContext
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{contexts: make(map[string]*MemoryContext)}
}

// Create implements Provider.
func (p *MemoryProvider) Create(_ context.Context, id string, document []byte) (RenderContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.contexts[id]; ok {
		return nil, oops.In("surface").With("surface", id).Errorf("rendering context already exists")
	}
	c := &MemoryContext{
		id:       id,
		document: append([]byte(nil), document...),
		channel:  channel{inbound: make(chan Message, inboundBuffer)},
		provider: p,
	}
	p.contexts[id] = c
	return c, nil
}

// Context returns the live context with id.
func (p *MemoryProvider) Context(id string) (*MemoryContext, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.contexts[id]
	return c, ok
}

// Len returns the number of live contexts.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.contexts)
}

func (p *MemoryProvider) drop(id string) {
	p.mu.Lock()
	delete(p.contexts, id)
	p.mu.Unlock()
}

// MemoryContext is an in-memory rendering context.
type MemoryContext struct {
	id       string
	document []byte
	provider *MemoryProvider
	channel

	postMu sync.Mutex
	posted []Message
}

// ID implements RenderContext.
func (c *MemoryContext) ID() string { return c.id }

// Post implements RenderContext.
func (c *MemoryContext) Post(_ context.Context, m Message) error {
	if !c.exists() {
		return ErrContextRemoved
	}
	c.postMu.Lock()
	c.posted = append(c.posted, m)
	c.postMu.Unlock()
	return nil
}

// Inbound implements RenderContext.
func (c *MemoryContext) Inbound() <-chan Message { return c.inbound }

// Remove implements RenderContext.
func (c *MemoryContext) Remove() error {
	if c.finish() {
		c.provider.drop(c.id)
	}
	return nil
}

// Exists implements RenderContext.
func (c *MemoryContext) Exists() bool { return c.exists() }

// Document returns the bundle injected into the context.
func (c *MemoryContext) Document() []byte { return c.document }

// Posted returns the messages posted into the context so far.
func (c *MemoryContext) Posted() []Message {
	c.postMu.Lock()
	defer c.postMu.Unlock()
	return append([]Message(nil), c.posted...)
}

// Send delivers a message from the surface side. It reports false when the
// context is gone or its queue is full.
func (c *MemoryContext) Send(m Message) bool { return c.deliver(m) }

// Destroy removes the context from the surface side, as when the user closes
// the window.
func (c *MemoryContext) Destroy() { _ = c.Remove() }
