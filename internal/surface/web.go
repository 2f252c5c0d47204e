// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package surface

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
)

const (
	outboundBuffer = 16
	writeWait      = 10 * time.Second
)

// WebProvider serves each rendering context as a browser document at
// /surfaces/{id} with its channel at /surfaces/{id}/ws. A browser closing the
// socket removes the context externally.
type WebProvider struct {
	upgrader websocket.Upgrader
	logger   *slog.Logger
	mux      *http.ServeMux

	mu       sync.Mutex
	contexts map[string]*webContext
}

// NewWebProvider creates a provider; mount it on an HTTP server.
func NewWebProvider(logger *slog.Logger) *WebProvider {
	if logger == nil {
		logger = slog.Default()
	}
	p := &WebProvider{
		logger:   logger,
		contexts: make(map[string]*webContext),
		mux:      http.NewServeMux(),
	}
	p.mux.HandleFunc("GET /surfaces/{id}", p.handleDocument)
	p.mux.HandleFunc("GET /surfaces/{id}/ws", p.handleChannel)
	return p
}

// ServeHTTP implements http.Handler.
func (p *WebProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mux.ServeHTTP(w, r)
}

// Create implements Provider.
func (p *WebProvider) Create(_ context.Context, id string, document []byte) (RenderContext, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.contexts[id]; ok {
		return nil, oops.In("surface").With("surface", id).Errorf("rendering context already exists")
	}
	c := &webContext{
		id:       id,
		document: append([]byte(nil), document...),
		provider: p,
		channel:  channel{inbound: make(chan Message, inboundBuffer)},
		out:      make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}
	p.contexts[id] = c
	return c, nil
}

// Close removes every context, disconnecting their browsers.
func (p *WebProvider) Close() {
	p.mu.Lock()
	all := make([]*webContext, 0, len(p.contexts))
	for _, c := range p.contexts {
		all = append(all, c)
	}
	p.mu.Unlock()
	for _, c := range all {
		_ = c.Remove()
	}
}

func (p *WebProvider) get(id string) (*webContext, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.contexts[id]
	return c, ok
}

func (p *WebProvider) drop(id string) {
	p.mu.Lock()
	delete(p.contexts, id)
	p.mu.Unlock()
}

func (p *WebProvider) handleDocument(w http.ResponseWriter, r *http.Request) {
	c, ok := p.get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	//nolint:errcheck // client may disconnect
	w.Write(c.document)
}

func (p *WebProvider) handleChannel(w http.ResponseWriter, r *http.Request) {
	c, ok := p.get(r.PathValue("id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if !c.claim() {
		http.Error(w, "surface already connected", http.StatusConflict)
		return
	}

	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Warn("surface channel upgrade failed", "surface", c.id, "error", err)
		c.release()
		return
	}

	writerDone := make(chan struct{})
	go c.writeLoop(conn, writerDone)

	for {
		_, data, readErr := conn.ReadMessage()
		if readErr != nil {
			break
		}
		msg, decodeErr := Decode(data)
		if decodeErr != nil {
			p.logger.Debug("ignoring surface message", "surface", c.id, "error", decodeErr)
			continue
		}
		c.deliver(msg)
	}

	_ = c.Remove()
	<-writerDone
}

type webContext struct {
	id       string
	document []byte
	provider *WebProvider
	channel

	out  chan []byte
	done chan struct{}

	connMu    sync.Mutex
	connected bool
}

func (c *webContext) claim() bool {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.connected || !c.exists() {
		return false
	}
	c.connected = true
	return true
}

func (c *webContext) release() {
	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()
}

func (c *webContext) writeLoop(conn *websocket.Conn, finished chan<- struct{}) {
	defer close(finished)
	defer conn.Close()
	for {
		select {
		case data := <-c.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "surface closed"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *webContext) ID() string { return c.id }

// Post queues m for the browser. When the browser falls behind, newer
// messages are dropped; telemetry is periodic.
func (c *webContext) Post(_ context.Context, m Message) error {
	if !c.exists() {
		return ErrContextRemoved
	}
	data, err := Encode(m)
	if err != nil {
		return err
	}
	select {
	case c.out <- data:
	default:
		c.provider.logger.Debug("surface outbound queue full, dropping message", "surface", c.id)
	}
	return nil
}

func (c *webContext) Inbound() <-chan Message { return c.inbound }

func (c *webContext) Remove() error {
	if c.finish() {
		close(c.done)
		c.provider.drop(c.id)
	}
	return nil
}

func (c *webContext) Exists() bool { return c.exists() }
