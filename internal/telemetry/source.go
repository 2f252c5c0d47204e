// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Error codes reported by telemetry sources.
const (
	CodeUnreachable     = "UNREACHABLE"
	CodeInvalidResponse = "INVALID_RESPONSE"
)

// maxResponseBytes caps an upstream telemetry document.
const maxResponseBytes = 1 << 20

// Fetcher resolves a resource path to a telemetry sample.
type Fetcher interface {
	Fetch(ctx context.Context, path string) (Sample, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, path string) (Sample, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, path string) (Sample, error) {
	return f(ctx, path)
}

// Router dispatches fetches to per-path sources. Paths are matched exactly
// after trimming a trailing slash; a router with a fallback sends unmatched
// paths there.
type Router struct {
	mu       sync.RWMutex
	routes   map[string][]Fetcher
	fallback Fetcher
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string][]Fetcher)}
}

// Handle registers sources for path. When more than one source is registered
// for a path their samples are merged in registration order, later sources
// winning per field. A path with several sources fails only when every
// source fails.
func (r *Router) Handle(path string, sources ...Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizePath(path)
	r.routes[key] = append(r.routes[key], sources...)
}

// Fallback sets the source used for paths with no route.
func (r *Router) Fallback(f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = f
}

// Paths lists the routed paths.
func (r *Router) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for p := range r.routes {
		out = append(out, p)
	}
	return out
}

// Fetch implements Fetcher.
func (r *Router) Fetch(ctx context.Context, path string) (Sample, error) {
	r.mu.RLock()
	sources, ok := r.routes[normalizePath(path)]
	fallback := r.fallback
	r.mu.RUnlock()

	if !ok {
		if fallback == nil {
			return Sample{}, oops.In("telemetry").Code(CodeUnreachable).
				With("path", path).
				Errorf("no telemetry source for path")
		}
		return fallback.Fetch(ctx, path)
	}

	var (
		merged Sample
		errs   []error
		good   int
	)
	for _, src := range sources {
		s, err := src.Fetch(ctx, path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		merged = merged.Merge(s)
		good++
	}
	if good == 0 {
		if len(errs) == 1 {
			return Sample{}, errs[0]
		}
		return Sample{}, oops.In("telemetry").Code(firstCode(errs)).
			With("path", path).
			Wrap(errors.Join(errs...))
	}
	return merged, nil
}

func firstCode(errs []error) string {
	for _, err := range errs {
		if e, ok := oops.AsOops(err); ok {
			if code, ok := e.Code().(string); ok && code != "" {
				return code
			}
		}
	}
	return CodeUnreachable
}

func normalizePath(p string) string {
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// HTTPSource fetches telemetry documents from an upstream HTTP endpoint,
// typically the device's own management API.
type HTTPSource struct {
	base   *url.URL
	client *http.Client
}

// NewHTTPSource creates a source rooted at baseURL. A nil client uses a
// client with a 5 second timeout.
func NewHTTPSource(baseURL string, client *http.Client) (*HTTPSource, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, oops.In("telemetry").With("upstream", baseURL).Wrapf(err, "parse upstream url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, oops.In("telemetry").With("upstream", baseURL).
			Errorf("upstream url must be http or https")
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPSource{base: u, client: client}, nil
}

// Fetch GETs base+path and decodes the body.
func (h *HTTPSource) Fetch(ctx context.Context, path string) (Sample, error) {
	target := h.base.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return Sample{}, oops.In("telemetry").Code(CodeUnreachable).
			With("path", path).
			Wrapf(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return Sample{}, oops.In("telemetry").Code(CodeUnreachable).
			With("path", path).
			Wrapf(err, "request telemetry")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Sample{}, oops.In("telemetry").Code(CodeInvalidResponse).
			With("path", path).
			With("status", resp.StatusCode).
			Errorf("upstream returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Sample{}, oops.In("telemetry").Code(CodeUnreachable).
			With("path", path).
			Wrapf(err, "read response")
	}
	sample, err := Decode(body)
	if err != nil {
		return Sample{}, oops.In("telemetry").With("path", path).Wrap(err)
	}
	return sample, nil
}

// String describes the source for logs.
func (h *HTTPSource) String() string {
	return fmt.Sprintf("http(%s)", h.base.Redacted())
}
