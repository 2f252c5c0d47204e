// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package view

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Latest keeps the newest frame of every instance. It backs the dashboard
// shell's frame endpoint.
type Latest struct {
	mu     sync.RWMutex
	frames map[string]Frame
}

// NewLatest creates an empty frame cache.
func NewLatest() *Latest {
	return &Latest{frames: make(map[string]Frame)}
}

// Render implements Renderer. Frames older than the cached one are dropped.
func (l *Latest) Render(f Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.frames[f.Instance]; ok && cur.Seq > f.Seq {
		return
	}
	l.frames[f.Instance] = f
}

// Frame returns the newest frame of an instance.
func (l *Latest) Frame(instance string) (Frame, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.frames[instance]
	return f, ok
}

// Frames returns the newest frame of every instance, ordered by plugin name.
func (l *Latest) Frames() []Frame {
	l.mu.RLock()
	out := make([]Frame, 0, len(l.frames))
	for _, f := range l.frames {
		out = append(out, f)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Plugin != out[j].Plugin {
			return out[i].Plugin < out[j].Plugin
		}
		return out[i].Instance < out[j].Instance
	})
	return out
}

// Forget drops the frame of an unmounted instance.
func (l *Latest) Forget(instance string) {
	l.mu.Lock()
	delete(l.frames, instance)
	l.mu.Unlock()
}

// ServeHTTP writes the current frames as JSON.
func (l *Latest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(l.Frames())
}
