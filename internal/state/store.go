// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package state provides the observable state container owned by each plugin
// instance. Mutations notify watchers synchronously with the changed
// top-level key, which the render binder uses to schedule redraws.
package state

import (
	"maps"
	"slices"
	"strings"
	"sync"
)

// WatchFunc is called with the top-level key that changed.
type WatchFunc func(key string)

// Store is a string-keyed map of JSON-compatible values.
//
// Values are expected to be string, float64, bool, nil, map[string]any or
// []any. In-place mutation of a nested value obtained from Get is not
// observed; assign the top-level key again to notify watchers.
type Store struct {
	mu       sync.RWMutex
	data     map[string]any
	watchers map[int]WatchFunc
	nextID   int
}

// New creates a store seeded with a deep copy of initial.
func New(initial map[string]any) *Store {
	s := &Store{
		data:     make(map[string]any, len(initial)),
		watchers: make(map[int]WatchFunc),
	}
	for k, v := range initial {
		s.data[k] = Clone(v)
	}
	return s
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores value under key and notifies watchers.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
	s.notify(key)
}

// Delete removes key and notifies watchers if it was present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	_, ok := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()
	if ok {
		s.notify(key)
	}
}

// Keys returns the top-level keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.data))
}

// Snapshot returns a deep copy of the store contents.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.data))
	for k, v := range s.data {
		out[k] = Clone(v)
	}
	return out
}

// Lookup resolves a dotted path such as "info.rsrp". Missing segments yield
// (nil, false).
func (s *Store) Lookup(path string) (any, bool) {
	parts := strings.Split(path, ".")
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.data[parts[0]]
	if !ok {
		return nil, false
	}
	for _, p := range parts[1:] {
		m, isMap := cur.(map[string]any)
		if !isMap {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Watch registers fn to be called after every mutation. The returned function
// removes the watcher.
func (s *Store) Watch(fn WatchFunc) (unwatch func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(key string) {
	s.mu.RLock()
	ids := slices.Sorted(maps.Keys(s.watchers))
	fns := make([]WatchFunc, 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.watchers[id])
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(key)
	}
}

// Clone deep-copies maps and slices; other values are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = Clone(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = Clone(vv)
		}
		return out
	default:
		return v
	}
}
