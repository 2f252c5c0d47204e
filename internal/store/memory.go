// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package store

import (
	"context"
	"slices"
	"sync"
)

// Memory is an in-process KVStore.
type Memory struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]map[string][]byte)}
}

// Get implements KVStore.
func (m *Memory) Get(_ context.Context, namespace, key string) ([]byte, error) {
	if err := validateAccess(namespace, key); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[namespace][key]
	if !ok {
		return nil, nil
	}
	return slices.Clone(v), nil
}

// Set implements KVStore.
func (m *Memory) Set(_ context.Context, namespace, key string, value []byte) error {
	if err := validateAccess(namespace, key); err != nil {
		return err
	}
	if err := ValidateValue(value); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.data[namespace]
	if !ok {
		ns = make(map[string][]byte)
		m.data[namespace] = ns
	}
	v := slices.Clone(value)
	if v == nil {
		v = []byte{}
	}
	ns[key] = v
	return nil
}

// Delete implements KVStore. Deleting a missing key is not an error.
func (m *Memory) Delete(_ context.Context, namespace, key string) error {
	if err := validateAccess(namespace, key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[namespace], key)
	return nil
}

// Close implements Backend.
func (m *Memory) Close() error { return nil }
