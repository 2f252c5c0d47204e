// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package capability decides which host capabilities a plugin may invoke.
//
// Capabilities are dotted names. Grants are gobwas/glob patterns with '.' as
// the segment separator:
//   - '*' matches a single segment (does not cross '.')
//   - '**' matches zero or more segments (crosses '.')
//
// Examples:
//   - "storage.*" matches "storage.get" and "storage.set"
//   - "fetch.api.**" matches "fetch.api.info" and "fetch.api.cell.neighbours"
//   - "**" grants everything
package capability

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gobwas/glob"
)

// Capability names checked by the bridge.
const (
	Exec          = "exec"
	StorageGet    = "storage.get"
	StorageSet    = "storage.set"
	StorageRemove = "storage.remove"
	Notify        = "notify"
	Timer         = "timer"
	Surface       = "surface"
)

// fetchPrefix is the root of per-path fetch capabilities.
const fetchPrefix = "fetch"

// ForFetch maps a resource path to its capability name: "/api/info" becomes
// "fetch.api.info". Empty segments are dropped and dots inside a segment are
// replaced so a path cannot forge extra segments.
func ForFetch(path string) string {
	parts := []string{fetchPrefix}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(seg, ".", "_"))
	}
	return strings.Join(parts, ".")
}

// NormalizeGrant converts manifest grant spellings into patterns. A fetch
// grant written as a path ("fetch./api/**") is rewritten to dotted form
// ("fetch.api.**").
func NormalizeGrant(grant string) string {
	rest, ok := strings.CutPrefix(grant, fetchPrefix+".")
	if !ok || !strings.HasPrefix(rest, "/") {
		return grant
	}
	return ForFetch(rest)
}

type compiledGrant struct {
	pattern string
	glob    glob.Glob
}

// Enforcer checks plugin capabilities at runtime.
//
// Enforcer is safe for concurrent use. The zero value is ready to use.
type Enforcer struct {
	grants map[string][]compiledGrant // plugin name -> compiled grants
	mu     sync.RWMutex
}

// NewEnforcer creates a capability enforcer.
func NewEnforcer() *Enforcer {
	return &Enforcer{
		grants: make(map[string][]compiledGrant),
	}
}

// SetGrants replaces the grants of a plugin. Patterns are normalized with
// NormalizeGrant and compiled before any state changes; an invalid pattern
// leaves the enforcer untouched.
func (e *Enforcer) SetGrants(plugin string, capabilities []string) error {
	if plugin == "" {
		return errors.New("plugin name cannot be empty")
	}

	compiled := make([]compiledGrant, len(capabilities))
	for i, raw := range capabilities {
		if raw == "" {
			return fmt.Errorf("capability %d: empty capability pattern", i)
		}
		pattern := NormalizeGrant(raw)
		g, err := glob.Compile(pattern, '.')
		if err != nil {
			return fmt.Errorf("capability %d (%q): %w", i, raw, err)
		}
		compiled[i] = compiledGrant{pattern: pattern, glob: g}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.grants == nil {
		e.grants = make(map[string][]compiledGrant)
	}
	e.grants[plugin] = compiled
	return nil
}

// IsRegistered reports whether SetGrants has been called for plugin.
func (e *Enforcer) IsRegistered(plugin string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.grants[plugin]
	return ok
}

// RemoveGrants unregisters a plugin. Unknown plugins are ignored.
func (e *Enforcer) RemoveGrants(plugin string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.grants, plugin)
}

// GetGrants returns a copy of the normalized patterns granted to plugin, or
// nil when it is not registered.
func (e *Enforcer) GetGrants(plugin string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	grants, ok := e.grants[plugin]
	if !ok {
		return nil
	}
	patterns := make([]string, len(grants))
	for i, g := range grants {
		patterns[i] = g.pattern
	}
	return patterns
}

// Check reports whether plugin holds capability. Unknown plugins and empty
// capabilities are denied.
func (e *Enforcer) Check(plugin, capability string) bool {
	if capability == "" {
		return false
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, grant := range e.grants[plugin] {
		if grant.glob.Match(capability) {
			return true
		}
	}
	return false
}
