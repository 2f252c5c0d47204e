// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package plugin

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/samber/oops"
)

// builtinPrefix marks entries implemented in Go and compiled into the host.
const builtinPrefix = "builtin:"

// BuiltinRuntime is the runtime key of builtin: entries.
const BuiltinRuntime = "builtin"

// LoadRequest is everything a runtime needs to load one plugin instance.
type LoadRequest struct {
	Manifest *Manifest
	Dir      string
	Env      Env
}

// Runtime turns a plugin entry into a Definition. Runtimes are selected by
// the entry's extension (".lua") or by the builtin: prefix.
type Runtime interface {
	Load(ctx context.Context, req LoadRequest) (Definition, error)
}

// RuntimeFunc adapts a function to Runtime.
type RuntimeFunc func(ctx context.Context, req LoadRequest) (Definition, error)

// Load implements Runtime.
func (f RuntimeFunc) Load(ctx context.Context, req LoadRequest) (Definition, error) {
	return f(ctx, req)
}

// Builtins serves builtin:<name> entries from Go constructors.
type Builtins map[string]func(req LoadRequest) (Definition, error)

// Load implements Runtime.
func (b Builtins) Load(_ context.Context, req LoadRequest) (Definition, error) {
	name := strings.TrimPrefix(req.Manifest.Entry, builtinPrefix)
	build, ok := b[name]
	if !ok {
		return Definition{}, malformed(req.Manifest.Name).With("entry", req.Manifest.Entry).
			Errorf("no builtin plugin %q", name)
	}
	return build(req)
}

// RuntimeKey returns the runtime key that serves entry.
func RuntimeKey(entry string) string {
	if strings.HasPrefix(entry, builtinPrefix) {
		return BuiltinRuntime
	}
	return strings.ToLower(filepath.Ext(entry))
}

func noRuntime(m *Manifest) error {
	return oops.In("plugin").Code(CodeMalformedManifest).
		With("plugin", m.Name).
		With("entry", m.Entry).
		Errorf("no runtime for entry %q", m.Entry)
}
