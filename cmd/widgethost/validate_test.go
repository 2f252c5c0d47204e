// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	root := t.TempDir()
	good := writePlugin(t, root, "counter", counterManifest, counterScript)
	badManifest := writePlugin(t, root, "broken", "name: broken\nversion: one\n", "")
	badView := writePlugin(t, root, "badview", `name: badview
version: 1.0.0
entry: main.lua
view: view.txt
`, counterScript)
	require.NoError(t, os.WriteFile(filepath.Join(badView, "view.txt"), []byte("{{ count "), 0o600))

	stdout, _, err := execute(t, "validate", good)
	require.NoError(t, err)
	assert.Contains(t, stdout, "ok   "+good)

	stdout, stderr, err := execute(t, "validate", good, badManifest, badView)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 plugins invalid")
	assert.Contains(t, stdout, "ok   "+good)
	assert.Contains(t, stderr, "FAIL "+badManifest)
	assert.Contains(t, stderr, "FAIL "+badView)
}

func TestValidate_RequiresArgument(t *testing.T) {
	_, _, err := execute(t, "validate")
	assert.Error(t, err)
}

func TestValidate_BundledPlugins(t *testing.T) {
	dirs, err := filepath.Glob(filepath.Join("..", "..", "plugins", "*"))
	require.NoError(t, err)
	require.NotEmpty(t, dirs)
	for i, dir := range dirs {
		dirs[i], err = filepath.Abs(dir)
		require.NoError(t, err)
	}

	_, stderr, err := execute(t, append([]string{"validate"}, dirs...)...)
	require.NoError(t, err, stderr)
}
