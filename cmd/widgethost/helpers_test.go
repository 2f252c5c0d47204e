// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const counterScript = `
function data()
  return { count = 0, label = "idle" }
end

methods = {
  increment = function(self, by) self.count = self.count + (by or 1) end,
}

function mounted(self)
  self.label = "mounted"
end
`

const counterManifest = `name: counter
version: 1.0.0
entry: main.lua
template: "{{ label }} {{ count }}"
`

// writePlugin creates root/name holding a manifest and main.lua.
func writePlugin(t *testing.T, root, name, manifest, script string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.yaml"), []byte(manifest), 0o600))
	if script != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(script), 0o600))
	}
	return dir
}

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	isolate(t)
	cmd := NewRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// isolate keeps the user's XDG config and dotenv files out of the test.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Chdir(dir)
}

func subcommand(root *cobra.Command, name string) *cobra.Command {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
