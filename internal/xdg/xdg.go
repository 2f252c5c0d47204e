// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package xdg provides XDG Base Directory paths for widgethost.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "widgethost"

func base(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	return filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
}

// ConfigDir returns the XDG config directory for widgethost.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	return filepath.Join(base("XDG_CONFIG_HOME", ".config"), appName)
}

// DataDir returns the XDG data directory for widgethost.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() string {
	return filepath.Join(base("XDG_DATA_HOME", ".local", "share"), appName)
}

// StateDir returns the XDG state directory for widgethost.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string {
	return filepath.Join(base("XDG_STATE_HOME", ".local", "state"), appName)
}

// ConfigFile is the default configuration file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// PluginsDir is the default plugins directory.
func PluginsDir() string {
	return filepath.Join(DataDir(), "plugins")
}

// StoragePath is the default sqlite database for plugin storage.
func StoragePath() string {
	return filepath.Join(StateDir(), "storage.db")
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.In("xdg").With("path", path).Wrapf(err, "create directory")
	}
	return nil
}
