// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	"github.com/ufitools/widgethost/pkg/errutil"
)

// Watch reloads plugins whose directory changes until ctx is done. A change
// tears the running instance down and registers the plugin again from disk;
// a removed directory only tears down.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("plugin").Wrapf(err, "create watcher")
	}
	defer func() {
		_ = watcher.Close()
	}()

	if err := watcher.Add(m.pluginsDir); err != nil {
		return oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "watch plugins directory")
	}
	entries, err := os.ReadDir(m.pluginsDir)
	if err != nil {
		return oops.In("plugin").With("dir", m.pluginsDir).Wrapf(err, "read plugins directory")
	}
	for _, entry := range entries {
		if entry.IsDir() {
			m.watchDir(watcher, filepath.Join(m.pluginsDir, entry.Name()))
		}
	}

	changed := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			dir := m.pluginDirOf(event.Name)
			if dir == "" {
				continue
			}
			if event.Op&fsnotify.Create != 0 && event.Name == dir {
				m.watchDir(watcher, dir)
			}
			if t, ok := timers[dir]; ok {
				t.Stop()
			}
			timers[dir] = time.AfterFunc(m.debounce, func() {
				select {
				case changed <- dir:
				case <-ctx.Done():
				}
			})

		case dir := <-changed:
			delete(timers, dir)
			m.reload(ctx, dir)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			errutil.LogWarn(m.logger, "plugin watcher error", err)
		}
	}
}

func (m *Manager) watchDir(w *fsnotify.Watcher, dir string) {
	if err := w.Add(dir); err != nil {
		errutil.LogWarn(m.logger.With("dir", dir), "cannot watch plugin directory", err)
	}
}

// pluginDirOf maps a changed path to the plugin directory containing it.
func (m *Manager) pluginDirOf(path string) string {
	rel, err := filepath.Rel(m.pluginsDir, path)
	if err != nil || rel == "." || !filepath.IsLocal(rel) {
		return ""
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if strings.HasPrefix(first, ".") {
		return ""
	}
	return filepath.Join(m.pluginsDir, first)
}

func (m *Manager) reload(ctx context.Context, dir string) {
	logger := m.logger.With("dir", dir)

	for _, inst := range m.Instances() {
		if inst.Dir() != dir {
			continue
		}
		if err := m.Teardown(ctx, inst.ID()); err != nil {
			errutil.LogError(logger, "unloading changed plugin failed", err)
			return
		}
	}

	if _, err := os.Stat(filepath.Join(dir, ManifestFile)); errors.Is(err, os.ErrNotExist) {
		logger.Info("plugin removed")
		return
	}
	dp, err := LoadDir(dir)
	if err != nil {
		errutil.LogWarn(logger, "changed plugin is invalid", err)
		return
	}
	inst, err := m.Register(ctx, dp)
	if err != nil {
		errutil.LogError(logger.With("plugin", dp.Manifest.Name), "reloading plugin failed", err)
		return
	}
	logger.Info("plugin reloaded", "plugin", inst.Name(), "instance", inst.ID())
}
