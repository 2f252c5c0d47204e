// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ufitools/widgethost/internal/config"
)

// isolate points the XDG directories at a temp dir so no real config file
// is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	return dir
}

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)

	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, filepath.Join(dir, "data", "widgethost", "plugins"), cfg.Plugins.Dir)
	assert.False(t, cfg.Plugins.Watch)
	assert.Equal(t, "/api/info", cfg.Telemetry.Path)
	assert.Equal(t, time.Second, cfg.Telemetry.Interval)
	assert.Equal(t, 10*time.Second, cfg.Exec.Timeout)
	assert.Equal(t, config.DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, "state", "widgethost", "storage.db"), cfg.Storage.DSN)
	assert.True(t, cfg.Masking.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, `
log:
  format: text
plugins:
  dir: /opt/widgets
  watch: true
telemetry:
  upstream: http://192.168.0.1
  interval: 5s
exec:
  deny: ["reboot*", "poweroff*"]
storage:
  driver: memory
masking:
  enabled: false
`)

	cfg, err := config.Load(config.Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "/opt/widgets", cfg.Plugins.Dir)
	assert.True(t, cfg.Plugins.Watch)
	assert.Equal(t, "http://192.168.0.1", cfg.Telemetry.Upstream)
	assert.Equal(t, 5*time.Second, cfg.Telemetry.Interval)
	assert.Equal(t, []string{"reboot*", "poweroff*"}, cfg.Exec.Deny)
	assert.Equal(t, config.DriverMemory, cfg.Storage.Driver)
	assert.False(t, cfg.Masking.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_XDGConfigFileIsPickedUp(t *testing.T) {
	dir := isolate(t)
	cfgDir := filepath.Join(dir, "config", "widgethost")
	require.NoError(t, os.MkdirAll(cfgDir, 0o700))
	writeConfig(t, cfgDir, "http:\n  addr: 0.0.0.0:8088\n")

	cfg, err := config.Load(config.Options{})
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:8088", cfg.HTTP.Addr)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "storage:\n  driver: sqlite\n  dsn: /tmp/a.db\n")
	t.Setenv("WIDGETHOST_STORAGE_DRIVER", "memory")
	t.Setenv("WIDGETHOST_EXEC_DENY", "reboot*, ,halt")
	t.Setenv("WIDGETHOST_PLUGINS_WATCH", "true")
	t.Setenv("WIDGETHOST_TELEMETRY_INTERVAL", "250ms")

	cfg, err := config.Load(config.Options{File: path})
	require.NoError(t, err)

	assert.Equal(t, config.DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, []string{"reboot*", "halt"}, cfg.Exec.Deny)
	assert.True(t, cfg.Plugins.Watch)
	assert.Equal(t, 250*time.Millisecond, cfg.Telemetry.Interval)
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := isolate(t)
	// Register the variable for restoration, then clear it so the dotenv
	// file is allowed to set it.
	t.Setenv("WIDGETHOST_HTTP_ADDR", "")
	require.NoError(t, os.Unsetenv("WIDGETHOST_HTTP_ADDR"))

	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("WIDGETHOST_HTTP_ADDR=127.0.0.1:9999\n"), 0o600))

	cfg, err := config.Load(config.Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)

	_, err = config.Load(config.Options{EnvFile: filepath.Join(dir, "missing.env")})
	assert.NoError(t, err)
}

func TestLoad_FlagsOverrideEverything(t *testing.T) {
	dir := isolate(t)
	path := writeConfig(t, dir, "log:\n  format: text\nstorage:\n  driver: memory\n")
	t.Setenv("WIDGETHOST_STORAGE_DRIVER", "sqlite")

	cfg, err := config.Load(config.Options{
		File:  path,
		Flags: flags(t, "--storage-driver=redis", "--storage-dsn=redis://localhost:6379/0", "--mask=false"),
	})
	require.NoError(t, err)

	assert.Equal(t, config.DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Storage.DSN)
	assert.False(t, cfg.Masking.Enabled)
	// Flags left at their defaults do not clobber the file.
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_Errors(t *testing.T) {
	dir := isolate(t)

	_, err := config.Load(config.Options{File: filepath.Join(dir, "absent.yaml")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config file")

	bad := writeConfig(t, dir, "log: [unterminated")
	_, err = config.Load(config.Options{File: bad})
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *config.Config {
		cfg := &config.Config{}
		cfg.Log.Format = "json"
		cfg.Plugins.Dir = "/plugins"
		cfg.Telemetry.Path = "/api/info"
		cfg.Telemetry.Interval = time.Second
		cfg.Telemetry.Timeout = time.Second
		cfg.Exec.Timeout = time.Second
		cfg.Storage.Driver = config.DriverMemory
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "log format", mutate: func(c *config.Config) { c.Log.Format = "xml" }, wantErr: "log.format"},
		{name: "plugins dir", mutate: func(c *config.Config) { c.Plugins.Dir = "" }, wantErr: "plugins.dir"},
		{name: "telemetry path", mutate: func(c *config.Config) { c.Telemetry.Path = "api" }, wantErr: "telemetry.path"},
		{name: "interval", mutate: func(c *config.Config) { c.Telemetry.Interval = 0 }, wantErr: "telemetry.interval"},
		{name: "fetch timeout", mutate: func(c *config.Config) { c.Telemetry.Timeout = -time.Second }, wantErr: "telemetry.timeout"},
		{name: "exec timeout", mutate: func(c *config.Config) { c.Exec.Timeout = 0 }, wantErr: "exec.timeout"},
		{name: "driver", mutate: func(c *config.Config) { c.Storage.Driver = "mongo" }, wantErr: "storage.driver"},
		{name: "dsn", mutate: func(c *config.Config) { c.Storage.Driver = config.DriverPostgres }, wantErr: "storage.dsn"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
