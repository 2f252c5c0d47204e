// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

// Package config loads host configuration from defaults, a YAML file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"io/fs"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/ufitools/widgethost/internal/xdg"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WIDGETHOST_"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// Config is the host configuration.
type Config struct {
	Log struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	} `koanf:"log"`

	Plugins struct {
		Dir   string `koanf:"dir"`
		Watch bool   `koanf:"watch"`
	} `koanf:"plugins"`

	HTTP struct {
		Addr string `koanf:"addr"`
	} `koanf:"http"`

	Metrics struct {
		Addr string `koanf:"addr"`
	} `koanf:"metrics"`

	Telemetry struct {
		Path     string        `koanf:"path"`
		Upstream string        `koanf:"upstream"`
		Interval time.Duration `koanf:"interval"`
		Timeout  time.Duration `koanf:"timeout"`
	} `koanf:"telemetry"`

	Exec struct {
		Timeout time.Duration `koanf:"timeout"`
		Deny    []string      `koanf:"deny"`
	} `koanf:"exec"`

	Storage struct {
		Driver string `koanf:"driver"`
		DSN    string `koanf:"dsn"`
	} `koanf:"storage"`

	Masking struct {
		Enabled bool `koanf:"enabled"`
	} `koanf:"masking"`
}

func defaults() map[string]any {
	return map[string]any{
		"log.format":         "json",
		"log.level":          "info",
		"plugins.dir":        xdg.PluginsDir(),
		"plugins.watch":      false,
		"http.addr":          "127.0.0.1:8080",
		"metrics.addr":       "127.0.0.1:9100",
		"telemetry.path":     "/api/info",
		"telemetry.upstream": "",
		"telemetry.interval": "1s",
		"telemetry.timeout":  "3s",
		"exec.timeout":       "10s",
		"exec.deny":          []string{},
		"storage.driver":     DriverSQLite,
		"storage.dsn":        xdg.StoragePath(),
		"masking.enabled":    true,
	}
}

// flagKeys maps flag names to configuration keys.
var flagKeys = map[string]string{
	"log-format":         "log.format",
	"log-level":          "log.level",
	"plugins-dir":        "plugins.dir",
	"watch":              "plugins.watch",
	"http-addr":          "http.addr",
	"metrics-addr":       "metrics.addr",
	"telemetry-upstream": "telemetry.upstream",
	"storage-driver":     "storage.driver",
	"storage-dsn":        "storage.dsn",
	"mask":               "masking.enabled",
}

// BindFlags registers the flags Load understands.
func BindFlags(flags *pflag.FlagSet) {
	flags.String("log-format", "json", "log format (json or text)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("plugins-dir", "", "plugins directory (default: XDG_DATA_HOME/widgethost/plugins)")
	flags.Bool("watch", false, "reload plugins when their directory changes")
	flags.String("http-addr", "", "dashboard and surface HTTP address")
	flags.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
	flags.String("telemetry-upstream", "", "base URL of the device telemetry API")
	flags.String("storage-driver", "", "plugin storage driver (memory, sqlite, postgres, redis)")
	flags.String("storage-dsn", "", "plugin storage DSN or file path")
	flags.Bool("mask", true, "mask device identifiers on screen")
}

// Options selects the configuration sources.
type Options struct {
	// File is an explicit config file. When empty the XDG config file is
	// used if it exists.
	File string
	// EnvFile is a dotenv file loaded into the environment when present.
	EnvFile string
	// Flags are applied last. Only flags set on the command line override.
	Flags *pflag.FlagSet
}

// Load builds the configuration and validates it.
func Load(opts Options) (*Config, error) {
	errb := oops.In("config")
	k := koanf.New(".")

	for key, value := range defaults() {
		if err := k.Set(key, value); err != nil {
			return nil, errb.With("key", key).Wrapf(err, "set default")
		}
	}

	path := opts.File
	if path == "" {
		if _, err := os.Stat(xdg.ConfigFile()); err == nil {
			path = xdg.ConfigFile()
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errb.With("file", path).Wrapf(err, "load config file")
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, errb.With("file", opts.EnvFile).Wrapf(err, "load env file")
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, errb.Wrapf(err, "load environment")
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, errb.Wrapf(err, "load flags")
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errb.Wrapf(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps WIDGETHOST_PLUGINS_DIR to plugins.dir. List values are comma
// separated.
func envKey(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.Replace(key, "_", ".", 1)
	if key == "exec.deny" {
		var out []string
		for _, p := range strings.Split(value, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return key, out
	}
	return key, value
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	errb := oops.In("config")
	switch {
	case c.Log.Format != "json" && c.Log.Format != "text":
		return errb.With("log.format", c.Log.Format).Errorf("log.format must be 'json' or 'text', got %q", c.Log.Format)
	case c.Plugins.Dir == "":
		return errb.Errorf("plugins.dir is required")
	case !strings.HasPrefix(c.Telemetry.Path, "/"):
		return errb.With("telemetry.path", c.Telemetry.Path).Errorf("telemetry.path must start with /")
	case c.Telemetry.Interval <= 0:
		return errb.Errorf("telemetry.interval must be positive, got %s", c.Telemetry.Interval)
	case c.Telemetry.Timeout <= 0:
		return errb.Errorf("telemetry.timeout must be positive, got %s", c.Telemetry.Timeout)
	case c.Exec.Timeout <= 0:
		return errb.Errorf("exec.timeout must be positive, got %s", c.Exec.Timeout)
	}

	drivers := []string{DriverMemory, DriverSQLite, DriverPostgres, DriverRedis}
	if !slices.Contains(drivers, c.Storage.Driver) {
		return errb.With("storage.driver", c.Storage.Driver).Errorf("storage.driver must be one of %s", strings.Join(drivers, ", "))
	}
	if c.Storage.Driver != DriverMemory && c.Storage.DSN == "" {
		return errb.With("storage.driver", c.Storage.Driver).Errorf("storage.dsn is required for %s", c.Storage.Driver)
	}
	return nil
}
