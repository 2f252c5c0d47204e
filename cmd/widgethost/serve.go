// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Widgethost Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/ufitools/widgethost/internal/bridge"
	"github.com/ufitools/widgethost/internal/config"
	"github.com/ufitools/widgethost/internal/hostexec"
	"github.com/ufitools/widgethost/internal/logging"
	"github.com/ufitools/widgethost/internal/loop"
	"github.com/ufitools/widgethost/internal/notify"
	"github.com/ufitools/widgethost/internal/plugin"
	"github.com/ufitools/widgethost/internal/plugin/builtin"
	"github.com/ufitools/widgethost/internal/plugin/lua"
	"github.com/ufitools/widgethost/internal/surface"
	"github.com/ufitools/widgethost/internal/telemetry"
	"github.com/ufitools/widgethost/internal/view"
	"github.com/ufitools/widgethost/internal/xdg"
	"github.com/ufitools/widgethost/pkg/errutil"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the plugin host",
		Long: `Load every plugin in the plugins directory, serve the rendered
views and surfaces over HTTP and run until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, cmd, nil)
		},
	}
}

// newTelemetry routes /host to local resource probes and everything else to
// the upstream device API when one is configured.
func newTelemetry(cfg *config.Config, probes telemetry.Collectors, logger *slog.Logger) (*telemetry.Router, error) {
	router := telemetry.NewRouter()
	router.Handle(builtin.HostPath, telemetry.NewHostSource(probes, logger))
	if cfg.Telemetry.Upstream != "" {
		upstream, err := telemetry.NewHTTPSource(cfg.Telemetry.Upstream, &http.Client{Timeout: cfg.Telemetry.Timeout})
		if err != nil {
			return nil, err
		}
		router.Fallback(upstream)
	}
	return router, nil
}

func newExecutor(cfg *config.Config) (*hostexec.Executor, error) {
	deny := append(slices.Clone(hostexec.DefaultDenied), cfg.Exec.Deny...)
	return hostexec.New(
		hostexec.WithTimeout(cfg.Exec.Timeout),
		hostexec.WithDeniedFragments(deny),
	)
}

// runServeWithDeps runs the host until ctx is done. If deps is nil, default
// implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.defaults()

	logger := logging.SetDefault(logging.Options{
		Service: "widgethost",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	})
	logger.Info("starting plugin host",
		"plugins_dir", cfg.Plugins.Dir,
		"http_addr", cfg.HTTP.Addr,
		"storage", cfg.Storage.Driver,
	)

	if cfg.Storage.Driver == config.DriverSQLite {
		if err := xdg.EnsureDir(filepath.Dir(cfg.Storage.DSN)); err != nil {
			return err
		}
	}
	backend, err := deps.StoreOpener(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return oops.Code("STORAGE_OPEN_FAILED").With("driver", cfg.Storage.Driver).Wrap(err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			errutil.LogWarn(logger, "error closing storage", closeErr)
		}
	}()

	fetcher, err := newTelemetry(cfg, *deps.HostProbes, logger)
	if err != nil {
		return err
	}
	executor, err := newExecutor(cfg)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrapf(err, "exec deny-list")
	}

	l := loop.New(loop.WithLogger(logger))
	l.Start()
	defer l.Stop()

	web := surface.NewWebProvider(logger)
	defer web.Close()
	surfaces := surface.NewManager(web, l, surface.WithLogger(logger))
	defer surfaces.CloseAll()

	frames := view.NewLatest()
	mgr := plugin.NewManager(cfg.Plugins.Dir, l,
		plugin.WithRuntime(lua.Extension, lua.NewRuntime(lua.WithLogger(logger))),
		plugin.WithRuntime(plugin.BuiltinRuntime, builtin.Registry()),
		plugin.WithBridgeDeps(bridge.Deps{
			Fetcher:  fetcher,
			Executor: executor,
			Store:    backend,
			Notifier: notify.LogSink{Logger: logger},
		}),
		plugin.WithSurfaces(surfaces),
		plugin.WithRenderer(frames),
		plugin.WithMasker(telemetry.NewMasker(cfg.Masking.Enabled)),
		plugin.WithLogger(logger),
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if closeErr := mgr.Close(closeCtx); closeErr != nil {
			errutil.LogWarn(logger, "error closing plugins", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.Load)
		obsServer.SetLogger(logger)
		obsServer.SetVersion(version)
		if err := obsServer.RegisterMetrics(hostCollectors()...); err != nil {
			return err
		}
		obsErrChan, err := obsServer.Start()
		if err != nil {
			return oops.Code("OBSERVABILITY_START_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability", logger)
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		stopObservability(obsServer, logger)
		return oops.Code("LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           newAPI(mgr, frames, web, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	httpErrChan := make(chan error, 1)
	go func() {
		defer close(httpErrChan)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrChan <- serveErr
		}
	}()
	go monitorServerErrors(ctx, cancel, httpErrChan, "http", logger)

	if err := mgr.LoadAll(ctx); err != nil {
		errutil.LogWarn(logger, "loading plugins failed", err)
	}

	var wg sync.WaitGroup
	if cfg.Plugins.Watch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if watchErr := mgr.Watch(ctx); watchErr != nil {
				errutil.LogWarn(logger, "plugin watcher stopped", watchErr)
			}
		}()
	}

	ready.Store(true)
	cmd.Println("Plugin host started")
	logger.Info("plugin host ready",
		"http_addr", listener.Addr().String(),
		"plugins", mgr.ListPlugins(),
	)
	if deps.OnReady != nil {
		deps.OnReady(listener.Addr().String())
	}

	<-ctx.Done()
	logger.Info("shutting down...")
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		errutil.LogWarn(logger, "error stopping http server", err)
	}
	stopObservability(obsServer, logger)
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}

func stopObservability(srv ObservabilityServer, logger *slog.Logger) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		errutil.LogWarn(logger, "error stopping observability server", err)
	}
}

// monitorServerErrors cancels the host when a server fails. It exits when an
// error arrives, the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

// hostCollectors lists the package metrics exported by the host.
func hostCollectors() []prometheus.Collector {
	cs := plugin.Collectors()
	cs = append(cs, bridge.Collectors()...)
	return append(cs, surface.Collectors()...)
}
