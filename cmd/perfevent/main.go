// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"golang.org/x/sys/unix"
	"k8s.io/utils/ptr"

	"github.com/sustainable-computing-io/perfevent/config"
	"github.com/sustainable-computing-io/perfevent/internal/coordinator"
	"github.com/sustainable-computing-io/perfevent/internal/exporter/mcp"
	"github.com/sustainable-computing-io/perfevent/internal/exporter/prometheus"
	"github.com/sustainable-computing-io/perfevent/internal/exporter/stdout"
	"github.com/sustainable-computing-io/perfevent/internal/logger"
	"github.com/sustainable-computing-io/perfevent/internal/manager"
	"github.com/sustainable-computing-io/perfevent/internal/server"
	"github.com/sustainable-computing-io/perfevent/internal/service"
	"github.com/sustainable-computing-io/perfevent/internal/version"
)

func main() {
	cfg, err := parseArgsAndConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	// logs go to stderr so stdout stays free for tables and mcp stdio
	log := logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	logVersionInfo(log)
	printConfigInfo(log, cfg)

	services, err := createServices(log, cfg)
	if err != nil {
		log.Error("Failed to create services", "error", err)
		os.Exit(1)
	}

	if err := service.Init(log, services); err != nil {
		log.Error("Failed to initialize services", "error", err)
		os.Exit(1)
	}

	log.Info("Starting perfevent")
	if err := service.Run(context.Background(), log, services); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("perfevent terminated with an error", "error", err)
		os.Exit(1)
	}
	log.Info("Graceful shutdown completed")
}

func logVersionInfo(log *slog.Logger) {
	v := version.Info()
	log.Info("perfevent version information",
		"version", v.Version,
		"buildTime", v.BuildTime,
		"gitBranch", v.GitBranch,
		"gitCommit", v.GitCommit,
		"goVersion", v.GoVersion,
		"goOS", v.GoOS,
		"goArch", v.GoArch,
	)
}

func parseArgsAndConfig(args []string) (*config.Config, error) {
	const appName = "perfevent"
	app := kingpin.New(appName, "Per-CPU hardware performance and energy counter exporter.")
	app.Version(version.Info().String())
	app.HelpFlag.Short('h')

	configFiles := app.Flag("config.file", "Path to a YAML configuration file; later files override earlier ones").Strings()
	updateConfig := config.RegisterFlags(app)
	if _, err := app.Parse(args); err != nil {
		return nil, err
	}

	b := &config.Builder{}
	for _, path := range *configFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		b.Merge(string(data))
	}
	cfg, err := b.Build()
	if err != nil {
		return nil, err
	}

	// flags override the config files
	if err := updateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func printConfigInfo(log *slog.Logger, cfg *config.Config) {
	if !log.Enabled(context.Background(), slog.LevelInfo) || cfg.Log.Format == "json" {
		return
	}

	fmt.Fprintf(os.Stderr, `
Configuration
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
%s
━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━
`, cfg)
}

func createServices(log *slog.Logger, cfg *config.Config) ([]service.Service, error) {
	counters, err := cfg.CounterConfiguration()
	if err != nil {
		return nil, fmt.Errorf("failed to load counter configuration: %w", err)
	}

	mgr, err := manager.New(counters,
		manager.WithLogger(log),
		manager.WithSysFSPath(cfg.Host.SysFS),
		manager.WithProcFSPath(cfg.Host.ProcFS),
		manager.WithRAPL(ptr.Deref(cfg.Rapl.Enabled, false)),
		manager.WithMSRPath(cfg.Rapl.MSRPath),
		manager.WithCoordinator(ptr.Deref(cfg.Coordinator.Enabled, false)),
		manager.WithCoordinatorOptions(
			coordinator.WithLockFile(cfg.Coordinator.LockFile),
			coordinator.WithInterval(cfg.Coordinator.Interval),
		),
	)
	if err != nil {
		return nil, err
	}

	apiServer := server.NewAPIServer(
		server.WithLogger(log),
		server.WithListen(cfg.Web.ListenAddresses, cfg.Web.Config),
	)

	// the manager is shut down after every runner has stopped
	services := []service.Service{
		mgr,
		apiServer,
		server.NewProbe(apiServer, mgr, log),
	}
	if c := mgr.Coordinator(); c != nil {
		services = append(services, c)
	}

	if ptr.Deref(cfg.Exporter.Prometheus.Enabled, false) {
		collectors, err := prometheus.CreateCollectors(mgr,
			prometheus.WithLogger(log),
			prometheus.WithProcFSPath(cfg.Host.ProcFS),
			prometheus.WithNodeOf(mgr.Architecture().NodeOf),
			prometheus.WithMetricsLevel(cfg.Exporter.Prometheus.MetricsLevel),
		)
		if err != nil {
			return nil, errors.Join(err, mgr.Close())
		}
		services = append(services, prometheus.NewExporter(apiServer,
			prometheus.WithLogger(log),
			prometheus.WithDebugCollectors(cfg.Exporter.Prometheus.DebugCollectors),
			prometheus.WithCollectors(collectors),
		))
	}

	if ptr.Deref(cfg.Exporter.Stdout.Enabled, false) {
		services = append(services, stdout.NewExporter(mgr,
			stdout.WithLogger(log),
			stdout.WithInterval(cfg.Exporter.Stdout.Interval),
		))
	}

	if ptr.Deref(cfg.Exporter.MCP.Enabled, false) {
		opts := []mcp.OptionFn{mcp.WithLogger(log)}
		if cfg.Exporter.MCP.Transport != mcp.TransportStdio {
			opts = append(opts, mcp.WithHTTPTransport(apiServer, cfg.Exporter.MCP.Transport, cfg.Exporter.MCP.Path))
		}
		mcpServer, err := mcp.NewServer(mgr, opts...)
		if err != nil {
			return nil, errors.Join(err, mgr.Close())
		}
		services = append(services, mcpServer)
	}

	if ptr.Deref(cfg.Debug.Pprof.Enabled, false) {
		services = append(services, server.NewPprof(apiServer))
	}

	services = append(services, service.NewSignalHandler(log, unix.SIGINT, unix.SIGTERM))
	return services, nil
}
