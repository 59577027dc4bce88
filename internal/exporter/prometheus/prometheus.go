// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package prometheus

import (
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sustainable-computing-io/perfevent/config"
	collector "github.com/sustainable-computing-io/perfevent/internal/exporter/prometheus/collector"
	"github.com/sustainable-computing-io/perfevent/internal/service"
)

// CounterSource is the counter manager as seen by the exporter
type CounterSource interface {
	collector.SnapshotProvider
	Derived() []string
}

type APIRegistry interface {
	Register(endpoint, summary, description string, handler http.Handler) error
}

type Opts struct {
	logger          *slog.Logger
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
	procfs          string
	nodeOf          collector.NodeOf
	metricsLevel    config.Level
}

// DefaultOpts returns a new Opts with defaults set
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		debugCollectors: map[string]bool{
			"go": true,
		},
		collectors:   map[string]prom.Collector{},
		procfs:       "/proc",
		metricsLevel: config.MetricsLevelAll,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the exporter and its collectors
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithDebugCollectors replaces the set of runtime collectors ("go", "process")
func WithDebugCollectors(c []string) OptionFn {
	return func(o *Opts) {
		o.debugCollectors = make(map[string]bool, len(c))
		for _, name := range c {
			o.debugCollectors[name] = true
		}
	}
}

func WithProcFSPath(procfs string) OptionFn {
	return func(o *Opts) {
		o.procfs = procfs
	}
}

// WithNodeOf sets the CPU to NUMA node mapping used by the cpu_info collector
func WithNodeOf(fn collector.NodeOf) OptionFn {
	return func(o *Opts) {
		o.nodeOf = fn
	}
}

func WithCollectors(c map[string]prom.Collector) OptionFn {
	return func(o *Opts) {
		o.collectors = c
	}
}

func WithMetricsLevel(level config.Level) OptionFn {
	return func(o *Opts) {
		o.metricsLevel = level
	}
}

// Exporter serves the counter collectors on /metrics
type Exporter struct {
	logger          *slog.Logger
	registry        *prom.Registry
	server          APIRegistry
	debugCollectors map[string]bool
	collectors      map[string]prom.Collector
}

var _ service.Initializer = (*Exporter)(nil)

// NewExporter creates an exporter that registers its endpoint on s at Init
func NewExporter(s APIRegistry, applyOpts ...OptionFn) *Exporter {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	return &Exporter{
		logger:          opts.logger.With("service", "prometheus"),
		registry:        prom.NewRegistry(),
		server:          s,
		debugCollectors: opts.debugCollectors,
		collectors:      opts.collectors,
	}
}

func collectorForName(name string) (prom.Collector, error) {
	switch name {
	case "go":
		return collectors.NewGoCollector(), nil
	case "process":
		return collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}), nil
	default:
		return nil, fmt.Errorf("unknown collector: %s", name)
	}
}

// CreateCollectors builds the build_info, cpu_info and counter collectors
// for src
func CreateCollectors(src CounterSource, applyOpts ...OptionFn) (map[string]prom.Collector, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	cpuInfo, err := collector.NewCPUInfoCollector(opts.procfs, opts.nodeOf, opts.logger)
	if err != nil {
		return nil, err
	}
	return map[string]prom.Collector{
		"build_info": collector.NewBuildInfoCollector(),
		"cpu_info":   cpuInfo,
		"counter":    collector.NewCounterCollector(src, src.Derived(), opts.logger, opts.metricsLevel),
	}, nil
}

func (e *Exporter) Init() error {
	for _, name := range slices.Sorted(maps.Keys(e.debugCollectors)) {
		c, err := collectorForName(name)
		if err != nil {
			return err
		}
		if err := e.registry.Register(c); err != nil {
			return fmt.Errorf("failed to register debug collector %s: %w", name, err)
		}
		e.logger.Info("Enabled debug collector", "collector", name)
	}

	for _, name := range slices.Sorted(maps.Keys(e.collectors)) {
		if err := e.registry.Register(e.collectors[name]); err != nil {
			return fmt.Errorf("failed to register collector %s: %w", name, err)
		}
		e.logger.Info("Enabled collector", "collector", name)
	}

	return e.server.Register("/metrics", "Metrics", "Prometheus metrics",
		promhttp.HandlerFor(
			e.registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          e.registry,
			},
		))
}

// Name implements service.Name
func (e *Exporter) Name() string {
	return "prometheus"
}
