// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/sustainable-computing-io/perfevent/config"
	"github.com/sustainable-computing-io/perfevent/internal/device"
	"github.com/sustainable-computing-io/perfevent/internal/manager"
	"github.com/sustainable-computing-io/perfevent/internal/perf"
)

const (
	counterSubsystem = "counter"
	derivedSubsystem = "derived"

	eventLabel    = "event"
	cpuLabel      = "cpu"
	instanceLabel = "instance"

	nsPerSecond = 1e9
)

// SnapshotProvider is the part of the counter manager read on each scrape
type SnapshotProvider interface {
	Snapshot() (*manager.Snapshot, error)
}

// CounterCollector exports one read cycle of the counter manager per scrape.
// Every scrape takes its own snapshot, so scrape intervals set the sampling
// rate.
type CounterCollector struct {
	logger *slog.Logger
	source SnapshotProvider
	level  config.Level

	mu sync.Mutex

	valueDesc   *prom.Desc
	enabledDesc *prom.Desc
	runningDesc *prom.Desc
	activeDesc  *prom.Desc
	countDesc   *prom.Desc
	dutyDesc    *prom.Desc
	validDesc   *prom.Desc
	derived     map[string]*prom.Desc
}

var _ prom.Collector = (*CounterCollector)(nil)

// NewCounterCollector creates a collector for source. derived lists the
// derived counter names, each exported as perfevent_derived_<name>.
func NewCounterCollector(source SnapshotProvider, derived []string, logger *slog.Logger, level config.Level) *CounterCollector {
	if logger == nil {
		logger = slog.Default()
	}

	perCPU := []string{eventLabel, cpuLabel}
	c := &CounterCollector{
		logger: logger.With("collector", "counter"),
		source: source,
		level:  level,
		valueDesc: prom.NewDesc(
			prom.BuildFQName(perfeventNS, counterSubsystem, "total"),
			"Multiplex-scaled count of an event on one CPU since the counters were opened",
			perCPU, nil),
		enabledDesc: prom.NewDesc(
			prom.BuildFQName(perfeventNS, counterSubsystem, "enabled_seconds_total"),
			"Time the event was enabled on one CPU",
			perCPU, nil),
		runningDesc: prom.NewDesc(
			prom.BuildFQName(perfeventNS, counterSubsystem, "running_seconds_total"),
			"Time the event was scheduled on the PMU of one CPU",
			perCPU, nil),
		activeDesc: prom.NewDesc(
			prom.BuildFQName(perfeventNS, counterSubsystem, "active"),
			"Whether the event is programmed and read (1) or left disabled (0)",
			[]string{eventLabel}, nil),
		countDesc: prom.NewDesc(
			prom.BuildFQName(perfeventNS, "", "active"),
			"Number of events programmed and read",
			nil, nil),
		dutyDesc: prom.NewDesc(
			prom.BuildFQName(perfeventNS, counterSubsystem, "duty_cycle_ratio"),
			"Fraction of the enabled time the event was running on one CPU",
			perCPU, nil),
		validDesc: prom.NewDesc(
			prom.BuildFQName(perfeventNS, "sample", "valid"),
			"0 when the last read spans a pause or resume of the counters and was discarded",
			nil, nil),
		derived: make(map[string]*prom.Desc, len(derived)),
	}

	for _, name := range derived {
		c.derived[name] = prom.NewDesc(
			prom.BuildFQName(perfeventNS, derivedSubsystem, SanitizeMetricName(strings.ToLower(name))),
			fmt.Sprintf("Derived counter %s", name),
			[]string{instanceLabel}, nil)
	}
	return c
}

func (c *CounterCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.validDesc
	if c.level.IsCountersEnabled() {
		ch <- c.valueDesc
		ch <- c.enabledDesc
		ch <- c.runningDesc
		ch <- c.activeDesc
		ch <- c.countDesc
	}
	if c.level.IsDutyCycleEnabled() {
		ch <- c.dutyDesc
	}
	if c.level.IsDerivedEnabled() {
		for _, d := range c.derived {
			ch <- d
		}
	}
}

func (c *CounterCollector) Collect(ch chan<- prom.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot, err := c.source.Snapshot()
	if err != nil {
		c.logger.Error("Failed to read counters", "error", err)
		return
	}

	if !snapshot.Valid {
		ch <- prom.MustNewConstMetric(c.validDesc, prom.GaugeValue, 0)
		return
	}
	ch <- prom.MustNewConstMetric(c.validDesc, prom.GaugeValue, 1)

	if c.level.IsCountersEnabled() || c.level.IsDutyCycleEnabled() {
		active := 0
		for _, counter := range snapshot.Counters {
			if !counter.Disabled {
				active++
			}
			c.collectCounter(ch, counter)
		}
		if c.level.IsCountersEnabled() {
			ch <- prom.MustNewConstMetric(c.countDesc, prom.GaugeValue, float64(active))
		}
	}
	if c.level.IsDerivedEnabled() {
		for _, d := range snapshot.Derived {
			c.collectDerived(ch, d)
		}
	}
}

func (c *CounterCollector) collectCounter(ch chan<- prom.Metric, counter perf.Counter) {
	if c.level.IsCountersEnabled() {
		active := 1.0
		if counter.Disabled {
			active = 0
		}
		ch <- prom.MustNewConstMetric(c.activeDesc, prom.GaugeValue, active, counter.Name)
	}
	if counter.Disabled {
		return
	}

	// energy registers carry no enabled or running time
	timed := !strings.HasPrefix(counter.Name, device.EventPrefix)
	for _, d := range counter.Data {
		cpu := strconv.Itoa(d.CPU)
		if c.level.IsCountersEnabled() {
			ch <- prom.MustNewConstMetric(c.valueDesc, prom.CounterValue, float64(d.Value), counter.Name, cpu)
			if timed {
				ch <- prom.MustNewConstMetric(c.enabledDesc, prom.CounterValue, float64(d.TimeEnabled)/nsPerSecond, counter.Name, cpu)
				ch <- prom.MustNewConstMetric(c.runningDesc, prom.CounterValue, float64(d.TimeRunning)/nsPerSecond, counter.Name, cpu)
			}
		}
		if timed && c.level.IsDutyCycleEnabled() {
			ch <- prom.MustNewConstMetric(c.dutyDesc, prom.GaugeValue, d.DutyCycle(), counter.Name, cpu)
		}
	}
}

func (c *CounterCollector) collectDerived(ch chan<- prom.Metric, d perf.DerivedCounter) {
	desc, ok := c.derived[d.Name]
	if !ok {
		c.logger.Debug("Skipping unknown derived counter", "derived", d.Name)
		return
	}
	for i, v := range d.Values {
		ch <- prom.MustNewConstMetric(desc, prom.GaugeValue, v, strconv.Itoa(i))
	}
}
