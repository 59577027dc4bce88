// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/procfs"
)

// NodeOf maps a CPU to its NUMA node, reporting false when unknown
type NodeOf func(cpu int) (int, bool)

// cpuInfoReader is satisfied by procfs.FS
type cpuInfoReader interface {
	CPUInfo() ([]procfs.CPUInfo, error)
}

var _ cpuInfoReader = procfs.FS{}

// cpuInfoCollector exports one perfevent_node_cpu_info series per processor
// so per-CPU counter series can be joined with the CPU model and NUMA node.
type cpuInfoCollector struct {
	sync.Mutex

	logger *slog.Logger
	reader cpuInfoReader
	nodeOf NodeOf
	desc   *prom.Desc
}

var _ prom.Collector = (*cpuInfoCollector)(nil)

// NewCPUInfoCollector creates a collector reading <procPath>/cpuinfo
func NewCPUInfoCollector(procPath string, nodeOf NodeOf, logger *slog.Logger) (*cpuInfoCollector, error) {
	fs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, fmt.Errorf("creating procfs failed: %w", err)
	}
	return newCPUInfoCollectorWithReader(fs, nodeOf, logger), nil
}

func newCPUInfoCollectorWithReader(reader cpuInfoReader, nodeOf NodeOf, logger *slog.Logger) *cpuInfoCollector {
	if logger == nil {
		logger = slog.Default()
	}
	if nodeOf == nil {
		nodeOf = func(int) (int, bool) { return 0, false }
	}
	return &cpuInfoCollector{
		logger: logger.With("collector", "cpu_info"),
		reader: reader,
		nodeOf: nodeOf,
		desc: prom.NewDesc(
			prom.BuildFQName(perfeventNS, "node", "cpu_info"),
			"CPU information from procfs",
			[]string{"cpu", "vendor_id", "model_name", "physical_id", "core_id", "numa_node"},
			nil,
		),
	}
}

func (c *cpuInfoCollector) Describe(ch chan<- *prom.Desc) {
	ch <- c.desc
}

func (c *cpuInfoCollector) Collect(ch chan<- prom.Metric) {
	c.Lock()
	defer c.Unlock()

	infos, err := c.reader.CPUInfo()
	if err != nil {
		c.logger.Warn("Failed to read cpuinfo", "error", err)
		return
	}
	for _, ci := range infos {
		cpu := int(ci.Processor)
		node := ""
		if n, ok := c.nodeOf(cpu); ok {
			node = strconv.Itoa(n)
		}
		ch <- prom.MustNewConstMetric(c.desc, prom.GaugeValue, 1,
			strconv.Itoa(cpu),
			ci.VendorID,
			ci.ModelName,
			ci.PhysicalID,
			ci.CoreID,
			node,
		)
	}
}
