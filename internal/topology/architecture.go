// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// Architecture describes the CPUs and NUMA nodes of the machine
type Architecture struct {
	// CPUs holds every online CPU in topology order
	CPUs CPUList

	// Nodes holds the CPUs of each NUMA node. There is always at least one node.
	Nodes []CPUList

	// CPUNodes[k] holds the k-th CPU of every node that has at least k+1 CPUs
	CPUNodes []CPUList

	// NCPUsPerNode is the width of the widest node
	NCPUsPerNode int
}

type Opts struct {
	logger     *slog.Logger
	sysfsPath  string
	onlineCPUs func() (int, error)
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:    slog.Default(),
		sysfsPath: "/sys",
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger used to report enumeration problems
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithSysFSPath sets the sysfs mount point
func WithSysFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.sysfsPath = path
	}
}

// WithOnlineCPUs overrides the online CPU count query
func WithOnlineCPUs(fn func() (int, error)) OptionFn {
	return func(o *Opts) {
		o.onlineCPUs = fn
	}
}

// GetArchitecture enumerates CPUs and NUMA nodes. Enumeration problems are
// logged and replaced by a single CPU and/or a single node covering all CPUs.
func GetArchitecture(applyOpts ...OptionFn) *Architecture {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	logger := opts.logger.With("service", "topology")

	online := opts.onlineCPUs
	if online == nil {
		online = func() (int, error) {
			return onlineCPUCount(opts.sysfsPath)
		}
	}

	ncpus, err := online()
	if err != nil || ncpus < 1 {
		logger.Warn("Unable to query online CPUs, assuming 1", "error", err, "count", ncpus)
		ncpus = 1
	}

	cpus := make(CPUList, ncpus)
	for i := range cpus {
		cpus[i] = i
	}

	nodes, err := numaNodes(opts.sysfsPath, cpus)
	if err != nil {
		logger.Debug("NUMA topology unavailable, using a single node", "error", err)
		nodes = []CPUList{cpus}
	}

	arch := newArchitecture(cpus, nodes)
	logger.Info("Discovered topology",
		"cpus", len(arch.CPUs),
		"nodes", len(arch.Nodes),
		"cpus_per_node", arch.NCPUsPerNode)
	return arch
}

func newArchitecture(cpus CPUList, nodes []CPUList) *Architecture {
	arch := &Architecture{
		CPUs:  cpus,
		Nodes: nodes,
	}

	for _, node := range nodes {
		arch.NCPUsPerNode = max(arch.NCPUsPerNode, len(node))
	}

	arch.CPUNodes = make([]CPUList, arch.NCPUsPerNode)
	for k := range arch.CPUNodes {
		for _, node := range nodes {
			if len(node) > k {
				arch.CPUNodes[k] = append(arch.CPUNodes[k], node[k])
			}
		}
	}
	return arch
}

// NodeOf returns the NUMA node holding cpu
func (a *Architecture) NodeOf(cpu int) (int, bool) {
	for n, node := range a.Nodes {
		if node.Contains(cpu) {
			return n, true
		}
	}
	return 0, false
}

func onlineCPUCount(sysfsPath string) (int, error) {
	data, err := os.ReadFile(filepath.Join(sysfsPath, "devices", "system", "cpu", "online"))
	if err != nil {
		return 0, err
	}
	return ParseDelimitedList(string(data), nil)
}

// numaNodes reads node*/cpulist, restricted to the online CPUs. Any parse
// failure discards the NUMA information altogether.
func numaNodes(sysfsPath string, cpus CPUList) ([]CPUList, error) {
	nodeDir := filepath.Join(sysfsPath, "devices", "system", "node")
	entries, err := os.ReadDir(nodeDir)
	if err != nil {
		return nil, err
	}

	type node struct {
		id   int
		cpus CPUList
	}
	var found []node
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		id, err := strconv.Atoi(strings.TrimPrefix(name, "node"))
		if err != nil {
			continue
		}

		data, err := os.ReadFile(filepath.Join(nodeDir, name, "cpulist"))
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			// memory-only node
			continue
		}
		list, err := ParseCPUList(string(data))
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", id, err)
		}

		var online CPUList
		for _, cpu := range list {
			if cpus.Contains(cpu) {
				online = append(online, cpu)
			}
		}
		if len(online) > 0 {
			found = append(found, node{id: id, cpus: online})
		}
	}

	if len(found) == 0 {
		return nil, fmt.Errorf("no NUMA nodes with online CPUs in %s", nodeDir)
	}

	seen := make(map[int]bool, len(cpus))
	for _, n := range found {
		for _, cpu := range n.cpus {
			if seen[cpu] {
				return nil, fmt.Errorf("cpu %d belongs to more than one node", cpu)
			}
			seen[cpu] = true
		}
	}
	if len(seen) != len(cpus) {
		return nil, fmt.Errorf("nodes cover %d of %d cpus", len(seen), len(cpus))
	}

	sort.Slice(found, func(i, j int) bool { return found[i].id < found[j].id })
	nodes := make([]CPUList, len(found))
	for i, n := range found {
		nodes[i] = n.cpus
	}
	return nodes, nil
}
