// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"testing"

	goperf "github.com/elastic/go-perf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/perfevent/internal/pmc"
	"github.com/sustainable-computing-io/perfevent/internal/topology"
)

func TestNewEngine_NilConfiguration(t *testing.T) {
	energy := newFakeEnergy()
	e, err := NewEngine(nil, WithEnergyBackend(energy), WithArchitecture(testArch()))
	assert.ErrorIs(t, err, ErrLogic)
	assert.Nil(t, e)
	assert.True(t, energy.isClosed())
}

func TestNewEngine_CPUPolicies(t *testing.T) {
	tt := []struct {
		name   string
		policy pmc.CPUPolicy
		cpus   []int
	}{
		{"each cpu", pmc.EachCPU, []int{0, 1, 2, 3}},
		{"each numa node", pmc.EachNUMANode, []int{0, 2}},
		{"explicit", pmc.OnCPU(2), []int{2}},
		{"explicit out of range", pmc.OnCPU(9), []int{0}},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			kernel := newFakeKernel()
			e, err := newTestEngine(genericConfig(settings(tc.policy, "instructions")...), kernel)
			require.NoError(t, err)
			defer func() { assert.NoError(t, e.Close()) }()

			assert.Equal(t, tc.cpus, kernel.cpusOf("instructions"))
		})
	}
}

func TestNewEngine_RoundRobinCPU(t *testing.T) {
	names := []string{"instructions", "cycles", "cache-misses", "branch-misses", "bus-cycles", "ref-cycles"}
	kernel := newFakeKernel()
	e, err := newTestEngine(genericConfig(settings(pmc.RoundRobinCPU, names...)...), kernel)
	require.NoError(t, err)
	defer func() { assert.NoError(t, e.Close()) }()

	// four CPUs: the cursor wraps after the fourth event
	expected := []int{0, 1, 2, 3, 0, 1}
	for i, name := range names {
		assert.Equal(t, []int{expected[i]}, kernel.cpusOf(name), name)
	}
	assert.Equal(t, names, e.Events())
}

func TestNewEngine_RoundRobinNUMANode(t *testing.T) {
	names := []string{"instructions", "cycles", "cache-misses"}
	kernel := newFakeKernel()
	e, err := newTestEngine(genericConfig(settings(pmc.RoundRobinNUMANode, names...)...), kernel)
	require.NoError(t, err)
	defer func() { assert.NoError(t, e.Close()) }()

	assert.Equal(t, []int{0, 2}, kernel.cpusOf("instructions"))
	assert.Equal(t, []int{1, 3}, kernel.cpusOf("cycles"))
	assert.Equal(t, []int{0, 2}, kernel.cpusOf("cache-misses"))
}

func TestNewEngine_UnknownPolicy(t *testing.T) {
	kernel := newFakeKernel()
	cfg := genericConfig(
		pmc.Setting{Name: "instructions", CPU: pmc.CPUPolicy(-7), Scale: 1},
		pmc.Setting{Name: "cycles", CPU: pmc.EachCPU, Scale: 1},
	)
	e, err := newTestEngine(cfg, kernel)
	require.NoError(t, err)
	defer func() { assert.NoError(t, e.Close()) }()

	assert.Equal(t, []string{"cycles"}, e.Events())
	assert.Empty(t, kernel.cpusOf("instructions"))
}

func TestNewEngine_AttrSetup(t *testing.T) {
	kernel := newFakeKernel()
	e, err := newTestEngine(genericConfig(
		pmc.Setting{Name: "instructions", CPU: pmc.OnCPU(0), Scale: 1},
		pmc.Setting{Name: "r1a8", CPU: pmc.OnCPU(1), Scale: 1},
		pmc.Setting{Name: "cpu.mem-loads", CPU: pmc.OnCPU(2), Scale: 1},
	), kernel)
	require.NoError(t, err)
	defer func() { assert.NoError(t, e.Close()) }()

	require.Len(t, kernel.calls, 3)
	for _, c := range kernel.calls {
		assert.True(t, c.attr.Options.Disabled, c.label)
		assert.True(t, c.attr.CountFormat.Enabled, c.label)
		assert.True(t, c.attr.CountFormat.Running, c.label)
	}

	assert.Equal(t, goperf.HardwareEvent, kernel.calls[0].typ)
	assert.Equal(t, uint64(goperf.Instructions), kernel.calls[0].config)

	assert.Equal(t, goperf.RawEvent, kernel.calls[1].typ)
	assert.Equal(t, uint64(0x1a8), kernel.calls[1].config)

	assert.Equal(t, goperf.EventType(4), kernel.calls[2].typ)
	assert.Equal(t, uint64(0x1cd), kernel.calls[2].config)
	assert.Equal(t, uint64(0x3), kernel.calls[2].attr.Config1)
}

func TestNewEngine_PartialFailure(t *testing.T) {
	t.Run("event failing on every cpu is dropped", func(t *testing.T) {
		kernel := newFakeKernel()
		kernel.failOn("cycles")

		e, err := newTestEngine(genericConfig(settings(pmc.EachCPU, "instructions", "cycles")...), kernel)
		require.NoError(t, err)
		require.NotNil(t, e.Engine)
		defer func() { assert.NoError(t, e.Close()) }()

		var counters []Counter
		_, err = e.Read(&counters, nil)
		require.NoError(t, err)
		require.Len(t, counters, 1)
		assert.Equal(t, "instructions", counters[0].Name)
	})

	t.Run("failing cpu is skipped", func(t *testing.T) {
		kernel := newFakeKernel()
		kernel.failOn("instructions", 1)

		e, err := newTestEngine(genericConfig(settings(pmc.EachCPU, "instructions")...), kernel)
		require.NoError(t, err)
		defer func() { assert.NoError(t, e.Close()) }()

		var counters []Counter
		n, err := e.Read(&counters, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.Len(t, counters, 1)
		cpus := []int{}
		for _, d := range counters[0].Data {
			cpus = append(cpus, d.CPU)
		}
		assert.Equal(t, []int{0, 2, 3}, cpus)
	})

	t.Run("encoding failure skips the event without opening it", func(t *testing.T) {
		kernel := newFakeKernel()
		e, err := newTestEngine(genericConfig(settings(pmc.EachCPU, "no-such-event", "cycles")...), kernel)
		require.NoError(t, err)
		defer func() { assert.NoError(t, e.Close()) }()

		assert.Equal(t, []string{"cycles"}, e.Events())
		assert.Empty(t, kernel.cpusOf("no-such-event"))
	})
}

func TestNewEngine_NoEvents(t *testing.T) {
	kernel := newFakeKernel()
	kernel.failOn("instructions")

	e, err := newTestEngine(genericConfig(settings(pmc.EachCPU, "instructions")...), kernel)
	assert.ErrorIs(t, err, ErrNoEvents)
	assert.Nil(t, e.Engine)
	assert.True(t, e.energy.isClosed())
}

func TestNewEngine_EntrySelection(t *testing.T) {
	cfg := &pmc.Configuration{Entries: []pmc.Entry{
		{PMUTypes: []string{"amd_l3"}, Settings: settings(pmc.EachCPU, "cycles")},
		{PMUTypes: []string{"cpu", "cpu_core"}, Settings: settings(pmc.EachCPU, "instructions")},
		{PMUTypes: []string{GenericPMU}, Settings: settings(pmc.EachCPU, "branch-misses")},
	}}

	t.Run("first matching entry wins", func(t *testing.T) {
		e, err := newTestEngine(cfg, newFakeKernel())
		require.NoError(t, err)
		defer func() { assert.NoError(t, e.Close()) }()
		assert.Equal(t, []string{"instructions"}, e.Events())
	})

	t.Run("active units override", func(t *testing.T) {
		e, err := newTestEngine(cfg, newFakeKernel(), WithActivePMUs(func() []string {
			return []string{"amd_l3"}
		}))
		require.NoError(t, err)
		defer func() { assert.NoError(t, e.Close()) }()
		assert.Equal(t, []string{"cycles"}, e.Events())
	})

	t.Run("no entry matches", func(t *testing.T) {
		_, err := newTestEngine(cfg, newFakeKernel(), WithActivePMUs(func() []string {
			return []string{"uncore_imc"}
		}))
		assert.ErrorIs(t, err, ErrNoEvents)
	})
}

func TestNewEngine_EnergyEvents(t *testing.T) {
	kernel := newFakeKernel()
	e, err := newTestEngine(genericConfig(
		pmc.Setting{Name: "RAPL:PKG_ENERGY", CPU: pmc.EachNUMANode, Scale: 1},
		pmc.Setting{Name: "RAPL:PP1_ENERGY", CPU: pmc.EachNUMANode, Scale: 1},
		pmc.Setting{Name: "instructions", CPU: pmc.EachCPU, Scale: 1},
	), kernel)
	require.NoError(t, err)

	// PP1 is unknown to the fake backend and fails to encode
	assert.Equal(t, []string{"RAPL:PKG_ENERGY", "instructions"}, e.Events())
	assert.Empty(t, kernel.cpusOf("RAPL:PKG_ENERGY"))

	var counters []Counter
	n, err := e.Read(&counters, nil)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	pkg := counters[0].Data
	require.Len(t, pkg, 2)
	assert.Equal(t, CounterData{Value: 16000, TimeEnabled: 1, TimeRunning: 1, CPU: 0}, pkg[0])
	assert.Equal(t, CounterData{Value: 16002, TimeEnabled: 1, TimeRunning: 1, CPU: 2}, pkg[1])

	// energy counters are not toggled
	assert.Equal(t, 4, e.Enable(true))

	assert.NoError(t, e.Close())
	assert.True(t, e.energy.isClosed())
}

func TestNewEngine_EnergyOpenFailure(t *testing.T) {
	kernel := newFakeKernel()
	energy := newFakeEnergy()
	energy.openErr[2] = errOpen

	e, err := NewEngine(genericConfig(settings(pmc.EachNUMANode, "RAPL:DRAM_ENERGY")...),
		WithArchitecture(testArch()),
		WithCatalogue(testCatalogue()),
		WithOpener(kernel.open),
		WithEnergyBackend(energy),
	)
	require.NoError(t, err)
	defer func() { assert.NoError(t, e.Close()) }()

	var counters []Counter
	n, err := e.Read(&counters, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, counters[0].Data, 1)
	assert.Equal(t, 0, counters[0].Data[0].CPU)
}

func TestNewEngine_Dynamic(t *testing.T) {
	chip := uint64(1)
	cfg := genericConfig(settings(pmc.EachCPU, "instructions")...)
	cfg.Dynamic = &pmc.Dynamic{Settings: []pmc.DynamicSetting{
		{Name: "cpu.cache-misses"},
		{Name: "cpu.branch-misses", Denied: true},
		{Name: "power.energy-pkg", Chip: &chip},
	}}

	t.Run("allow list", func(t *testing.T) {
		kernel := newFakeKernel()
		e, err := newTestEngine(cfg, kernel)
		require.NoError(t, err)
		defer func() { assert.NoError(t, e.Close()) }()

		assert.Equal(t, []string{
			"instructions",
			"cpu.branch-misses",
			"cpu.cache-misses",
			"cpu.mem-loads",
			"power.energy-pkg",
		}, e.Events())

		// cpumask restricts the cpu unit, power has none
		assert.Equal(t, []int{1, 3}, kernel.cpusOf("cpu.cache-misses"))
		assert.Equal(t, []int{0, 1, 2, 3}, kernel.cpusOf("power.energy-pkg"))
		assert.Empty(t, kernel.cpusOf("cpu.branch-misses"))
		assert.Empty(t, kernel.cpusOf("cpu.mem-loads"))

		var counters []Counter
		n, err := e.Read(&counters, nil)
		require.NoError(t, err)
		assert.Equal(t, 4+2+4, n)

		disabled := map[string]bool{}
		for _, c := range counters {
			disabled[c.Name] = c.Disabled
			if c.Disabled {
				assert.Empty(t, c.Data, c.Name)
			}
		}
		assert.Equal(t, map[string]bool{
			"instructions":      false,
			"cpu.branch-misses": true,
			"cpu.cache-misses":  false,
			"cpu.mem-loads":     true,
			"power.energy-pkg":  false,
		}, disabled)

		// 10 kernel counters plus one per disabled event
		assert.Equal(t, 12, e.Enable(true))
	})

	t.Run("max events", func(t *testing.T) {
		limited := *cfg
		limited.Dynamic = &pmc.Dynamic{Settings: cfg.Dynamic.Settings, MaxEvents: 1}

		kernel := newFakeKernel()
		e, err := newTestEngine(&limited, kernel)
		require.NoError(t, err)
		defer func() { assert.NoError(t, e.Close()) }()

		assert.Len(t, e.Events(), 5)
		assert.Equal(t, []int{1, 3}, kernel.cpusOf("cpu.cache-misses"))
		assert.Empty(t, kernel.cpusOf("power.energy-pkg"))
	})

	t.Run("dynamic event failing everywhere is dropped", func(t *testing.T) {
		kernel := newFakeKernel()
		kernel.failOn("cpu.cache-misses")
		e, err := newTestEngine(cfg, kernel)
		require.NoError(t, err)
		defer func() { assert.NoError(t, e.Close()) }()

		assert.NotContains(t, e.Events(), "cpu.cache-misses")
	})
}

func TestEngine_Enable(t *testing.T) {
	kernel := newFakeKernel()
	e, err := newTestEngine(genericConfig(settings(pmc.EachCPU, "instructions", "cycles")...), kernel)
	require.NoError(t, err)
	defer func() { assert.NoError(t, e.Close()) }()

	assert.Equal(t, 8, e.Enable(true))
	for _, c := range kernel.counters["cycles"] {
		assert.True(t, c.isEnabled())
	}

	kernel.counters["cycles"][1].enableErr = errOpen
	assert.Equal(t, 7, e.Enable(false))
	assert.False(t, kernel.counters["instructions"][0].isEnabled())
}

func TestEngine_Close(t *testing.T) {
	kernel := newFakeKernel()
	e, err := newTestEngine(genericConfig(settings(pmc.EachCPU, "instructions")...), kernel)
	require.NoError(t, err)

	require.NoError(t, e.Close())
	for _, c := range kernel.counters["instructions"] {
		assert.True(t, c.closed)
	}
	assert.True(t, e.energy.isClosed())
}

func TestEngine_NilSafety(t *testing.T) {
	var e *Engine
	var counters []Counter

	_, err := e.Read(&counters, nil)
	assert.ErrorIs(t, err, ErrLogic)
	assert.Zero(t, e.Enable(true))
	assert.NoError(t, e.Close())
	assert.Nil(t, e.Events())
	assert.Nil(t, e.Derived())

	live, err := newTestEngine(genericConfig(settings(pmc.EachCPU, "instructions")...), newFakeKernel())
	require.NoError(t, err)
	defer func() { assert.NoError(t, live.Close()) }()

	_, err = live.Read(nil, nil)
	assert.ErrorIs(t, err, ErrLogic)
}

func TestSelectCPUs_SingleCPU(t *testing.T) {
	e := &Engine{arch: &topology.Architecture{
		CPUs:         topology.CPUList{0},
		Nodes:        []topology.CPUList{{0}},
		CPUNodes:     []topology.CPUList{{0}},
		NCPUsPerNode: 1,
	}}

	for range 3 {
		cpus, err := e.selectCPUs(pmc.RoundRobinCPU)
		require.NoError(t, err)
		assert.Equal(t, topology.CPUList{0}, cpus)

		cpus, err = e.selectCPUs(pmc.RoundRobinNUMANode)
		require.NoError(t, err)
		assert.Equal(t, topology.CPUList{0}, cpus)
	}
}

func TestSelectCPUs_IncompleteArchitecture(t *testing.T) {
	noNodes := &topology.Architecture{CPUs: topology.CPUList{0, 1}}

	tt := []struct {
		name   string
		arch   *topology.Architecture
		policy pmc.CPUPolicy
	}{
		{"nil architecture", nil, pmc.EachCPU},
		{"empty each cpu", &topology.Architecture{}, pmc.EachCPU},
		{"empty each node", &topology.Architecture{}, pmc.EachNUMANode},
		{"empty round robin cpu", &topology.Architecture{}, pmc.RoundRobinCPU},
		{"empty round robin node", &topology.Architecture{}, pmc.RoundRobinNUMANode},
		{"empty explicit cpu", &topology.Architecture{}, pmc.OnCPU(2)},
		{"no nodes each node", noNodes, pmc.EachNUMANode},
		{"no nodes round robin node", noNodes, pmc.RoundRobinNUMANode},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			e := &Engine{arch: tc.arch}
			var cpus topology.CPUList
			var err error
			assert.NotPanics(t, func() { cpus, err = e.selectCPUs(tc.policy) })
			assert.ErrorIs(t, err, ErrLogic)
			assert.Nil(t, cpus)
		})
	}

	e := &Engine{arch: noNodes}
	cpus, err := e.selectCPUs(pmc.EachCPU)
	require.NoError(t, err)
	assert.Equal(t, topology.CPUList{0, 1}, cpus)
}

func TestNewEngine_EmptyArchitecture(t *testing.T) {
	kernel := newFakeKernel()
	e, err := newTestEngine(genericConfig(settings(pmc.EachCPU, "instructions")...), kernel,
		WithArchitecture(&topology.Architecture{}))
	assert.ErrorIs(t, err, ErrNoEvents)
	assert.Nil(t, e.Engine)
	assert.Empty(t, kernel.calls)
}
