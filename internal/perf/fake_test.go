// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goperf "github.com/elastic/go-perf"

	"github.com/sustainable-computing-io/perfevent/internal/device"
	"github.com/sustainable-computing-io/perfevent/internal/pmc"
	"github.com/sustainable-computing-io/perfevent/internal/pmu"
	"github.com/sustainable-computing-io/perfevent/internal/topology"
)

var errOpen = errors.New("perf_event_open: no such device")

// fakeCounter returns its samples in order and then repeats the last one
type fakeCounter struct {
	mu        sync.Mutex
	samples   []goperf.Count
	reads     int
	readErr   error
	enabled   bool
	enableErr error
	closed    bool
}

func (f *fakeCounter) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabled = true
	return nil
}

func (f *fakeCounter) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return f.enableErr
	}
	f.enabled = false
	return nil
}

func (f *fakeCounter) ReadCount() (goperf.Count, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return goperf.Count{}, f.readErr
	}
	if len(f.samples) == 0 {
		return goperf.Count{}, nil
	}
	c := f.samples[min(f.reads, len(f.samples)-1)]
	f.reads++
	return c, nil
}

func (f *fakeCounter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeCounter) isEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func count(value uint64, enabled, running time.Duration) goperf.Count {
	return goperf.Count{Value: value, Enabled: enabled, Running: running}
}

type openCall struct {
	label  string
	cpu    int
	typ    goperf.EventType
	config uint64
	attr   goperf.Attr
}

// fakeKernel records perf_event_open calls and hands out fakeCounters
type fakeKernel struct {
	mu       sync.Mutex
	calls    []openCall
	counters map[string][]*fakeCounter
	// fail lists label -> cpus that fail to open; a nil set fails every cpu
	fail    map[string]map[int]bool
	samples map[string][]goperf.Count
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		counters: map[string][]*fakeCounter{},
		fail:     map[string]map[int]bool{},
		samples:  map[string][]goperf.Count{},
	}
}

func (k *fakeKernel) failOn(label string, cpus ...int) {
	if len(cpus) == 0 {
		k.fail[label] = nil
		return
	}
	set := map[int]bool{}
	for _, c := range cpus {
		set[c] = true
	}
	k.fail[label] = set
}

func (k *fakeKernel) open(attr *goperf.Attr, cpu int) (KernelCounter, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.calls = append(k.calls, openCall{label: attr.Label, cpu: cpu, typ: attr.Type, config: attr.Config, attr: *attr})
	if cpus, ok := k.fail[attr.Label]; ok && (cpus == nil || cpus[cpu]) {
		return nil, errOpen
	}
	c := &fakeCounter{samples: k.samples[attr.Label]}
	k.counters[attr.Label] = append(k.counters[attr.Label], c)
	return c, nil
}

// cpusOf returns the CPUs on which label was opened, in call order
func (k *fakeKernel) cpusOf(label string) []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	var cpus []int
	for _, c := range k.calls {
		if c.label == label {
			cpus = append(cpus, c.cpu)
		}
	}
	return cpus
}

// fakeEnergy serves RAPL: events with fixed values
type fakeEnergy struct {
	mu      sync.Mutex
	values  map[device.Domain]uint64
	openErr map[int]error
	readErr error
	opened  map[int]bool
	closed  bool
}

func newFakeEnergy() *fakeEnergy {
	return &fakeEnergy{
		values:  map[device.Domain]uint64{device.PkgEnergy: 16000, device.DRAMEnergy: 4000},
		openErr: map[int]error{},
		opened:  map[int]bool{},
	}
}

func (f *fakeEnergy) Encode(name string, cpu int) (device.Handle, error) {
	if cpu < 0 {
		return device.Handle{}, device.ErrInvalidArgument
	}
	d, ok := device.ParseDomain(name[len(device.EventPrefix):])
	if !ok {
		return device.Handle{}, fmt.Errorf("%w: %s", device.ErrUnknownEvent, name)
	}
	if _, ok := f.values[d]; !ok {
		return device.Handle{}, fmt.Errorf("%w: %s", device.ErrUnknownEvent, name)
	}
	return device.Handle{CPU: cpu, Domain: d}, nil
}

func (f *fakeEnergy) Open(h device.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[h.CPU]; err != nil {
		return err
	}
	f.opened[h.CPU] = true
	return nil
}

func (f *fakeEnergy) Read(h device.Handle) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return 0, f.readErr
	}
	if !f.opened[h.CPU] {
		return 0, device.ErrNotOpen
	}
	return f.values[h.Domain] + uint64(h.CPU), nil
}

func (f *fakeEnergy) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeEnergy) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// testArch has two nodes of two CPUs: {0,1} and {2,3}
func testArch() *topology.Architecture {
	return &topology.Architecture{
		CPUs:         topology.CPUList{0, 1, 2, 3},
		Nodes:        []topology.CPUList{{0, 1}, {2, 3}},
		CPUNodes:     []topology.CPUList{{0, 2}, {1, 3}},
		NCPUsPerNode: 2,
	}
}

func testCatalogue() *pmu.Catalogue {
	return &pmu.Catalogue{PMUs: []pmu.PMU{
		{
			Name: "cpu",
			Type: 4,
			Events: []pmu.Event{
				{Name: "branch-misses", Config: [3]uint64{0xc5}},
				{Name: "cache-misses", Config: [3]uint64{0x412e}},
				{Name: "mem-loads", Config: [3]uint64{0x1cd, 0x3}, Scale: 0.5},
			},
			CPUMask: topology.CPUList{1, 3},
		},
		{
			Name: "power",
			Type: 19,
			Events: []pmu.Event{
				{Name: "energy-pkg", Config: [3]uint64{0x2}, Scale: 2.5e-10},
			},
		},
	}}
}

func settings(policy pmc.CPUPolicy, names ...string) []pmc.Setting {
	out := make([]pmc.Setting, len(names))
	for i, n := range names {
		out[i] = pmc.Setting{Name: n, CPU: policy, Scale: 1}
	}
	return out
}

func genericConfig(s ...pmc.Setting) *pmc.Configuration {
	return &pmc.Configuration{Entries: []pmc.Entry{{PMUTypes: []string{GenericPMU}, Settings: s}}}
}

type testEngine struct {
	*Engine
	kernel *fakeKernel
	energy *fakeEnergy
}

func newTestEngine(cfg *pmc.Configuration, kernel *fakeKernel, opts ...OptionFn) (*testEngine, error) {
	energy := newFakeEnergy()
	all := append([]OptionFn{
		WithLogger(slog.Default()),
		WithArchitecture(testArch()),
		WithCatalogue(testCatalogue()),
		WithOpener(kernel.open),
		WithEnergyBackend(energy),
	}, opts...)

	e, err := NewEngine(cfg, all...)
	return &testEngine{Engine: e, kernel: kernel, energy: energy}, err
}
