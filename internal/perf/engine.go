// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package perf programs per-CPU performance and energy counters from a
// counter configuration and reads them with time-multiplexing correction.
package perf

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	goperf "github.com/elastic/go-perf"

	"github.com/sustainable-computing-io/perfevent/internal/device"
	"github.com/sustainable-computing-io/perfevent/internal/pmc"
	"github.com/sustainable-computing-io/perfevent/internal/pmu"
	"github.com/sustainable-computing-io/perfevent/internal/topology"
)

var (
	// ErrLogic is returned for misuse such as nil handles or inconsistent
	// configuration
	ErrLogic = errors.New("perf: logic error")

	// ErrRuntime covers kernel, sysfs and configuration mismatch failures
	ErrRuntime = errors.New("perf: runtime error")

	// ErrNoEvents is returned by NewEngine when no event could be programmed
	ErrNoEvents = errors.New("perf: no events programmed")
)

// GenericPMU is the pseudo unit for generic hardware and software events,
// present on every machine
const GenericPMU = "perf"

// Engine owns the programmed events of one counter configuration
type Engine struct {
	logger    *slog.Logger
	arch      *topology.Architecture
	catalogue *pmu.Catalogue
	encoder   Encoder
	opener    Opener
	energy    EnergyBackend

	// the event table is fixed once NewEngine returns
	events  []*event
	derived []*derivedEvent

	// round-robin cursors, only used while programming
	rrCPU  int
	rrNode int

	mu sync.Mutex
}

// NewEngine programs every event of the first configuration entry that names
// a present unit, then the dynamic events and the derived counters. Events
// that cannot be programmed are logged and skipped. If no event at all could
// be programmed NewEngine returns ErrNoEvents and a nil Engine.
func NewEngine(cfg *pmc.Configuration, applyOpts ...OptionFn) (*Engine, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	if cfg == nil {
		closeBackend(opts.energy, opts.logger)
		return nil, fmt.Errorf("%w: nil configuration", ErrLogic)
	}

	e := &Engine{
		logger:    opts.logger.With("service", "perf"),
		arch:      opts.arch,
		catalogue: opts.catalogue,
		encoder:   opts.encoder,
		opener:    opts.opener,
		energy:    opts.energy,
	}
	if e.arch == nil {
		e.arch = topology.GetArchitecture(topology.WithLogger(opts.logger))
	}
	if e.catalogue == nil {
		c, err := pmu.Load(cfg.Dynamic, pmu.WithLogger(opts.logger))
		if err != nil {
			closeBackend(e.energy, e.logger)
			return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		e.catalogue = c
	}
	if e.encoder == nil {
		e.encoder = NewEncoder(e.catalogue)
	}

	active := opts.activePMUs
	if active == nil {
		active = e.presentPMUs
	}
	e.programEntry(cfg, active())

	if cfg.Dynamic != nil {
		e.programDynamic(cfg.Dynamic)
	}

	if len(e.events) == 0 {
		closeBackend(e.energy, e.logger)
		return nil, ErrNoEvents
	}

	for _, d := range cfg.Derived {
		de, err := e.resolveDerived(d)
		if err != nil {
			e.logger.Warn("Unable to set up derived counter", "name", d.Name, "error", err)
			continue
		}
		e.derived = append(e.derived, de)
	}

	e.logger.Info("Counters programmed",
		"events", len(e.events),
		"instances", e.instanceCount(),
		"derived", len(e.derived))
	return e, nil
}

func closeBackend(b EnergyBackend, logger *slog.Logger) {
	if b == nil {
		return
	}
	if err := b.Close(); err != nil {
		logger.Warn("Failed to close energy backend", "error", err)
	}
}

// presentPMUs lists the catalogue units plus the generic unit
func (e *Engine) presentPMUs() []string {
	return append([]string{GenericPMU}, e.catalogue.Names()...)
}

func (e *Engine) programEntry(cfg *pmc.Configuration, active []string) {
	for _, name := range active {
		e.logger.Info("Found PMU", "pmu", name)
	}

	entry := selectEntry(cfg.Entries, active)
	if entry == nil {
		e.logger.Warn("No configuration entry matches a present PMU")
		return
	}

	for _, s := range entry.Settings {
		if err := e.setupEvent(s.Name, s.CPU); err != nil {
			e.logger.Warn("Unable to set up event", "event", s.Name, "error", err)
		}
	}
}

// selectEntry returns the first entry naming one of the active units
func selectEntry(entries []pmc.Entry, active []string) *pmc.Entry {
	for i := range entries {
		for _, t := range entries[i].PMUTypes {
			if slices.Contains(active, t) {
				return &entries[i]
			}
		}
	}
	return nil
}

// selectCPUs applies the CPU assignment policy, advancing the round-robin
// cursors
func (e *Engine) selectCPUs(policy pmc.CPUPolicy) (topology.CPUList, error) {
	arch := e.arch
	if arch == nil || len(arch.CPUs) == 0 {
		return nil, fmt.Errorf("%w: architecture has no cpus", ErrLogic)
	}
	if (policy == pmc.EachNUMANode || policy == pmc.RoundRobinNUMANode) &&
		(len(arch.CPUNodes) == 0 || arch.NCPUsPerNode == 0) {
		return nil, fmt.Errorf("%w: architecture has no numa nodes", ErrLogic)
	}

	switch {
	case policy == pmc.EachCPU:
		return arch.CPUs, nil
	case policy == pmc.EachNUMANode:
		return arch.CPUNodes[0], nil
	case policy == pmc.RoundRobinCPU:
		cpu := arch.CPUs[e.rrCPU]
		e.rrCPU = (e.rrCPU + 1) % len(arch.CPUs)
		return topology.CPUList{cpu}, nil
	case policy == pmc.RoundRobinNUMANode:
		cpus := arch.CPUNodes[e.rrNode]
		e.rrNode = (e.rrNode + 1) % arch.NCPUsPerNode
		return cpus, nil
	case policy.IsExplicit():
		if idx := policy.CPU(); idx < len(arch.CPUs) {
			return topology.CPUList{arch.CPUs[idx]}, nil
		}
		return topology.CPUList{arch.CPUs[0]}, nil
	default:
		return nil, fmt.Errorf("%w: unknown cpu policy %d", ErrLogic, policy)
	}
}

// setupEvent programs one configured event. An encoding failure aborts the
// event; an open failure only drops that CPU.
func (e *Engine) setupEvent(name string, policy pmc.CPUPolicy) error {
	cpus, err := e.selectCPUs(policy)
	if err != nil {
		return err
	}

	var ev *event
	if strings.HasPrefix(name, device.EventPrefix) {
		ev, err = e.setupEnergyEvent(name, cpus)
	} else {
		var attr *goperf.Attr
		attr, err = e.encoder.Encode(name)
		if err != nil {
			return err
		}
		ev = e.openKernelEvent(name, attr, cpus)
	}
	if err != nil {
		return err
	}

	if len(ev.instances) == 0 {
		return fmt.Errorf("%w: %s could not be opened on any cpu", ErrRuntime, name)
	}
	e.events = append(e.events, ev)
	return nil
}

func (e *Engine) setupEnergyEvent(name string, cpus topology.CPUList) (*event, error) {
	if e.energy == nil {
		return nil, fmt.Errorf("%w: no energy backend for %s", ErrRuntime, name)
	}

	ev := &event{name: name}
	for _, cpu := range cpus {
		h, err := e.energy.Encode(name, cpu)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		if err := e.energy.Open(h); err != nil {
			e.logger.Debug("Unable to open energy counter", "event", name, "cpu", cpu, "error", err)
			continue
		}
		ev.instances = append(ev.instances, &instance{
			cpu:     cpu,
			counter: &energyCounter{backend: e.energy, handle: h},
		})
	}
	return ev, nil
}

// openKernelEvent opens attr disabled, with time accounting, on every CPU
func (e *Engine) openKernelEvent(name string, attr *goperf.Attr, cpus topology.CPUList) *event {
	attr.Label = name
	attr.Options.Disabled = true
	attr.CountFormat = goperf.CountFormat{Enabled: true, Running: true}

	ev := &event{name: name}
	for _, cpu := range cpus {
		fd, err := e.opener(attr, cpu)
		if err != nil {
			e.logger.Debug("perf_event_open failed", "event", name, "cpu", cpu, "error", err)
			continue
		}
		ev.instances = append(ev.instances, &instance{
			cpu:     cpu,
			counter: &kernelCounter{fd: fd},
		})
	}
	return ev
}

// programDynamic registers every catalogue event. Events that are not
// allowed, or beyond the configured maximum, are registered disabled.
func (e *Engine) programDynamic(dynamic *pmc.Dynamic) {
	enabled := 0
	for _, p := range e.catalogue.PMUs {
		cpus := p.CPUMask
		if len(cpus) == 0 {
			cpus = e.arch.CPUs
		}

		for _, pe := range p.Events {
			name := p.Name + "." + pe.Name

			allowed := dynamic.Allowed(name)
			if allowed && dynamic.MaxEvents > 0 && enabled >= dynamic.MaxEvents {
				e.logger.Debug("Dynamic event limit reached", "event", name, "max", dynamic.MaxEvents)
				allowed = false
			}
			if !allowed {
				e.events = append(e.events, &event{name: name, disabled: true})
				continue
			}

			attr := &goperf.Attr{
				Type:    goperf.EventType(p.Type),
				Config:  pe.Config[pmu.Config],
				Config1: pe.Config[pmu.Config1],
				Config2: pe.Config[pmu.Config2],
			}
			ev := e.openKernelEvent(name, attr, cpus)
			if len(ev.instances) == 0 {
				e.logger.Warn("Unable to set up dynamic event", "event", name)
				continue
			}
			e.events = append(e.events, ev)
			enabled++
		}
	}
}

func (e *Engine) instanceCount() int {
	n := 0
	for _, ev := range e.events {
		n += len(ev.instances)
	}
	return n
}

// eventIndex returns the position of the named, programmed event or -1
func (e *Engine) eventIndex(name string) int {
	for i, ev := range e.events {
		if ev.name == name && !ev.disabled {
			return i
		}
	}
	return -1
}

// Events returns the names of all registered events in output order
func (e *Engine) Events() []string {
	if e == nil {
		return nil
	}
	names := make([]string, len(e.events))
	for i, ev := range e.events {
		names[i] = ev.name
	}
	return names
}

// Enable turns every kernel counter on or off. It returns the number of
// successful toggles; each disabled event counts once.
func (e *Engine) Enable(on bool) int {
	if e == nil {
		return 0
	}

	n := 0
	for _, ev := range e.events {
		if ev.disabled {
			n++
			continue
		}
		for _, inst := range ev.instances {
			if inst.counter.kind() != kernelKind {
				continue
			}
			if err := inst.counter.enable(on); err != nil {
				e.logger.Debug("Unable to toggle counter", "event", ev.name, "cpu", inst.cpu, "enable", on, "error", err)
				continue
			}
			n++
		}
	}
	return n
}

// Close releases every counter and the energy backend
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	for _, ev := range e.events {
		if err := ev.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.name, err))
		}
	}
	if e.energy != nil {
		if err := e.energy.Close(); err != nil {
			errs = append(errs, err)
		}
		e.energy = nil
	}
	e.catalogue = nil
	return errors.Join(errs...)
}
