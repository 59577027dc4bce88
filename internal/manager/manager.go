// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package manager is the handle handed to the serving layer. It owns one
// programmed counter engine and the coordinator that pauses it.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/perfevent/internal/coordinator"
	"github.com/sustainable-computing-io/perfevent/internal/device"
	"github.com/sustainable-computing-io/perfevent/internal/perf"
	"github.com/sustainable-computing-io/perfevent/internal/pmc"
	"github.com/sustainable-computing-io/perfevent/internal/pmu"
	"github.com/sustainable-computing-io/perfevent/internal/service"
	"github.com/sustainable-computing-io/perfevent/internal/topology"
)

// ErrNilHandle is returned by every method called on a nil Manager
var ErrNilHandle = errors.New("manager: nil handle")

// Manager wraps the counter engine. Read, Snapshot, Enable and Close are
// safe for concurrent use.
type Manager struct {
	logger       *slog.Logger
	clock        clock.PassiveClock
	maxStaleness time.Duration
	arch        *topology.Architecture
	engine      *perf.Engine
	coordinator *coordinator.Coordinator

	mu        sync.Mutex
	firstRead bool

	// buffers reused by Snapshot
	snapshotMu sync.Mutex
	counters   []perf.Counter
	derived    []perf.DerivedCounter
	last       *Snapshot
}

var _ service.Shutdowner = (*Manager)(nil)

// New discovers the machine, programs the counters of cfg and sets up the
// coordinator
func New(cfg *pmc.Configuration, applyOpts ...OptionFn) (*Manager, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}

	if cfg == nil {
		return nil, fmt.Errorf("%w: nil counter configuration", perf.ErrLogic)
	}

	arch := topology.GetArchitecture(
		topology.WithLogger(opts.logger),
		topology.WithSysFSPath(opts.sysfsPath),
	)

	catalogue, err := pmu.Load(cfg.Dynamic,
		pmu.WithLogger(opts.logger),
		pmu.WithSysFSPath(opts.sysfsPath),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load pmu catalogue: %w", err)
	}

	engineOpts := []perf.OptionFn{
		perf.WithLogger(opts.logger),
		perf.WithArchitecture(arch),
		perf.WithCatalogue(catalogue),
	}
	if opts.rapl {
		rapl := device.NewRAPL(
			device.WithLogger(opts.logger),
			device.WithProcFSPath(opts.procfsPath),
			device.WithDevicePath(opts.msrPath),
		)
		engineOpts = append(engineOpts, perf.WithEnergyBackend(rapl))
	}
	engineOpts = append(engineOpts, opts.engineOpts...)

	engine, err := perf.NewEngine(cfg, engineOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to program counters: %w", err)
	}

	m := &Manager{
		logger:       opts.logger.With("service", "manager"),
		clock:        opts.clock,
		maxStaleness: opts.maxStaleness,
		arch:         arch,
		engine:       engine,
	}

	if opts.coordinate {
		coordOpts := append([]coordinator.OptionFn{coordinator.WithLogger(opts.logger)}, opts.coordinatorOpts...)
		m.coordinator = coordinator.New(engine, coordOpts...)
	} else {
		n := engine.Enable(true)
		m.logger.Info("Counters enabled", "counters", n)
	}
	return m, nil
}

func (m *Manager) Name() string {
	return "manager"
}

// Coordinator returns the lock coordinator, nil when coordination is off
func (m *Manager) Coordinator() *coordinator.Coordinator {
	if m == nil {
		return nil
	}
	return m.coordinator
}

// Architecture returns the topology the counters were programmed on
func (m *Manager) Architecture() *topology.Architecture {
	if m == nil {
		return nil
	}
	return m.arch
}

// Events returns the names of the programmed events in output order
func (m *Manager) Events() []string {
	if m == nil {
		return nil
	}
	return m.engine.Events()
}

// Derived returns the names of the derived counters in output order
func (m *Manager) Derived() []string {
	if m == nil {
		return nil
	}
	return m.engine.Derived()
}

// Read fills counters and derived with the current values. The first read
// always goes through. Afterwards, a read following a pause or resume of the
// counters returns zero and leaves the buffers untouched: the sample spans a
// period in which the counters did not run throughout.
func (m *Manager) Read(counters *[]perf.Counter, derived *[]perf.DerivedCounter) (int, error) {
	if m == nil {
		return 0, ErrNilHandle
	}

	m.mu.Lock()
	first := !m.firstRead
	m.firstRead = true
	m.mu.Unlock()

	tainted := m.coordinator != nil && m.coordinator.Tainted()
	if tainted && !first {
		m.logger.Debug("Discarding sample after counter state change")
		return 0, nil
	}
	return m.engine.Read(counters, derived)
}

// Snapshot reads into buffers owned by the Manager and returns a copy, so
// that several consumers observe the same accumulated values. A snapshot
// younger than the max staleness is handed out again, which lets every
// consumer of one collection cycle see the same discarded sample. A discarded
// snapshot carries no rows.
func (m *Manager) Snapshot() (*Snapshot, error) {
	if m == nil {
		return nil, ErrNilHandle
	}

	m.snapshotMu.Lock()
	defer m.snapshotMu.Unlock()

	if m.isFresh() {
		return m.last.Clone(), nil
	}

	n, err := m.Read(&m.counters, &m.derived)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		Timestamp: m.clock.Now(),
		Valid:     n > 0,
		Read:      n,
	}
	if s.Valid {
		s.Counters = m.counters
		s.Derived = m.derived
	}
	m.last = s.Clone()
	return s.Clone(), nil
}

func (m *Manager) isFresh() bool {
	if m.last == nil || m.maxStaleness <= 0 {
		return false
	}
	return m.clock.Since(m.last.Timestamp) < m.maxStaleness
}

// Enable switches every counter on or off, bypassing the coordinator
func (m *Manager) Enable(on bool) (int, error) {
	if m == nil {
		return 0, ErrNilHandle
	}
	return m.engine.Enable(on), nil
}

// Close stops the coordinator and releases every counter
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}

	var errs []error
	if m.coordinator != nil {
		if err := m.coordinator.Shutdown(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Shutdown implements service.Shutdowner
func (m *Manager) Shutdown() error {
	return m.Close()
}
