// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"log/slog"

	"github.com/sustainable-computing-io/perfevent/internal/pmu"
	"github.com/sustainable-computing-io/perfevent/internal/topology"
)

type Opts struct {
	logger     *slog.Logger
	arch       *topology.Architecture
	catalogue  *pmu.Catalogue
	encoder    Encoder
	opener     Opener
	energy     EnergyBackend
	activePMUs func() []string
}

// DefaultOpts returns the default options. Topology and catalogue are
// discovered from /sys when not supplied.
func DefaultOpts() Opts {
	return Opts{
		logger: slog.Default(),
		opener: openKernelCounter,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Engine
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithArchitecture sets the CPU topology used for CPU assignment
func WithArchitecture(arch *topology.Architecture) OptionFn {
	return func(o *Opts) {
		o.arch = arch
	}
}

// WithCatalogue sets the dynamic event catalogue
func WithCatalogue(c *pmu.Catalogue) OptionFn {
	return func(o *Opts) {
		o.catalogue = c
	}
}

// WithEncoder replaces the event name encoder
func WithEncoder(e Encoder) OptionFn {
	return func(o *Opts) {
		o.encoder = e
	}
}

// WithOpener replaces perf_event_open
func WithOpener(fn Opener) OptionFn {
	return func(o *Opts) {
		o.opener = fn
	}
}

// WithEnergyBackend sets the backend for RAPL: events. The Engine takes
// ownership and closes it in Close, or when NewEngine fails.
func WithEnergyBackend(b EnergyBackend) OptionFn {
	return func(o *Opts) {
		o.energy = b
	}
}

// WithActivePMUs overrides the list of units considered present when
// selecting a configuration entry
func WithActivePMUs(fn func() []string) OptionFn {
	return func(o *Opts) {
		o.activePMUs = fn
	}
}
