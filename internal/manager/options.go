// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/sustainable-computing-io/perfevent/internal/coordinator"
	"github.com/sustainable-computing-io/perfevent/internal/perf"
)

type Opts struct {
	logger          *slog.Logger
	sysfsPath       string
	procfsPath      string
	rapl            bool
	msrPath         string
	coordinate      bool
	clock           clock.PassiveClock
	maxStaleness    time.Duration
	engineOpts      []perf.OptionFn
	coordinatorOpts []coordinator.OptionFn
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:       slog.Default(),
		sysfsPath:    "/sys",
		procfsPath:   "/proc",
		rapl:         true,
		msrPath:      "/dev/cpu/%d/msr",
		coordinate:   true,
		clock:        clock.RealClock{},
		maxStaleness: 500 * time.Millisecond,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Manager and the components it builds
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithSysFSPath sets the sysfs mount point used for topology and PMU discovery
func WithSysFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.sysfsPath = path
	}
}

// WithProcFSPath sets the procfs mount point used for CPU identification
func WithProcFSPath(path string) OptionFn {
	return func(o *Opts) {
		o.procfsPath = path
	}
}

// WithRAPL enables or disables the RAPL: event backend
func WithRAPL(enabled bool) OptionFn {
	return func(o *Opts) {
		o.rapl = enabled
	}
}

// WithMSRPath sets the msr device path template
func WithMSRPath(path string) OptionFn {
	return func(o *Opts) {
		o.msrPath = path
	}
}

// WithCoordinator enables or disables lock based pausing. Without a
// coordinator the counters are enabled at construction.
func WithCoordinator(enabled bool) OptionFn {
	return func(o *Opts) {
		o.coordinate = enabled
	}
}

// WithClock sets the clock used to timestamp snapshots
func WithClock(c clock.PassiveClock) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithMaxStaleness sets how long a snapshot is handed out again before the
// counters are read anew. Zero reads on every call.
func WithMaxStaleness(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.maxStaleness = d
	}
}

// WithEngineOptions appends options passed to the counter engine
func WithEngineOptions(opts ...perf.OptionFn) OptionFn {
	return func(o *Opts) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// WithCoordinatorOptions appends options passed to the coordinator
func WithCoordinatorOptions(opts ...coordinator.OptionFn) OptionFn {
	return func(o *Opts) {
		o.coordinatorOpts = append(o.coordinatorOpts, opts...)
	}
}
