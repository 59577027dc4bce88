// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"log/slog"
	"time"

	"k8s.io/utils/clock"
)

// DefaultLockFile is polled when no lock file is configured
const DefaultLockFile = "/var/run/perfevent/perflock"

type Opts struct {
	logger   *slog.Logger
	interval time.Duration
	clock    clock.WithTicker
	lockFile string
	prober   LockProber
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:   slog.Default(),
		interval: 100 * time.Millisecond,
		clock:    clock.RealClock{},
		lockFile: DefaultLockFile,
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the Coordinator
func WithLogger(logger *slog.Logger) OptionFn {
	return func(o *Opts) {
		o.logger = logger
	}
}

// WithInterval sets the lock polling interval
func WithInterval(d time.Duration) OptionFn {
	return func(o *Opts) {
		o.interval = d
	}
}

// WithClock sets the clock the Coordinator ticks on
func WithClock(c clock.WithTicker) OptionFn {
	return func(o *Opts) {
		o.clock = c
	}
}

// WithLockFile sets the advisory lock file probed by the default prober
func WithLockFile(path string) OptionFn {
	return func(o *Opts) {
		o.lockFile = path
	}
}

// WithProber replaces the lock probe
func WithProber(p LockProber) OptionFn {
	return func(o *Opts) {
		o.prober = p
	}
}
