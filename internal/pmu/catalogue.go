// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package pmu builds the catalogue of performance-monitoring units and their
// events from /sys/bus/event_source/devices.
package pmu

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/sustainable-computing-io/perfevent/internal/pmc"
)

// DevicesPath is the event source directory relative to the sysfs mount point
const DevicesPath = "bus/event_source/devices"

type Opts struct {
	logger    *slog.Logger
	sysfsPath string
	workers   int
}

// DefaultOpts returns the default options
func DefaultOpts() Opts {
	return Opts{
		logger:    slog.Default(),
		sysfsPath: "/sys",
		workers:   runtime.NumCPU(),
	}
}

// OptionFn is a function sets one more more options in Opts struct
type OptionFn func(*Opts)

// WithLogger sets the logger for the catalogue loader
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

// WithWorkers bounds the number of units parsed concurrently
func WithWorkers(n int) OptionFn {
	return func(o *Opts) {
		o.workers = max(n, 1)
	}
}

// Load walks the event source devices and returns the catalogue of units that
// expose an events directory, followed by the software unit. A unit with an
// unreadable type or format, or with an event that does not fit its format, is
// left out. A missing devices directory is not an error.
func Load(dynamic *pmc.Dynamic, applyOpts ...OptionFn) (*Catalogue, error) {
	opts := DefaultOpts()
	for _, apply := range applyOpts {
		apply(&opts)
	}
	logger := opts.logger.With("service", "pmu")

	root := filepath.Join(opts.sysfsPath, DevicesPath)
	entries, err := os.ReadDir(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logger.Warn("No event source devices, only software events are available", "path", root)
		return &Catalogue{PMUs: []PMU{softwarePMU()}}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read %s: %w", root, err)
	}

	parsed := make([]*PMU, len(entries))
	var g errgroup.Group
	g.SetLimit(opts.workers)
	for i, entry := range entries {
		p := &unitParser{
			name:    entry.Name(),
			dir:     filepath.Join(root, entry.Name()),
			dynamic: dynamic,
			logger:  logger,
		}
		g.Go(func() error {
			unit, err := p.parse()
			switch {
			case errors.Is(err, errNoEvents):
				logger.Debug("Skipping unit without events", "pmu", p.name)
			case err != nil:
				logger.Debug("Dropping unit", "pmu", p.name, "error", err)
			default:
				parsed[i] = unit
			}
			return nil
		})
	}
	_ = g.Wait()

	cat := &Catalogue{}
	for _, unit := range parsed {
		if unit != nil {
			cat.PMUs = append(cat.PMUs, *unit)
		}
	}
	sort.Slice(cat.PMUs, func(i, j int) bool { return cat.PMUs[i].Name < cat.PMUs[j].Name })
	cat.PMUs = append(cat.PMUs, softwarePMU())

	logger.Info("Loaded event catalogue", "pmus", len(cat.PMUs))
	return cat, nil
}
