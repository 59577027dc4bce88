// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"fmt"
	"strconv"
	"strings"

	goperf "github.com/elastic/go-perf"

	"github.com/sustainable-computing-io/perfevent/internal/pmu"
)

// Encoder turns an event name into perf_event_attr settings
type Encoder interface {
	Encode(name string) (*goperf.Attr, error)
}

// genericEncoder understands catalogue names ("pmu.event"), raw codes
// ("r1a8") and the generic hardware and software event names
type genericEncoder struct {
	catalogue *pmu.Catalogue
}

// NewEncoder returns the default Encoder backed by the catalogue
func NewEncoder(c *pmu.Catalogue) Encoder {
	return &genericEncoder{catalogue: c}
}

var genericEvents = map[string]goperf.Configurator{
	"cycles":                  goperf.CPUCycles,
	"cpu-cycles":              goperf.CPUCycles,
	"instructions":            goperf.Instructions,
	"cache-references":        goperf.CacheReferences,
	"cache-misses":            goperf.CacheMisses,
	"branches":                goperf.BranchInstructions,
	"branch-instructions":     goperf.BranchInstructions,
	"branch-misses":           goperf.BranchMisses,
	"bus-cycles":              goperf.BusCycles,
	"stalled-cycles-frontend": goperf.StalledCyclesFrontend,
	"stalled-cycles-backend":  goperf.StalledCyclesBackend,
	"ref-cycles":              goperf.RefCPUCycles,
	"ref-cpu-cycles":          goperf.RefCPUCycles,

	"cpu-clock":        goperf.CPUClock,
	"task-clock":       goperf.TaskClock,
	"page-faults":      goperf.PageFaults,
	"faults":           goperf.PageFaults,
	"context-switches": goperf.ContextSwitches,
	"cs":               goperf.ContextSwitches,
	"cpu-migrations":   goperf.CPUMigrations,
	"migrations":       goperf.CPUMigrations,
	"minor-faults":     goperf.MinorPageFaults,
	"page-faults-min":  goperf.MinorPageFaults,
	"major-faults":     goperf.MajorPageFaults,
	"page-faults-maj":  goperf.MajorPageFaults,
	"alignment-faults": goperf.AlignmentFaults,
	"emulation-faults": goperf.EmulationFaults,
}

// normalize folds "perf::INSTRUCTIONS", "PERF_COUNT_HW_INSTRUCTIONS" and
// "instructions" into the same key
func normalize(name string) string {
	n := strings.ToLower(name)
	n = strings.TrimPrefix(n, "perf::")
	n = strings.ReplaceAll(n, "_", "-")
	for _, prefix := range []string{"perf-count-hw-", "perf-count-sw-"} {
		n = strings.TrimPrefix(n, prefix)
	}
	return n
}

func (g *genericEncoder) Encode(name string) (*goperf.Attr, error) {
	attr := &goperf.Attr{Label: name}

	if strings.Contains(name, ".") {
		p, ev, err := g.catalogue.Lookup(name)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
		}
		attr.Type = goperf.EventType(p.Type)
		attr.Config = ev.Config[pmu.Config]
		attr.Config1 = ev.Config[pmu.Config1]
		attr.Config2 = ev.Config[pmu.Config2]
		return attr, nil
	}

	if code, ok := rawCode(name); ok {
		attr.Type = goperf.RawEvent
		attr.Config = code
		return attr, nil
	}

	cfg, ok := genericEvents[normalize(name)]
	if !ok {
		return nil, fmt.Errorf("%w: cannot encode event %q", ErrRuntime, name)
	}
	if err := cfg.Configure(attr); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRuntime, name, err)
	}
	attr.Label = name
	return attr, nil
}

// rawCode parses the "r<hex>" raw event syntax
func rawCode(name string) (uint64, bool) {
	hex, ok := strings.CutPrefix(strings.ToLower(name), "r")
	if !ok || hex == "" {
		return 0, false
	}
	code, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return code, true
}
