// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"fmt"
	"strings"

	"github.com/sustainable-computing-io/perfevent/internal/device"
	"github.com/sustainable-computing-io/perfevent/internal/pmc"
	"github.com/sustainable-computing-io/perfevent/internal/pmu"
)

type term struct {
	event int
	scale float64
}

// derivedEvent is a resolved derived counter. Terms line up by instance
// position, not by CPU id.
type derivedEvent struct {
	name  string
	terms []term
}

// resolveDerived picks the first alternative whose terms all name programmed
// events. Terms of one alternative must share their CPU policy.
func (e *Engine) resolveDerived(d pmc.Derived) (*derivedEvent, error) {
	if len(d.SettingLists) == 0 {
		return nil, fmt.Errorf("%w: derived counter %q has no settings", ErrLogic, d.Name)
	}

	for _, list := range d.SettingLists {
		if len(list) == 0 {
			continue
		}

		policy := list[0].CPU
		terms := make([]term, 0, len(list))
		for _, s := range list {
			idx := e.eventIndex(s.Name)
			if idx < 0 {
				e.logger.Debug("Derived term not programmed", "derived", d.Name, "term", s.Name)
				terms = nil
				break
			}
			if s.CPU != policy {
				return nil, fmt.Errorf("%w: derived counter %q mixes cpu policies %s and %s",
					ErrLogic, d.Name, policy, s.CPU)
			}

			scale := s.Scale
			if s.PerfScale {
				var err error
				if scale, err = e.perfScale(s.Name); err != nil {
					return nil, fmt.Errorf("derived counter %q: %w", d.Name, err)
				}
			}
			terms = append(terms, term{event: idx, scale: scale})
		}

		if terms != nil {
			return &derivedEvent{name: d.Name, terms: terms}, nil
		}
	}
	return nil, fmt.Errorf("%w: no alternative of %q could be resolved", ErrRuntime, d.Name)
}

// perfScale returns the kernel .scale factor of an event
func (e *Engine) perfScale(name string) (float64, error) {
	if strings.HasPrefix(name, device.EventPrefix) {
		return 0, fmt.Errorf("%w: energy event %s has no perf scale", ErrRuntime, name)
	}

	if _, ev, err := e.catalogue.Lookup(name); err == nil {
		if ev.Scale == 0 {
			return 0, fmt.Errorf("%w: %w: %s", ErrRuntime, pmu.ErrNoScale, name)
		}
		return ev.Scale, nil
	}

	attr, err := e.encoder.Encode(name)
	if err != nil {
		return 0, err
	}
	scale, err := e.catalogue.Scale(uint32(attr.Type), attr.Config)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return scale, nil
}

// evaluateDerived computes Σ value × scale per instance. The number of
// instances is taken from the first term.
func (e *Engine) evaluateDerived(counters []Counter, derived *[]DerivedCounter) {
	out := *derived
	if out == nil || len(out) != len(e.derived) {
		out = make([]DerivedCounter, len(e.derived))
	}

	for i, de := range e.derived {
		dc := &out[i]
		dc.Name = de.name

		n := len(counters[de.terms[0].event].Data)
		if len(dc.Values) != n {
			dc.Values = make([]float64, n)
		}

		for k := range dc.Values {
			v := 0.0
			for _, t := range de.terms {
				data := counters[t.event].Data
				if k < len(data) {
					v += float64(data[k].Value) * t.scale
				}
			}
			dc.Values[k] = v
		}
	}
	*derived = out
}

// Derived returns the names of the derived counters that resolved
func (e *Engine) Derived() []string {
	if e == nil {
		return nil
	}
	names := make([]string, len(e.derived))
	for i, d := range e.derived {
		names[i] = d.name
	}
	return names
}
