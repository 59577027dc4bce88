// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sustainable-computing-io/perfevent/internal/topology"
)

// ConfigWord selects which of the three perf_event_attr config words a
// format property writes to
type ConfigWord int

const (
	Config ConfigWord = iota
	Config1
	Config2
)

func (w ConfigWord) String() string {
	switch w {
	case Config1:
		return "config1"
	case Config2:
		return "config2"
	default:
		return "config"
	}
}

// BitRange is an inclusive range of bits of a config word
type BitRange struct {
	Lo, Hi uint
}

func (r BitRange) width() uint {
	return r.Hi - r.Lo + 1
}

type (
	// Property is one named bit-field from a unit's format directory. Lo and
	// Hi describe the first range; formats such as "config:0-7,32-35" keep the
	// remaining ranges in Extra.
	Property struct {
		Name  string
		Lo    uint
		Hi    uint
		Word  ConfigWord
		Extra []BitRange
	}

	// Event is a named event with its pre-computed config words. Scale is zero
	// when the kernel exposes no .scale file for it.
	Event struct {
		Name   string
		Config [3]uint64
		Scale  float64
		Unit   string
	}

	// PMU is one performance-monitoring unit. A nil CPUMask means the unit
	// counts on every CPU.
	PMU struct {
		Name       string
		Type       uint32
		Properties []Property
		Events     []Event
		CPUMask    topology.CPUList
	}

	// Catalogue is the set of units found at load time, sorted by name with the
	// software unit last. It is read-only after Load returns.
	Catalogue struct {
		PMUs []PMU
	}
)

var (
	// ErrUnknownEvent is returned when a name does not resolve to a catalogue event
	ErrUnknownEvent = errors.New("unknown event")

	// ErrNoScale is returned when an event has no .scale metadata
	ErrNoScale = errors.New("event has no scale")
)

// apply ORs value into cfg according to the property's bit layout
func (p Property) apply(cfg *[3]uint64, value uint64) {
	if len(p.Extra) == 0 {
		cfg[p.Word] |= value << p.Lo
		return
	}

	for _, r := range append([]BitRange{{Lo: p.Lo, Hi: p.Hi}}, p.Extra...) {
		w := r.width()
		mask := uint64(1)<<w - 1
		cfg[p.Word] |= (value & mask) << r.Lo
		value >>= w
	}
}

func (p *PMU) property(name string) (Property, bool) {
	for _, prop := range p.Properties {
		if prop.Name == name {
			return prop, true
		}
	}
	return Property{}, false
}

// Event returns the named event of the unit
func (p *PMU) Event(name string) (*Event, bool) {
	for i := range p.Events {
		if p.Events[i].Name == name {
			return &p.Events[i], true
		}
	}
	return nil, false
}

// PMU returns the named unit
func (c *Catalogue) PMU(name string) (*PMU, bool) {
	if c == nil {
		return nil, false
	}
	for i := range c.PMUs {
		if c.PMUs[i].Name == name {
			return &c.PMUs[i], true
		}
	}
	return nil, false
}

// Lookup resolves a fully qualified "pmu.event" name
func (c *Catalogue) Lookup(name string) (*PMU, *Event, error) {
	unit, event, ok := strings.Cut(name, ".")
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q is not of the form pmu.event", ErrUnknownEvent, name)
	}
	p, ok := c.PMU(unit)
	if !ok {
		return nil, nil, fmt.Errorf("%w: no pmu %q", ErrUnknownEvent, unit)
	}
	ev, ok := p.Event(event)
	if !ok {
		return nil, nil, fmt.Errorf("%w: pmu %q has no event %q", ErrUnknownEvent, unit, event)
	}
	return p, ev, nil
}

// Scale returns the kernel scale factor of the event programmed with the
// given type and config word
func (c *Catalogue) Scale(typ uint32, config uint64) (float64, error) {
	if c == nil {
		return 0, fmt.Errorf("%w: type %d config 0x%x", ErrUnknownEvent, typ, config)
	}
	for _, p := range c.PMUs {
		if p.Type != typ {
			continue
		}
		for _, ev := range p.Events {
			if ev.Config[Config] != config {
				continue
			}
			if ev.Scale == 0 {
				return 0, fmt.Errorf("%w: %s.%s", ErrNoScale, p.Name, ev.Name)
			}
			return ev.Scale, nil
		}
	}
	return 0, fmt.Errorf("%w: type %d config 0x%x", ErrUnknownEvent, typ, config)
}

// Names returns the unit names in catalogue order
func (c *Catalogue) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, len(c.PMUs))
	for i, p := range c.PMUs {
		names[i] = p.Name
	}
	return names
}
