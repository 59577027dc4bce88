// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

// Package pmc holds the parsed counter configuration consumed by the
// acquisition engine: which events to program, on which CPUs, and how raw
// counters combine into derived ones.
package pmc

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// CPUPolicy selects the CPUs an event is programmed on. The zero value is
// EachCPU; OnCPU pins a single CPU index.
type CPUPolicy int

const (
	EachCPU            CPUPolicy = 0
	EachNUMANode       CPUPolicy = -1
	RoundRobinCPU      CPUPolicy = -2
	RoundRobinNUMANode CPUPolicy = -3
)

// OnCPU returns the policy pinning an event to one CPU index. Negative
// indices are clamped to 0.
func OnCPU(cpu int) CPUPolicy {
	return CPUPolicy(max(cpu, 0) + 1)
}

var policyNames = map[CPUPolicy]string{
	EachCPU:            "each-cpu",
	EachNUMANode:       "each-numa-node",
	RoundRobinCPU:      "round-robin-cpu",
	RoundRobinNUMANode: "round-robin-numa-node",
}

// ParseCPUPolicy accepts a policy name or a CPU index
func ParseCPUPolicy(s string) (CPUPolicy, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for p, name := range policyNames {
		if s == name {
			return p, nil
		}
	}
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 0 {
		return EachCPU, fmt.Errorf("invalid cpu policy %q", s)
	}
	return OnCPU(idx), nil
}

// IsExplicit reports whether the policy pins a single CPU index
func (p CPUPolicy) IsExplicit() bool {
	return p > 0
}

// CPU returns the pinned CPU index, or -1 for the other policies
func (p CPUPolicy) CPU() int {
	if !p.IsExplicit() {
		return -1
	}
	return int(p) - 1
}

func (p CPUPolicy) String() string {
	if name, ok := policyNames[p]; ok {
		return name
	}
	if p.IsExplicit() {
		return strconv.Itoa(p.CPU())
	}
	return fmt.Sprintf("unknown(%d)", int(p))
}

// UnmarshalYAML implements yaml.Unmarshaler
func (p *CPUPolicy) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := ParseCPUPolicy(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*p = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (p CPUPolicy) MarshalYAML() (any, error) {
	if p.IsExplicit() {
		return p.CPU(), nil
	}
	return p.String(), nil
}

type (
	// Setting is one event to program. For derived terms Scale multiplies the
	// raw value; PerfScale takes the factor from the kernel's .scale metadata
	// instead.
	Setting struct {
		Name      string    `yaml:"name"`
		CPU       CPUPolicy `yaml:"cpu"`
		Scale     float64   `yaml:"scale,omitempty"`
		PerfScale bool      `yaml:"perf-scale,omitempty"`
	}

	// Entry pairs PMU names with the settings to program when one of them is
	// present on the machine
	Entry struct {
		PMUTypes []string  `yaml:"pmus"`
		Settings []Setting `yaml:"settings"`
	}

	// Derived is a named linear combination of raw counters. SettingLists are
	// alternatives; the first list whose terms all resolve is used.
	Derived struct {
		Name         string      `yaml:"name"`
		SettingLists [][]Setting `yaml:"alternatives"`
	}

	// DynamicSetting enables one catalogue event, named "pmu.event"
	DynamicSetting struct {
		Name   string  `yaml:"name"`
		Chip   *uint64 `yaml:"chip,omitempty"`
		Denied bool    `yaml:"denied,omitempty"`
	}

	// Dynamic is the allow list of catalogue events. MaxEvents of zero means
	// no limit.
	Dynamic struct {
		Settings  []DynamicSetting `yaml:"events"`
		MaxEvents int              `yaml:"max-events,omitempty"`
	}

	// Configuration is the parsed counter configuration tree
	Configuration struct {
		Entries []Entry   `yaml:"entries"`
		Derived []Derived `yaml:"derived,omitempty"`
		Dynamic *Dynamic  `yaml:"dynamic,omitempty"`
	}
)

// UnmarshalYAML implements yaml.Unmarshaler. A setting without a cpu key
// counts on every CPU, like the zero Setting, and a term without a scale
// counts once.
func (s *Setting) UnmarshalYAML(node *yaml.Node) error {
	type plain Setting
	out := plain{CPU: EachCPU, Scale: 1}
	if err := node.Decode(&out); err != nil {
		return err
	}
	*s = Setting(out)
	return nil
}

// Lookup returns the setting for the fully qualified event name
func (d *Dynamic) Lookup(name string) (DynamicSetting, bool) {
	if d == nil {
		return DynamicSetting{}, false
	}
	for _, s := range d.Settings {
		if s.Name == name {
			return s, true
		}
	}
	return DynamicSetting{}, false
}

// ChipHint returns the chip identifier supplied for the event, if any
func (d *Dynamic) ChipHint(name string) (uint64, bool) {
	s, ok := d.Lookup(name)
	if !ok || s.Chip == nil {
		return 0, false
	}
	return *s.Chip, true
}

// Allowed reports whether the event was listed and not denied
func (d *Dynamic) Allowed(name string) bool {
	s, ok := d.Lookup(name)
	return ok && !s.Denied
}
