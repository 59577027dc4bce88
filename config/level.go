// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
)

// Level selects the exported metric groups using bit patterns
type Level uint32

const (
	MetricsLevelCounters  Level = 1 << iota // 1
	MetricsLevelDerived                     // 2
	MetricsLevelDutyCycle                   // 4

	// MetricsLevelAll represents all metric groups combined
	MetricsLevelAll = MetricsLevelCounters | MetricsLevelDerived | MetricsLevelDutyCycle
)

var levelNames = []struct {
	level Level
	name  string
}{
	{MetricsLevelCounters, "counters"},
	{MetricsLevelDerived, "derived"},
	{MetricsLevelDutyCycle, "duty-cycle"},
}

func (l Level) names() []string {
	var names []string
	for _, ln := range levelNames {
		if l&ln.level != 0 {
			names = append(names, ln.name)
		}
	}
	return names
}

// String returns the string representation of the level
func (l Level) String() string {
	return strings.Join(l.names(), ",")
}

// IsCountersEnabled checks if raw counter values are exported
func (l Level) IsCountersEnabled() bool {
	return l&MetricsLevelCounters != 0
}

// IsDerivedEnabled checks if derived counters are exported
func (l Level) IsDerivedEnabled() bool {
	return l&MetricsLevelDerived != 0
}

// IsDutyCycleEnabled checks if running/enabled ratios are exported
func (l Level) IsDutyCycleEnabled() bool {
	return l&MetricsLevelDutyCycle != 0
}

// ParseLevel parses a slice of strings into a Level
func ParseLevel(levels []string) (Level, error) {
	if len(levels) == 0 {
		return MetricsLevelAll, nil
	}

	var result Level
	for _, level := range levels {
		name := strings.ToLower(strings.TrimSpace(level))
		found := false
		for _, ln := range levelNames {
			if ln.name == name {
				result |= ln.level
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown metrics level: %s", level)
		}
	}

	return result, nil
}

// ValidLevels returns the list of valid metrics levels
func ValidLevels() []string {
	return MetricsLevelAll.names()
}

// MarshalYAML implements yaml.Marshaler interface
func (l Level) MarshalYAML() (interface{}, error) {
	levels := l.names()

	// Return as slice for multiple levels, single string for one level
	if len(levels) == 1 {
		return levels[0], nil
	}
	return levels, nil
}

// UnmarshalYAML implements yaml.Unmarshaler interface
func (l *Level) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		parsed, parseErr := ParseLevel([]string{single})
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	var multiple []string
	if err := unmarshal(&multiple); err == nil {
		parsed, parseErr := ParseLevel(multiple)
		if parseErr != nil {
			return parseErr
		}
		*l = parsed
		return nil
	}

	return fmt.Errorf("cannot unmarshal metrics level: must be a string or array of strings")
}
