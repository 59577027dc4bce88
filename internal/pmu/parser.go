// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sustainable-computing-io/perfevent/internal/pmc"
	"github.com/sustainable-computing-io/perfevent/internal/topology"
)

const (
	scaleSuffix = ".scale"
	unitSuffix  = ".unit"
	chipField   = "chip"
)

var errNoEvents = errors.New("no events directory")

// unitParser reads one directory below the event source devices
type unitParser struct {
	name    string
	dir     string
	dynamic *pmc.Dynamic
	logger  *slog.Logger
}

func (u *unitParser) parse() (*PMU, error) {
	eventsDir := filepath.Join(u.dir, "events")
	if info, err := os.Stat(eventsDir); err != nil || !info.IsDir() {
		return nil, errNoEvents
	}

	props, err := parseFormat(filepath.Join(u.dir, "format"))
	if err != nil {
		return nil, err
	}

	typ, err := readUint(filepath.Join(u.dir, "type"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("invalid type: %w", err)
	}

	p := &PMU{
		Name:       u.name,
		Type:       uint32(typ),
		Properties: props,
		CPUMask:    u.cpuMask(),
	}
	if err := u.parseEvents(p, eventsDir); err != nil {
		return nil, err
	}
	return p, nil
}

// parseFormat reads every format/<property> file. Files without a config
// word prefix are ignored.
func parseFormat(dir string) ([]Property, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("invalid format: %w", err)
	}

	var props []Property
	for _, entry := range entries {
		data, err := readString(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		prop, ok, err := parseProperty(entry.Name(), data)
		if err != nil {
			return nil, err
		}
		if ok {
			props = append(props, prop)
		}
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	return props, nil
}

// parseProperty parses "config:0-7", "config1:63" or "config:0-7,32-35"
func parseProperty(name, s string) (Property, bool, error) {
	word, bits, ok := strings.Cut(s, ":")
	if !ok {
		return Property{}, false, nil
	}

	prop := Property{Name: name}
	switch word {
	case "config":
		prop.Word = Config
	case "config1":
		prop.Word = Config1
	case "config2":
		prop.Word = Config2
	default:
		return Property{}, false, fmt.Errorf("property %s: unknown config word %q", name, word)
	}

	for i, token := range strings.Split(bits, ",") {
		r, err := parseBitRange(token)
		if err != nil {
			return Property{}, false, fmt.Errorf("property %s: %w", name, err)
		}
		if i == 0 {
			prop.Lo, prop.Hi = r.Lo, r.Hi
			continue
		}
		prop.Extra = append(prop.Extra, r)
	}
	return prop, true, nil
}

func parseBitRange(s string) (BitRange, error) {
	first, last, isRange := strings.Cut(s, "-")
	lo, err := strconv.ParseUint(first, 10, 6)
	if err != nil {
		return BitRange{}, fmt.Errorf("invalid bit %q", s)
	}
	if !isRange {
		return BitRange{Lo: uint(lo), Hi: uint(lo)}, nil
	}
	hi, err := strconv.ParseUint(last, 10, 6)
	if err != nil || hi < lo {
		return BitRange{}, fmt.Errorf("invalid bit range %q", s)
	}
	return BitRange{Lo: uint(lo), Hi: uint(hi)}, nil
}

func (u *unitParser) parseEvents(p *PMU, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, scaleSuffix) || strings.HasSuffix(name, unitSuffix) {
			continue
		}

		data, err := readString(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("event %s: %w", name, err)
		}

		ev := Event{Name: name}
		if err := u.encode(p, &ev, data); err != nil {
			return fmt.Errorf("event %s: %w", name, err)
		}

		if s, err := readString(filepath.Join(dir, name+scaleSuffix)); err == nil {
			scale, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("event %s: invalid scale %q", name, s)
			}
			ev.Scale = scale
		}
		if s, err := readString(filepath.Join(dir, name+unitSuffix)); err == nil {
			ev.Unit = s
		}

		p.Events = append(p.Events, ev)
	}

	sort.Slice(p.Events, func(i, j int) bool { return p.Events[i].Name < p.Events[j].Name })
	return nil
}

// encode resolves "field=value[,field=value...]" against the unit's format.
// Values are hex; a bare field sets value 1; "chip=?" takes the chip hint of
// the dynamic settings. Once any field matches, every format property of the
// unit must be named.
func (u *unitParser) encode(p *PMU, ev *Event, s string) error {
	matched := make(map[string]bool, len(p.Properties))
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}

		field, raw, hasValue := strings.Cut(term, "=")
		prop, ok := p.property(field)
		if !ok {
			return fmt.Errorf("field %q does not match any format property", field)
		}

		var value uint64
		switch {
		case !hasValue:
			value = 1
		case raw == "?":
			if field != chipField {
				return fmt.Errorf("field %q needs a value", field)
			}
			qualified := p.Name + "." + ev.Name
			hint, ok := u.dynamic.ChipHint(qualified)
			if !ok {
				u.logger.Debug("No chip hint, using chip 0", "event", qualified)
			}
			value = hint
		default:
			v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(raw), "0x"), 16, 64)
			if err != nil {
				return fmt.Errorf("field %q: invalid value %q", field, raw)
			}
			value = v
		}

		prop.apply(&ev.Config, value)
		matched[prop.Name] = true
	}

	if len(matched) > 0 && len(matched) < len(p.Properties) {
		var missing []string
		for _, prop := range p.Properties {
			if !matched[prop.Name] {
				missing = append(missing, prop.Name)
			}
		}
		return fmt.Errorf("format properties %s not set", strings.Join(missing, ","))
	}
	return nil
}

// cpuMask returns the CPUs listed in the unit's cpumask file, or nil when the
// file is absent or unreadable
func (u *unitParser) cpuMask() topology.CPUList {
	s, err := readString(filepath.Join(u.dir, "cpumask"))
	if err != nil {
		return nil
	}
	cpus, err := topology.ParseCPUList(s)
	if err != nil {
		u.logger.Debug("Ignoring malformed cpumask", "pmu", u.name, "error", err)
		return nil
	}
	return cpus
}

func readString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUint(path string, base, bits int) (uint64, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(s, base, bits)
}
