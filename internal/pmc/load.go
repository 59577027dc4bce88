// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load decodes and validates a counter configuration
func Load(r io.Reader) (*Configuration, error) {
	cfg := &Configuration{}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse counter configuration: %w", err)
	}

	cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile loads a counter configuration from a YAML file
func FromFile(path string) (*Configuration, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open counter configuration %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Sanitize trims event and unit names
func (c *Configuration) Sanitize() {
	for i := range c.Entries {
		for j, t := range c.Entries[i].PMUTypes {
			c.Entries[i].PMUTypes[j] = strings.TrimSpace(t)
		}
		for j := range c.Entries[i].Settings {
			c.Entries[i].Settings[j].Name = strings.TrimSpace(c.Entries[i].Settings[j].Name)
		}
	}
	for i := range c.Derived {
		c.Derived[i].Name = strings.TrimSpace(c.Derived[i].Name)
		for _, list := range c.Derived[i].SettingLists {
			for j := range list {
				list[j].Name = strings.TrimSpace(list[j].Name)
			}
		}
	}
	if c.Dynamic != nil {
		for i := range c.Dynamic.Settings {
			c.Dynamic.Settings[i].Name = strings.TrimSpace(c.Dynamic.Settings[i].Name)
		}
	}
}

// Validate checks the structure of the configuration tree. Whether events
// exist on the machine is only known when the engine programs them.
func (c *Configuration) Validate() error {
	var errs []string

	for i, e := range c.Entries {
		if len(e.PMUTypes) == 0 {
			errs = append(errs, fmt.Sprintf("entry %d: no pmu types", i))
		}
		for j, s := range e.Settings {
			if s.Name == "" {
				errs = append(errs, fmt.Sprintf("entry %d setting %d: empty event name", i, j))
			}
		}
	}

	for i, d := range c.Derived {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("derived %d: empty name", i))
		}
		if len(d.SettingLists) == 0 {
			errs = append(errs, fmt.Sprintf("derived %q: no alternatives", d.Name))
		}
		for j, list := range d.SettingLists {
			if len(list) == 0 {
				errs = append(errs, fmt.Sprintf("derived %q alternative %d: no terms", d.Name, j))
			}
			for _, term := range list {
				if term.Name == "" {
					errs = append(errs, fmt.Sprintf("derived %q alternative %d: empty term name", d.Name, j))
				}
			}
		}
	}

	if c.Dynamic != nil {
		if c.Dynamic.MaxEvents < 0 {
			errs = append(errs, fmt.Sprintf("dynamic: invalid max-events %d", c.Dynamic.MaxEvents))
		}
		for i, s := range c.Dynamic.Settings {
			if pmu, event, ok := strings.Cut(s.Name, "."); !ok || pmu == "" || event == "" {
				errs = append(errs, fmt.Sprintf("dynamic event %d: %q is not of the form pmu.event", i, s.Name))
			}
		}
	}

	if len(errs) > 0 {
		return errors.New("invalid counter configuration: " + strings.Join(errs, ", "))
	}
	return nil
}
