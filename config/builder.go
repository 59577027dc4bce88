// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"reflect"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/sustainable-computing-io/perfevent/internal/pmc"
)

// Builder is a struct for building a config
type Builder struct {
	yamls  []string
	Config *Config
}

// Use sets the default configuration
func (b *Builder) Use(c *Config) *Builder {
	b.Config = c
	return b
}

// Merge adds a YAML string to be merged into the configuration
func (b *Builder) Merge(yamls ...string) *Builder {
	b.yamls = append(b.yamls, yamls...)
	return b
}

// Build constructs the final configuration by merging all additional YAMLS into the default configuration.
// A fragment that sets any part of the counter tree replaces the whole tree.
func (b *Builder) Build() (*Config, error) {
	if b.Config == nil {
		b.Config = DefaultConfig()
	}

	var errs error
	for _, y := range b.yamls {
		additional := &Config{}
		if err := yaml.Unmarshal([]byte(y), additional); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to parse YAML: %w, yaml: %s", err, y))
			continue
		}

		if err := mergo.Merge(b.Config, additional, mergo.WithOverride, mergo.WithTransformers(transformers{})); err != nil {
			errs = errors.Join(errs, fmt.Errorf("failed to merge config: %w, yaml: %s", err, y))
			continue
		}
	}

	if errs != nil {
		return nil, errs
	}
	return b.Config, nil
}

var (
	boolPtrType  = reflect.TypeOf((*bool)(nil))
	countersType = reflect.TypeOf(pmc.Configuration{})
)

// transformers customises merging of *bool (an explicit false overrides) and
// of the counter tree (replaced, never merged field by field)
type transformers struct{}

func (t transformers) Transformer(typ reflect.Type) func(dst, src reflect.Value) error {
	switch typ {
	case boolPtrType:
		return mergeBoolPtr
	case countersType:
		return replaceCounters
	}
	return nil
}

func mergeBoolPtr(dst, src reflect.Value) error {
	if src.IsNil() {
		return nil
	}
	if dst.CanSet() {
		dst.Set(src)
	}
	return nil
}

func replaceCounters(dst, src reflect.Value) error {
	if src.IsZero() {
		return nil
	}
	if dst.CanSet() {
		dst.Set(src)
	}
	return nil
}
