// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"fmt"
)

// CounterData is the accumulated value of an event on one CPU
type CounterData struct {
	Value       uint64
	TimeEnabled uint64
	TimeRunning uint64
	CPU         int
}

// DutyCycle is the fraction of enabled time the counter was scheduled
func (d CounterData) DutyCycle() float64 {
	if d.TimeEnabled == 0 {
		return 0
	}
	return float64(d.TimeRunning) / float64(d.TimeEnabled)
}

// Counter is the output row of one event
type Counter struct {
	Name     string
	Disabled bool
	Data     []CounterData
}

// DerivedCounter is the output row of one derived counter
type DerivedCounter struct {
	Name   string
	Values []float64
}

// Read samples every counter and accumulates the multiplex-corrected deltas
// into counters, then evaluates the derived counters into derived. Both
// slices are reused when their length matches the number of events and
// derived counters, and reallocated otherwise. derived may be nil. Read
// returns the number of instances read successfully; instances that fail
// are skipped for this cycle.
func (e *Engine) Read(counters *[]Counter, derived *[]DerivedCounter) (int, error) {
	if e == nil {
		return 0, fmt.Errorf("%w: nil engine", ErrLogic)
	}
	if counters == nil {
		return 0, fmt.Errorf("%w: nil counters", ErrLogic)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	out := *counters
	if out == nil || len(out) != len(e.events) {
		out = make([]Counter, len(e.events))
	}

	read := 0
	for idx, ev := range e.events {
		c := &out[idx]
		c.Name = ev.name
		c.Disabled = ev.disabled
		if ev.disabled {
			continue
		}
		if len(c.Data) != len(ev.instances) {
			c.Data = make([]CounterData, len(ev.instances))
		}

		for i, inst := range ev.instances {
			sample, err := inst.counter.read()
			if err != nil {
				e.logger.Debug("Unable to read counter", "event", ev.name, "cpu", inst.cpu, "error", err)
				continue
			}
			read++

			d := &c.Data[i]
			d.CPU = inst.cpu
			inst.cur = sample
			if inst.counter.kind() == energyKind {
				d.Value = sample.Value
				d.TimeEnabled, d.TimeRunning = 1, 1
				continue
			}
			d.Value += ScaledDelta(inst.prev, sample)
			d.TimeEnabled = sample.Enabled
			d.TimeRunning = sample.Running
			inst.prev = sample
		}
	}
	*counters = out

	if derived != nil {
		e.evaluateDerived(out, derived)
	}
	return read, nil
}
