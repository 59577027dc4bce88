// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package perf

import (
	"errors"

	goperf "github.com/elastic/go-perf"

	"github.com/sustainable-computing-io/perfevent/internal/device"
)

// Sample is one raw/time-enabled/time-running triple
type Sample struct {
	Value   uint64
	Enabled uint64
	Running uint64
}

// KernelCounter is an opened perf event
type KernelCounter interface {
	Enable() error
	Disable() error
	ReadCount() (goperf.Count, error)
	Close() error
}

// Opener opens attr on one CPU for all threads
type Opener func(attr *goperf.Attr, cpu int) (KernelCounter, error)

func openKernelCounter(attr *goperf.Attr, cpu int) (KernelCounter, error) {
	return goperf.Open(attr, goperf.AllThreads, cpu, nil)
}

// EnergyBackend serves RAPL: events
type EnergyBackend interface {
	Encode(name string, cpu int) (device.Handle, error)
	Open(h device.Handle) error
	Read(h device.Handle) (uint64, error)
	Close() error
}

type counterKind int

const (
	kernelKind counterKind = iota
	energyKind
)

func (k counterKind) String() string {
	if k == energyKind {
		return "rapl"
	}
	return "perf"
}

// counter is one programmed (event, CPU) pair
type counter interface {
	kind() counterKind
	read() (Sample, error)
	enable(on bool) error
	close() error
}

var errNotToggleable = errors.New("counter has no enable control")

type kernelCounter struct {
	fd KernelCounter
}

func (k *kernelCounter) kind() counterKind { return kernelKind }

func (k *kernelCounter) read() (Sample, error) {
	c, err := k.fd.ReadCount()
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Value:   c.Value,
		Enabled: uint64(c.Enabled),
		Running: uint64(c.Running),
	}, nil
}

func (k *kernelCounter) enable(on bool) error {
	if on {
		return k.fd.Enable()
	}
	return k.fd.Disable()
}

func (k *kernelCounter) close() error {
	return k.fd.Close()
}

// energyCounter reads absolute values; the backend owns the device files
type energyCounter struct {
	backend EnergyBackend
	handle  device.Handle
}

func (r *energyCounter) kind() counterKind { return energyKind }

func (r *energyCounter) read() (Sample, error) {
	v, err := r.backend.Read(r.handle)
	if err != nil {
		return Sample{}, err
	}
	return Sample{Value: v, Enabled: 1, Running: 1}, nil
}

func (r *energyCounter) enable(bool) error {
	return errNotToggleable
}

func (r *energyCounter) close() error {
	return nil
}

// instance is a counter on one CPU together with its last two samples
type instance struct {
	cpu     int
	counter counter
	cur     Sample
	prev    Sample
}

// event is a programmed event. Disabled events have no instances.
type event struct {
	name      string
	disabled  bool
	instances []*instance
}

func (e *event) close() error {
	var errs []error
	for _, inst := range e.instances {
		if err := inst.counter.close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.instances = nil
	return errors.Join(errs...)
}

// ScaledDelta returns the counter delta between two samples, corrected for
// time multiplexing. The delta is scaled by enabled/running only when the
// counter ran for part of the time it was enabled.
func ScaledDelta(prev, cur Sample) uint64 {
	dv := cur.Value - prev.Value
	dr := cur.Running - prev.Running
	de := cur.Enabled - prev.Enabled

	if dr == 0 || dr >= de {
		return dv
	}
	return uint64(float64(dv) * (float64(de) / float64(dr)))
}
