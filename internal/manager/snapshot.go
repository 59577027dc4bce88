// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package manager

import (
	"slices"
	"time"

	"github.com/sustainable-computing-io/perfevent/internal/perf"
)

// Snapshot is a copy of one read cycle. Valid is false when the cycle was
// discarded because the counters were paused or resumed since the last read.
type Snapshot struct {
	Timestamp time.Time
	Valid     bool
	Read      int
	Counters  []perf.Counter
	Derived   []perf.DerivedCounter
}

func (s *Snapshot) Clone() *Snapshot {
	ret := &Snapshot{
		Timestamp: s.Timestamp,
		Valid:     s.Valid,
		Read:      s.Read,
		Counters:  make([]perf.Counter, len(s.Counters)),
		Derived:   make([]perf.DerivedCounter, len(s.Derived)),
	}
	for i, c := range s.Counters {
		ret.Counters[i] = perf.Counter{Name: c.Name, Disabled: c.Disabled, Data: slices.Clone(c.Data)}
	}
	for i, d := range s.Derived {
		ret.Derived[i] = perf.DerivedCounter{Name: d.Name, Values: slices.Clone(d.Values)}
	}
	return ret
}
