// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"sync"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sustainable-computing-io/perfevent/config"
	"github.com/sustainable-computing-io/perfevent/internal/manager"
	"github.com/sustainable-computing-io/perfevent/internal/perf"
)

type fakeSnapshots struct {
	mu       sync.Mutex
	snapshot *manager.Snapshot
	err      error
	calls    int
}

func (f *fakeSnapshots) Snapshot() (*manager.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot.Clone(), nil
}

func testSnapshot(valid bool) *manager.Snapshot {
	return &manager.Snapshot{
		Valid: valid,
		Read:  5,
		Counters: []perf.Counter{{
			Name: "instructions",
			Data: []perf.CounterData{
				{CPU: 0, Value: 1000, TimeEnabled: 2e9, TimeRunning: 1e9},
				{CPU: 1, Value: 3000, TimeEnabled: 2e9, TimeRunning: 2e9},
			},
		}, {
			Name:     "branch-misses",
			Disabled: true,
		}, {
			Name: "RAPL:PKG_ENERGY",
			Data: []perf.CounterData{{CPU: 0, Value: 16000, TimeEnabled: 1, TimeRunning: 1}},
		}},
		Derived: []perf.DerivedCounter{{
			Name:   "cache-hits",
			Values: []float64{700, 900},
		}},
	}
}

func TestCounterCollectorAll(t *testing.T) {
	src := &fakeSnapshots{snapshot: testSnapshot(true)}
	c := NewCounterCollector(src, []string{"cache-hits"}, nil, config.MetricsLevelAll)

	families := gather(t, c)
	assert.Equal(t, 1, src.calls)

	assert.Equal(t, 1.0, valueAt(t, families["perfevent_sample_valid"], nil))

	total := families["perfevent_counter_total"]
	assert.Equal(t, 1000.0, valueAt(t, total, map[string]string{"event": "instructions", "cpu": "0"}))
	assert.Equal(t, 3000.0, valueAt(t, total, map[string]string{"event": "instructions", "cpu": "1"}))
	assert.Equal(t, 16000.0, valueAt(t, total, map[string]string{"event": "RAPL:PKG_ENERGY", "cpu": "0"}))
	assert.Len(t, total.GetMetric(), 3, "disabled events have no values")

	enabled := families["perfevent_counter_enabled_seconds_total"]
	assert.Equal(t, 2.0, valueAt(t, enabled, map[string]string{"event": "instructions", "cpu": "0"}))
	assert.Len(t, enabled.GetMetric(), 2, "energy events carry no times")
	running := families["perfevent_counter_running_seconds_total"]
	assert.Equal(t, 1.0, valueAt(t, running, map[string]string{"event": "instructions", "cpu": "0"}))

	duty := families["perfevent_counter_duty_cycle_ratio"]
	assert.Equal(t, 0.5, valueAt(t, duty, map[string]string{"event": "instructions", "cpu": "0"}))
	assert.Equal(t, 1.0, valueAt(t, duty, map[string]string{"event": "instructions", "cpu": "1"}))
	assert.Len(t, duty.GetMetric(), 2)

	active := families["perfevent_counter_active"]
	assert.Equal(t, 1.0, valueAt(t, active, map[string]string{"event": "instructions"}))
	assert.Equal(t, 0.0, valueAt(t, active, map[string]string{"event": "branch-misses"}))

	assert.Equal(t, 2.0, valueAt(t, families["perfevent_active"], nil))

	derived := families["perfevent_derived_cache_hits"]
	assert.Equal(t, 700.0, valueAt(t, derived, map[string]string{"instance": "0"}))
	assert.Equal(t, 900.0, valueAt(t, derived, map[string]string{"instance": "1"}))
}

func TestCounterCollectorLevels(t *testing.T) {
	tt := []struct {
		name    string
		level   config.Level
		present []string
		absent  []string
	}{{
		name:    "counters only",
		level:   config.MetricsLevelCounters,
		present: []string{"perfevent_counter_total", "perfevent_counter_active"},
		absent:  []string{"perfevent_counter_duty_cycle_ratio", "perfevent_derived_cache_hits"},
	}, {
		name:    "derived only",
		level:   config.MetricsLevelDerived,
		present: []string{"perfevent_derived_cache_hits"},
		absent:  []string{"perfevent_counter_total", "perfevent_counter_duty_cycle_ratio"},
	}, {
		name:    "duty cycle only",
		level:   config.MetricsLevelDutyCycle,
		present: []string{"perfevent_counter_duty_cycle_ratio"},
		absent:  []string{"perfevent_counter_total", "perfevent_counter_active", "perfevent_derived_cache_hits"},
	}, {
		name:    "none",
		level:   0,
		present: []string{"perfevent_sample_valid"},
		absent:  []string{"perfevent_counter_total", "perfevent_counter_duty_cycle_ratio", "perfevent_derived_cache_hits"},
	}}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			c := NewCounterCollector(&fakeSnapshots{snapshot: testSnapshot(true)}, []string{"cache-hits"}, nil, tc.level)
			families := gather(t, c)
			assert.Contains(t, families, "perfevent_sample_valid")
			for _, name := range tc.present {
				assert.Contains(t, families, name)
			}
			for _, name := range tc.absent {
				assert.NotContains(t, families, name)
			}
		})
	}
}

func TestCounterCollectorInvalidSample(t *testing.T) {
	c := NewCounterCollector(&fakeSnapshots{snapshot: testSnapshot(false)}, nil, nil, config.MetricsLevelAll)
	families := gather(t, c)
	assert.Equal(t, 0.0, valueAt(t, families["perfevent_sample_valid"], nil))
	assert.Len(t, families, 1, "a discarded cycle exports no counter rows")
	assert.NotContains(t, families, "perfevent_counter_total")
	assert.NotContains(t, families, "perfevent_active")
}

func TestCounterCollectorUnknownDerived(t *testing.T) {
	c := NewCounterCollector(&fakeSnapshots{snapshot: testSnapshot(true)}, nil, nil, config.MetricsLevelDerived)
	families := gather(t, c)
	assert.NotContains(t, families, "perfevent_derived_cache_hits")
}

func TestCounterCollectorSnapshotError(t *testing.T) {
	c := NewCounterCollector(&fakeSnapshots{err: manager.ErrNilHandle}, []string{"cache-hits"}, nil, config.MetricsLevelAll)

	ch := make(chan prom.Metric, 10)
	c.Collect(ch)
	close(ch)
	assert.Empty(t, ch)
}

func TestCounterCollectorDescribe(t *testing.T) {
	c := NewCounterCollector(&fakeSnapshots{}, []string{"cache-hits", "ipc"}, nil, config.MetricsLevelAll)

	ch := make(chan *prom.Desc, 20)
	c.Describe(ch)
	close(ch)

	var descs []string
	for d := range ch {
		descs = append(descs, d.String())
	}
	require.Len(t, descs, 9)
}

func TestSanitizeMetricName(t *testing.T) {
	tt := []struct {
		in, want string
	}{
		{"cache_hits", "cache_hits"},
		{"cache-hits", "cache_hits"},
		{"RAPL:PKG_ENERGY", "RAPL_PKG_ENERGY"},
		{"ipc..per  cycle", "ipc_per_cycle"},
		{"2nd-level", "_2nd_level"},
		{"", "_"},
	}
	for _, tc := range tt {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeMetricName(tc.in))
		})
	}
}
