// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// gather registers c on a pedantic registry, which also verifies that every
// collected metric was described, and returns the families by name
func gather(t *testing.T, c prom.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prom.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))

	families, err := reg.Gather()
	require.NoError(t, err)

	ret := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		ret[f.GetName()] = f
	}
	return ret
}

func labels(m *dto.Metric) map[string]string {
	ret := map[string]string{}
	for _, l := range m.GetLabel() {
		ret[l.GetName()] = l.GetValue()
	}
	return ret
}

// valueAt returns the value of the series of family f whose labels match
func valueAt(t *testing.T, f *dto.MetricFamily, want map[string]string) float64 {
	t.Helper()
	require.NotNil(t, f)
	for _, m := range f.GetMetric() {
		if !matches(labels(m), want) {
			continue
		}
		switch f.GetType() {
		case dto.MetricType_COUNTER:
			return m.GetCounter().GetValue()
		default:
			return m.GetGauge().GetValue()
		}
	}
	require.FailNow(t, "series not found", "%s %v", f.GetName(), want)
	return 0
}

func matches(got, want map[string]string) bool {
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}
