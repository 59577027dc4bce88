// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseCPUPolicy(t *testing.T) {
	tt := []struct {
		input string
		want  CPUPolicy
		err   bool
	}{
		{input: "each-cpu", want: EachCPU},
		{input: "Each-NUMA-Node", want: EachNUMANode},
		{input: "round-robin-cpu", want: RoundRobinCPU},
		{input: " round-robin-numa-node ", want: RoundRobinNUMANode},
		{input: "0", want: OnCPU(0)},
		{input: "17", want: OnCPU(17)},
		{input: "-1", err: true},
		{input: "every-cpu", err: true},
		{input: "", err: true},
	}

	for _, tc := range tt {
		t.Run(tc.input, func(t *testing.T) {
			got, err := ParseCPUPolicy(tc.input)
			if tc.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCPUPolicy_YAMLRoundTrip(t *testing.T) {
	for _, p := range []CPUPolicy{EachCPU, EachNUMANode, RoundRobinCPU, RoundRobinNUMANode, OnCPU(0), OnCPU(3)} {
		data, err := yaml.Marshal(p)
		require.NoError(t, err)

		var got CPUPolicy
		require.NoError(t, yaml.Unmarshal(data, &got))
		assert.Equal(t, p, got)
	}
}

func TestSetting_Defaults(t *testing.T) {
	var s Setting
	require.NoError(t, yaml.Unmarshal([]byte("name: instructions"), &s))
	assert.Equal(t, EachCPU, s.CPU)
	assert.Equal(t, 1.0, s.Scale)
	assert.False(t, s.PerfScale)

	require.NoError(t, yaml.Unmarshal([]byte("{name: cycles, cpu: 2, scale: 0.5}"), &s))
	assert.Equal(t, OnCPU(2), s.CPU)
	assert.True(t, s.CPU.IsExplicit())
	assert.Equal(t, 0.5, s.Scale)
}

func TestCPUPolicy_ZeroValue(t *testing.T) {
	var s Setting
	assert.Equal(t, EachCPU, s.CPU, "a zero Setting counts on every cpu, like one decoded without a cpu key")
	assert.False(t, s.CPU.IsExplicit())
	assert.Equal(t, -1, s.CPU.CPU())

	tt := []struct {
		policy CPUPolicy
		cpu    int
		str    string
	}{
		{OnCPU(0), 0, "0"},
		{OnCPU(5), 5, "5"},
		{OnCPU(-4), 0, "0"},
		{RoundRobinCPU, -1, "round-robin-cpu"},
		{CPUPolicy(-9), -1, "unknown(-9)"},
	}
	for _, tc := range tt {
		t.Run(tc.str, func(t *testing.T) {
			assert.Equal(t, tc.cpu, tc.policy.CPU())
			assert.Equal(t, tc.str, tc.policy.String())
		})
	}
}

func TestDynamic_Lookup(t *testing.T) {
	chip := uint64(3)
	d := &Dynamic{Settings: []DynamicSetting{
		{Name: "nest_mcs01.PM_MCS01_64B_RD_DISP_PORT01", Chip: &chip},
		{Name: "cpu.cache-misses"},
		{Name: "cpu.branch-misses", Denied: true},
	}}

	hint, ok := d.ChipHint("nest_mcs01.PM_MCS01_64B_RD_DISP_PORT01")
	assert.True(t, ok)
	assert.Equal(t, uint64(3), hint)

	_, ok = d.ChipHint("cpu.cache-misses")
	assert.False(t, ok)

	assert.True(t, d.Allowed("cpu.cache-misses"))
	assert.False(t, d.Allowed("cpu.branch-misses"))
	assert.False(t, d.Allowed("cpu.instructions"))

	var nilDynamic *Dynamic
	assert.False(t, nilDynamic.Allowed("cpu.cache-misses"))
	_, ok = nilDynamic.ChipHint("cpu.cache-misses")
	assert.False(t, ok)
}
