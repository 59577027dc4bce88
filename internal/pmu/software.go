// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package pmu

import "golang.org/x/sys/unix"

// SoftwarePMU is the name of the static unit holding kernel software events,
// which sysfs does not describe
const SoftwarePMU = "software"

func softwarePMU() PMU {
	ev := func(name string, config uint64) Event {
		return Event{Name: name, Config: [3]uint64{config}}
	}

	return PMU{
		Name: SoftwarePMU,
		Type: unix.PERF_TYPE_SOFTWARE,
		Events: []Event{
			ev("cpu-clock", unix.PERF_COUNT_SW_CPU_CLOCK),
			ev("task-clock", unix.PERF_COUNT_SW_TASK_CLOCK),
			ev("page-faults", unix.PERF_COUNT_SW_PAGE_FAULTS),
			ev("context-switches", unix.PERF_COUNT_SW_CONTEXT_SWITCHES),
			ev("cpu-migrations", unix.PERF_COUNT_SW_CPU_MIGRATIONS),
			ev("minor-faults", unix.PERF_COUNT_SW_PAGE_FAULTS_MIN),
			ev("major-faults", unix.PERF_COUNT_SW_PAGE_FAULTS_MAJ),
			ev("alignment-faults", unix.PERF_COUNT_SW_ALIGNMENT_FAULTS),
			ev("emulation-faults", unix.PERF_COUNT_SW_EMULATION_FAULTS),
		},
	}
}
