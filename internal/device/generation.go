// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"strconv"
	"strings"

	"github.com/prometheus/procfs"
)

// Domain is one of the RAPL counters an event can name
type Domain int

const (
	PkgEnergy Domain = iota
	PP0Energy
	PP1Energy
	DRAMEnergy
	ThermalSpec
	MinimumPower
	MaximumPower
	numDomains
)

var domainNames = [numDomains]string{
	PkgEnergy:    "PKG_ENERGY",
	PP0Energy:    "PP0_ENERGY",
	PP1Energy:    "PP1_ENERGY",
	DRAMEnergy:   "DRAM_ENERGY",
	ThermalSpec:  "THERMAL_SPEC",
	MinimumPower: "MINIMUM_POWER",
	MaximumPower: "MAXIMUM_POWER",
}

func (d Domain) String() string {
	if d < 0 || d >= numDomains {
		return "UNKNOWN"
	}
	return domainNames[d]
}

func (d Domain) isPower() bool {
	return d == ThermalSpec || d == MinimumPower || d == MaximumPower
}

// ParseDomain maps a domain name to its Domain
func ParseDomain(name string) (Domain, bool) {
	for d, n := range domainNames {
		if n == name {
			return Domain(d), true
		}
	}
	return 0, false
}

// generation describes the RAPL registers of one microarchitecture
type generation struct {
	name    string
	domains []Domain

	unitMSR   uint32
	energyMSR map[Domain]uint32

	// server parts count DRAM energy in fixed 15.3uJ units
	dramUnitFixed bool
	hasPowerInfo  bool
}

func (g *generation) supports(d Domain) bool {
	for _, s := range g.domains {
		if s == d {
			return true
		}
	}
	return false
}

var intelEnergyMSR = map[Domain]uint32{
	PkgEnergy:  MSRPkgEnergyStatus,
	PP0Energy:  MSRPP0EnergyStatus,
	PP1Energy:  MSRPP1EnergyStatus,
	DRAMEnergy: MSRDRAMEnergyStatus,
}

var powerInfo = []Domain{ThermalSpec, MinimumPower, MaximumPower}

func intel(name string, dramUnitFixed bool, energy ...Domain) *generation {
	return &generation{
		name:          name,
		domains:       append(energy, powerInfo...),
		unitMSR:       MSRPowerUnit,
		energyMSR:     intelEnergyMSR,
		dramUnitFixed: dramUnitFixed,
		hasPowerInfo:  true,
	}
}

var (
	sandyBridge   = intel("sandybridge", false, PkgEnergy, PP0Energy, PP1Energy)
	sandyBridgeEP = intel("sandybridge-ep", false, PkgEnergy, PP0Energy, DRAMEnergy)
	ivyBridge     = intel("ivybridge", false, PkgEnergy, PP0Energy, PP1Energy)
	ivyBridgeEP   = intel("ivybridge-ep", false, PkgEnergy, PP0Energy, DRAMEnergy)
	haswell       = intel("haswell", false, PkgEnergy, PP0Energy, PP1Energy, DRAMEnergy)
	haswellEP     = intel("haswell-ep", true, PkgEnergy, PP0Energy, DRAMEnergy)
	broadwell     = intel("broadwell", false, PkgEnergy, PP0Energy, PP1Energy, DRAMEnergy)
	broadwellEP   = intel("broadwell-ep", true, PkgEnergy, DRAMEnergy)
	skylake       = intel("skylake", false, PkgEnergy, PP0Energy, PP1Energy, DRAMEnergy)
	skylakeX      = intel("skylake-x", true, PkgEnergy, DRAMEnergy)

	amdZen = &generation{
		name:    "amd-zen",
		domains: []Domain{PkgEnergy, PP0Energy},
		unitMSR: MSRAMDPowerUnit,
		energyMSR: map[Domain]uint32{
			PkgEnergy: MSRAMDPkgEnergyStatus,
			PP0Energy: MSRAMDCoreEnergyStatus,
		},
	}
)

// intelFamily6 maps family 6 model numbers to their generation
var intelFamily6 = map[int]*generation{
	42:  sandyBridge,
	45:  sandyBridgeEP,
	58:  ivyBridge,
	62:  ivyBridgeEP,
	60:  haswell,
	69:  haswell,
	70:  haswell,
	63:  haswellEP,
	61:  broadwell,
	71:  broadwell,
	79:  broadwellEP,
	86:  broadwellEP,
	78:  skylake,
	94:  skylake,
	142: skylake,
	158: skylake,
	85:  skylakeX,
}

// detectGeneration picks the generation from the first processor entry
func detectGeneration(cpus []procfs.CPUInfo) *generation {
	if len(cpus) == 0 {
		return nil
	}
	info := cpus[0]

	family, err := parseCPUNumber(info.CPUFamily)
	if err != nil {
		return nil
	}
	model, err := parseCPUNumber(info.Model)
	if err != nil {
		return nil
	}

	switch info.VendorID {
	case "GenuineIntel":
		if family != 6 {
			return nil
		}
		return intelFamily6[model]
	case "AuthenticAMD", "HygonGenuine":
		if family == 0x17 || family == 0x19 {
			return amdZen
		}
	}
	return nil
}

func parseCPUNumber(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
