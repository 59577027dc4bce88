// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"fmt"
)

// Energy is an energy reading in microjoules
type Energy uint64

const (
	MicroJoule Energy = 1
	MilliJoule        = 1000 * MicroJoule
	Joule             = 1000 * MilliJoule
)

func (e Energy) MilliJoules() uint64 {
	return uint64(e / MilliJoule)
}

func (e Energy) Joules() float64 {
	return float64(e) / float64(Joule)
}

func (e Energy) String() string {
	return fmt.Sprintf("%.2fJ", e.Joules())
}

// Power is a power reading in microwatts
type Power float64

const (
	MicroWatt Power = 1.0
	MilliWatt       = 1000 * MicroWatt
	Watt            = 1000 * MilliWatt
)

func (p Power) MilliWatts() uint64 {
	return uint64(p / MilliWatt)
}

func (p Power) Watts() float64 {
	return float64(p / Watt)
}

func (p Power) String() string {
	return fmt.Sprintf("%.2fW", p.Watts())
}

// dramFixedUnitBits is the DRAM energy unit of server parts, 1/2^16 J
const dramFixedUnitBits = 16

// energyValue converts the 32-bit energy status counter using the energy unit
// from bits 12:8 of the unit register
func energyValue(g *generation, d Domain, units, raw uint64) Energy {
	unitBits := bits(units, 12, 8)
	if d == DRAMEnergy && g.dramUnitFixed {
		unitBits = dramFixedUnitBits
	}
	counter := bits(raw, 31, 0)
	return Energy(float64(counter) * float64(Joule) / float64(uint64(1)<<unitBits))
}

// powerInfoValue extracts a field of MSR_PKG_POWER_INFO scaled by the power
// unit from bits 3:0 of the unit register
func powerInfoValue(d Domain, units, info uint64) Power {
	var field uint64
	switch d {
	case ThermalSpec:
		field = bits(info, 14, 0)
	case MinimumPower:
		field = bits(info, 30, 16)
	case MaximumPower:
		field = bits(info, 46, 32)
	}
	unitBits := bits(units, 3, 0)
	return Power(float64(field) * float64(Watt) / float64(uint64(1)<<unitBits))
}
