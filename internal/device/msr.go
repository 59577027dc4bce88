// SPDX-FileCopyrightText: 2025 The Kepler Authors
// SPDX-License-Identifier: Apache-2.0

package device

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MSR register offsets
const (
	// Intel IA32_RAPL_POWER_UNIT: power units in bits 3:0, energy units in 12:8
	MSRPowerUnit = 0x606

	// Intel energy status counters (32-bit, wraparound at ~4 billion)
	MSRPkgEnergyStatus  = 0x611
	MSRPP0EnergyStatus  = 0x639
	MSRPP1EnergyStatus  = 0x641
	MSRDRAMEnergyStatus = 0x619

	// Intel MSR_PKG_POWER_INFO: thermal spec 14:0, minimum 30:16, maximum 46:32
	MSRPkgPowerInfo = 0x614

	// AMD family 17h/19h equivalents
	MSRAMDPowerUnit        = 0xC0010299
	MSRAMDCoreEnergyStatus = 0xC001029A
	MSRAMDPkgEnergyStatus  = 0xC001029B
)

// readMSR reads the 64-bit register at offset from an msr device file
func readMSR(r io.ReaderAt, offset uint32) (uint64, error) {
	var buf [8]byte
	if _, err := r.ReadAt(buf[:], int64(offset)); err != nil {
		return 0, fmt.Errorf("failed to read MSR 0x%x: %w", offset, err)
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// bits extracts the inclusive bit-field hi:lo
func bits(v uint64, hi, lo uint) uint64 {
	return (v >> lo) & (uint64(1)<<(hi-lo+1) - 1)
}
