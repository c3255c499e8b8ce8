// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stsxyter decodes raw microslices of STS-XYTER read-out ASIC
// messages into calibrated, absolutely-timed hits.
//
// A microslice is a contiguous buffer of 32-bit little-endian messages.
// It must start with an Epoch message followed by a TsMsb message.
// Hit messages carry a truncated, in-epoch, clock-tick timestamp that is
// expanded using the most recent TsMsb message (see TimeState).
//
// Decoding never fails: every anomaly is either silently dropped (masked
// channels) or counted in the ErrorCounters of the returned Report.
package stsxyter // import "github.com/go-lpc/sts/stsxyter"

import (
	"fmt"
	"math/bits"
)

const (
	MessageSize = 4   // size in bytes of a STS-XYTER message
	NumChannels = 128 // number of channels of a STS-XYTER ASIC
)

// Params holds the run-wide hardware constants needed to reconstruct
// hit times.
type Params struct {
	Binned         bool   // binned-firmware message encoding
	EpochLength    uint64 // epoch length, in clock ticks
	EpochsPerCycle uint64 // number of epochs in an epoch cycle

	// ClockNom/ClockDen is the nominal clock period, in ns.
	ClockNom uint64
	ClockDen uint64
}

// DefaultParams returns the hardware constants of the binned firmware.
func DefaultParams() Params {
	return Params{
		Binned:         true,
		EpochLength:    1 << 10,
		EpochsPerCycle: 1 << 29,
		ClockNom:       25,
		ClockDen:       8,
	}
}

// LegacyParams returns the hardware constants of the legacy (non-binned)
// firmware, where hit times are 9 bits wide and TsMsb values 22 bits wide.
func LegacyParams() Params {
	return Params{
		Binned:         false,
		EpochLength:    1 << 9,
		EpochsPerCycle: 1 << 22,
		ClockNom:       25,
		ClockDen:       8,
	}
}

// Validate checks the hardware constants are usable.
func (p Params) Validate() error {
	switch {
	case p.ClockDen == 0:
		return fmt.Errorf("stsxyter: invalid clock denominator (0)")
	case p.ClockNom == 0:
		return fmt.Errorf("stsxyter: invalid clock nominator (0)")
	case p.EpochLength == 0:
		return fmt.Errorf("stsxyter: invalid epoch length (0)")
	case p.EpochsPerCycle == 0:
		return fmt.Errorf("stsxyter: invalid number of epochs per cycle (0)")
	}

	hi, lo := bits.Mul64(p.EpochLength, p.ClockNom)
	if hi != 0 {
		return fmt.Errorf("stsxyter: epoch length overflows (len=%d, clock=%d/%d)",
			p.EpochLength, p.ClockNom, p.ClockDen,
		)
	}
	if lo/p.ClockDen == 0 {
		return fmt.Errorf("stsxyter: epoch shorter than 1ns (len=%d, clock=%d/%d)",
			p.EpochLength, p.ClockNom, p.ClockDen,
		)
	}
	if hi, _ := bits.Mul64(p.EpochsPerCycle, p.EpochLengthNs()); hi != 0 {
		return fmt.Errorf("stsxyter: cycle length overflows (epochs=%d, epoch=%dns)",
			p.EpochsPerCycle, p.EpochLengthNs(),
		)
	}
	return nil
}

// EpochLengthNs returns the duration of an epoch, in ns.
func (p Params) EpochLengthNs() uint64 {
	return p.EpochLength * p.ClockNom / p.ClockDen
}

// CycleLengthNs returns the duration of an epoch cycle, in ns.
func (p Params) CycleLengthNs() uint64 {
	return p.EpochsPerCycle * p.EpochLengthNs()
}

// TicksToNs converts clock ticks into ns, rounding to the nearest integer.
// TicksToNs reports false if the result does not fit into 64 bits.
func (p Params) TicksToNs(ticks uint64) (uint64, bool) {
	hi, lo := bits.Mul64(ticks, p.ClockNom)
	lo, carry := bits.Add64(lo, p.ClockDen/2, 0)
	hi += carry
	if hi >= p.ClockDen {
		return 0, false
	}
	ns, _ := bits.Div64(hi, lo, p.ClockDen)
	return ns, true
}
