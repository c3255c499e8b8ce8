// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stsxyter

import "math/bits"

// TimeState tracks the current epoch of a microslice and converts it into
// a time offset, in clock ticks, relative to the start of the timeslice.
//
// A TimeState must be created afresh for each microslice.
type TimeState struct {
	epochLength    uint64
	epochsPerCycle uint64

	tsEpochIndex uint64 // epoch index of the timeslice start
	cycle        uint64 // current epoch cycle
	epoch        uint64 // current epoch, within the cycle
	epochTime    uint64 // current epoch time, in ticks, relative to the timeslice start
	overflow     bool   // epochTime could not be computed
}

// NewTimeState returns the initial time state of a microslice, given the
// start time of its timeslice and the start time of the microslice, in ns.
func NewTimeState(p Params, tsStart, msTime uint64) TimeState {
	return TimeState{
		epochLength:    p.EpochLength,
		epochsPerCycle: p.EpochsPerCycle,
		tsEpochIndex:   tsStart / p.EpochLengthNs(),
		cycle:          msTime / p.CycleLengthNs(),
	}
}

// OnTsMsb updates the state with the epoch carried by a TsMsb message.
//
// A new epoch smaller than the current one starts a new cycle.
// TsMsb messages are not contiguous in the message stream, so at most one
// cycle wrap can be detected between two consecutive TsMsb messages.
//
// OnTsMsb reports false when the resulting epoch time cannot be represented
// (64-bit overflow, or epoch before the start of the timeslice).
func (ts *TimeState) OnTsMsb(epoch uint64) bool {
	if epoch < ts.epoch {
		ts.cycle++
	}
	ts.epoch = epoch

	hi, idx := bits.Mul64(ts.cycle, ts.epochsPerCycle)
	idx, carry := bits.Add64(idx, epoch, 0)
	if hi != 0 || carry != 0 || idx < ts.tsEpochIndex {
		ts.overflow = true
		ts.epochTime = 0
		return false
	}

	hi, ticks := bits.Mul64(idx-ts.tsEpochIndex, ts.epochLength)
	if hi != 0 {
		ts.overflow = true
		ts.epochTime = 0
		return false
	}

	ts.overflow = false
	ts.epochTime = ticks
	return true
}

// Cycle returns the current epoch cycle.
func (ts *TimeState) Cycle() uint64 { return ts.cycle }

// Epoch returns the current epoch within the current cycle.
func (ts *TimeState) Epoch() uint64 { return ts.epoch }

// EpochIndex returns the absolute index of the current epoch.
func (ts *TimeState) EpochIndex() uint64 {
	return ts.cycle*ts.epochsPerCycle + ts.epoch
}

// TsEpochIndex returns the epoch index of the timeslice start.
func (ts *TimeState) TsEpochIndex() uint64 { return ts.tsEpochIndex }

// EpochTime returns the time of the current epoch, in clock ticks,
// relative to the start of the timeslice.
func (ts *TimeState) EpochTime() uint64 { return ts.epochTime }

// Overflow reports whether the current epoch time could not be computed.
func (ts *TimeState) Overflow() bool { return ts.overflow }
