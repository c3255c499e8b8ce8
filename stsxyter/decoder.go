// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stsxyter

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// Hit is a calibrated, absolutely-timed, single-channel hit.
type Hit struct {
	Address uint32  // hardware address of the channel
	Charge  float64 // uncalibrated charge (ADC value)
	Time    uint64  // time, in ns, relative to the timeslice start
}

// ElinkCalib holds the calibration of a read-out elink.
type ElinkCalib struct {
	Addresses  []uint32 // hardware address, indexed by channel
	Masked     []bool   // masked channels, indexed by channel. empty means no masking.
	TimeOffset int64    // time offset, in ns, subtracted from hit times
}

// IsMasked reports whether the given channel is masked.
func (e *ElinkCalib) IsMasked(ch uint32) bool {
	return int(ch) < len(e.Masked) && e.Masked[ch]
}

// Report is the result of decoding a microslice.
type Report struct {
	Hits    []Hit
	Errors  ErrorCounters
	Monitor Monitor
}

// Decoder decodes microslices with a fixed set of hardware constants and
// elink calibrations.
//
// A Decoder holds no mutable state and can be used concurrently.
// The calibration tables must not be modified while decoding.
type Decoder struct {
	params Params
	calib  []ElinkCalib
}

// NewDecoder creates a new microslice decoder.
// The calibration is indexed by elink.
func NewDecoder(p Params, calib []ElinkCalib) (*Decoder, error) {
	err := p.Validate()
	if err != nil {
		return nil, fmt.Errorf("stsxyter: invalid decoder parameters: %w", err)
	}
	return &Decoder{params: p, calib: calib}, nil
}

// Params returns the hardware constants of the decoder.
func (dec *Decoder) Params() Params { return dec.params }

// Decode decodes the microslice buf with hardware constants p and elink
// calibrations calib.
// Invalid hardware constants (see Params.Validate) yield an empty report.
func Decode(p Params, buf []byte, msTime, tsStart uint64, calib []ElinkCalib) Report {
	dec, err := NewDecoder(p, calib)
	if err != nil {
		return Report{}
	}
	return dec.Decode(buf, msTime, tsStart)
}

// Decode decodes the microslice buf, starting at msTime, and belonging
// to a timeslice starting at tsStart. Times are in ns.
//
// Malformed microslices (invalid size, invalid Epoch/TsMsb header) yield
// no hits at all.
func (dec *Decoder) Decode(buf []byte, msTime, tsStart uint64) Report {
	var (
		rep    Report
		binned = dec.params.Binned
		n      = len(buf) / MessageSize
	)

	if len(buf)%MessageSize != 0 || n < 2 {
		rep.Errors.InvalidSize++
		return rep
	}

	msg := func(i int) Message {
		return Message(binary.LittleEndian.Uint32(buf[i*MessageSize:]))
	}

	m := msg(0)
	rep.Monitor.count(m)
	if m.Kind() != KindEpoch {
		rep.Errors.InvalidFirstMessage++
		return rep
	}

	m = msg(1)
	rep.Monitor.count(m)
	if m.Kind() != KindTsMsb {
		rep.Errors.InvalidFirstMessage++
		return rep
	}

	ts := NewTimeState(dec.params, tsStart, msTime)
	ts.OnTsMsb(uint64(m.TsMsb(binned)))

	rep.Hits = make([]Hit, 0, n-2)
	for i := 2; i < n; i++ {
		m := msg(i)
		rep.Monitor.count(m)
		switch m.Kind() {
		case KindHit:
			dec.decodeHit(&rep, &ts, m)
		case KindTsMsb:
			ts.OnTsMsb(uint64(m.TsMsb(binned)))
		case KindEpoch, KindStatus, KindEmpty, KindEndOfMs, KindDummy:
			rep.Errors.UnexpectedMessage++
		}
	}

	return rep
}

func (dec *Decoder) decodeHit(rep *Report, ts *TimeState, m Message) {
	binned := dec.params.Binned

	link := m.HitLink(binned)
	if int(link) >= len(dec.calib) {
		rep.Errors.ElinkOutOfRange++
		return
	}
	elink := &dec.calib[link]

	ch := m.Channel()
	if elink.IsMasked(ch) {
		rep.Monitor.Masked++
		return
	}
	if int(ch) >= len(elink.Addresses) {
		rep.Errors.ChannelOutOfRange++
		return
	}

	if ts.Overflow() {
		rep.Errors.TimestampOverflow++
		return
	}

	ticks, carry := bits.Add64(uint64(m.HitTime(binned)), ts.EpochTime(), 0)
	if carry != 0 {
		rep.Errors.TimestampOverflow++
		return
	}

	ns, ok := dec.params.TicksToNs(ticks)
	if !ok {
		rep.Errors.TimestampOverflow++
		return
	}

	ns, ok = subOffset(ns, elink.TimeOffset)
	if !ok {
		rep.Errors.TimestampOverflow++
		return
	}

	rep.Hits = append(rep.Hits, Hit{
		Address: elink.Addresses[ch],
		Charge:  float64(m.ADC()),
		Time:    ns,
	})
}

// subOffset returns t-off, reporting false if the result does not fit
// into an uint64.
func subOffset(t uint64, off int64) (uint64, bool) {
	if off >= 0 {
		v, borrow := bits.Sub64(t, uint64(off), 0)
		return v, borrow == 0
	}
	v, carry := bits.Add64(t, uint64(-(off+1))+1, 0)
	return v, carry == 0
}
