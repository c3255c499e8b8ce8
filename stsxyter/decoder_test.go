// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stsxyter

import (
	"encoding/binary"
	"math/rand"
	"reflect"
	"testing"
)

func newCalib(nlinks int, base uint32) []ElinkCalib {
	calib := make([]ElinkCalib, nlinks)
	for i := range calib {
		calib[i].Addresses = make([]uint32, NumChannels)
		for ch := range calib[i].Addresses {
			calib[i].Addresses[ch] = base + uint32(i)<<8 + uint32(ch)
		}
	}
	return calib
}

func msBuffer(msgs ...Message) []byte {
	return AppendMessages(nil, msgs...)
}

func TestDecode(t *testing.T) {
	calib := newCalib(2, 0)
	calib[0].Addresses[5] = 0xa1

	masked := newCalib(1, 0)
	masked[0].Masked = make([]bool, NumChannels)
	masked[0].Masked[5] = true

	short := newCalib(1, 0)
	short[0].Addresses = short[0].Addresses[:4]

	offsets := newCalib(3, 0)
	offsets[0].TimeOffset = +13
	offsets[1].TimeOffset = -7
	offsets[2].TimeOffset = +400

	const binned = true

	for _, tc := range []struct {
		name  string
		buf   []byte
		calib []ElinkCalib
		hits  []Hit
		errs  ErrorCounters
	}{
		{
			name: "one-hit",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(0, binned),
				NewHit(0, 5, 12, 100, binned),
			),
			calib: calib,
			hits:  []Hit{{Address: 0xa1, Charge: 12, Time: 313}},
		},
		{
			name: "elink-out-of-range",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(0, binned),
				NewHit(7, 5, 12, 100, binned),
			),
			calib: calib,
			errs:  ErrorCounters{ElinkOutOfRange: 1},
		},
		{
			name: "masked-channel",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(0, binned),
				NewHit(0, 5, 12, 100, binned),
				NewHit(0, 6, 13, 101, binned),
			),
			calib: masked,
			hits:  []Hit{{Address: 6, Charge: 13, Time: 316}},
		},
		{
			name: "channel-out-of-range",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(0, binned),
				NewHit(0, 5, 12, 100, binned),
				NewHit(0, 3, 12, 100, binned),
			),
			calib: short,
			hits:  []Hit{{Address: 3, Charge: 12, Time: 313}},
			errs:  ErrorCounters{ChannelOutOfRange: 1},
		},
		{
			name:  "empty-buffer",
			calib: calib,
			errs:  ErrorCounters{InvalidSize: 1},
		},
		{
			name:  "one-message",
			buf:   msBuffer(NewEpoch(0)),
			calib: calib,
			errs:  ErrorCounters{InvalidSize: 1},
		},
		{
			name:  "unaligned-buffer",
			buf:   append(msBuffer(NewEpoch(0), NewTsMsb(0, binned), NewHit(0, 5, 12, 100, binned)), 0xff),
			calib: calib,
			errs:  ErrorCounters{InvalidSize: 1},
		},
		{
			name:  "header-only",
			buf:   msBuffer(NewEpoch(0), NewTsMsb(0, binned)),
			calib: calib,
		},
		{
			name: "invalid-first-message",
			buf: msBuffer(
				NewTsMsb(0, binned), NewTsMsb(0, binned),
				NewHit(0, 5, 12, 100, binned),
			),
			calib: calib,
			errs:  ErrorCounters{InvalidFirstMessage: 1},
		},
		{
			name: "invalid-second-message",
			buf: msBuffer(
				NewEpoch(0), NewEpoch(0),
				NewHit(0, 5, 12, 100, binned),
			),
			calib: calib,
			errs:  ErrorCounters{InvalidFirstMessage: 1},
		},
		{
			name: "hit-as-first-message",
			buf: msBuffer(
				NewHit(0, 5, 12, 100, binned), NewTsMsb(0, binned),
			),
			calib: calib,
			errs:  ErrorCounters{InvalidFirstMessage: 1},
		},
		{
			name: "unexpected-messages",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(0, binned),
				NewStatus(0, 1, 2),
				NewHit(0, 5, 12, 100, binned),
				NewEpoch(3),
				NewHit(0, 5, 0, 100, binned), // dummy
				NewEmpty(),
				NewEndOfMs(0, false),
			),
			calib: calib,
			hits:  []Hit{{Address: 0xa1, Charge: 12, Time: 313}},
			errs:  ErrorCounters{UnexpectedMessage: 5},
		},
		{
			name: "ts-msb-updates",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(0, binned),
				NewHit(1, 1, 1, 1, binned),
				NewTsMsb(2, binned),
				NewHit(1, 2, 2, 1, binned),
			),
			calib: calib,
			hits: []Hit{
				{Address: 0x101, Charge: 1, Time: 3},
				{Address: 0x102, Charge: 2, Time: 6403}, // (2*1024+1)*25/8
			},
		},
		{
			name: "wraparound",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(1<<29-1, binned),
				NewHit(1, 1, 1, 0, binned),
				NewTsMsb(2, binned),
				NewHit(1, 2, 2, 0, binned),
			),
			calib: calib,
			hits: []Hit{
				{Address: 0x101, Charge: 1, Time: 1717986915200},
				{Address: 0x102, Charge: 2, Time: 1717986924800},
			},
		},
		{
			name: "time-offsets",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(0, binned),
				NewHit(0, 1, 1, 100, binned),
				NewHit(1, 2, 2, 100, binned),
				NewHit(2, 3, 3, 100, binned),
			),
			calib: offsets,
			hits: []Hit{
				{Address: 0x001, Charge: 1, Time: 300},
				{Address: 0x102, Charge: 2, Time: 320},
			},
			errs: ErrorCounters{TimestampOverflow: 1},
		},
		{
			name: "binned-time-bit",
			buf: msBuffer(
				NewEpoch(0), NewTsMsb(0, binned),
				NewHit(0, 1, 1, 1023, binned),
			),
			calib: calib,
			hits:  []Hit{{Address: 0x001, Charge: 1, Time: 3197}}, // 1023*25/8=3196.875
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rep := Decode(DefaultParams(), tc.buf, 0, 0, tc.calib)
			if got, want := rep.Errors, tc.errs; got != want {
				t.Fatalf("invalid error counters:\ngot= %v\nwant=%v", got, want)
			}
			if got, want := len(rep.Hits), len(tc.hits); got != want {
				t.Fatalf("invalid number of hits: got=%d, want=%d (%v)", got, want, rep.Hits)
			}
			for i := range rep.Hits {
				if got, want := rep.Hits[i], tc.hits[i]; got != want {
					t.Fatalf("invalid hit[%d]:\ngot= %#v\nwant=%#v", i, got, want)
				}
			}
		})
	}
}

func TestDecodeMaskedIsNotAnError(t *testing.T) {
	calib := newCalib(1, 0)
	calib[0].Masked = []bool{5: true}

	rep := Decode(DefaultParams(), msBuffer(
		NewEpoch(0), NewTsMsb(0, true),
		NewHit(0, 5, 12, 100, true),
		NewHit(0, 64, 12, 100, true), // beyond the mask table: not masked
	), 0, 0, calib)

	if got, want := len(rep.Hits), 1; got != want {
		t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
	}
	if got, want := rep.Hits[0].Address, uint32(64); got != want {
		t.Fatalf("invalid hit address: got=0x%x, want=0x%x", got, want)
	}
	if got := rep.Errors.Total(); got != 0 {
		t.Fatalf("masked channel counted as error: %v", rep.Errors)
	}
	if got, want := rep.Monitor.Masked, uint64(1); got != want {
		t.Fatalf("invalid masked counter: got=%d, want=%d", got, want)
	}
}

func TestDecodeTimesliceOffset(t *testing.T) {
	var (
		p       = DefaultParams()
		tsStart = 10*p.EpochLengthNs() + 5
		msTime  = p.CycleLengthNs() + 42
	)

	rep := Decode(p, msBuffer(
		NewEpoch(0), NewTsMsb(3, true),
		NewHit(0, 1, 1, 17, true),
	), msTime, tsStart, newCalib(1, 0))

	if got, want := len(rep.Hits), 1; got != want {
		t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
	}
	// ((1<<29 + 3 - 10)*1024 + 17) * 25/8
	if got, want := rep.Hits[0].Time, uint64(1717986896053); got != want {
		t.Fatalf("invalid hit time: got=%d, want=%d", got, want)
	}
}

func TestDecodeOverflow(t *testing.T) {
	p := DefaultParams()

	// timeslice starts after the microslice epochs.
	rep := Decode(p, msBuffer(
		NewEpoch(0), NewTsMsb(3, true),
		NewHit(0, 1, 1, 17, true),
		NewTsMsb(20, true),
		NewHit(0, 1, 1, 17, true),
	), 0, 10*p.EpochLengthNs(), newCalib(1, 0))

	if got, want := rep.Errors, (ErrorCounters{TimestampOverflow: 1}); got != want {
		t.Fatalf("invalid error counters:\ngot= %v\nwant=%v", got, want)
	}
	if got, want := len(rep.Hits), 1; got != want {
		t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
	}
	// (10*1024+17)*25/8
	if got, want := rep.Hits[0].Time, uint64(32053); got != want {
		t.Fatalf("invalid hit time: got=%d, want=%d", got, want)
	}
}

func TestDecodeLegacy(t *testing.T) {
	p := LegacyParams()
	calib := newCalib(301, 0)

	rep := Decode(p, msBuffer(
		NewEpoch(0), NewTsMsb(3, false),
		NewHit(300, 7, 9, 100, false),
	), 0, 0, calib)

	if got := rep.Errors.Total(); got != 0 {
		t.Fatalf("unexpected errors: %v", rep.Errors)
	}
	want := []Hit{{Address: 300<<8 + 7, Charge: 9, Time: 5113}} // (3*512+100)*25/8
	if !reflect.DeepEqual(rep.Hits, want) {
		t.Fatalf("invalid hits:\ngot= %#v\nwant=%#v", rep.Hits, want)
	}
}

func TestDecodeMonitor(t *testing.T) {
	rep := Decode(DefaultParams(), msBuffer(
		NewEpoch(0), NewTsMsb(0, true),
		NewHit(0, 1, 1, 1, true).WithMissedEvent(),
		NewHit(0, 2, 1, 1, true),
		NewHit(0, 2, 0, 1, true),
		NewTsMsb(1, true),
		NewStatus(0, 0, 0),
		NewEmpty(),
		NewEndOfMs(1, true),
		NewEndOfMs(0, false),
	), 0, 0, newCalib(1, 0))

	want := Monitor{
		Messages: [NumKinds]uint64{
			KindHit:     2,
			KindTsMsb:   2,
			KindEpoch:   1,
			KindStatus:  1,
			KindEmpty:   1,
			KindEndOfMs: 2,
			KindDummy:   1,
		},
		MissedEvents:  1,
		EndOfMsErrors: 1,
	}
	if got := rep.Monitor; got != want {
		t.Fatalf("invalid monitor:\ngot= %#v\nwant=%#v", got, want)
	}
	if got, want := rep.Monitor.NumMessages(), uint64(10); got != want {
		t.Fatalf("invalid number of messages: got=%d, want=%d", got, want)
	}
}

func TestDecodeDeterminism(t *testing.T) {
	var (
		p     = DefaultParams()
		calib = newCalib(4, 0x1000)
		rnd   = rand.New(rand.NewSource(1234))
	)

	msA := randomMicroslice(rnd, 512)
	msB := randomMicroslice(rnd, 512)

	repB := Decode(p, msB, 0, 0, calib)
	if !reflect.DeepEqual(Decode(p, msB, 0, 0, calib), repB) {
		t.Fatalf("decoding is not deterministic")
	}

	_ = Decode(p, msA, 0, 0, calib)
	if !reflect.DeepEqual(Decode(p, msB, 0, 0, calib), repB) {
		t.Fatalf("decoding of microslice B depends on microslice A")
	}
}

func TestDecodeHitBound(t *testing.T) {
	var (
		p     = DefaultParams()
		calib = newCalib(64, 0)
		rnd   = rand.New(rand.NewSource(42))
	)

	for i := 0; i < 100; i++ {
		n := 2 + rnd.Intn(256)
		buf := randomMicroslice(rnd, n)
		if i%2 == 0 {
			// fully random buffer, most likely with an invalid header.
			rnd.Read(buf)
		}
		rep := Decode(p, buf, rnd.Uint64(), rnd.Uint64(), calib)
		if got, max := len(rep.Hits), n-2; got > max {
			t.Fatalf("too many hits: got=%d, max=%d", got, max)
		}
		if rep.Errors.InvalidSize != 0 {
			t.Fatalf("unexpected invalid-size error (n=%d)", n)
		}
	}
}

// randomMicroslice returns a valid microslice header followed by n-2
// random messages.
func randomMicroslice(rnd *rand.Rand, n int) []byte {
	buf := make([]byte, n*MessageSize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(NewEpoch(0)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(NewTsMsb(rnd.Uint32(), true)))
	for i := 2; i < n; i++ {
		binary.LittleEndian.PutUint32(buf[i*MessageSize:], rnd.Uint32())
	}
	return buf
}

func TestNewDecoder(t *testing.T) {
	_, err := NewDecoder(Params{}, nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "stsxyter: invalid decoder parameters: stsxyter: invalid clock denominator (0)"; got != want {
		t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
	}

	dec, err := NewDecoder(DefaultParams(), newCalib(1, 0))
	if err != nil {
		t.Fatalf("could not create decoder: %+v", err)
	}
	if got, want := dec.Params(), DefaultParams(); got != want {
		t.Fatalf("invalid params: got=%#v, want=%#v", got, want)
	}

	rep := dec.Decode(msBuffer(NewEpoch(0), NewTsMsb(0, true), NewHit(0, 1, 1, 1, true)), 0, 0)
	if got, want := len(rep.Hits), 1; got != want {
		t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
	}
}

func TestDecodeInvalidParams(t *testing.T) {
	buf := msBuffer(NewEpoch(0), NewTsMsb(0, true), NewHit(0, 1, 1, 1, true))
	for _, tc := range []struct {
		name string
		p    Params
	}{
		{name: "zero", p: Params{}},
		{name: "no-epoch-len", p: Params{EpochsPerCycle: 1, ClockNom: 1, ClockDen: 1}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rep := Decode(tc.p, buf, 3200, 3200, newCalib(1, 0))
			if !reflect.DeepEqual(rep, Report{}) {
				t.Fatalf("invalid report: got=%#v, want an empty report", rep)
			}
		})
	}
}
