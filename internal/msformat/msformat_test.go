// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msformat

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"reflect"
	"testing"
)

// golden is a timeslice with one microslice holding an Epoch and a TsMsb.
var golden = []byte{
	tsHeader, Version, 0x00, 0x00, // marker, version, reserved
	0x07, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // index
	0x80, 0x0c, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // start
	0x01, 0x00, 0x00, 0x00, // nms

	msHeader, DescVersion,
	0x03, 0x10, // eq-id
	0x00, 0x00, // flags
	0x10, 0x20, // sys-id, sys-ver
	0x80, 0x0c, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // idx
	0xb5, 0xbb, 0x00, 0x00, // crc
	0x08, 0x00, 0x00, 0x00, // size
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // offset
	0x01, 0x00, 0x00, 0xa0, // epoch
	0x01, 0x00, 0x00, 0x80, // ts-msb

	tsTrailer,
	0xc9, 0xe3, // CRC-16
}

func goldenTS() Timeslice {
	return Timeslice{
		Index: 7,
		Start: 3200,
		Microslices: []Microslice{
			{
				Desc: Descriptor{
					HdrID:  msHeader,
					HdrVer: DescVersion,
					EqID:   0x1003,
					SysID:  SysSTS,
					SysVer: 0x20,
					Idx:    3200,
					CRC:    0xbbb5,
					Size:   8,
				},
				Content: []byte{0x01, 0x00, 0x00, 0xa0, 0x01, 0x00, 0x00, 0x80},
			},
		},
	}
}

func TestEncoder(t *testing.T) {
	ts := goldenTS()
	// fields computed by the encoder.
	ts.Microslices[0].Desc.CRC = 0
	ts.Microslices[0].Desc.Size = 0
	ts.Microslices[0].Desc.HdrID = 0

	buf := new(bytes.Buffer)
	enc := NewEncoder(buf)
	err := enc.Encode(&ts)
	if err != nil {
		t.Fatalf("could not encode timeslice: %+v", err)
	}

	if got, want := buf.Bytes(), golden; !bytes.Equal(got, want) {
		t.Fatalf("invalid encoded timeslice:\ngot= %x\nwant=%x", got, want)
	}

	err = enc.Encode(nil)
	if err != nil {
		t.Fatalf("could not encode nil timeslice: %+v", err)
	}
	if got, want := buf.Len(), len(golden); got != want {
		t.Fatalf("nil timeslice modified the stream: got=%d, want=%d", got, want)
	}
}

func TestDecoder(t *testing.T) {
	patch := func(i int, v byte) []byte {
		raw := append([]byte(nil), golden...)
		raw[i] = v
		return raw
	}

	for _, tc := range []struct {
		name string
		raw  []byte
		want error
	}{
		{
			name: "golden",
			raw:  golden,
		},
		{
			name: "no data",
			raw:  nil,
			want: io.EOF,
		},
		{
			name: "invalid-header-marker",
			raw:  patch(0, 0xb1),
			want: errors.New("msformat: invalid timeslice header marker (got=0xb1)"),
		},
		{
			name: "invalid-version",
			raw:  patch(1, 2),
			want: errors.New("msformat: invalid timeslice version (got=2, want=1)"),
		},
		{
			name: "short-header",
			raw:  golden[:10],
			want: errors.New("msformat: could not read timeslice header: unexpected EOF"),
		},
		{
			name: "invalid-descriptor-marker",
			raw:  patch(24, 0xde),
			want: errors.New("msformat: timeslice 7 invalid microslice 0 descriptor marker (got=0xde)"),
		},
		{
			name: "invalid-descriptor-version",
			raw:  patch(25, 3),
			want: errors.New("msformat: timeslice 7 invalid microslice 0 descriptor version (got=3, want=1)"),
		},
		{
			name: "short-descriptor",
			raw:  golden[:40],
			want: errors.New("msformat: timeslice 7 could not read microslice 0 descriptor: unexpected EOF"),
		},
		{
			name: "payload-too-large",
			raw:  patch(47, 0xff),
			want: errors.New("msformat: timeslice 7 microslice 0 payload too large (size=4278190088)"),
		},
		{
			name: "short-payload",
			raw:  golden[:60],
			want: errors.New("msformat: timeslice 7 could not read microslice 0 payload: unexpected EOF"),
		},
		{
			name: "payload-crc",
			raw:  patch(56, 0x02),
			want: errors.New("msformat: timeslice 7 microslice 0 inconsistent payload CRC: recv=0xbbb5 comp=0x73c0"),
		},
		{
			name: "missing-trailer",
			raw:  golden[:64],
			want: errors.New("msformat: timeslice 7 could not read trailer marker: unexpected EOF"),
		},
		{
			name: "invalid-trailer-marker",
			raw:  patch(64, 0xa1),
			want: errors.New("msformat: timeslice 7 invalid trailer marker (got=0xa1)"),
		},
		{
			name: "short-crc",
			raw:  golden[:66],
			want: errors.New("msformat: timeslice 7 could not receive CRC-16: unexpected EOF"),
		},
		{
			name: "invalid-crc",
			raw:  patch(66, 0x00),
			want: errors.New("msformat: timeslice 7 inconsistent CRC: recv=0x00c9 comp=0xe3c9"),
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				dec = NewDecoder(bytes.NewReader(tc.raw))
				ts  Timeslice
			)
			err := dec.Decode(&ts)
			switch {
			case err == nil && tc.want == nil:
				if got, want := ts, goldenTS(); !reflect.DeepEqual(got, want) {
					t.Fatalf("invalid timeslice:\ngot= %#v\nwant=%#v", got, want)
				}
				err = dec.Decode(&ts)
				if err != io.EOF {
					t.Fatalf("invalid end of stream: %+v", err)
				}
			case err == nil && tc.want != nil:
				t.Fatalf("expected an error (%v)", tc.want)
			case err != nil && tc.want == nil:
				t.Fatalf("could not decode timeslice: %+v", err)
			default:
				if got, want := err.Error(), tc.want.Error(); got != want {
					t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
				}
				if tc.want != io.EOF && errors.Is(err, io.EOF) {
					t.Fatalf("truncated stream reported as io.EOF: %+v", err)
				}
			}
		})
	}
}

func TestDecoderStickyError(t *testing.T) {
	raw := append([]byte(nil), golden[:10]...)
	dec := NewDecoder(bytes.NewReader(raw))

	var ts Timeslice
	err := dec.Decode(&ts)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("invalid error: %+v", err)
	}

	err = dec.Decode(&ts)
	if err == nil || err == io.EOF {
		t.Fatalf("decoder error not sticky: %+v", err)
	}
}

func TestRoundTrip(t *testing.T) {
	want := []Timeslice{
		{
			Index: 1,
			Start: 102400,
			Microslices: []Microslice{
				{
					Desc:    Descriptor{EqID: 0x1003, SysID: SysSTS, Idx: 102400},
					Content: []byte{1, 2, 3, 4, 5, 6, 7, 8},
				},
				{
					Desc:    Descriptor{EqID: 0x1004, SysID: SysSTS, Idx: 102400, Flags: 0x2},
					Content: []byte{},
				},
				{
					Desc:    Descriptor{EqID: 0x1005, SysID: SysSTS, Idx: 104000},
					Content: bytes.Repeat([]byte{0xa0, 0x00, 0x00, 0x80}, 1000),
				},
			},
		},
		{
			Index: 2,
			Start: 204800,
		},
	}

	for _, fname := range []string{"ts.raw", "ts.raw" + Ext} {
		t.Run(fname, func(t *testing.T) {
			fname := filepath.Join(t.TempDir(), fname)
			w, err := Create(fname)
			if err != nil {
				t.Fatalf("could not create file: %+v", err)
			}
			for i := range want {
				err = w.Encode(&want[i])
				if err != nil {
					t.Fatalf("could not encode timeslice %d: %+v", i, err)
				}
			}
			err = w.Close()
			if err != nil {
				t.Fatalf("could not close writer: %+v", err)
			}

			r, err := Open(fname)
			if err != nil {
				t.Fatalf("could not open file: %+v", err)
			}
			defer r.Close()

			var got []Timeslice
			for {
				var ts Timeslice
				err := r.Decode(&ts)
				if err != nil {
					if err == io.EOF {
						break
					}
					t.Fatalf("could not decode timeslice: %+v", err)
				}
				got = append(got, ts)
			}

			if got, want := len(got), len(want); got != want {
				t.Fatalf("invalid number of timeslices: got=%d, want=%d", got, want)
			}

			var offset uint64
			for i, ms := range got[0].Microslices {
				ref := want[0].Microslices[i]
				if ms.Desc.EqID != ref.Desc.EqID || ms.Desc.Idx != ref.Desc.Idx || ms.Desc.Flags != ref.Desc.Flags {
					t.Fatalf("invalid microslice %d descriptor:\ngot= %+v\nwant=%+v", i, ms.Desc, ref.Desc)
				}
				if !bytes.Equal(ms.Content, ref.Content) {
					t.Fatalf("invalid microslice %d content", i)
				}
				if got, want := ms.Desc.Size, uint32(len(ref.Content)); got != want {
					t.Fatalf("invalid microslice %d size: got=%d, want=%d", i, got, want)
				}
				if got, want := ms.Desc.Offset, offset; got != want {
					t.Fatalf("invalid microslice %d offset: got=%d, want=%d", i, got, want)
				}
				offset += uint64(ms.Desc.Size)
			}

			if got, want := got[1].Index, want[1].Index; got != want {
				t.Fatalf("invalid index: got=%d, want=%d", got, want)
			}
			if got := len(got[1].Microslices); got != 0 {
				t.Fatalf("invalid number of microslices: got=%d, want=0", got)
			}

			err = r.Close()
			if err != nil {
				t.Fatalf("could not close reader: %+v", err)
			}
		})
	}
}

func TestOpenMissing(t *testing.T) {
	for _, fname := range []string{"missing.raw", "missing.raw" + Ext} {
		_, err := Open(filepath.Join(t.TempDir(), fname))
		if err == nil {
			t.Fatalf("expected an error opening %q", fname)
		}
	}
}
