// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msformat

import (
	"encoding/binary"
	"io"

	"github.com/go-lpc/sts/internal/crc16"
	"golang.org/x/xerrors"
)

// Decoder reads (and validates) timeslices from an underlying data source.
// Decoder computes CRC-16 checksums on the fly.
type Decoder struct {
	r io.Reader

	buf []byte
	err error
	crc crc16.Hash16
}

// NewDecoder creates a decoder that reads and validates data from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, descSize),
		crc: crc16.New(nil),
	}
}

func (dec *Decoder) crcw(p []byte) {
	_, _ = dec.crc.Write(p) // can not fail.
}

// Decode reads the next timeslice from the stream.
// Decode returns io.EOF when the stream ends at a timeslice boundary.
func (dec *Decoder) Decode(ts *Timeslice) error {
	dec.crc.Reset()

	v := dec.readU8()
	if dec.err != nil {
		if dec.err == io.EOF {
			dec.err = nil
			return io.EOF
		}
		return xerrors.Errorf("msformat: could not read timeslice header marker: %w", dec.err)
	}
	if v != tsHeader {
		return xerrors.Errorf("msformat: invalid timeslice header marker (got=0x%x)", v)
	}

	hdr := dec.load(tsHeaderSize - 1)
	if dec.err != nil {
		return xerrors.Errorf("msformat: could not read timeslice header: %w", dec.eof())
	}
	if hdr[0] != Version {
		return xerrors.Errorf("msformat: invalid timeslice version (got=%d, want=%d)", hdr[0], Version)
	}

	ts.Index = binary.LittleEndian.Uint64(hdr[3:])
	ts.Start = binary.LittleEndian.Uint64(hdr[11:])
	nms := int(binary.LittleEndian.Uint32(hdr[19:]))

	ts.Microslices = ts.Microslices[:0]
	if n := nms; cap(ts.Microslices) < n && n <= 1024 {
		ts.Microslices = make([]Microslice, 0, n)
	}

	for i := 0; i < nms; i++ {
		var ms Microslice
		err := dec.decodeMicroslice(ts.Index, i, &ms)
		if err != nil {
			return err
		}
		ts.Microslices = append(ts.Microslices, ms)
	}

	v = dec.readU8()
	if dec.err != nil {
		return xerrors.Errorf(
			"msformat: timeslice %d could not read trailer marker: %w",
			ts.Index, dec.eof(),
		)
	}
	if v != tsTrailer {
		return xerrors.Errorf(
			"msformat: timeslice %d invalid trailer marker (got=0x%x)",
			ts.Index, v,
		)
	}

	var (
		compCRC = dec.crc.Sum16()
		recvCRC = dec.readU16()
	)
	if dec.err != nil {
		return xerrors.Errorf(
			"msformat: timeslice %d could not receive CRC-16: %w",
			ts.Index, dec.eof(),
		)
	}

	if compCRC != recvCRC {
		return xerrors.Errorf(
			"msformat: timeslice %d inconsistent CRC: recv=0x%04x comp=0x%04x",
			ts.Index, recvCRC, compCRC,
		)
	}

	return nil
}

func (dec *Decoder) decodeMicroslice(its uint64, i int, ms *Microslice) error {
	raw := dec.load(descSize)
	if dec.err != nil {
		return xerrors.Errorf(
			"msformat: timeslice %d could not read microslice %d descriptor: %w",
			its, i, dec.eof(),
		)
	}

	desc := &ms.Desc
	desc.HdrID = raw[0]
	desc.HdrVer = raw[1]
	desc.EqID = binary.LittleEndian.Uint16(raw[2:])
	desc.Flags = binary.LittleEndian.Uint16(raw[4:])
	desc.SysID = raw[6]
	desc.SysVer = raw[7]
	desc.Idx = binary.LittleEndian.Uint64(raw[8:])
	desc.CRC = binary.LittleEndian.Uint32(raw[16:])
	desc.Size = binary.LittleEndian.Uint32(raw[20:])
	desc.Offset = binary.LittleEndian.Uint64(raw[24:])

	switch {
	case desc.HdrID != msHeader:
		return xerrors.Errorf(
			"msformat: timeslice %d invalid microslice %d descriptor marker (got=0x%x)",
			its, i, desc.HdrID,
		)
	case desc.HdrVer != DescVersion:
		return xerrors.Errorf(
			"msformat: timeslice %d invalid microslice %d descriptor version (got=%d, want=%d)",
			its, i, desc.HdrVer, DescVersion,
		)
	case desc.Size > maxPayloadSize:
		return xerrors.Errorf(
			"msformat: timeslice %d microslice %d payload too large (size=%d)",
			its, i, desc.Size,
		)
	}

	ms.Content = make([]byte, desc.Size)
	dec.read(ms.Content)
	if dec.err != nil {
		return xerrors.Errorf(
			"msformat: timeslice %d could not read microslice %d payload: %w",
			its, i, dec.eof(),
		)
	}

	if comp := uint32(crc16.Checksum(ms.Content)); comp != desc.CRC {
		return xerrors.Errorf(
			"msformat: timeslice %d microslice %d inconsistent payload CRC: recv=0x%04x comp=0x%04x",
			its, i, desc.CRC, comp,
		)
	}

	return nil
}

// eof turns an io.EOF in the middle of a timeslice into io.ErrUnexpectedEOF.
func (dec *Decoder) eof() error {
	if dec.err == io.EOF {
		dec.err = io.ErrUnexpectedEOF
	}
	return dec.err
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
	if dec.err == nil {
		dec.crcw(p)
	}
}

func (dec *Decoder) readU8() uint8 {
	return dec.load(1)[0]
}

func (dec *Decoder) readU16() uint16 {
	if dec.err != nil {
		return 0
	}
	buf := dec.buf[:2]
	_, dec.err = io.ReadFull(dec.r, buf)
	return binary.LittleEndian.Uint16(buf)
}

func (dec *Decoder) load(n int) []byte {
	if cap(dec.buf) < n {
		dec.buf = append(dec.buf[:len(dec.buf)], make([]byte, n-cap(dec.buf))...)
	}
	dec.buf = dec.buf[:n]
	dec.read(dec.buf)
	return dec.buf
}
