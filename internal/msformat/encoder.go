// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msformat

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/go-lpc/sts/internal/crc16"
)

// Encoder writes timeslices to an output stream.
// Encoder computes the CRC-16 checksums on the fly and appends them
// to the stream.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	crc crc16.Hash16
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, descSize),
		crc: crc16.New(nil),
	}
}

func (enc *Encoder) crcw(p []byte) {
	_, _ = enc.crc.Write(p) // can not fail.
}

// Encode writes the timeslice to the stream.
// The descriptor marker, version, payload CRC, size and offset of each
// microslice are computed from its content.
func (enc *Encoder) Encode(ts *Timeslice) error {
	if ts == nil {
		return nil
	}
	if enc.err != nil {
		return enc.err
	}

	enc.crc.Reset()

	buf := enc.reserve(tsHeaderSize)
	buf[0] = tsHeader
	buf[1] = Version
	binary.LittleEndian.PutUint16(buf[2:], 0)
	binary.LittleEndian.PutUint64(buf[4:], ts.Index)
	binary.LittleEndian.PutUint64(buf[12:], ts.Start)
	binary.LittleEndian.PutUint32(buf[20:], uint32(len(ts.Microslices)))
	enc.write(buf)
	if enc.err != nil {
		return fmt.Errorf("msformat: could not write timeslice %d header: %w", ts.Index, enc.err)
	}

	var offset uint64
	for i := range ts.Microslices {
		ms := &ts.Microslices[i]
		if len(ms.Content) > maxPayloadSize {
			enc.err = fmt.Errorf(
				"msformat: timeslice %d microslice %d payload too large (size=%d)",
				ts.Index, i, len(ms.Content),
			)
			return enc.err
		}
		buf := enc.reserve(descSize)
		buf[0] = msHeader
		buf[1] = DescVersion
		binary.LittleEndian.PutUint16(buf[2:], ms.Desc.EqID)
		binary.LittleEndian.PutUint16(buf[4:], ms.Desc.Flags)
		buf[6] = ms.Desc.SysID
		buf[7] = ms.Desc.SysVer
		binary.LittleEndian.PutUint64(buf[8:], ms.Desc.Idx)
		binary.LittleEndian.PutUint32(buf[16:], uint32(crc16.Checksum(ms.Content)))
		binary.LittleEndian.PutUint32(buf[20:], uint32(len(ms.Content)))
		binary.LittleEndian.PutUint64(buf[24:], offset)
		enc.write(buf)
		enc.write(ms.Content)
		if enc.err != nil {
			return fmt.Errorf(
				"msformat: could not write timeslice %d microslice %d: %w",
				ts.Index, i, enc.err,
			)
		}
		offset += uint64(len(ms.Content))
	}

	buf = enc.reserve(1)
	buf[0] = tsTrailer
	enc.write(buf)

	buf = enc.reserve(2)
	binary.LittleEndian.PutUint16(buf, enc.crc.Sum16())
	enc.write(buf)
	if enc.err != nil {
		return fmt.Errorf("msformat: could not write timeslice %d trailer: %w", ts.Index, enc.err)
	}

	return nil
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	_, enc.err = enc.w.Write(p)
	enc.crcw(p)
}

func (enc *Encoder) reserve(n int) []byte {
	if cap(enc.buf) < n {
		enc.buf = append(enc.buf[:len(enc.buf)], make([]byte, n-cap(enc.buf))...)
	}
	return enc.buf[:n]
}
