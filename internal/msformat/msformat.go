// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package msformat describes and handles timeslice containers: a framed
// sequence of microslices, each one carrying the raw STS-XYTER message
// stream of a single read-out component.
//
// A timeslice is laid out as (all values little-endian):
//
//	0xb0 | version(u8) | reserved(u16) | index(u64) | start(u64) | nms(u32)
//	microslice{nms}
//	0xa0 | crc16(u16)
//
// where each microslice is a 32-byte descriptor followed by its payload.
// The trailing CRC-16 covers every byte from the header marker up to and
// including the trailer marker.
package msformat // import "github.com/go-lpc/sts/internal/msformat"

const (
	tsHeader  = 0xb0 // timeslice header marker
	tsTrailer = 0xa0 // timeslice trailer marker
	msHeader  = 0xdd // microslice descriptor marker

	Version     = 1 // timeslice container version
	DescVersion = 1 // microslice descriptor version

	// SysSTS is the subsystem identifier of the STS read-out.
	SysSTS = 0x10

	tsHeaderSize = 24
	descSize     = 32

	maxPayloadSize = 1 << 30
)

// Timeslice is a time interval of detector data, made of microslices
// from one or more read-out components.
type Timeslice struct {
	Index       uint64 // timeslice index
	Start       uint64 // start time of the timeslice, in ns
	Microslices []Microslice
}

// Microslice holds the raw data of one read-out component.
type Microslice struct {
	Desc    Descriptor
	Content []byte
}

// Descriptor describes a microslice.
type Descriptor struct {
	HdrID  uint8  // descriptor marker
	HdrVer uint8  // descriptor version
	EqID   uint16 // equipment identifier
	Flags  uint16
	SysID  uint8  // subsystem identifier
	SysVer uint8  // subsystem format version
	Idx    uint64 // microslice start time, in ns
	CRC    uint32 // CRC-16 of the payload
	Size   uint32 // payload size, in bytes
	Offset uint64 // payload offset within the timeslice payloads
}
