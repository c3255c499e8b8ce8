// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stsxyter

import "fmt"

// Message is a raw 32-bit STS-XYTER message.
type Message uint32

// Kind is the kind of a STS-XYTER message.
type Kind uint8

const (
	KindHit Kind = iota
	KindTsMsb
	KindEpoch
	KindStatus
	KindEmpty
	KindEndOfMs
	KindDummy // hit message with a null ADC value

	NumKinds = int(KindDummy) + 1
)

func (k Kind) String() string {
	switch k {
	case KindHit:
		return "Hit"
	case KindTsMsb:
		return "TsMsb"
	case KindEpoch:
		return "Epoch"
	case KindStatus:
		return "Status"
	case KindEmpty:
		return "Empty"
	case KindEndOfMs:
		return "EndOfMs"
	case KindDummy:
		return "Dummy"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// field is a bit range of a message.
type field struct {
	off uint8 // offset of the least significant bit
	len uint8 // width, in bits
}

func (f field) mask() uint32 { return 1<<f.len - 1 }

func (f field) get(m Message) uint32 {
	return (uint32(m) >> f.off) & f.mask()
}

func (f field) put(v uint32) Message {
	return Message((v & f.mask()) << f.off)
}

var (
	fNotHit = field{31, 1}

	// hit
	fLink       = field{22, 9}
	fLinkBinned = field{22, 6}
	fChannel    = field{15, 7}
	fADC        = field{10, 5}
	fTime       = field{1, 9}
	fTimeBit9   = field{30, 1} // binned firmware: 10th bit of the hit time
	fMissed     = field{0, 1}

	// non-hit
	fSubtype     = field{29, 2}
	fTsMsb       = field{0, 22}
	fTsMsbBinned = field{0, 29}
	fEpoch       = field{0, 29}
	fEmpty       = field{28, 1}
	fMsErrType   = field{1, 4}
	fMsErrFlag   = field{0, 1}
	fStatusLink  = field{22, 7} // below the subtype field
	fStatusBits  = field{0, 4}
)

const (
	subTsMsb  = 0
	subEpoch  = 1
	subStatus = 2
	subEnd    = 3 // Empty or EndOfMs
)

// Kind returns the kind of the message.
func (m Message) Kind() Kind {
	if fNotHit.get(m) == 0 {
		if m.ADC() == 0 {
			return KindDummy
		}
		return KindHit
	}

	switch fSubtype.get(m) {
	case subTsMsb:
		return KindTsMsb
	case subEpoch:
		return KindEpoch
	case subStatus:
		return KindStatus
	default:
		if m.EmptyFlag() {
			return KindEmpty
		}
		return KindEndOfMs
	}
}

// Channel returns the channel of a hit message.
func (m Message) Channel() uint32 { return fChannel.get(m) }

// ADC returns the ADC value of a hit message.
func (m Message) ADC() uint32 { return fADC.get(m) }

// Link returns the 9-bit elink index of a hit message.
func (m Message) Link() uint32 { return fLink.get(m) }

// LinkBinned returns the elink index of a hit message produced by the
// binned firmware, where only the 6 low bits of the link field are
// significant.
func (m Message) LinkBinned() uint32 { return fLinkBinned.get(m) }

// RawTime returns the 9-bit in-epoch time of a hit message, in clock ticks.
func (m Message) RawTime() uint32 { return fTime.get(m) }

// RawTimeBinned returns the 10-bit in-epoch time of a hit message produced
// by the binned firmware, in clock ticks.
//
// The binned firmware stores the most significant bit of the hit time in
// bit 30, i.e. inside the upper part of the link field.
func (m Message) RawTimeBinned() uint32 {
	return fTime.get(m) | fTimeBit9.get(m)<<fTime.len
}

// HitTime returns the in-epoch time of a hit message for the given
// firmware variant.
func (m Message) HitTime(binned bool) uint32 {
	if binned {
		return m.RawTimeBinned()
	}
	return m.RawTime()
}

// HitLink returns the elink index of a hit message for the given
// firmware variant.
func (m Message) HitLink(binned bool) uint32 {
	if binned {
		return m.LinkBinned()
	}
	return m.Link()
}

// MissedEvent reports whether the ASIC flagged missed events before this hit.
func (m Message) MissedEvent() bool { return fMissed.get(m) != 0 }

// TsMsb returns the epoch number carried by a TsMsb message.
func (m Message) TsMsb(binned bool) uint32 {
	if binned {
		return fTsMsbBinned.get(m)
	}
	return fTsMsb.get(m)
}

// Epoch returns the value of an Epoch message.
func (m Message) Epoch() uint32 { return fEpoch.get(m) }

// StatusLink returns the elink index of a status message.
func (m Message) StatusLink() uint32 { return fStatusLink.get(m) }

// StatusChannel returns the channel of a status message.
func (m Message) StatusChannel() uint32 { return fChannel.get(m) }

// StatusBits returns the status bits of a status message.
func (m Message) StatusBits() uint32 { return fStatusBits.get(m) }

// EmptyFlag distinguishes Empty (set) from EndOfMs (clear) messages.
func (m Message) EmptyFlag() bool { return fEmpty.get(m) != 0 }

// MsErrType returns the error type of an EndOfMs message.
func (m Message) MsErrType() uint32 { return fMsErrType.get(m) }

// MsErrFlag returns the error flag of an EndOfMs message.
func (m Message) MsErrFlag() bool { return fMsErrFlag.get(m) != 0 }

func (m Message) String() string {
	return fmt.Sprintf("%v(0x%08x)", m.Kind(), uint32(m))
}

// Describe returns a human readable description of the message fields,
// interpreted with the given firmware variant.
func (m Message) Describe(binned bool) string {
	switch k := m.Kind(); k {
	case KindHit, KindDummy:
		return fmt.Sprintf(
			"%-7s link=%3d ch=%3d adc=%2d time=%4d missed=%v",
			k, m.HitLink(binned), m.Channel(), m.ADC(), m.HitTime(binned), m.MissedEvent(),
		)
	case KindTsMsb:
		return fmt.Sprintf("%-7s ts-msb=%d", k, m.TsMsb(binned))
	case KindEpoch:
		return fmt.Sprintf("%-7s epoch=%d", k, m.Epoch())
	case KindStatus:
		return fmt.Sprintf("%-7s link=%3d ch=%3d status=0x%x",
			k, m.StatusLink(), m.StatusChannel(), m.StatusBits(),
		)
	case KindEmpty:
		return k.String()
	case KindEndOfMs:
		return fmt.Sprintf("%-7s err-type=%d err=%v", k, m.MsErrType(), m.MsErrFlag())
	}
	return m.String()
}

// NewHit creates a hit message.
// Values are truncated to the width of their field for the given
// firmware variant.
func NewHit(link, channel, adc, time uint32, binned bool) Message {
	m := fChannel.put(channel) | fADC.put(adc) | fTime.put(time)
	if binned {
		return m | fLinkBinned.put(link) | fTimeBit9.put(time>>fTime.len)
	}
	return m | fLink.put(link)
}

// WithMissedEvent returns a copy of the hit message m with the missed-event
// flag set.
func (m Message) WithMissedEvent() Message { return m | fMissed.put(1) }

// NewTsMsb creates a TsMsb message.
func NewTsMsb(epoch uint32, binned bool) Message {
	m := fNotHit.put(1) | fSubtype.put(subTsMsb)
	if binned {
		return m | fTsMsbBinned.put(epoch)
	}
	return m | fTsMsb.put(epoch)
}

// NewEpoch creates an Epoch message.
func NewEpoch(epoch uint32) Message {
	return fNotHit.put(1) | fSubtype.put(subEpoch) | fEpoch.put(epoch)
}

// NewStatus creates a status message.
// The link index is truncated to 7 bits.
func NewStatus(link, channel, status uint32) Message {
	return fNotHit.put(1) | fSubtype.put(subStatus) |
		fStatusLink.put(link) | fChannel.put(channel) | fStatusBits.put(status)
}

// NewEmpty creates an Empty message.
func NewEmpty() Message {
	return fNotHit.put(1) | fSubtype.put(subEnd) | fEmpty.put(1)
}

// NewEndOfMs creates an EndOfMs message.
func NewEndOfMs(errType uint32, errFlag bool) Message {
	m := fNotHit.put(1) | fSubtype.put(subEnd) | fMsErrType.put(errType)
	if errFlag {
		m |= fMsErrFlag.put(1)
	}
	return m
}
