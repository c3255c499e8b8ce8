// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stsxyter

import (
	"fmt"
	"strings"
)

// ErrorCounters counts the anomalies found while decoding microslices.
type ErrorCounters struct {
	InvalidSize         uint64 // buffer size not a multiple of MessageSize, or less than 2 messages
	InvalidFirstMessage uint64 // buffer not starting with Epoch then TsMsb
	ElinkOutOfRange     uint64 // hit from a non-configured elink
	ChannelOutOfRange   uint64 // hit from a channel without address
	UnexpectedMessage   uint64 // non-hit, non-TsMsb message in the body
	TimestampOverflow   uint64 // hit time not representable on 64 bits
}

// Add adds the counters of o to ec.
func (ec *ErrorCounters) Add(o ErrorCounters) {
	ec.InvalidSize += o.InvalidSize
	ec.InvalidFirstMessage += o.InvalidFirstMessage
	ec.ElinkOutOfRange += o.ElinkOutOfRange
	ec.ChannelOutOfRange += o.ChannelOutOfRange
	ec.UnexpectedMessage += o.UnexpectedMessage
	ec.TimestampOverflow += o.TimestampOverflow
}

// Total returns the sum of all counters.
func (ec ErrorCounters) Total() uint64 {
	var n uint64
	ec.Each(func(_ string, v uint64) { n += v })
	return n
}

// Each calls f with the name and value of each counter, in a fixed order.
func (ec ErrorCounters) Each(f func(name string, n uint64)) {
	f("invalid_size", ec.InvalidSize)
	f("invalid_first_message", ec.InvalidFirstMessage)
	f("elink_out_of_range", ec.ElinkOutOfRange)
	f("channel_out_of_range", ec.ChannelOutOfRange)
	f("unexpected_message_type", ec.UnexpectedMessage)
	f("timestamp_overflow", ec.TimestampOverflow)
}

func (ec ErrorCounters) String() string {
	o := new(strings.Builder)
	o.WriteString("{")
	i := 0
	ec.Each(func(name string, n uint64) {
		if i > 0 {
			o.WriteString(", ")
		}
		fmt.Fprintf(o, "%s: %d", name, n)
		i++
	})
	o.WriteString("}")
	return o.String()
}

// Monitor counts decoded messages. Monitor counters are informational
// and never denote an error.
type Monitor struct {
	Messages      [NumKinds]uint64 // number of messages, by kind
	MissedEvents  uint64           // hits flagged with missed events
	EndOfMsErrors uint64           // EndOfMs messages flagged with an error
	Masked        uint64           // hits dropped from masked channels
}

func (mon *Monitor) count(m Message) {
	k := m.Kind()
	mon.Messages[k]++
	switch k {
	case KindHit:
		if m.MissedEvent() {
			mon.MissedEvents++
		}
	case KindEndOfMs:
		if m.MsErrFlag() {
			mon.EndOfMsErrors++
		}
	}
}

// Add adds the counters of o to mon.
func (mon *Monitor) Add(o Monitor) {
	for i, n := range o.Messages {
		mon.Messages[i] += n
	}
	mon.MissedEvents += o.MissedEvents
	mon.EndOfMsErrors += o.EndOfMsErrors
	mon.Masked += o.Masked
}

// NumMessages returns the total number of decoded messages.
func (mon Monitor) NumMessages() uint64 {
	var n uint64
	for _, v := range mon.Messages {
		n += v
	}
	return n
}
