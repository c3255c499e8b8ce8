// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xcnv

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/go-lpc/sts/internal/dformat"
	"github.com/go-lpc/sts/stsxyter"
	"go-hep.org/x/hep/lcio"
)

// LCIO2Digi converts LCIO events back into a stream of digi batches.
func LCIO2Digi(enc *dformat.Encoder, r *lcio.Reader, freq int, msg *log.Logger) error {
	if freq <= 0 {
		freq = 1
	}

	i := 0
	for r.Next() {
		if i%freq == 0 {
			msg.Printf("processing evt %d...", i)
		}
		evt := r.Event()

		coll, ok := evt.Get(collName).(*lcio.GenericObject)
		if !ok {
			return fmt.Errorf("could not find %q collection in event %d", collName, evt.EventNumber)
		}

		b := dformat.Batch{
			Index: uint64(evt.EventNumber),
			Start: uint64(evt.TimeStamp),
			Hits:  make([]stsxyter.Hit, len(coll.Data)),
		}
		for j, data := range coll.Data {
			if len(data.I32s) != 3 || len(data.F64s) != 1 {
				return fmt.Errorf(
					"invalid digi %d in event %d (i32s=%d, f64s=%d)",
					j, evt.EventNumber, len(data.I32s), len(data.F64s),
				)
			}
			b.Hits[j] = stsxyter.Hit{
				Address: uint32(data.I32s[0]),
				Time:    uint64(uint32(data.I32s[1]))<<32 | uint64(uint32(data.I32s[2])),
				Charge:  data.F64s[0],
			}
		}
		b.Errors, b.Monitor = countersFromInts(evt.Params.Ints)

		err := enc.Encode(b)
		if err != nil {
			return fmt.Errorf("could not encode event %d: %w", evt.EventNumber, err)
		}
		i++
	}

	if err := r.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("could not read LCIO events: %w", err)
	}

	return nil
}

func countersFromInts(ints map[string][]int32) (stsxyter.ErrorCounters, stsxyter.Monitor) {
	var (
		errs stsxyter.ErrorCounters
		mon  stsxyter.Monitor
	)

	get := func(name string) uint64 {
		v := ints[name]
		if len(v) == 0 {
			return 0
		}
		return uint64(uint32(v[0]))
	}

	errs.InvalidSize = get("err_invalid_size")
	errs.InvalidFirstMessage = get("err_invalid_first_message")
	errs.ElinkOutOfRange = get("err_elink_out_of_range")
	errs.ChannelOutOfRange = get("err_channel_out_of_range")
	errs.UnexpectedMessage = get("err_unexpected_message_type")
	errs.TimestampOverflow = get("err_timestamp_overflow")

	mon.MissedEvents = get("missed_events")
	mon.EndOfMsErrors = get("end_of_ms_errors")
	mon.Masked = get("masked")
	for i, n := range ints["messages"] {
		if i < len(mon.Messages) {
			mon.Messages[i] = uint64(uint32(n))
		}
	}

	return errs, mon
}
