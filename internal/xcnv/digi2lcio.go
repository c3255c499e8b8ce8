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

// Digi2LCIO converts a stream of digi batches into LCIO events,
// one event per timeslice.
//
// Each hit is stored as a GenericObjectData element of the STS_DIGIS
// collection, with I32s={address, time>>32, time&0xffffffff} and
// F64s={charge}.
func Digi2LCIO(w *lcio.Writer, dec *dformat.Decoder, run int32, p stsxyter.Params, msg *log.Logger) error {
	raw := &lcio.GenericObject{}

loop:
	for i := 0; ; i++ {
		if i%100 == 0 {
			msg.Printf("processing timeslice %d...", i)
		}
		var b dformat.Batch
		err := dec.Decode(&b)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode digis: %w", err)
		}

		if i == 0 {
			binned := int32(0)
			if p.Binned {
				binned = 1
			}
			err = w.WriteRunHeader(&lcio.RunHeader{
				RunNumber: run,
				Detector:  detector,
				Descr:     "STS-XYTER digis",
				Params: lcio.Params{
					Ints: map[string][]int32{
						"Clock":          {int32(p.ClockNom), int32(p.ClockDen)},
						"EpochLength":    {int32(p.EpochLength)},
						"EpochsPerCycle": {int32(p.EpochsPerCycle)},
						"Binned":         {binned},
					},
				},
			})
			if err != nil {
				return fmt.Errorf("could not write run header: %w", err)
			}
		}

		evt := lcio.Event{
			RunNumber:   run,
			EventNumber: int32(b.Index),
			TimeStamp:   int64(b.Start),
			Detector:    detector,
			Params: lcio.Params{
				Ints: countersToInts(b.Errors, b.Monitor),
			},
		}

		raw.Data = raw.Data[:0]
		for _, hit := range b.Hits {
			raw.Data = append(raw.Data, lcio.GenericObjectData{
				I32s: []int32{
					int32(hit.Address),
					int32(uint32(hit.Time >> 32)),
					int32(uint32(hit.Time)),
				},
				F64s: []float64{hit.Charge},
			})
		}
		evt.Add(collName, raw)

		err = w.WriteEvent(&evt)
		if err != nil {
			return fmt.Errorf("could not write timeslice %d: %w", b.Index, err)
		}
	}

	return nil
}

func countersToInts(errs stsxyter.ErrorCounters, mon stsxyter.Monitor) map[string][]int32 {
	ints := make(map[string][]int32)
	errs.Each(func(name string, n uint64) {
		ints["err_"+name] = []int32{int32(n)}
	})
	ints["missed_events"] = []int32{int32(mon.MissedEvents)}
	ints["end_of_ms_errors"] = []int32{int32(mon.EndOfMsErrors)}
	ints["masked"] = []int32{int32(mon.Masked)}

	msgs := make([]int32, len(mon.Messages))
	for i, n := range mon.Messages {
		msgs[i] = int32(n)
	}
	ints["messages"] = msgs
	return ints
}
