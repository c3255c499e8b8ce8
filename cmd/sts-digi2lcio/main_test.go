// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"compress/flate"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-lpc/sts/internal/dformat"
	"github.com/go-lpc/sts/stsxyter"
	"go-hep.org/x/hep/lcio"
)

func TestRunNbrFrom(t *testing.T) {
	for _, tc := range []struct {
		fname string
		run   int32
	}{
		{
			fname: "./sts_063.000.digi",
			run:   63,
		},
		{
			fname: "/some/dir/sts_663.000.digi",
			run:   663,
		},
		{
			fname: "../some/dir/sts_009.001.digi",
			run:   9,
		},
	} {
		t.Run(tc.fname, func(t *testing.T) {
			got, err := runNbrFrom(tc.fname)
			if err != nil {
				t.Fatalf("could not infer run-nbr: %+v", err)
			}
			if got != tc.run {
				t.Fatalf("invalid run: got=%d, want=%d", got, tc.run)
			}
		})
	}

	_, err := runNbrFrom("run.digi")
	if err == nil {
		t.Fatalf("expected an error")
	}
}

func TestDigi2LCIO(t *testing.T) {
	tmp := t.TempDir()

	var (
		fname = filepath.Join(tmp, "sts_042.000.digi")
		oname = filepath.Join(tmp, "out.lcio")
	)

	f, err := os.Create(fname)
	if err != nil {
		t.Fatalf("could not create digi file: %+v", err)
	}
	defer f.Close()

	enc := dformat.NewEncoder(f)
	for i := 0; i < 3; i++ {
		err = enc.Encode(dformat.Batch{
			Index: uint64(i),
			Start: uint64(i) * 12800,
			Hits: []stsxyter.Hit{
				{Address: 0x1001, Charge: float64(i + 1), Time: uint64(100 * i)},
			},
		})
		if err != nil {
			t.Fatalf("could not encode digis: %+v", err)
		}
	}
	err = f.Close()
	if err != nil {
		t.Fatalf("could not close digi file: %+v", err)
	}

	err = process(oname, flate.BestCompression, fname, -1, stsxyter.DefaultParams())
	if err != nil {
		t.Fatalf("could not convert digi file: %+v", err)
	}

	r, err := lcio.Open(oname)
	if err != nil {
		t.Fatalf("could not open LCIO file: %+v", err)
	}
	defer r.Close()

	n := 0
	for r.Next() {
		evt := r.Event()
		if got, want := evt.RunNumber, int32(42); got != want {
			t.Fatalf("invalid run number: got=%d, want=%d", got, want)
		}
		if got, want := evt.EventNumber, int32(n); got != want {
			t.Fatalf("invalid event number: got=%d, want=%d", got, want)
		}
		if got, want := evt.TimeStamp, int64(n)*12800; got != want {
			t.Fatalf("invalid timestamp: got=%d, want=%d", got, want)
		}
		coll, ok := evt.Get("STS_DIGIS").(*lcio.GenericObject)
		if !ok {
			t.Fatalf("missing STS_DIGIS collection")
		}
		if got, want := len(coll.Data), 1; got != want {
			t.Fatalf("invalid number of digis: got=%d, want=%d", got, want)
		}
		if got, want := coll.Data[0].F64s[0], float64(n+1); got != want {
			t.Fatalf("invalid charge: got=%v, want=%v", got, want)
		}
		n++
	}
	if n != 3 {
		t.Fatalf("invalid number of events: got=%d, want=3", n)
	}

	err = process(oname, flate.DefaultCompression, filepath.Join(tmp, "not-there.digi"), 1, stsxyter.DefaultParams())
	if err == nil {
		t.Fatalf("expected an error")
	}
}
