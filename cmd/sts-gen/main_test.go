// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/go-lpc/sts/calib"
	"github.com/go-lpc/sts/internal/msformat"
	"github.com/go-lpc/sts/internal/stsgen"
)

func TestProcess(t *testing.T) {
	tmp := t.TempDir()

	for _, tc := range []struct {
		name string
		ext  string
	}{
		{"plain", ".tsa"},
		{"zstd", ".tsa.zst"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				oname = filepath.Join(tmp, tc.name+tc.ext)
				cname = filepath.Join(tmp, tc.name+".yaml")
				cfg   = stsgen.DefaultConfig()
			)

			n, err := process(oname, cname, "test", 3, cfg)
			if err != nil {
				t.Fatalf("could not generate timeslices: %+v", err)
			}
			if got, want := n, 3*2*4*16; got != want {
				t.Fatalf("invalid number of hits: got=%d, want=%d", got, want)
			}

			run, err := calib.Load(cname)
			if err != nil {
				t.Fatalf("could not load run configuration: %+v", err)
			}
			if got, want := run.Setup, "test"; got != want {
				t.Fatalf("invalid setup: got=%q, want=%q", got, want)
			}
			if got, want := len(run.Components), cfg.Components; got != want {
				t.Fatalf("invalid number of components: got=%d, want=%d", got, want)
			}

			r, err := msformat.Open(oname)
			if err != nil {
				t.Fatalf("could not open timeslice file: %+v", err)
			}
			defer r.Close()

			nts := 0
			for {
				var ts msformat.Timeslice
				err := r.Decode(&ts)
				if err != nil {
					if errors.Is(err, io.EOF) {
						break
					}
					t.Fatalf("could not decode timeslice: %+v", err)
				}
				if got, want := ts.Index, uint64(nts); got != want {
					t.Fatalf("invalid timeslice index: got=%d, want=%d", got, want)
				}
				nts++
			}
			if nts != 3 {
				t.Fatalf("invalid number of timeslices: got=%d, want=3", nts)
			}
		})
	}
}

func TestProcessError(t *testing.T) {
	cfg := stsgen.DefaultConfig()
	cfg.Hits = -1

	_, err := process(filepath.Join(t.TempDir(), "out.tsa"), "", "test", 1, cfg)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if got, want := err.Error(), "could not create generator: stsgen: invalid number of hits (-1)"; got != want {
		t.Fatalf("invalid error:\ngot= %v\nwant=%v", got, want)
	}
}
