// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sts-digi2lcio converts an STS digi file to an LCIO one.
package main // import "github.com/go-lpc/sts/cmd/sts-digi2lcio"

import (
	"bufio"
	"compress/flate"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/go-lpc/sts/calib"
	"github.com/go-lpc/sts/internal/dformat"
	"github.com/go-lpc/sts/internal/xcnv"
	"github.com/go-lpc/sts/stsxyter"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "sts-digi2lcio: ", 0)
)

func main() {
	var (
		oname = flag.String("o", "out.lcio", "path to output LCIO file")
		compr = flag.Int("lvl", flate.DefaultCompression, "compression level for output LCIO file")
		cname = flag.String("calib", "", "path to run configuration file (default: binned firmware constants)")
		run   = flag.Int("run", -1, "run number (default: inferred from input file name)")
	)

	flag.Usage = func() {
		fmt.Printf(`Usage: sts-digi2lcio [OPTIONS] file.digi

ex:
 $> sts-digi2lcio -o out.lcio -lvl=9 ./sts_042.000.digi

options:
`)
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		msg.Fatalf("missing input digi file")
	}

	if *oname == "" {
		flag.Usage()
		msg.Fatalf("invalid output LCIO file name")
	}

	p := stsxyter.DefaultParams()
	if *cname != "" {
		cfg, err := calib.Load(*cname)
		if err != nil {
			msg.Fatalf("could not load run configuration: %+v", err)
		}
		p = cfg.Params
	}

	err := process(*oname, *compr, flag.Arg(0), int32(*run), p)
	if err != nil {
		msg.Fatalf("could not convert digi file: %+v", err)
	}
}

func process(oname string, lvl int, fname string, run int32, p stsxyter.Params) error {
	f, err := os.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open digi file: %w", err)
	}
	defer f.Close()

	if run < 0 {
		run, err = runNbrFrom(fname)
		if err != nil {
			return fmt.Errorf("could not infer run from %q: %w", fname, err)
		}
	}

	w, err := lcio.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output LCIO file: %w", err)
	}
	defer w.Close()

	w.SetCompressionLevel(lvl)

	dec := dformat.NewDecoder(bufio.NewReader(f))
	err = xcnv.Digi2LCIO(w, dec, run, p, msg)
	if err != nil {
		return fmt.Errorf("could not convert digis to LCIO: %w", err)
	}

	err = w.Close()
	if err != nil {
		return fmt.Errorf("could not close output LCIO file: %w", err)
	}

	return nil
}

func runNbrFrom(fname string) (int32, error) {
	var (
		name = filepath.Base(fname)
		run  int32
		itr  int32
	)
	_, err := fmt.Sscanf(name, "sts_%d.%d.digi", &run, &itr)
	return run, err
}
