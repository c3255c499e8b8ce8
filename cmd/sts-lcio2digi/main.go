// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sts-lcio2digi converts a LCIO file into an STS digi file.
package main // import "github.com/go-lpc/sts/cmd/sts-lcio2digi"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/sts/internal/dformat"
	"github.com/go-lpc/sts/internal/xcnv"
	"go-hep.org/x/hep/lcio"
)

var (
	msg = log.New(os.Stdout, "sts-lcio2digi: ", 0)
)

func main() {
	xmain(os.Args[1:])
}

func xmain(args []string) {
	var (
		fset  = flag.NewFlagSet("sts-lcio2digi", flag.ExitOnError)
		oname = fset.String("o", "out.digi", "path to output digi file")
	)

	fset.Usage = func() {
		fmt.Printf(`Usage: sts-lcio2digi [OPTIONS] file.lcio

ex:
 $> sts-lcio2digi -o out.digi ./input.lcio

options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		msg.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() != 1 {
		fset.Usage()
		msg.Fatalf("missing input LCIO file")
	}

	if *oname == "" {
		fset.Usage()
		msg.Fatalf("invalid output digi file name")
	}

	n, err := numEvents(fset.Arg(0))
	if err != nil {
		msg.Fatalf("could not assess number of events: %+v", err)
	}
	msg.Printf("input:  %s", fset.Arg(0))
	msg.Printf("events: %d", n)

	err = process(*oname, fset.Arg(0), int(n/10))
	if err != nil {
		msg.Fatalf("could not convert LCIO file: %+v", err)
	}
}

func numEvents(fname string) (int64, error) {
	r, err := lcio.Open(fname)
	if err != nil {
		return 0, fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer r.Close()

	var n int64
	for r.Next() {
		n++
	}

	err = r.Err()
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("could not assess number of events in %q: %w", fname, err)
	}

	return n, nil
}

func process(oname, fname string, freq int) error {
	r, err := lcio.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open LCIO file: %w", err)
	}
	defer r.Close()

	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output digi file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	err = xcnv.LCIO2Digi(dformat.NewEncoder(w), r, freq, msg)
	if err != nil {
		return fmt.Errorf("could not convert LCIO to digis: %w", err)
	}

	err = w.Flush()
	if err != nil {
		return fmt.Errorf("could not flush output digi file: %w", err)
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("could not close output digi file: %w", err)
	}
	return nil
}
