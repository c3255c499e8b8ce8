// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// sts-dump decodes and displays STS timeslice archives.
//
// Usage: sts-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> sts-dump -v ./testdata/run.tsa
//	=== timeslice 7 ===
//	start:            3200
//	microslices:         1
//	  ms[0] eqid=0x1003 sys=0x10/0x20 idx=3200 size=8 crc=0xbbb5
//	    Epoch   epoch=1
//	    TsMsb   ts-msb=1
//	[...]
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-lpc/sts/internal/msformat"
	"github.com/go-lpc/sts/stsxyter"
)

const usage = `sts-dump decodes and displays STS timeslice archives.

Usage: sts-dump [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

Example:

 $> sts-dump -v ./testdata/run.tsa
 === timeslice 7 ===
 start:            3200
 microslices:         1
   ms[0] eqid=0x1003 sys=0x10/0x20 idx=3200 size=8 crc=0xbbb5
     Epoch   epoch=1
     TsMsb   ts-msb=1
 [...]

`

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("sts-dump: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("sts-dump", flag.ExitOnError)

		legacy  = fset.Bool("legacy", false, "decode legacy (non-binned) firmware messages")
		verbose = fset.Bool("v", false, "display the messages of each microslice")
	)

	fset.Usage = func() {
		fmt.Print(usage)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input timeslice file")
	}

	for _, fname := range fset.Args() {
		err := process(w, fname, !*legacy, *verbose)
		if err != nil {
			log.Fatalf("could not dump file %q: %+v", fname, err)
		}
	}
}

func process(w io.Writer, fname string, binned, verbose bool) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	r, err := msformat.Open(fname)
	if err != nil {
		return fmt.Errorf("could not open %q: %w", fname, err)
	}
	defer r.Close()

loop:
	for {
		var ts msformat.Timeslice
		err := r.Decode(&ts)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break loop
			}
			return fmt.Errorf("could not decode timeslice: %w", err)
		}
		fmt.Fprintf(wbuf, "=== timeslice %d ===\n", ts.Index)
		fmt.Fprintf(wbuf, "start:       % 10d\n", ts.Start)
		fmt.Fprintf(wbuf, "microslices: % 10d\n", len(ts.Microslices))

		for i, ms := range ts.Microslices {
			d := ms.Desc
			fmt.Fprintf(wbuf, "  ms[%d] eqid=0x%04x sys=0x%02x/0x%02x idx=%d size=%d crc=0x%04x\n",
				i, d.EqID, d.SysID, d.SysVer, d.Idx, d.Size, d.CRC,
			)
			if !verbose {
				continue
			}
			n := len(ms.Content) / stsxyter.MessageSize
			for j := 0; j < n; j++ {
				m := stsxyter.Message(binary.LittleEndian.Uint32(ms.Content[j*stsxyter.MessageSize:]))
				fmt.Fprintf(wbuf, "    %s\n", m.Describe(binned))
			}
			if rem := len(ms.Content) % stsxyter.MessageSize; rem != 0 {
				fmt.Fprintf(wbuf, "    [%d trailing bytes]\n", rem)
			}
		}
	}

	return nil
}
