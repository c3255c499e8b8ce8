// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sts-qa computes quality-assurance histograms and statistics
// from STS digi files.
//
// Usage: sts-qa [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> sts-qa -o qa.yoda ./run.digi
//	timeslices:          100
//	hits:               6400
//	[...]
package main // import "github.com/go-lpc/sts/cmd/sts-qa"

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"

	"github.com/go-lpc/sts/internal/dformat"
	"github.com/go-lpc/sts/stsxyter"
	"go-hep.org/x/hep/hbook"
	"gonum.org/v1/gonum/stat"
)

func main() {
	xmain(os.Stdout, os.Args[1:])
}

func xmain(w io.Writer, args []string) {
	log.SetPrefix("sts-qa: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("sts-qa", flag.ExitOnError)

		oname = fset.String("o", "", "path to output YODA file with QA histograms")
		top   = fset.Int("top", 10, "number of busiest channels to display")
	)

	fset.Usage = func() {
		fmt.Printf(`Usage: sts-qa [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

ex:
 $> sts-qa -o qa.yoda ./run.digi

options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input digi file")
	}

	err = process(w, *oname, *top, fset.Args())
	if err != nil {
		log.Fatalf("could not process digi files: %+v", err)
	}
}

type qa struct {
	nts     int
	charges []float64
	hits    []float64 // number of hits per timeslice
	chans   map[uint32]int
	errs    stsxyter.ErrorCounters
	mon     stsxyter.Monitor

	hcharge *hbook.H1D
	hnhits  *hbook.H1D
	hdt     *hbook.H1D // time difference between consecutive hits
}

func newQA() *qa {
	q := &qa{
		chans:   make(map[uint32]int),
		hcharge: hbook.NewH1D(32, 0, 32),
		hnhits:  hbook.NewH1D(100, 0, 1000),
		hdt:     hbook.NewH1D(100, 0, 1000),
	}
	q.hcharge.Annotation()["name"] = "charge"
	q.hnhits.Annotation()["name"] = "hits-per-timeslice"
	q.hdt.Annotation()["name"] = "hit-dt-ns"
	return q
}

func (q *qa) fill(b dformat.Batch) {
	q.nts++
	q.errs.Add(b.Errors)
	q.mon.Add(b.Monitor)
	q.hits = append(q.hits, float64(len(b.Hits)))
	q.hnhits.Fill(float64(len(b.Hits)), 1)

	times := make([]uint64, len(b.Hits))
	for i, hit := range b.Hits {
		q.charges = append(q.charges, hit.Charge)
		q.hcharge.Fill(hit.Charge, 1)
		q.chans[hit.Address]++
		times[i] = hit.Time
	}

	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })
	for i := 1; i < len(times); i++ {
		q.hdt.Fill(float64(times[i]-times[i-1]), 1)
	}
}

func process(w io.Writer, oname string, top int, fnames []string) error {
	q := newQA()

	for _, fname := range fnames {
		err := func() error {
			f, err := os.Open(fname)
			if err != nil {
				return fmt.Errorf("could not open digi file: %w", err)
			}
			defer f.Close()

			dec := dformat.NewDecoder(bufio.NewReader(f))
			for {
				var b dformat.Batch
				err := dec.Decode(&b)
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return fmt.Errorf("could not decode digis: %w", err)
				}
				q.fill(b)
			}
		}()
		if err != nil {
			return fmt.Errorf("could not process %q: %w", fname, err)
		}
	}

	err := q.print(w, top)
	if err != nil {
		return fmt.Errorf("could not write QA summary: %w", err)
	}

	if oname != "" {
		err = q.save(oname)
		if err != nil {
			return fmt.Errorf("could not save QA histograms: %w", err)
		}
	}

	return nil
}

func (q *qa) print(w io.Writer, top int) error {
	wbuf := bufio.NewWriter(w)
	defer wbuf.Flush()

	fmt.Fprintf(wbuf, "timeslices:  % 10d\n", q.nts)
	fmt.Fprintf(wbuf, "hits:        % 10d\n", len(q.charges))
	fmt.Fprintf(wbuf, "channels:    % 10d\n", len(q.chans))
	fmt.Fprintf(wbuf, "messages:    % 10d\n", q.mon.NumMessages())
	fmt.Fprintf(wbuf, "masked:      % 10d\n", q.mon.Masked)
	fmt.Fprintf(wbuf, "missed:      % 10d\n", q.mon.MissedEvents)
	fmt.Fprintf(wbuf, "errors:      %v\n", q.errs)

	if len(q.charges) > 0 {
		mean, std := stat.MeanStdDev(q.charges, nil)
		fmt.Fprintf(wbuf, "charge:      mean=%.3f std=%.3f\n", mean, std)
	}

	if len(q.hits) > 0 {
		sorted := append([]float64(nil), q.hits...)
		sort.Float64s(sorted)
		fmt.Fprintf(wbuf, "hits/ts:     mean=%.3f median=%.3f max=%.0f\n",
			stat.Mean(sorted, nil),
			stat.Quantile(0.5, stat.Empirical, sorted, nil),
			sorted[len(sorted)-1],
		)
	}

	type channel struct {
		addr uint32
		n    int
	}
	chans := make([]channel, 0, len(q.chans))
	for addr, n := range q.chans {
		chans = append(chans, channel{addr, n})
	}
	sort.Slice(chans, func(i, j int) bool {
		if chans[i].n != chans[j].n {
			return chans[i].n > chans[j].n
		}
		return chans[i].addr < chans[j].addr
	})
	if top > len(chans) {
		top = len(chans)
	}
	if top > 0 {
		fmt.Fprintf(wbuf, "busiest channels:\n")
		for _, ch := range chans[:top] {
			fmt.Fprintf(wbuf, "  0x%08x: %d\n", ch.addr, ch.n)
		}
	}

	return wbuf.Flush()
}

func (q *qa) save(oname string) error {
	f, err := os.Create(oname)
	if err != nil {
		return fmt.Errorf("could not create output YODA file: %w", err)
	}
	defer f.Close()

	for _, h := range []*hbook.H1D{q.hcharge, q.hnhits, q.hdt} {
		raw, err := h.MarshalYODA()
		if err != nil {
			return fmt.Errorf("could not marshal histogram %q: %w", h.Name(), err)
		}
		_, err = f.Write(raw)
		if err != nil {
			return fmt.Errorf("could not write histogram %q: %w", h.Name(), err)
		}
	}

	return f.Close()
}
