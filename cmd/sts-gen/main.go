// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sts-gen generates synthetic STS timeslices and the matching
// run configuration.
//
// Usage: sts-gen [OPTIONS]
//
// Example:
//
//	$> sts-gen -o run.tsa.zst -calib run.yaml -n 100
//	sts-gen: generated 100 timeslices (6400 hits) into "run.tsa.zst"
package main // import "github.com/go-lpc/sts/cmd/sts-gen"

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-lpc/sts/calib"
	"github.com/go-lpc/sts/internal/msformat"
	"github.com/go-lpc/sts/internal/stsgen"
	"github.com/go-lpc/sts/stsxyter"
)

func main() {
	xmain(os.Args[1:])
}

func xmain(args []string) {
	log.SetPrefix("sts-gen: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("sts-gen", flag.ExitOnError)
		def  = stsgen.DefaultConfig()

		oname  = fset.String("o", "out.tsa", "path to output timeslice file (.zst for compression)")
		cname  = fset.String("calib", "", "path to output run configuration file")
		setup  = fset.String("setup", "sts-gen", "name of the generated setup")
		nts    = fset.Int("n", 10, "number of timeslices to generate")
		legacy = fset.Bool("legacy", false, "generate legacy (non-binned) firmware messages")
		comps  = fset.Int("comps", def.Components, "number of components")
		eqid   = fset.Uint("eqid", uint(def.EqID), "equipment id of the first component")
		elinks = fset.Int("elinks", def.Elinks, "number of elinks per component")
		nms    = fset.Int("ms", def.Microslices, "number of microslices per component and timeslice")
		epochs = fset.Int("epochs", def.Epochs, "number of epochs per microslice")
		hits   = fset.Int("hits", def.Hits, "number of hits per microslice")
		seed   = fset.Int64("seed", def.Seed, "seed for the random number generator")
	)

	fset.Usage = func() {
		fmt.Printf(`Usage: sts-gen [OPTIONS]

ex:
 $> sts-gen -o run.tsa.zst -calib run.yaml -n 100

options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if *oname == "" {
		fset.Usage()
		log.Fatalf("invalid output timeslice file name")
	}

	if *eqid > 0xffff {
		log.Fatalf("invalid equipment id 0x%x", *eqid)
	}

	cfg := stsgen.Config{
		Params:      stsxyter.DefaultParams(),
		Components:  *comps,
		EqID:        uint16(*eqid),
		Elinks:      *elinks,
		Microslices: *nms,
		Epochs:      *epochs,
		Hits:        *hits,
		Seed:        *seed,
	}
	if *legacy {
		cfg.Params = stsxyter.LegacyParams()
	}

	n, err := process(*oname, *cname, *setup, *nts, cfg)
	if err != nil {
		log.Fatalf("could not generate timeslices: %+v", err)
	}
	log.Printf("generated %d timeslices (%d hits) into %q", *nts, n, *oname)
}

func process(oname, cname, setup string, nts int, cfg stsgen.Config) (int, error) {
	gen, err := stsgen.New(cfg)
	if err != nil {
		return 0, fmt.Errorf("could not create generator: %w", err)
	}

	if cname != "" {
		f, err := os.Create(cname)
		if err != nil {
			return 0, fmt.Errorf("could not create run configuration file: %w", err)
		}
		defer f.Close()

		err = calib.Encode(f, gen.Calib(setup))
		if err != nil {
			return 0, fmt.Errorf("could not write run configuration: %w", err)
		}

		err = f.Close()
		if err != nil {
			return 0, fmt.Errorf("could not close run configuration file: %w", err)
		}
	}

	w, err := msformat.Create(oname)
	if err != nil {
		return 0, fmt.Errorf("could not create output timeslice file: %w", err)
	}
	defer w.Close()

	for i := 0; i < nts; i++ {
		err = w.Encode(gen.Timeslice(uint64(i)))
		if err != nil {
			return 0, fmt.Errorf("could not write timeslice %d: %w", i, err)
		}
	}

	err = w.Close()
	if err != nil {
		return 0, fmt.Errorf("could not close output timeslice file: %w", err)
	}

	return nts * cfg.Components * cfg.Microslices * cfg.Hits, nil
}
