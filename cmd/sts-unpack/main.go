// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sts-unpack decodes STS timeslice archives into a stream of
// calibrated digis.
//
// The run configuration is read from a YAML file (-calib) or from the
// condition database (-db).
//
// Usage: sts-unpack [OPTIONS] FILE1 [FILE2 [FILE3 ...]]
//
// Example:
//
//	$> sts-unpack -calib run.yaml -o run.digi ./run_001.tsa.zst
//	sts-unpack: setup "mcbm2022": 4 components
//	sts-unpack: timeslices: 100, microslices: 400, hits: 6400
//	sts-unpack: errors: {invalid_size: 0, ...}
package main // import "github.com/go-lpc/sts/cmd/sts-unpack"

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-lpc/sts"
	"github.com/go-lpc/sts/calib"
	"github.com/go-lpc/sts/conddb"
	"github.com/go-lpc/sts/internal/alert"
	"github.com/go-lpc/sts/internal/dformat"
	"github.com/go-lpc/sts/internal/msformat"
	"github.com/go-lpc/sts/stsxyter"
	"github.com/go-lpc/sts/unpack"
	"github.com/sbinet/pmon"
)

type config struct {
	calib  string  // path to run configuration file
	dbname string  // name of condition database
	setup  string  // setup name in condition database
	legacy bool    // legacy firmware, with condition database
	run    uint    // run number, for the run summary
	oname  string  // path to output digi file
	nwrk   int     // number of workers
	sorted bool    // sort hits by time
	window int     // number of timeslices per watchdog window
	thresh float64 // watchdog error fraction threshold
	mail   bool    // send watchdog alarms by mail
}

func main() {
	xmain(os.Args[1:])
}

func xmain(args []string) {
	log.SetPrefix("sts-unpack: ")
	log.SetFlags(0)

	var (
		fset = flag.NewFlagSet("sts-unpack", flag.ExitOnError)
		cfg  config

		vers  = fset.Bool("version", false, "print version and exit")
		doMon = fset.Bool("pmon", false, "enable pmon monitoring")
		freq  = fset.Duration("freq", 1*time.Second, "pmon frequency")
	)

	fset.StringVar(&cfg.calib, "calib", "", "path to run configuration file")
	fset.StringVar(&cfg.dbname, "db", "", "name of the condition database to read the run configuration from")
	fset.StringVar(&cfg.setup, "setup", "", "setup name in the condition database (default: last setup)")
	fset.BoolVar(&cfg.legacy, "legacy", false, "legacy firmware (with -db)")
	fset.UintVar(&cfg.run, "run", 0, "run number (with -db, stores the run summary)")
	fset.StringVar(&cfg.oname, "o", "out.digi", "path to output digi file")
	fset.IntVar(&cfg.nwrk, "j", 0, "number of concurrent workers (default: number of CPUs)")
	fset.BoolVar(&cfg.sorted, "sort", false, "sort hits of each timeslice by time")
	fset.IntVar(&cfg.window, "alarm-window", 100, "number of timeslices per error-rate window (0 to disable)")
	fset.Float64Var(&cfg.thresh, "alarm-threshold", 0.01, "error fraction raising an alarm")
	fset.BoolVar(&cfg.mail, "mail", false, "send alarms by mail (MAIL_xxx environment variables)")

	fset.Usage = func() {
		fmt.Printf(`Usage: sts-unpack [OPTIONS] FILE1 [FILE2 [FILE3 ...]]

ex:
 $> sts-unpack -calib run.yaml -o run.digi ./run_001.tsa.zst

options:
`)
		fset.PrintDefaults()
	}

	err := fset.Parse(args)
	if err != nil {
		log.Fatalf("could not parse input arguments: %+v", err)
	}

	if *vers {
		v, sum := sts.Version()
		fmt.Printf("sts-unpack %s %s\n", v, sum)
		return
	}

	if fset.NArg() == 0 {
		fset.Usage()
		log.Fatalf("missing path to input timeslice file")
	}

	if (cfg.calib == "") == (cfg.dbname == "") {
		fset.Usage()
		log.Fatalf("exactly one of -calib or -db must be provided")
	}

	if *doMon {
		stop, err := monitor(filepath.Join(filepath.Dir(cfg.oname), "sts-unpack-pmon.log"), *freq)
		if err != nil {
			log.Fatalf("could not start pmon: %+v", err)
		}
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	err = run(ctx, cfg, fset.Args())
	if err != nil {
		log.Fatalf("could not unpack timeslices: %+v", err)
	}
}

func monitor(fname string, freq time.Duration) (func(), error) {
	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		return nil, fmt.Errorf("could not start monitoring: %w", err)
	}

	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("could not create pmon log file: %w", err)
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run pmon: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}

func run(ctx context.Context, cfg config, fnames []string) error {
	var (
		rcfg *calib.Config
		db   *conddb.DB
		err  error
	)

	switch {
	case cfg.calib != "":
		rcfg, err = calib.Load(cfg.calib)
		if err != nil {
			return fmt.Errorf("could not load run configuration: %w", err)
		}
	default:
		db, err = conddb.Open(cfg.dbname)
		if err != nil {
			return fmt.Errorf("could not open condition database: %w", err)
		}
		defer db.Close()

		rcfg, err = loadFromDB(ctx, db, cfg.setup, cfg.legacy)
		if err != nil {
			return fmt.Errorf("could not load run configuration: %w", err)
		}
	}
	log.Printf("setup %q: %d components", rcfg.Setup, len(rcfg.Components))

	sum, err := process(ctx, cfg, rcfg, fnames)
	if err != nil {
		return err
	}

	if db != nil && cfg.run > 0 {
		sum.Run = uint32(cfg.run)
		err = db.InsertRunSummary(ctx, sum)
		if err != nil {
			return fmt.Errorf("could not store run summary: %w", err)
		}
	}

	return nil
}

func loadFromDB(ctx context.Context, db *conddb.DB, setup string, legacy bool) (*calib.Config, error) {
	if setup == "" {
		v, err := db.LastSetup(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not get last setup: %w", err)
		}
		setup = v
	}

	comps, err := db.Components(ctx, setup)
	if err != nil {
		return nil, fmt.Errorf("could not get components of setup %q: %w", setup, err)
	}

	p := stsxyter.DefaultParams()
	if legacy {
		p = stsxyter.LegacyParams()
	}

	return &calib.Config{
		Setup:      setup,
		Params:     p,
		Components: comps,
	}, nil
}

func newAlerter(mail bool) (unpack.Alerter, error) {
	if !mail {
		return alert.Logger{Log: log.Default()}, nil
	}
	m, err := alert.FromEnv()
	if err != nil {
		return nil, err
	}
	m.Prefix = "[sts-unpack] "
	return m, nil
}

func process(ctx context.Context, cfg config, rcfg *calib.Config, fnames []string) (conddb.RunSummary, error) {
	sum := conddb.RunSummary{Setup: rcfg.Setup}

	unp, err := unpack.New(
		rcfg.Params, rcfg.Components,
		unpack.WithWorkers(cfg.nwrk),
		unpack.WithSortByTime(cfg.sorted),
	)
	if err != nil {
		return sum, fmt.Errorf("could not create unpacker: %w", err)
	}

	var wdog *unpack.Watchdog
	if cfg.window > 0 {
		a, err := newAlerter(cfg.mail)
		if err != nil {
			return sum, fmt.Errorf("could not create alerter: %w", err)
		}
		wdog = unpack.NewWatchdog(a, cfg.window, cfg.thresh)
	}

	o, err := os.Create(cfg.oname)
	if err != nil {
		return sum, fmt.Errorf("could not create output digi file: %w", err)
	}
	defer o.Close()

	bw := bufio.NewWriter(o)
	enc := dformat.NewEncoder(bw)

	var tot unpack.Result
	for _, fname := range fnames {
		err := func() error {
			r, err := msformat.Open(fname)
			if err != nil {
				return fmt.Errorf("could not open timeslice file: %w", err)
			}
			defer r.Close()

			for {
				var ts msformat.Timeslice
				err := r.Decode(&ts)
				if err != nil {
					if errors.Is(err, io.EOF) {
						return nil
					}
					return fmt.Errorf("could not decode timeslice: %w", err)
				}

				res, err := unp.Unpack(ctx, &ts)
				if err != nil {
					return err
				}

				err = enc.Encode(res.Batch())
				if err != nil {
					return fmt.Errorf("could not write digis: %w", err)
				}

				sum.Timeslices++
				sum.Hits += uint64(len(res.Hits))
				tot.Add(res)

				if wdog != nil {
					err = wdog.Observe(res)
					if err != nil {
						log.Printf("%+v", err)
					}
				}
			}
		}()
		if err != nil {
			return sum, fmt.Errorf("could not process %q: %w", fname, err)
		}
	}

	err = bw.Flush()
	if err != nil {
		return sum, fmt.Errorf("could not flush output digi file: %w", err)
	}

	err = o.Close()
	if err != nil {
		return sum, fmt.Errorf("could not close output digi file: %w", err)
	}

	sum.Microslices = tot.Microslices
	sum.Errors = tot.Errors
	sum.Monitor = tot.Monitor

	log.Printf(
		"timeslices: %d, microslices: %d, hits: %d",
		sum.Timeslices, sum.Microslices, sum.Hits,
	)
	if tot.Unknown > 0 {
		log.Printf("skipped %d microslices from unknown components", tot.Unknown)
	}
	log.Printf("errors: %v", sum.Errors)

	return sum, nil
}
