// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command sts-node starts a TDAQ server unpacking STS timeslices.
//
// The node receives timeslices on its /timeslices input and sends the
// CBOR-encoded digi batches on its /digis output.
// Unpacking metrics are exposed in the Prometheus format.
package main // import "github.com/go-lpc/sts/cmd/sts-node"

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/sts/internal/alert"
	"github.com/go-lpc/sts/unpack"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cname  = flag.String("calib", "", "path to run configuration file (overridden by /config payload)")
	maddr  = flag.String("metrics", ":9090", "[ip]:[port] to serve Prometheus metrics on (empty to disable)")
	lname  = flag.String("log", "", "path to rotated log file")
	nwrk   = flag.Int("j", 0, "number of concurrent workers (default: number of CPUs)")
	sorted = flag.Bool("sort", false, "sort hits of each timeslice by time")
	window = flag.Int("alarm-window", 100, "number of timeslices per error-rate window (0 to disable)")
	thresh = flag.Float64("alarm-threshold", 0.01, "error fraction raising an alarm")
	mail   = flag.Bool("mail", false, "send alarms by mail (MAIL_xxx environment variables)")
)

func main() {
	cmd := flags.New()

	var out io.Writer = os.Stdout
	if *lname != "" {
		rot := newRotator(*lname)
		defer rot.Close()
		out = io.MultiWriter(os.Stdout, rot)
	}
	msg := log.New(out, "sts-node: ", 0)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := unpack.NewMetrics(reg)

	if *maddr != "" {
		go func() {
			err := http.ListenAndServe(*maddr, newMux(reg))
			if err != nil {
				msg.Printf("could not serve metrics: %+v", err)
			}
		}()
	}

	var wdog *unpack.Watchdog
	if *window > 0 {
		a, err := newAlerter(*mail, msg)
		if err != nil {
			msg.Fatalf("could not create alerter: %+v", err)
		}
		wdog = unpack.NewWatchdog(a, *window, *thresh)
	}

	node := unpack.NewServer(
		*cname, wdog,
		unpack.WithWorkers(*nwrk),
		unpack.WithSortByTime(*sorted),
		unpack.WithMetrics(metrics),
	)

	srv := tdaq.New(cmd, out)
	srv.CmdHandle("/config", node.OnConfig)
	srv.CmdHandle("/init", node.OnInit)
	srv.CmdHandle("/reset", node.OnReset)
	srv.CmdHandle("/start", node.OnStart)
	srv.CmdHandle("/stop", node.OnStop)
	srv.CmdHandle("/quit", node.OnQuit)

	srv.InputHandle("/timeslices", node.Timeslices)
	srv.OutputHandle("/digis", node.Digis)

	err := srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func newRotator(fname string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   fname,
		MaxSize:    100, // MB
		MaxAge:     28,  // days
		MaxBackups: 5,
		Compress:   true,
	}
}

func newMux(reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func newAlerter(mail bool, msg *log.Logger) (unpack.Alerter, error) {
	if !mail {
		return alert.Logger{Log: msg}, nil
	}
	m, err := alert.FromEnv()
	if err != nil {
		return nil, err
	}
	m.Prefix = "[sts-node] "
	return m, nil
}
