// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package unpack

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/go-daq/tdaq"
	"github.com/go-lpc/sts/calib"
	"github.com/go-lpc/sts/internal/dformat"
	"github.com/go-lpc/sts/internal/msformat"
)

// Server is a TDAQ node unpacking the timeslices received on its
// "/timeslices" input into digi batches sent on its "/digis" output.
//
// The /config command carries the path to the run configuration file.
type Server struct {
	mu sync.Mutex

	fname string // run configuration file
	cfg   *calib.Config
	opts  []Option
	unp   *Unpacker
	wdog  *Watchdog

	total Result // run totals
	nts   uint64 // number of timeslices in the run
	nhits uint64 // number of hits in the run

	digis chan []byte
}

// NewServer creates a new unpacking node.
// The run configuration is read from fname unless the /config command
// provides another one.
// wdog may be nil.
func NewServer(fname string, wdog *Watchdog, opts ...Option) *Server {
	return &Server{
		fname: fname,
		opts:  opts,
		wdog:  wdog,
	}
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")

	fname := srv.fname
	if len(req.Body) > 0 {
		dec := tdaq.NewDecoder(bytes.NewReader(req.Body))
		fname = dec.ReadStr()
		if err := dec.Err(); err != nil {
			ctx.Msg.Errorf("could not decode /config payload: %+v", err)
			return fmt.Errorf("could not decode /config payload: %w", err)
		}
	}

	cfg, err := calib.Load(fname)
	if err != nil {
		ctx.Msg.Errorf("could not load run configuration: %+v", err)
		return fmt.Errorf("could not load run configuration: %w", err)
	}
	ctx.Msg.Infof("setup %q: %d components", cfg.Setup, len(cfg.Components))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.fname = fname
	srv.cfg = cfg

	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.cfg == nil {
		ctx.Msg.Errorf("/init before /config")
		return fmt.Errorf("unpack: no run configuration")
	}

	unp, err := New(srv.cfg.Params, srv.cfg.Components, srv.opts...)
	if err != nil {
		ctx.Msg.Errorf("could not create unpacker: %+v", err)
		return fmt.Errorf("could not create unpacker: %w", err)
	}
	srv.unp = unp
	srv.digis = make(chan []byte, 1024)
	srv.reset()

	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	srv.digis = make(chan []byte, 1024)
	srv.reset()
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.unp == nil {
		ctx.Msg.Errorf("/start before /init")
		return fmt.Errorf("unpack: no unpacker")
	}
	srv.reset()
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()

	ctx.Msg.Debugf(
		"received /stop command... -> timeslices=%d, hits=%d",
		srv.nts, srv.nhits,
	)
	ctx.Msg.Infof("errors: %v", srv.total.Errors)
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	return nil
}

func (srv *Server) reset() {
	srv.total = Result{}
	srv.nts = 0
	srv.nhits = 0
	if srv.wdog != nil {
		srv.wdog.Reset()
	}
}

// Summary returns the number of timeslices and hits, and the accumulated
// counters of the current run.
func (srv *Server) Summary() (nts, nhits uint64, total Result) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.nts, srv.nhits, srv.total
}

// Timeslices is the input handler of the node.
func (srv *Server) Timeslices(ctx tdaq.Context, src tdaq.Frame) error {
	srv.mu.Lock()
	unp := srv.unp
	digis := srv.digis
	srv.mu.Unlock()

	if unp == nil {
		return fmt.Errorf("unpack: received timeslice before /init")
	}

	var ts msformat.Timeslice
	err := msformat.NewDecoder(bytes.NewReader(src.Body)).Decode(&ts)
	if err != nil {
		ctx.Msg.Errorf("could not decode timeslice: %+v", err)
		return fmt.Errorf("could not decode timeslice: %w", err)
	}

	res, err := unp.Unpack(ctx.Ctx, &ts)
	if err != nil {
		return err
	}

	raw, err := dformat.Marshal(res.Batch())
	if err != nil {
		ctx.Msg.Errorf("could not encode digis of timeslice %d: %+v", ts.Index, err)
		return fmt.Errorf("could not encode digis of timeslice %d: %w", ts.Index, err)
	}

	srv.mu.Lock()
	srv.nts++
	srv.nhits += uint64(len(res.Hits))
	srv.total.Add(res)
	if srv.wdog != nil {
		err = srv.wdog.Observe(res)
	}
	srv.mu.Unlock()

	if err != nil {
		ctx.Msg.Warnf("%+v", err)
	}

	select {
	case <-ctx.Ctx.Done():
	case digis <- raw:
	}
	return nil
}

// Digis is the output handler of the node.
func (srv *Server) Digis(ctx tdaq.Context, dst *tdaq.Frame) error {
	srv.mu.Lock()
	digis := srv.digis
	srv.mu.Unlock()

	select {
	case <-ctx.Ctx.Done():
		dst.Body = nil
	case raw := <-digis:
		dst.Body = raw
	}
	return nil
}
