// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package unpack decodes the microslices of STS timeslices into
// calibrated digis, concurrently.
package unpack // import "github.com/go-lpc/sts/unpack"

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/go-lpc/sts/internal/dformat"
	"github.com/go-lpc/sts/internal/msformat"
	"github.com/go-lpc/sts/stsxyter"
	"golang.org/x/sync/errgroup"
)

// Unpacker decodes timeslices with a pool of workers.
// An Unpacker is immutable after creation and safe for concurrent use.
type Unpacker struct {
	params stsxyter.Params
	decs   map[uint16]*stsxyter.Decoder

	workers int
	sorted  bool
	metrics *Metrics
}

// Option configures an Unpacker.
type Option func(*Unpacker)

// WithWorkers sets the maximum number of microslices decoded concurrently.
// A value <= 0 selects the number of CPUs.
func WithWorkers(n int) Option {
	return func(u *Unpacker) {
		u.workers = n
	}
}

// WithSortByTime enables the stable sorting of the hits of a timeslice
// by time.
func WithSortByTime(v bool) Option {
	return func(u *Unpacker) {
		u.sorted = v
	}
}

// WithMetrics attaches the metrics updated after each timeslice.
func WithMetrics(m *Metrics) Option {
	return func(u *Unpacker) {
		u.metrics = m
	}
}

// New creates an unpacker for the given decoding parameters and the
// per-component elink calibration tables, indexed by equipment id.
func New(p stsxyter.Params, comps map[uint16][]stsxyter.ElinkCalib, opts ...Option) (*Unpacker, error) {
	u := &Unpacker{
		params: p,
		decs:   make(map[uint16]*stsxyter.Decoder, len(comps)),
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.workers <= 0 {
		u.workers = runtime.NumCPU()
	}

	for eqid, calib := range comps {
		dec, err := stsxyter.NewDecoder(p, calib)
		if err != nil {
			return nil, fmt.Errorf("unpack: could not create decoder for component 0x%04x: %w", eqid, err)
		}
		u.decs[eqid] = dec
	}

	return u, nil
}

// Params returns the decoding parameters of the unpacker.
func (u *Unpacker) Params() stsxyter.Params { return u.params }

// Result is the outcome of the unpacking of one timeslice.
type Result struct {
	Index uint64 // timeslice index
	Start uint64 // timeslice start time, in ns

	Hits    []stsxyter.Hit
	Errors  stsxyter.ErrorCounters
	Monitor stsxyter.Monitor

	Microslices uint64 // number of decoded microslices
	Unknown     uint64 // number of microslices from unknown components
}

// Add accumulates the counters of o into res.
// Hits are not accumulated.
func (res *Result) Add(o Result) {
	res.Errors.Add(o.Errors)
	res.Monitor.Add(o.Monitor)
	res.Microslices += o.Microslices
	res.Unknown += o.Unknown
}

// Batch returns the digi batch of the result.
func (res Result) Batch() dformat.Batch {
	return dformat.Batch{
		Index:   res.Index,
		Start:   res.Start,
		Hits:    res.Hits,
		Errors:  res.Errors,
		Monitor: res.Monitor,
	}
}

// Unpack decodes all the microslices of the timeslice.
// Hits are returned in microslice order, then in message order, unless
// sorting by time was requested.
// Microslices from components without calibration are skipped and counted.
func (u *Unpacker) Unpack(ctx context.Context, ts *msformat.Timeslice) (Result, error) {
	start := time.Now()

	res := Result{
		Index: ts.Index,
		Start: ts.Start,
	}

	var (
		reps = make([]stsxyter.Report, len(ts.Microslices))
		done = make([]bool, len(ts.Microslices))
	)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(u.workers)

loop:
	for i := range ts.Microslices {
		ms := &ts.Microslices[i]
		dec, ok := u.decs[ms.Desc.EqID]
		if !ok {
			res.Unknown++
			continue
		}

		select {
		case <-gctx.Done():
			break loop
		default:
		}

		i := i
		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reps[i] = dec.Decode(ms.Content, ms.Desc.Idx, ts.Start)
			done[i] = true
			return nil
		})
	}

	err := grp.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return res, fmt.Errorf("unpack: could not unpack timeslice %d: %w", ts.Index, err)
	}

	n := 0
	for i := range reps {
		n += len(reps[i].Hits)
	}

	res.Hits = make([]stsxyter.Hit, 0, n)
	for i, rep := range reps {
		if !done[i] {
			continue
		}
		res.Microslices++
		res.Hits = append(res.Hits, rep.Hits...)
		res.Errors.Add(rep.Errors)
		res.Monitor.Add(rep.Monitor)
	}

	if u.sorted {
		sort.SliceStable(res.Hits, func(i, j int) bool {
			return res.Hits[i].Time < res.Hits[j].Time
		})
	}

	if u.metrics != nil {
		u.metrics.Observe(res, time.Since(start))
	}

	return res, nil
}
