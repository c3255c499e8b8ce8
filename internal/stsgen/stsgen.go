// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package stsgen generates synthetic STS timeslices and their matching
// run configuration.
package stsgen // import "github.com/go-lpc/sts/internal/stsgen"

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/go-lpc/sts/calib"
	"github.com/go-lpc/sts/internal/msformat"
	"github.com/go-lpc/sts/stsxyter"
)

// SysVer is the system version stamped on generated microslices.
const SysVer = 0x20

// Config describes the shape of the generated data.
type Config struct {
	Params stsxyter.Params

	Components  int    // number of components
	EqID        uint16 // equipment id of the first component
	Elinks      int    // number of elinks per component
	Microslices int    // number of microslices per component and timeslice
	Epochs      int    // number of epochs per microslice
	Hits        int    // number of hits per microslice
	Seed        int64
}

// DefaultConfig returns a small configuration for the binned firmware.
func DefaultConfig() Config {
	return Config{
		Params:      stsxyter.DefaultParams(),
		Components:  2,
		EqID:        0x1000,
		Elinks:      4,
		Microslices: 4,
		Epochs:      10,
		Hits:        16,
		Seed:        1234,
	}
}

// Generator generates timeslices.
// A Generator is not safe for concurrent use.
type Generator struct {
	cfg   Config
	rnd   *rand.Rand
	msLen uint64 // microslice length, in ns
}

// New creates a new generator.
func New(cfg Config) (*Generator, error) {
	err := cfg.Params.Validate()
	if err != nil {
		return nil, fmt.Errorf("stsgen: invalid parameters: %w", err)
	}

	maxLinks := 1 << 9
	if cfg.Params.Binned {
		maxLinks = 1 << 6
	}

	switch {
	case cfg.Components <= 0 || int(cfg.EqID)+cfg.Components > 1<<16:
		return nil, fmt.Errorf("stsgen: invalid number of components (%d)", cfg.Components)
	case cfg.Elinks <= 0 || cfg.Elinks > maxLinks:
		return nil, fmt.Errorf("stsgen: invalid number of elinks (%d)", cfg.Elinks)
	case cfg.Microslices <= 0:
		return nil, fmt.Errorf("stsgen: invalid number of microslices (%d)", cfg.Microslices)
	case cfg.Epochs <= 0:
		return nil, fmt.Errorf("stsgen: invalid number of epochs (%d)", cfg.Epochs)
	case cfg.Hits < 0:
		return nil, fmt.Errorf("stsgen: invalid number of hits (%d)", cfg.Hits)
	}

	return &Generator{
		cfg:   cfg,
		rnd:   rand.New(rand.NewSource(cfg.Seed)),
		msLen: uint64(cfg.Epochs) * cfg.Params.EpochLengthNs(),
	}, nil
}

// MicrosliceLength returns the length of a microslice, in ns.
func (g *Generator) MicrosliceLength() uint64 { return g.msLen }

// Address returns the hardware address of a channel.
func Address(eqid uint16, link, ch int) uint32 {
	return uint32(eqid)<<16 | uint32(link)<<7 | uint32(ch)
}

// Calib returns the run configuration matching the generated data.
func (g *Generator) Calib(setup string) *calib.Config {
	cfg := &calib.Config{
		Setup:      setup,
		Params:     g.cfg.Params,
		Components: make(map[uint16][]stsxyter.ElinkCalib, g.cfg.Components),
	}
	for c := 0; c < g.cfg.Components; c++ {
		eqid := g.cfg.EqID + uint16(c)
		elinks := make([]stsxyter.ElinkCalib, g.cfg.Elinks)
		for link := range elinks {
			addrs := make([]uint32, stsxyter.NumChannels)
			for ch := range addrs {
				addrs[ch] = Address(eqid, link, ch)
			}
			elinks[link].Addresses = addrs
		}
		cfg.Components[eqid] = elinks
	}
	return cfg
}

// Timeslice generates the timeslice idx.
// Microslices are ordered by time, then by component.
func (g *Generator) Timeslice(idx uint64) *msformat.Timeslice {
	ts := &msformat.Timeslice{
		Index:       idx,
		Start:       idx * uint64(g.cfg.Microslices) * g.msLen,
		Microslices: make([]msformat.Microslice, 0, g.cfg.Microslices*g.cfg.Components),
	}

	for i := 0; i < g.cfg.Microslices; i++ {
		start := ts.Start + uint64(i)*g.msLen
		for c := 0; c < g.cfg.Components; c++ {
			ts.Microslices = append(ts.Microslices, msformat.Microslice{
				Desc: msformat.Descriptor{
					EqID:   g.cfg.EqID + uint16(c),
					SysID:  msformat.SysSTS,
					SysVer: SysVer,
					Idx:    start,
				},
				Content: g.content(start),
			})
		}
	}

	return ts
}

func (g *Generator) content(start uint64) []byte {
	var (
		p      = g.cfg.Params
		binned = p.Binned
		epoch  = start / p.EpochLengthNs()
		msgs   = make([]stsxyter.Message, 0, 2+g.cfg.Hits+g.cfg.Epochs)
		epochs = make([]int, g.cfg.Hits)
	)

	for i := range epochs {
		epochs[i] = g.rnd.Intn(g.cfg.Epochs)
	}
	sort.Ints(epochs)

	tsmsb := func(e int) stsxyter.Message {
		return stsxyter.NewTsMsb(uint32((epoch+uint64(e))%p.EpochsPerCycle), binned)
	}

	msgs = append(msgs, stsxyter.NewEpoch(uint32(epoch)), tsmsb(0))
	cur := 0
	for _, e := range epochs {
		if e != cur {
			msgs = append(msgs, tsmsb(e))
			cur = e
		}
		msgs = append(msgs, stsxyter.NewHit(
			uint32(g.rnd.Intn(g.cfg.Elinks)),
			uint32(g.rnd.Intn(stsxyter.NumChannels)),
			uint32(1+g.rnd.Intn(31)),
			uint32(g.rnd.Intn(int(p.EpochLength))),
			binned,
		))
	}

	return stsxyter.AppendMessages(nil, msgs...)
}
