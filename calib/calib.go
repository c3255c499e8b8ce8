// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package calib loads the run configuration of the STS unpacker:
// the firmware variant, the clock and the per-component elink
// calibration tables.
//
// Configurations are stored as YAML documents:
//
//	setup: mcbm2022
//	format: binned        # binned | legacy
//	clock: {nom: 25, den: 8}
//	components:
//	  - eqid: 0x1003
//	    elinks:
//	      - time-offset: -12
//	        base: 0x10008000
//	        masked: [3, 17]
package calib // import "github.com/go-lpc/sts/calib"

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/go-lpc/sts/stsxyter"
	"gopkg.in/yaml.v3"
)

const (
	FormatBinned = "binned"
	FormatLegacy = "legacy"
)

// Config is a run configuration.
type Config struct {
	Setup      string
	Params     stsxyter.Params
	Components map[uint16][]stsxyter.ElinkCalib // elink tables, by equipment id
}

// Elinks returns the elink calibration table of the component eqid.
func (cfg *Config) Elinks(eqid uint16) ([]stsxyter.ElinkCalib, bool) {
	elinks, ok := cfg.Components[eqid]
	return elinks, ok
}

// EqIDs returns the sorted list of equipment ids of the configuration.
func (cfg *Config) EqIDs() []uint16 {
	ids := make([]uint16, 0, len(cfg.Components))
	for id := range cfg.Components {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type config struct {
	Setup          string      `yaml:"setup"`
	Format         string      `yaml:"format"`
	Clock          *clock      `yaml:"clock,omitempty"`
	EpochLength    uint64      `yaml:"epoch-length,omitempty"`
	EpochsPerCycle uint64      `yaml:"epochs-per-cycle,omitempty"`
	Components     []component `yaml:"components"`
}

type clock struct {
	Nom uint64 `yaml:"nom"`
	Den uint64 `yaml:"den"`
}

type component struct {
	EqID   uint16  `yaml:"eqid"`
	Elinks []elink `yaml:"elinks"`
}

type elink struct {
	TimeOffset int64    `yaml:"time-offset,omitempty"`
	Base       uint32   `yaml:"base,omitempty"`
	Addresses  []uint32 `yaml:"addresses,omitempty,flow"`
	Masked     []uint32 `yaml:"masked,omitempty,flow"`
	Disabled   bool     `yaml:"disabled,omitempty"` // no address table
}

// Load reads the run configuration from the named YAML file.
func Load(fname string) (*Config, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("calib: could not open %q: %w", fname, err)
	}
	defer f.Close()

	cfg, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("calib: could not load %q: %w", fname, err)
	}
	return cfg, nil
}

// Decode reads and validates a run configuration from r.
func Decode(r io.Reader) (*Config, error) {
	var raw config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("calib: could not decode YAML: %w", err)
	}

	var p stsxyter.Params
	switch raw.Format {
	case "", FormatBinned:
		p = stsxyter.DefaultParams()
	case FormatLegacy:
		p = stsxyter.LegacyParams()
	default:
		return nil, fmt.Errorf("calib: unknown firmware format %q", raw.Format)
	}

	if raw.Clock != nil {
		p.ClockNom = raw.Clock.Nom
		p.ClockDen = raw.Clock.Den
	}
	if raw.EpochLength != 0 {
		p.EpochLength = raw.EpochLength
	}
	if raw.EpochsPerCycle != 0 {
		p.EpochsPerCycle = raw.EpochsPerCycle
	}

	err = p.Validate()
	if err != nil {
		return nil, fmt.Errorf("calib: invalid parameters: %w", err)
	}

	cfg := &Config{
		Setup:      raw.Setup,
		Params:     p,
		Components: make(map[uint16][]stsxyter.ElinkCalib, len(raw.Components)),
	}

	for _, comp := range raw.Components {
		if _, dup := cfg.Components[comp.EqID]; dup {
			return nil, fmt.Errorf("calib: duplicate component 0x%04x", comp.EqID)
		}
		elinks := make([]stsxyter.ElinkCalib, len(comp.Elinks))
		for i, link := range comp.Elinks {
			elinks[i], err = link.calib()
			if err != nil {
				return nil, fmt.Errorf("calib: component 0x%04x elink %d: %w", comp.EqID, i, err)
			}
		}
		cfg.Components[comp.EqID] = elinks
	}

	return cfg, nil
}

func (link elink) calib() (stsxyter.ElinkCalib, error) {
	var (
		calib = stsxyter.ElinkCalib{TimeOffset: link.TimeOffset}
		n     = len(link.Addresses)
	)

	switch {
	case link.Disabled:
		if n > 0 || link.Base != 0 {
			return calib, fmt.Errorf("disabled elink with an address table")
		}
	case n > stsxyter.NumChannels:
		return calib, fmt.Errorf("too many addresses (%d > %d)", n, stsxyter.NumChannels)
	case n > 0:
		calib.Addresses = append([]uint32(nil), link.Addresses...)
	default:
		calib.Addresses = make([]uint32, stsxyter.NumChannels)
		for ch := range calib.Addresses {
			calib.Addresses[ch] = link.Base + uint32(ch)
		}
	}

	if len(link.Masked) > 0 {
		calib.Masked = make([]bool, stsxyter.NumChannels)
		for _, ch := range link.Masked {
			if ch >= stsxyter.NumChannels {
				return calib, fmt.Errorf("invalid masked channel %d", ch)
			}
			calib.Masked[ch] = true
		}
	}

	return calib, nil
}

// Encode writes the run configuration as YAML to w.
func Encode(w io.Writer, cfg *Config) error {
	raw := config{
		Setup:  cfg.Setup,
		Format: FormatLegacy,
		Clock:  &clock{Nom: cfg.Params.ClockNom, Den: cfg.Params.ClockDen},

		EpochLength:    cfg.Params.EpochLength,
		EpochsPerCycle: cfg.Params.EpochsPerCycle,
	}
	if cfg.Params.Binned {
		raw.Format = FormatBinned
	}

	for _, id := range cfg.EqIDs() {
		comp := component{EqID: id}
		for _, calib := range cfg.Components[id] {
			comp.Elinks = append(comp.Elinks, elinkFrom(calib))
		}
		raw.Components = append(raw.Components, comp)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	err := enc.Encode(raw)
	if err != nil {
		return fmt.Errorf("calib: could not encode YAML: %w", err)
	}
	err = enc.Close()
	if err != nil {
		return fmt.Errorf("calib: could not flush YAML encoder: %w", err)
	}
	return nil
}

func elinkFrom(calib stsxyter.ElinkCalib) elink {
	link := elink{TimeOffset: calib.TimeOffset}
	switch {
	case len(calib.Addresses) == 0:
		link.Disabled = true
	case isContiguous(calib.Addresses):
		link.Base = calib.Addresses[0]
	default:
		link.Addresses = append([]uint32(nil), calib.Addresses...)
	}
	for ch, masked := range calib.Masked {
		if masked {
			link.Masked = append(link.Masked, uint32(ch))
		}
	}
	return link
}

// isContiguous reports whether addresses is a full table of consecutive
// addresses, which can be described by its base address alone.
func isContiguous(addrs []uint32) bool {
	if len(addrs) != stsxyter.NumChannels {
		return false
	}
	for ch, addr := range addrs {
		if addr != addrs[0]+uint32(ch) {
			return false
		}
	}
	return true
}
