// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dformat describes and handles streams of unpacked STS digis.
//
// A digi stream is a sequence of CBOR-encoded batches, one batch per
// timeslice.
package dformat // import "github.com/go-lpc/sts/internal/dformat"

import (
	"bytes"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-lpc/sts/stsxyter"
)

// Version is the version of the digi stream format.
const Version = 1

// Batch holds the digis and counters of one timeslice.
type Batch struct {
	Index   uint64 // timeslice index
	Start   uint64 // timeslice start time, in ns
	Hits    []stsxyter.Hit
	Errors  stsxyter.ErrorCounters
	Monitor stsxyter.Monitor
}

type wbatch struct {
	Version uint8                  `cbor:"0,keyasint"`
	Index   uint64                 `cbor:"1,keyasint"`
	Start   uint64                 `cbor:"2,keyasint"`
	Hits    []whit                 `cbor:"3,keyasint"`
	Errors  stsxyter.ErrorCounters `cbor:"4,keyasint"`
	Monitor stsxyter.Monitor       `cbor:"5,keyasint"`
}

type whit struct {
	_       struct{} `cbor:",toarray"`
	Address uint32
	Charge  float64
	Time    uint64
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("dformat: could not create CBOR encoding mode: %w", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 27,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("dformat: could not create CBOR decoding mode: %w", err))
	}
}

// Encoder writes digi batches to an output stream.
type Encoder struct {
	enc *cbor.Encoder
	buf wbatch
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{enc: encMode.NewEncoder(w)}
}

// Encode writes the batch to the stream.
func (enc *Encoder) Encode(b Batch) error {
	enc.buf.fill(b)
	err := enc.enc.Encode(&enc.buf)
	if err != nil {
		return fmt.Errorf("dformat: could not encode batch %d: %w", b.Index, err)
	}
	return nil
}

// Decoder reads digi batches from an input stream.
type Decoder struct {
	dec *cbor.Decoder
	buf wbatch
}

// NewDecoder returns a new Decoder that reads from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: decMode.NewDecoder(r)}
}

// Decode reads the next batch from the stream.
// Decode returns io.EOF at the end of the stream.
func (dec *Decoder) Decode(b *Batch) error {
	dec.buf = wbatch{Hits: dec.buf.Hits[:0]}
	err := dec.dec.Decode(&dec.buf)
	if err != nil {
		if err == io.EOF {
			return io.EOF
		}
		return fmt.Errorf("dformat: could not decode batch: %w", err)
	}
	return dec.buf.load(b)
}

// Marshal returns the CBOR encoding of the batch.
func Marshal(b Batch) ([]byte, error) {
	var buf bytes.Buffer
	err := NewEncoder(&buf).Encode(b)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a CBOR-encoded batch.
func Unmarshal(p []byte, b *Batch) error {
	var wb wbatch
	err := decMode.Unmarshal(p, &wb)
	if err != nil {
		return fmt.Errorf("dformat: could not decode batch: %w", err)
	}
	return wb.load(b)
}

func (wb *wbatch) fill(b Batch) {
	wb.Version = Version
	wb.Index = b.Index
	wb.Start = b.Start
	wb.Errors = b.Errors
	wb.Monitor = b.Monitor
	wb.Hits = wb.Hits[:0]
	for _, hit := range b.Hits {
		wb.Hits = append(wb.Hits, whit{
			Address: hit.Address,
			Charge:  hit.Charge,
			Time:    hit.Time,
		})
	}
}

func (wb *wbatch) load(b *Batch) error {
	if wb.Version != Version {
		return fmt.Errorf("dformat: invalid batch version (got=%d, want=%d)", wb.Version, Version)
	}
	b.Index = wb.Index
	b.Start = wb.Start
	b.Errors = wb.Errors
	b.Monitor = wb.Monitor
	b.Hits = make([]stsxyter.Hit, len(wb.Hits))
	for i, hit := range wb.Hits {
		b.Hits[i] = stsxyter.Hit{
			Address: hit.Address,
			Charge:  hit.Charge,
			Time:    hit.Time,
		}
	}
	return nil
}
