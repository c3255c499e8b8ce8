// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package stsxyter

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Encoder writes STS-XYTER messages to an output stream.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 0, 64*MessageSize),
	}
}

// Encode writes the messages to the underlying stream.
func (enc *Encoder) Encode(msgs ...Message) error {
	if enc.err != nil {
		return enc.err
	}

	enc.buf = AppendMessages(enc.buf[:0], msgs...)
	_, enc.err = enc.w.Write(enc.buf)
	if enc.err != nil {
		enc.err = fmt.Errorf("stsxyter: could not write %d messages: %w", len(msgs), enc.err)
	}
	return enc.err
}

// AppendMessages appends the binary representation of msgs to dst.
func AppendMessages(dst []byte, msgs ...Message) []byte {
	for _, m := range msgs {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(m))
	}
	return dst
}
