// Copyright 2024 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package msformat

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-lpc/sts/internal/mmap"
	"github.com/klauspost/compress/zstd"
)

// Ext is the file name extension of zstd-compressed timeslice archives.
const Ext = ".zst"

// Reader reads timeslices from a file.
type Reader struct {
	*Decoder
	close func() error
}

// Open opens the named timeslice archive for reading.
// Names ending with ".zst" are read through a zstd decompressor,
// other files are memory-mapped.
func Open(fname string) (*Reader, error) {
	if strings.HasSuffix(fname, Ext) {
		f, err := os.Open(fname)
		if err != nil {
			return nil, fmt.Errorf("msformat: could not open %q: %w", fname, err)
		}
		zr, err := zstd.NewReader(bufio.NewReader(f))
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("msformat: could not create zstd reader for %q: %w", fname, err)
		}
		return &Reader{
			Decoder: NewDecoder(zr),
			close: func() error {
				zr.Close()
				return f.Close()
			},
		}, nil
	}

	h, err := mmap.Open(fname)
	if err != nil {
		return nil, fmt.Errorf("msformat: could not open %q: %w", fname, err)
	}
	return &Reader{
		Decoder: NewDecoder(io.NewSectionReader(h, 0, int64(h.Len()))),
		close:   h.Close,
	}, nil
}

// Close releases the resources held by the reader.
func (r *Reader) Close() error {
	if r.close == nil {
		return nil
	}
	err := r.close()
	r.close = nil
	if err != nil {
		return fmt.Errorf("msformat: could not close reader: %w", err)
	}
	return nil
}

// Writer writes timeslices to a file.
type Writer struct {
	*Encoder
	close func() error
}

// Create creates the named timeslice archive.
// Names ending with ".zst" are compressed with zstd.
func Create(fname string) (*Writer, error) {
	f, err := os.Create(fname)
	if err != nil {
		return nil, fmt.Errorf("msformat: could not create %q: %w", fname, err)
	}

	bw := bufio.NewWriter(f)
	if !strings.HasSuffix(fname, Ext) {
		return &Writer{
			Encoder: NewEncoder(bw),
			close: func() error {
				err := bw.Flush()
				if err != nil {
					_ = f.Close()
					return err
				}
				return f.Close()
			},
		}, nil
	}

	zw, err := zstd.NewWriter(bw, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("msformat: could not create zstd writer for %q: %w", fname, err)
	}
	return &Writer{
		Encoder: NewEncoder(zw),
		close: func() error {
			err := zw.Close()
			if err != nil {
				_ = f.Close()
				return err
			}
			err = bw.Flush()
			if err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}, nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	if w.close == nil {
		return nil
	}
	err := w.close()
	w.close = nil
	if err != nil {
		return fmt.Errorf("msformat: could not close writer: %w", err)
	}
	return nil
}
