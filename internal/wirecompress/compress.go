// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wirecompress implements the optional wire-level compression
// negotiated via the START/STARTED compression field. Compression only ever
// touches bytes in flight; the stream cache always stores decompressed
// originals.
package wirecompress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
)

// Mode is a negotiated wire-compression algorithm.
type Mode string

const (
	ModeNone Mode = ""
	ModeZstd Mode = "zstd"
	ModeGzip Mode = "gzip"
)

// Valid reports whether m is a recognized mode, "" (none) included.
func (m Mode) Valid() bool {
	switch m {
	case ModeNone, ModeZstd, ModeGzip:
		return true
	default:
		return false
	}
}

// Compress compresses data under mode. ModeNone returns data unchanged.
func Compress(mode Mode, data []byte) ([]byte, error) {
	switch mode {
	case ModeNone:
		return data, nil
	case ModeZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	case ModeGzip:
		var buf bytes.Buffer
		gw := pgzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			gw.Close()
			return nil, fmt.Errorf("gzip compressing: %w", err)
		}
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("closing gzip writer: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unknown compression mode: %q", mode)
	}
}

// Decompress reverses Compress.
func Decompress(mode Mode, data []byte) ([]byte, error) {
	switch mode {
	case ModeNone:
		return data, nil
	case ModeZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	case ModeGzip:
		gr, err := pgzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	default:
		return nil, fmt.Errorf("unknown compression mode: %q", mode)
	}
}
