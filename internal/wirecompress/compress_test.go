// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wirecompress

import (
	"bytes"
	"testing"
)

func TestCompressDecompress_None(t *testing.T) {
	data := []byte("hello world")
	c, err := Compress(ModeNone, data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if !bytes.Equal(c, data) {
		t.Error("expected ModeNone to pass data through unchanged")
	}
}

func TestCompressDecompress_Zstd(t *testing.T) {
	data := bytes.Repeat([]byte("audio-sample-data"), 1000)
	c, err := Compress(ModeZstd, data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	d, err := Decompress(ModeZstd, c)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(d, data) {
		t.Error("roundtrip mismatch for zstd")
	}
}

func TestCompressDecompress_Gzip(t *testing.T) {
	data := bytes.Repeat([]byte("audio-sample-data"), 1000)
	c, err := Compress(ModeGzip, data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	d, err := Decompress(ModeGzip, c)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(d, data) {
		t.Error("roundtrip mismatch for gzip")
	}
}

func TestMode_Valid(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeZstd, ModeGzip} {
		if !m.Valid() {
			t.Errorf("expected %q to be valid", m)
		}
	}
	if Mode("bogus").Valid() {
		t.Error("expected unknown mode to be invalid")
	}
}
