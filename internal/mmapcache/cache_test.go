// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package mmapcache

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// pageSize is the unit mmap.MapRegion requires segment offsets to be a
// multiple of; tests that need more than one segment scale off it instead of
// a hardcoded size.
var pageSize = int64(os.Getpagesize())

func TestCreateOpenClose_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")

	c, err := Create(path, 0, DefaultSegmentSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := c.Write(0, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := Open(path, DefaultSegmentSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c2.Close()

	data, err := c2.Read(0, 5)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected 'hello', got %q", data)
	}
}

func TestCreate_FailsIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, DefaultSegmentSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	if _, err := Create(path, 0, DefaultSegmentSize); err == nil {
		t.Fatal("expected error creating over existing file")
	}
}

func TestWriteRead_WithinSegment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	payload := bytes.Repeat([]byte("a"), 100)
	if _, err := c.Write(10, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := c.Read(10, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("read data does not match written data")
	}
}

func TestWriteRead_CrossesSegmentBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	segSize := pageSize
	c, err := Create(path, 0, segSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	payload := bytes.Repeat([]byte("xy"), 50) // 100 bytes, spans the segment boundary
	offset := segSize - 40
	if _, err := c.Write(offset, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := c.Read(offset, int64(len(payload)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("read across segment boundary does not match written data")
	}
}

func TestWriteBatchReadBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	writes := []WriteOp{
		{Offset: 0, Data: []byte("one")},
		{Offset: 10, Data: []byte("two")},
		{Offset: 20, Data: []byte("three")},
	}
	ns, errs := c.WriteBatch(writes)
	for i, err := range errs {
		if err != nil {
			t.Fatalf("WriteBatch op %d: %v", i, err)
		}
		if ns[i] != len(writes[i].Data) {
			t.Errorf("op %d: expected %d bytes written, got %d", i, len(writes[i].Data), ns[i])
		}
	}

	reads := []ReadOp{
		{Offset: 0, Length: 3},
		{Offset: 10, Length: 3},
		{Offset: 20, Length: 5},
	}
	results, rerrs := c.ReadBatch(reads)
	want := []string{"one", "two", "three"}
	for i, err := range rerrs {
		if err != nil {
			t.Fatalf("ReadBatch op %d: %v", i, err)
		}
		if string(results[i]) != want[i] {
			t.Errorf("op %d: expected %q, got %q", i, want[i], results[i])
		}
	}
}

func TestWriteBatch_CapsAtBatchOperationLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	ops := make([]WriteOp, BatchOperationLimit+50)
	for i := range ops {
		ops[i] = WriteOp{Offset: 0, Data: []byte("x")}
	}

	ns, errs := c.WriteBatch(ops)
	if len(ns) != BatchOperationLimit {
		t.Errorf("expected result length capped at %d, got %d", BatchOperationLimit, len(ns))
	}
	if len(errs) != BatchOperationLimit {
		t.Errorf("expected error slice capped at %d, got %d", BatchOperationLimit, len(errs))
	}
}

func TestResize_GrowAndShrink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	segSize := pageSize
	c, err := Create(path, 0, segSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	grownSize := segSize*3 + 8
	if err := c.Resize(grownSize); err != nil {
		t.Fatalf("Resize grow: %v", err)
	}
	if c.FileSize() != grownSize {
		t.Errorf("expected FileSize %d, got %d", grownSize, c.FileSize())
	}
	writeOffset := segSize*2 + 30
	if _, err := c.Write(writeOffset, []byte("grown")); err != nil {
		t.Fatalf("Write into grown region: %v", err)
	}

	shrunkSize := segSize - 14
	if err := c.Resize(shrunkSize); err != nil {
		t.Fatalf("Resize shrink: %v", err)
	}
	if c.FileSize() != shrunkSize {
		t.Errorf("expected FileSize %d, got %d", shrunkSize, c.FileSize())
	}
}

func TestFinalize_SetsExactLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	if _, err := c.Write(0, []byte("hello world")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Finalize(11); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if c.FileSize() != 11 {
		t.Errorf("expected FileSize 11, got %d", c.FileSize())
	}
}

func TestFlush_ThenReopen_ByteForByte(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	payload := bytes.Repeat([]byte("z"), 500)
	if _, err := c.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	c2, err := Open(path, 4096)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c2.Close()

	data, err := c2.Read(0, int64(len(payload)))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Error("reopened cache does not match flushed content")
	}
}

func TestPrefetchEvict_NoOpSafety(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	if _, err := c.Write(0, []byte("data")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Must not panic or error regardless of whether the range is mapped.
	c.Prefetch(0, 4)
	c.Evict(0, 4)
	c.Prefetch(1000, 100)
	c.Evict(1000, 100)
}

func TestRead_PastFileSizeReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	if _, err := c.Write(0, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := c.Read(100, 10)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("expected empty read past file size, got %d bytes", len(data))
	}
}

func TestReadInto_FillsCallerBuffer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	payload := []byte("hello world")
	if _, err := c.Write(0, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	data, err := c.ReadInto(0, buf[:len(payload)])
	if err != nil {
		t.Fatalf("ReadInto: %v", err)
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("expected %q, got %q", payload, data)
	}
	if &data[0] != &buf[0] {
		t.Error("expected ReadInto to return a sub-slice of the caller's buffer, not a fresh allocation")
	}

	// A range past file_size truncates the returned slice rather than erroring.
	empty, err := c.ReadInto(1000, buf)
	if err != nil {
		t.Fatalf("ReadInto past file size: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty result past file size, got %d bytes", len(empty))
	}
}

func TestRead_ConcurrentUnmappedSegments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	segSize := pageSize
	c, err := Create(path, 0, segSize)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	const segments = 8
	if err := c.Resize(segSize * segments); err != nil {
		t.Fatalf("Resize: %v", err)
	}
	for i := int64(0); i < segments; i++ {
		if _, err := c.Write(i*segSize, []byte{byte(i)}); err != nil {
			t.Fatalf("Write segment %d: %v", i, err)
		}
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	// Writing through c maps every segment as a side effect; open a fresh
	// handle so every segment below is genuinely unmapped going into the
	// concurrent reads.
	c2, err := Open(path, segSize)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c2.Close()

	var wg sync.WaitGroup
	errCh := make(chan error, segments)
	for i := int64(0); i < segments; i++ {
		wg.Add(1)
		go func(i int64) {
			defer wg.Done()
			if _, err := c2.Read(i*segSize, 1); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent Read on distinct unmapped segments failed: %v", err)
	}
}

func TestRead_TruncatesPartialRangePastFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.cache")
	c, err := Create(path, 0, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer c.Close()

	if _, err := c.Write(0, []byte("abcde")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := c.Read(3, 100)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "de" {
		t.Errorf("expected 'de', got %q", data)
	}
}
