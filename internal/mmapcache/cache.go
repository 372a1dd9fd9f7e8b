// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package mmapcache projects a single on-disk file as an ordered sequence of
// fixed-size segments mapped into virtual memory, giving byte-granularity
// random access without requiring the file to fit inside any single mapping
// window. Segments are mapped lazily and re-mapped after a resize.
package mmapcache

import (
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"

	"github.com/feuyeux/hello-audio-stream-go/internal/apperrors"
)

// DefaultSegmentSize is the window size each mapping covers (1 GiB). Tests
// may construct a Cache with a smaller size to exercise segment-crossing
// behavior cheaply.
const DefaultSegmentSize = 1 << 30

// BatchOperationLimit bounds the number of operations accepted by WriteBatch
// and ReadBatch in a single call.
const BatchOperationLimit = 1000

// validateSegmentSize rejects segment sizes mmap.MapRegion can't honor:
// every segment's base offset (i*segmentSize) is passed to it directly, and
// the OS requires mapping offsets to be a multiple of the page size.
func validateSegmentSize(segmentSize int64) error {
	pageSize := int64(os.Getpagesize())
	if segmentSize%pageSize != 0 {
		return apperrors.InvalidArgumentf("segment size %d must be a multiple of the system page size (%d)", segmentSize, pageSize)
	}
	return nil
}

// WriteOp is one operation in a WriteBatch call.
type WriteOp struct {
	Offset int64
	Data   []byte
}

// ReadOp is one operation in a ReadBatch call.
type ReadOp struct {
	Offset int64
	Length int64
}

// Cache projects one backing file as a sequence of lazily-mapped segments.
type Cache struct {
	mu          sync.RWMutex
	path        string
	file        *os.File
	fileSize    int64
	segmentSize int64
	segments    map[int]mmap.MMap
	open        bool
}

// Create creates the backing file (failing if it already exists), sets its
// length to initialSize, and marks the cache open.
func Create(path string, initialSize int64, segmentSize int64) (*Cache, error) {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	if err := validateSegmentSize(segmentSize); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, apperrors.Io("create", err)
	}
	if initialSize > 0 {
		if err := f.Truncate(initialSize); err != nil {
			f.Close()
			os.Remove(path)
			return nil, apperrors.Io("create", err)
		}
	}
	return &Cache{
		path:        path,
		file:        f,
		fileSize:    initialSize,
		segmentSize: segmentSize,
		segments:    make(map[int]mmap.MMap),
		open:        true,
	}, nil
}

// Open opens an existing backing file for read/write and records its length.
func Open(path string, segmentSize int64) (*Cache, error) {
	if segmentSize <= 0 {
		segmentSize = DefaultSegmentSize
	}
	if err := validateSegmentSize(segmentSize); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return nil, apperrors.Io("open", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, apperrors.Io("open", err)
	}
	return &Cache{
		path:        path,
		file:        f,
		fileSize:    info.Size(),
		segmentSize: segmentSize,
		segments:    make(map[int]mmap.MMap),
		open:        true,
	}, nil
}

// Close flushes and unmaps all segments and closes the underlying file
// handle. Idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	var firstErr error
	for i, seg := range c.segments {
		if err := seg.Flush(); err != nil && firstErr == nil {
			firstErr = apperrors.Io("flush", err)
		}
		if err := seg.Unmap(); err != nil && firstErr == nil {
			firstErr = apperrors.Io("mmap", err)
		}
		delete(c.segments, i)
	}
	if err := c.file.Close(); err != nil && firstErr == nil {
		firstErr = apperrors.Io("close", err)
	}
	c.open = false
	return firstErr
}

// FileSize returns the cache's current logical length.
func (c *Cache) FileSize() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fileSize
}

// segmentIndex returns the segment covering offset and the offset within it.
func (c *Cache) segmentIndex(offset int64) (int, int64) {
	idx := int(offset / c.segmentSize)
	return idx, offset % c.segmentSize
}

// getSegment returns segment i, mapping it on first touch. Mapping mutates
// c.segments, so this must be called with c.mu held exclusively unless the
// caller has already established (under the same lock) that segment i is
// present, in which case the call degrades to a plain map read.
func (c *Cache) getSegment(i int) (mmap.MMap, error) {
	if seg, ok := c.segments[i]; ok {
		return seg, nil
	}

	base := int64(i) * c.segmentSize
	length := c.segmentSize
	if base+length > c.fileSize {
		length = c.fileSize - base
	}
	if length <= 0 {
		return nil, apperrors.InvalidStatef("segment %d out of range for file size %d", i, c.fileSize)
	}

	seg, err := mmap.MapRegion(c.file, int(length), mmap.RDWR, 0, base)
	if err != nil {
		return nil, apperrors.Io("mmap", err)
	}
	c.segments[i] = seg
	return seg, nil
}

// Write writes data at offset, growing the file first if the write would
// exceed the current file size. Returns the number of bytes written.
func (c *Cache) Write(offset int64, data []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writeLocked(offset, data)
}

func (c *Cache) writeLocked(offset int64, data []byte) (int, error) {
	if !c.open {
		return 0, apperrors.InvalidStatef("cache %s is closed", c.path)
	}
	end := offset + int64(len(data))
	if end > c.fileSize {
		if err := c.resizeLocked(end); err != nil {
			return 0, err
		}
	}

	written := 0
	for written < len(data) {
		cur := offset + int64(written)
		idx, within := c.segmentIndex(cur)
		seg, err := c.getSegment(idx)
		if err != nil {
			return written, err
		}
		room := int64(len(seg)) - within
		n := int64(len(data) - written)
		if n > room {
			n = room
		}
		copy(seg[within:within+n], data[written:written+int(n)])
		written += int(n)
	}
	return written, nil
}

// readNeedsMapping reports whether any segment touched by [offset,
// offset+length) is not yet mapped. Must be called with c.mu held (shared or
// exclusive); it only reads c.segments, never mutates it.
func (c *Cache) readNeedsMapping(offset, length int64) bool {
	if !c.open || offset >= c.fileSize || length <= 0 {
		return false
	}
	if offset+length > c.fileSize {
		length = c.fileSize - offset
	}
	end := offset + length
	for cur := offset; cur < end; {
		idx, _ := c.segmentIndex(cur)
		if _, ok := c.segments[idx]; !ok {
			return true
		}
		next := int64(idx+1) * c.segmentSize
		if next > end {
			next = end
		}
		cur = next
	}
	return false
}

// Read returns the bytes [offset, offset+length). A range partially past
// file_size is truncated; a range wholly past file_size returns empty.
//
// Segment mapping mutates c.segments, so a read touching an unmapped segment
// must not proceed under the shared lock alone (concurrent Reads would race
// on the map). The common case — every touched segment already mapped —
// stays on the shared-lock fast path; a miss upgrades to the exclusive lock
// for the whole operation, matching SPEC_FULL §4.1's "segment (un)mapping
// take exclusive mode".
func (c *Cache) Read(offset int64, length int64) ([]byte, error) {
	c.mu.RLock()
	if !c.readNeedsMapping(offset, length) {
		defer c.mu.RUnlock()
		return c.readLocked(offset, length, nil)
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(offset, length, nil)
}

// ReadInto behaves like Read but copies into the caller-supplied buf instead
// of allocating a new slice, letting callers serve range reads from a pooled
// buffer (see internal/bufpool). At most len(buf) bytes are read; the
// returned slice is a sub-slice of buf truncated to the bytes actually
// available.
func (c *Cache) ReadInto(offset int64, buf []byte) ([]byte, error) {
	length := int64(len(buf))
	c.mu.RLock()
	if !c.readNeedsMapping(offset, length) {
		defer c.mu.RUnlock()
		return c.readLocked(offset, length, buf)
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readLocked(offset, length, buf)
}

// readLocked reads [offset, offset+length) truncated to file_size. If dst is
// non-nil, bytes are copied into dst[:length] instead of a freshly allocated
// slice; dst must have length capacity.
func (c *Cache) readLocked(offset int64, length int64, dst []byte) ([]byte, error) {
	if !c.open {
		return nil, apperrors.InvalidStatef("cache %s is closed", c.path)
	}
	if offset >= c.fileSize || length <= 0 {
		if dst != nil {
			return dst[:0], nil
		}
		return []byte{}, nil
	}
	if offset+length > c.fileSize {
		length = c.fileSize - offset
	}

	var out []byte
	if dst != nil {
		out = dst[:length]
	} else {
		out = make([]byte, length)
	}
	read := int64(0)
	for read < length {
		cur := offset + read
		idx, within := c.segmentIndex(cur)
		seg, err := c.getSegment(idx)
		if err != nil {
			return nil, err
		}
		avail := int64(len(seg)) - within
		n := length - read
		if n > avail {
			n = avail
		}
		copy(out[read:read+n], seg[within:within+n])
		read += n
	}
	return out, nil
}

// WriteBatch executes up to BatchOperationLimit writes while holding the
// cache lock once. Lock acquisition is all-or-nothing; I/O progress per
// operation is independent, so a failing op does not roll back prior ones.
func (c *Cache) WriteBatch(ops []WriteOp) ([]int, []error) {
	n := len(ops)
	if n > BatchOperationLimit {
		n = BatchOperationLimit
	}
	results := make([]int, n)
	errs := make([]error, n)

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		results[i], errs[i] = c.writeLocked(ops[i].Offset, ops[i].Data)
	}
	return results, errs
}

// readOpsLocked runs ops[:n] through readLocked. Caller holds c.mu, shared
// or exclusive.
func (c *Cache) readOpsLocked(ops []ReadOp, n int) ([][]byte, []error) {
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		results[i], errs[i] = c.readLocked(ops[i].Offset, ops[i].Length, nil)
	}
	return results, errs
}

// ReadBatch executes up to BatchOperationLimit reads while holding the cache
// lock once. Like Read, it only stays on the shared-lock fast path when
// every op's touched segments are already mapped; any miss upgrades the
// whole batch to the exclusive lock so segment mapping never races.
func (c *Cache) ReadBatch(ops []ReadOp) ([][]byte, []error) {
	n := len(ops)
	if n > BatchOperationLimit {
		n = BatchOperationLimit
	}

	c.mu.RLock()
	needsMapping := false
	for i := 0; i < n; i++ {
		if c.readNeedsMapping(ops[i].Offset, ops[i].Length) {
			needsMapping = true
			break
		}
	}
	if !needsMapping {
		defer c.mu.RUnlock()
		return c.readOpsLocked(ops, n)
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readOpsLocked(ops, n)
}

// Resize sets the file length, unmapping segments whose extent is now
// shorter than segmentSize so they are re-mapped on next access.
func (c *Cache) Resize(newSize int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resizeLocked(newSize)
}

func (c *Cache) resizeLocked(newSize int64) error {
	if !c.open {
		return apperrors.InvalidStatef("cache %s is closed", c.path)
	}
	if err := c.file.Truncate(newSize); err != nil {
		return apperrors.Io("resize", err)
	}

	oldSize := c.fileSize
	growing := newSize > oldSize
	c.fileSize = newSize

	if growing {
		// Any segment mapped at the old file's last segment may have been
		// short-mapped (its region truncated to oldSize) and now needs to be
		// remapped at its full extent, even if it is no longer the new last
		// segment. Unmap both the old and new last segment so getSegment
		// remaps each at its current length.
		if oldSize > 0 {
			oldLastIdx := int((oldSize - 1) / c.segmentSize)
			if seg, ok := c.segments[oldLastIdx]; ok {
				seg.Unmap()
				delete(c.segments, oldLastIdx)
			}
		}
		newLastIdx := int((newSize - 1) / c.segmentSize)
		if seg, ok := c.segments[newLastIdx]; ok {
			seg.Unmap()
			delete(c.segments, newLastIdx)
		}
		return nil
	}

	// Shrinking: unmap any segment now fully or partially beyond fileSize.
	for i, seg := range c.segments {
		base := int64(i) * c.segmentSize
		if base+c.segmentSize > newSize {
			seg.Unmap()
			delete(c.segments, i)
		}
	}
	return nil
}

// Finalize sets the file length to exactly finalSize, flushes, and leaves
// the file open for reads.
func (c *Cache) Finalize(finalSize int64) error {
	c.mu.Lock()
	if err := c.resizeLocked(finalSize); err != nil {
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()
	return c.Flush()
}

// Flush forces dirty pages of all mapped segments to the OS.
func (c *Cache) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.open {
		return apperrors.InvalidStatef("cache %s is closed", c.path)
	}
	for _, seg := range c.segments {
		if err := seg.Flush(); err != nil {
			return apperrors.Io("flush", err)
		}
	}
	return nil
}

// Prefetch is an advisory hint that [offset, offset+length) will be read
// soon. No semantic contract beyond no observable behavior change; the
// platform-specific implementation lives in advise_unix.go/advise_other.go.
func (c *Cache) Prefetch(offset, length int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.adviseRange(offset, length, adviseWillNeed)
}

// Evict is an advisory hint that [offset, offset+length) is no longer
// needed soon.
func (c *Cache) Evict(offset, length int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	c.adviseRange(offset, length, adviseDontNeed)
}

func (c *Cache) adviseRange(offset, length int64, advice int) {
	if !c.open || length <= 0 {
		return
	}
	end := offset + length
	if end > c.fileSize {
		end = c.fileSize
	}
	for cur := offset; cur < end; {
		idx, within := c.segmentIndex(cur)
		seg, ok := c.segments[idx]
		if !ok {
			// Advisory only: skip segments that aren't mapped yet rather
			// than forcing a map just to hint about them.
			cur = int64(idx+1) * c.segmentSize
			continue
		}
		avail := int64(len(seg)) - within
		n := end - cur
		if n > avail {
			n = avail
		}
		madvise(seg, within, n, advice)
		cur += n
	}
}
