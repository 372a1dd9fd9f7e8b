// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package streammanager owns the registry of active streams, routing writes
// and range reads to the stream that owns them and sweeping idle streams on
// a schedule.
package streammanager

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feuyeux/hello-audio-stream-go/internal/mmapcache"
)

// Status is a stream's lifecycle state.
type Status int

const (
	// StatusUploading is the state from create_stream until finalize_stream.
	StatusUploading Status = iota
	// StatusReady is the state after a successful finalize_stream.
	StatusReady
	// StatusError marks a stream that hit an unrecoverable I/O fault.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUploading:
		return "UPLOADING"
	case StatusReady:
		return "READY"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// context is one stream's mutable state plus its owning cache. A per-context
// mutex serializes mutations to currentOffset, status and lastAccessedAt.
type context struct {
	id        string
	cachePath string
	cache     *mmapcache.Cache

	logger    *slog.Logger
	logCloser io.Closer

	mu             sync.Mutex
	currentOffset  int64
	totalSize      int64
	status         Status
	compression    string
	createdAt      time.Time
	lastAccessedAt time.Time

	// refCount and removed implement the shared-ownership rule: a handler
	// holding a handle keeps the cache alive even if delete_stream races
	// with it. The cache is actually closed and unlinked only once removed
	// is true and refCount has dropped to zero.
	refCount atomic.Int32
	removed  atomic.Bool
}

func newContext(id, cachePath string, cache *mmapcache.Cache, compression string, logger *slog.Logger, logCloser io.Closer) *context {
	now := time.Now()
	return &context{
		id:             id,
		cachePath:      cachePath,
		cache:          cache,
		logger:         logger,
		logCloser:      logCloser,
		status:         StatusUploading,
		compression:    compression,
		createdAt:      now,
		lastAccessedAt: now,
	}
}

func (c *context) touch() {
	c.lastAccessedAt = time.Now()
}

// snapshot is an immutable view of a stream's state for callers that only
// need to read fields without holding the context mutex across other work.
type snapshot struct {
	id             string
	currentOffset  int64
	totalSize      int64
	status         Status
	compression    string
	createdAt      time.Time
	lastAccessedAt time.Time
}

func (c *context) snapshot() snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return snapshot{
		id:             c.id,
		currentOffset:  c.currentOffset,
		totalSize:      c.totalSize,
		status:         c.status,
		compression:    c.compression,
		createdAt:      c.createdAt,
		lastAccessedAt: c.lastAccessedAt,
	}
}
