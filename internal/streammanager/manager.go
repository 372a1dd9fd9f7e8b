// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package streammanager

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/feuyeux/hello-audio-stream-go/internal/apperrors"
	"github.com/feuyeux/hello-audio-stream-go/internal/logging"
	"github.com/feuyeux/hello-audio-stream-go/internal/mmapcache"
)

// Archiver is implemented by internal/archive.Archiver; kept as an interface
// here so the manager never imports the AWS SDK directly.
type Archiver interface {
	ArchiveAsync(streamID, cachePath string)
}

// Config parameterizes a Manager.
type Config struct {
	CacheDir      string
	SegmentSize   int64
	MaxCacheSize  int64
	SweepCron     string
	IdleThreshold time.Duration

	// StreamLogDir, if non-empty, gives each stream its own debug log file
	// fanned out from the base logger (see internal/logging.NewStreamLogger).
	StreamLogDir string

	// Archiver, if non-nil, is asked to copy a stream's cache file to S3
	// once it transitions to READY.
	Archiver Archiver
}

// Info is an immutable snapshot of a stream's state, safe to pass around
// after the registry/context locks have been released.
type Info struct {
	ID             string
	CurrentOffset  int64
	TotalSize      int64
	Status         Status
	Compression    string
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// Manager is the registry of active streams keyed by stream_id.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*context

	totalCreated atomic.Int64

	cron *cron.Cron
}

// New constructs a Manager. The cache directory is not touched here; it is
// created, if absent, by the first CreateStream.
func New(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		logger:  logger.With("component", "stream_manager"),
		streams: make(map[string]*context),
	}
}

// StartSweeper schedules cleanup_old_streams on cfg.SweepCron via robfig/cron,
// mirroring the teacher's agent/scheduler.go wrapping pattern.
func (m *Manager) StartSweeper() error {
	m.cron = cron.New()
	_, err := m.cron.AddFunc(m.cfg.SweepCron, m.CleanupOldStreams)
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// StopSweeper stops the cron scheduler, if running.
func (m *Manager) StopSweeper() {
	if m.cron != nil {
		ctx := m.cron.Stop()
		<-ctx.Done()
	}
}

func (m *Manager) cachePath(id string) string {
	return filepath.Join(m.cfg.CacheDir, id+".cache")
}

// CreateStream creates a new stream in UPLOADING state, registering it and
// creating its backing cache file. Fails with AlreadyExists if id is taken.
func (m *Manager) CreateStream(id, compression string) error {
	m.mu.Lock()
	if _, exists := m.streams[id]; exists {
		m.mu.Unlock()
		return apperrors.AlreadyExistsf("stream already exists: %s", id)
	}
	// Reserve the slot under the registry lock so two concurrent creates
	// for the same id can't both pass the existence check.
	m.streams[id] = nil
	m.mu.Unlock()

	if err := os.MkdirAll(m.cfg.CacheDir, 0755); err != nil {
		m.mu.Lock()
		delete(m.streams, id)
		m.mu.Unlock()
		return apperrors.Io("create", err)
	}

	path := m.cachePath(id)
	cache, err := mmapcache.Create(path, 0, m.cfg.SegmentSize)
	if err != nil {
		m.mu.Lock()
		delete(m.streams, id)
		m.mu.Unlock()
		return err
	}

	streamLogger, logCloser, _, err := logging.NewStreamLogger(m.logger, m.cfg.StreamLogDir, id)
	if err != nil {
		m.logger.Warn("failed to create stream log file", "stream_id", id, "error", err)
		streamLogger, logCloser = m.logger, io.NopCloser(nil)
	}

	ctx := newContext(id, path, cache, compression, streamLogger, logCloser)
	ctx.refCount.Store(1) // registry's own reference

	m.mu.Lock()
	m.streams[id] = ctx
	m.mu.Unlock()
	m.totalCreated.Add(1)

	return nil
}

// TotalStreamsCreated returns the cumulative count of streams ever created,
// including ones since deleted.
func (m *Manager) TotalStreamsCreated() int64 {
	return m.totalCreated.Load()
}

// ActiveStreamCount returns the number of currently registered streams.
func (m *Manager) ActiveStreamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// acquire looks up a stream and increments its refcount so the caller can
// safely use it even if a concurrent DeleteStream races in.
func (m *Manager) acquire(id string) (*context, error) {
	m.mu.Lock()
	ctx, ok := m.streams[id]
	if !ok || ctx == nil || ctx.removed.Load() {
		m.mu.Unlock()
		return nil, apperrors.NotFoundf("stream not found: %s", id)
	}
	ctx.refCount.Add(1)
	m.mu.Unlock()
	return ctx, nil
}

func (m *Manager) release(ctx *context) {
	if ctx.refCount.Add(-1) == 0 && ctx.removed.Load() {
		m.destroy(ctx)
	}
}

func (m *Manager) destroy(ctx *context) {
	ctx.cache.Close()
	os.Remove(ctx.cachePath)
	ctx.logCloser.Close()
	logging.RemoveStreamLog(m.cfg.StreamLogDir, ctx.id)
}

// GetInfo returns a snapshot of a stream's current state.
func (m *Manager) GetInfo(id string) (Info, error) {
	ctx, err := m.acquire(id)
	if err != nil {
		return Info{}, err
	}
	defer m.release(ctx)
	return toInfo(ctx.snapshot()), nil
}

func toInfo(s snapshot) Info {
	return Info{
		ID:             s.id,
		CurrentOffset:  s.currentOffset,
		TotalSize:      s.totalSize,
		Status:         s.status,
		Compression:    s.compression,
		CreatedAt:      s.createdAt,
		LastAccessedAt: s.lastAccessedAt,
	}
}

// DeleteStream removes a stream from the registry. The underlying cache and
// file are released once the last outstanding handle is dropped.
func (m *Manager) DeleteStream(id string) error {
	m.mu.Lock()
	ctx, ok := m.streams[id]
	if !ok || ctx == nil {
		m.mu.Unlock()
		return apperrors.NotFoundf("stream not found: %s", id)
	}
	delete(m.streams, id)
	m.mu.Unlock()

	ctx.removed.Store(true)
	if ctx.refCount.Add(-1) == 0 {
		m.destroy(ctx)
	}
	return nil
}

// ListActiveStreams returns a snapshot of registered stream ids.
func (m *Manager) ListActiveStreams() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.streams))
	for id, ctx := range m.streams {
		if ctx != nil && !ctx.removed.Load() {
			ids = append(ids, id)
		}
	}
	return ids
}

// WriteChunk appends data to the stream at current_offset and advances it.
func (m *Manager) WriteChunk(id string, data []byte) error {
	ctx, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer m.release(ctx)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.status != StatusUploading {
		return apperrors.InvalidStatef("stream %s is not uploading (status=%s)", id, ctx.status)
	}
	if ctx.currentOffset+int64(len(data)) > m.cfg.MaxCacheSize {
		return apperrors.InvalidArgumentf("write to stream %s would exceed max cache size %d", id, m.cfg.MaxCacheSize)
	}

	n, err := ctx.cache.Write(ctx.currentOffset, data)
	ctx.touch()
	if err != nil {
		ctx.status = StatusError
		ctx.logger.Error("write_chunk failed, stream moved to ERROR", "stream_id", id, "error", err)
		return err
	}
	ctx.currentOffset += int64(n)
	return nil
}

// ReadChunk performs a range read, truncating length so offset+length never
// exceeds current_offset.
func (m *Manager) ReadChunk(id string, offset, length int64) ([]byte, error) {
	ctx, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer m.release(ctx)

	ctx.mu.Lock()
	currentOffset := ctx.currentOffset
	ctx.touch()
	ctx.mu.Unlock()

	if offset >= currentOffset {
		return []byte{}, nil
	}
	if offset+length > currentOffset {
		length = currentOffset - offset
	}
	return ctx.cache.Read(offset, length)
}

// ReadChunkInto behaves like ReadChunk but copies into buf instead of
// allocating a new slice, so callers can serve a range read from a pooled
// buffer (internal/bufpool). At most len(buf) bytes are read; offset+len(buf)
// is truncated the same way ReadChunk truncates offset+length.
func (m *Manager) ReadChunkInto(id string, offset int64, buf []byte) ([]byte, error) {
	ctx, err := m.acquire(id)
	if err != nil {
		return nil, err
	}
	defer m.release(ctx)

	ctx.mu.Lock()
	currentOffset := ctx.currentOffset
	ctx.touch()
	ctx.mu.Unlock()

	if offset >= currentOffset {
		return buf[:0], nil
	}
	if offset+int64(len(buf)) > currentOffset {
		buf = buf[:currentOffset-offset]
	}
	return ctx.cache.ReadInto(offset, buf)
}

// FinalizeStream transitions status from UPLOADING to READY and sets the
// cache's final size. Idempotent when already READY. A stream that a failed
// write moved to ERROR stays in ERROR; the call returns nil for it.
func (m *Manager) FinalizeStream(id string) error {
	ctx, err := m.acquire(id)
	if err != nil {
		return err
	}
	defer m.release(ctx)

	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if ctx.status == StatusReady || ctx.status == StatusError {
		return nil
	}
	if err := ctx.cache.Finalize(ctx.currentOffset); err != nil {
		ctx.status = StatusError
		return err
	}
	ctx.totalSize = ctx.currentOffset
	ctx.status = StatusReady
	ctx.touch()
	ctx.logger.Info("stream finalized", "stream_id", id, "total_size", ctx.totalSize)

	if m.cfg.Archiver != nil {
		m.cfg.Archiver.ArchiveAsync(id, ctx.cachePath)
	}

	return nil
}

// CleanupOldStreams sweeps the registry, deleting any stream whose
// last_accessed_at is older than the idle threshold and whose status is
// READY or ERROR. Never deletes an active upload.
func (m *Manager) CleanupOldStreams() {
	cutoff := time.Now().Add(-m.cfg.IdleThreshold)

	m.mu.Lock()
	var toDelete []string
	for id, ctx := range m.streams {
		if ctx == nil {
			continue
		}
		snap := ctx.snapshot()
		if snap.status == StatusUploading {
			continue
		}
		if snap.lastAccessedAt.Before(cutoff) {
			toDelete = append(toDelete, id)
		}
	}
	m.mu.Unlock()

	for _, id := range toDelete {
		if err := m.DeleteStream(id); err != nil {
			m.logger.Warn("sweep: failed to delete idle stream", "stream_id", id, "error", err)
			continue
		}
		m.logger.Info("sweep: deleted idle stream", "stream_id", id)
	}
}
