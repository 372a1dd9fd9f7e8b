// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"sync/atomic"

	"github.com/feuyeux/hello-audio-stream-go/internal/bufpool"
	"github.com/feuyeux/hello-audio-stream-go/internal/streammanager"
	"github.com/feuyeux/hello-audio-stream-go/internal/sysstats"
)

// Metrics tracks process-wide observable counters, satisfying
// observability.HandlerMetrics.
type Metrics struct {
	activeConns atomic.Int32
	bytesIn     atomic.Int64
	bytesOut    atomic.Int64

	manager *streammanager.Manager
	pool    *bufpool.Pool
	monitor *sysstats.Monitor
}

// NewMetrics wires a Metrics snapshot view over manager/pool/monitor.
func NewMetrics(manager *streammanager.Manager, pool *bufpool.Pool, monitor *sysstats.Monitor) *Metrics {
	return &Metrics{manager: manager, pool: pool, monitor: monitor}
}

func (m *Metrics) connectionOpened() { m.activeConns.Add(1) }
func (m *Metrics) connectionClosed() { m.activeConns.Add(-1) }
func (m *Metrics) addBytesIn(n int)  { m.bytesIn.Add(int64(n)) }
func (m *Metrics) addBytesOut(n int) { m.bytesOut.Add(int64(n)) }

// ActiveConnections implements observability.HandlerMetrics.
func (m *Metrics) ActiveConnections() int32 { return m.activeConns.Load() }

// ActiveStreams implements observability.HandlerMetrics.
func (m *Metrics) ActiveStreams() int { return m.manager.ActiveStreamCount() }

// TotalStreams implements observability.HandlerMetrics.
func (m *Metrics) TotalStreams() int { return int(m.manager.TotalStreamsCreated()) }

// BytesIngested implements observability.HandlerMetrics.
func (m *Metrics) BytesIngested() int64 { return m.bytesIn.Load() }

// BytesServed implements observability.HandlerMetrics.
func (m *Metrics) BytesServed() int64 { return m.bytesOut.Load() }

// PoolSnapshot implements observability.HandlerMetrics.
func (m *Metrics) PoolSnapshot() bufpool.Stats { return m.pool.Snapshot() }

// SystemSnapshot implements observability.HandlerMetrics.
func (m *Metrics) SystemSnapshot() sysstats.Snapshot { return m.monitor.Stats() }
