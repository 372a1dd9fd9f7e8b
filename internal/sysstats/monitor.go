// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package sysstats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot holds collected system metrics.
type Snapshot struct {
	CPUPercent       float64
	MemoryPercent    float64
	DiskUsagePercent float64
	LoadAverage      float64
}

// Monitor collects system metrics periodically for the stats reporter.
type Monitor struct {
	logger *slog.Logger
	close  chan struct{}
	wg     sync.WaitGroup
	stats  Snapshot
	mu     sync.RWMutex
}

// NewMonitor creates a new Monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	return &Monitor{
		logger: logger.With("component", "system_monitor"),
		close:  make(chan struct{}),
	}
}

// Start begins periodic metric collection.
func (m *Monitor) Start() {
	m.wg.Add(1)
	go m.run()
}

// Stop stops the monitor.
func (m *Monitor) Stop() {
	close(m.close)
	m.wg.Wait()
}

// Stats returns the latest collected snapshot.
func (m *Monitor) Stats() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

func (m *Monitor) run() {
	defer m.wg.Done()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	m.collect()

	for {
		select {
		case <-m.close:
			return
		case <-ticker.C:
			m.collect()
		}
	}
}

func (m *Monitor) collect() {
	stats := Snapshot{}

	if percentage, err := cpu.Percent(0, false); err == nil && len(percentage) > 0 {
		stats.CPUPercent = percentage[0]
	} else {
		m.logger.Debug("failed to collect cpu stats", "error", err)
	}

	if v, err := mem.VirtualMemory(); err == nil {
		stats.MemoryPercent = v.UsedPercent
	} else {
		m.logger.Debug("failed to collect memory stats", "error", err)
	}

	if d, err := disk.Usage("/"); err == nil {
		stats.DiskUsagePercent = d.UsedPercent
	} else {
		m.logger.Debug("failed to collect disk stats", "error", err)
	}

	if l, err := load.Avg(); err == nil {
		stats.LoadAverage = l.Load1
	} else {
		m.logger.Debug("failed to collect load stats", "error", err)
	}

	m.mu.Lock()
	m.stats = stats
	m.mu.Unlock()
}
