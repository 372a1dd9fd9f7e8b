// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/feuyeux/hello-audio-stream-go/internal/archive"
	"github.com/feuyeux/hello-audio-stream-go/internal/bufpool"
	"github.com/feuyeux/hello-audio-stream-go/internal/config"
	"github.com/feuyeux/hello-audio-stream-go/internal/server/observability"
	"github.com/feuyeux/hello-audio-stream-go/internal/streammanager"
	"github.com/feuyeux/hello-audio-stream-go/internal/sysstats"
)

// pingInterval is how often the server pings idle connections to detect
// dead peers.
const pingInterval = 20 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Run starts the WebSocket stream server and any enabled ambient services
// (idle-stream sweeper, stats reporter, stats HTTP endpoint), blocking until
// ctx is cancelled.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	var archiver streammanager.Archiver
	if cfg.Archive.Enabled {
		a, err := archive.New(ctx, archive.Config{
			Bucket: cfg.Archive.Bucket,
			Region: cfg.Archive.Region,
			Prefix: cfg.Archive.Prefix,
		}, logger)
		if err != nil {
			return fmt.Errorf("configuring archive: %w", err)
		}
		archiver = a
	}

	manager := streammanager.New(streammanager.Config{
		CacheDir:      cfg.CacheDir,
		SegmentSize:   cfg.Segment.SizeRaw,
		MaxCacheSize:  cfg.CacheMaxRaw,
		SweepCron:     cfg.Sweep.Cron,
		IdleThreshold: cfg.Sweep.IdleThreshold,
		Archiver:      archiver,
	}, logger)
	if err := manager.StartSweeper(); err != nil {
		return fmt.Errorf("starting sweep scheduler: %w", err)
	}
	defer manager.StopSweeper()

	pool := bufpool.New(cfg.Pool.Size, int(cfg.Pool.BufferRaw))

	monitor := sysstats.NewMonitor(logger)
	monitor.Start()
	defer monitor.Stop()

	metrics := NewMetrics(manager, pool, monitor)

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.Path, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		configurePing(conn)
		handler := NewHandler(HandlerConfig{
			Manager:        manager,
			Pool:           pool,
			Metrics:        metrics,
			Logger:         logger,
			GetBytesPerSec: cfg.Throttle.Raw,
		}, conn)
		go func() {
			defer conn.Close()
			handler.Run()
		}()
	})

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: mux,
	}

	go StartStatsReporter(ctx, metrics, logger)

	if cfg.Stats.Enabled {
		startStatsEndpoint(ctx, cfg, metrics, logger)
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("server listening", "port", cfg.Server.Port, "path", cfg.Server.Path)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listening on port %d: %w", cfg.Server.Port, err)
	}
	return nil
}

func configurePing(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pingInterval * 2))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval * 2))
		return nil
	})
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for range ticker.C {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}()
}

func startStatsEndpoint(ctx context.Context, cfg *config.ServerConfig, metrics *Metrics, logger *slog.Logger) {
	acl := observability.NewACL(cfg.Stats.ParsedCIDRs)
	mux := http.NewServeMux()
	mux.Handle("/stats", acl.Middleware(observability.NewStatsHandler(metrics)))

	statsSrv := &http.Server{
		Addr:    cfg.Stats.Listen,
		Handler: mux,
	}

	go func() {
		logger.Info("stats endpoint listening", "address", cfg.Stats.Listen)
		if err := statsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("stats endpoint error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		statsSrv.Shutdown(shutdownCtx)
	}()
}

// StartStatsReporter logs a summary of observable state every 15 seconds
// until ctx is cancelled. The interval is fixed; cfg.Stats.Interval is not
// read here.
func StartStatsReporter(ctx context.Context, metrics *Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pool := metrics.PoolSnapshot()
			sys := metrics.SystemSnapshot()
			logger.Info("stats",
				"active_connections", metrics.ActiveConnections(),
				"active_streams", metrics.ActiveStreams(),
				"total_streams", metrics.TotalStreams(),
				"bytes_ingested", metrics.BytesIngested(),
				"bytes_served", metrics.BytesServed(),
				"pool_in_use", pool.InUse,
				"pool_total", pool.Total,
				"cpu_percent", sys.CPUPercent,
				"memory_percent", sys.MemoryPercent,
			)
		}
	}
}
