// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/feuyeux/hello-audio-stream-go/internal/config"
	"github.com/feuyeux/hello-audio-stream-go/internal/logging"
	"github.com/feuyeux/hello-audio-stream-go/internal/server"
)

func main() {
	configPath := flag.String("config", "/etc/streamserver/server.yaml", "path to server config file")
	port := flag.Int("port", 0, "override server.port from the config file")
	path := flag.String("path", "", "override server.path from the config file")
	cacheDir := flag.String("cache-dir", "", "override cache_dir from the config file")
	flag.Parse()

	cfg, err := config.LoadServerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *path != "" {
		cfg.Server.Path = *path
	}
	if *cacheDir != "" {
		cfg.CacheDir = *cacheDir
	}
	if lvl := os.Getenv("NBS_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	logger, closer := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	defer closer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := server.Run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
