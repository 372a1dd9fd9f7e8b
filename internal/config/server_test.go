// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadServerConfig_Defaults(t *testing.T) {
	cfgPath := writeTempConfig(t, `
cache_dir: /tmp/cache
`)
	cfg, err := LoadServerConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Server.Path != "/audio" {
		t.Errorf("expected default path /audio, got %q", cfg.Server.Path)
	}
	if cfg.CacheMaxRaw != 8*1024*1024*1024 {
		t.Errorf("expected default cache_max_size 8gb, got %d", cfg.CacheMaxRaw)
	}
	if cfg.Segment.SizeRaw != 1024*1024*1024 {
		t.Errorf("expected default segment size 1gb, got %d", cfg.Segment.SizeRaw)
	}
	if cfg.Sweep.Cron != "*/5 * * * *" {
		t.Errorf("expected default sweep cron, got %q", cfg.Sweep.Cron)
	}
	if cfg.Sweep.IdleThreshold != 30*time.Minute {
		t.Errorf("expected default idle threshold 30m, got %v", cfg.Sweep.IdleThreshold)
	}
	if cfg.Pool.Size != 100 {
		t.Errorf("expected default pool size 100, got %d", cfg.Pool.Size)
	}
	if cfg.Pool.BufferRaw != 64*1024 {
		t.Errorf("expected default pool buffer 64kb, got %d", cfg.Pool.BufferRaw)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadServerConfig_CustomValues(t *testing.T) {
	cfgPath := writeTempConfig(t, `
server:
  port: 9090
  path: /stream
cache_dir: /var/cache/stream
cache_max_size: "1gb"
segment:
  size: "64mb"
sweep:
  cron: "*/1 * * * *"
  idle_threshold: 5m
pool:
  size: 50
  buffer_size: "128kb"
`)
	cfg, err := LoadServerConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Path != "/stream" {
		t.Errorf("expected path /stream, got %q", cfg.Server.Path)
	}
	if cfg.CacheMaxRaw != 1024*1024*1024 {
		t.Errorf("expected cache_max_size 1gb, got %d", cfg.CacheMaxRaw)
	}
	if cfg.Segment.SizeRaw != 64*1024*1024 {
		t.Errorf("expected segment size 64mb, got %d", cfg.Segment.SizeRaw)
	}
	if cfg.Sweep.IdleThreshold != 5*time.Minute {
		t.Errorf("expected idle_threshold 5m, got %v", cfg.Sweep.IdleThreshold)
	}
	if cfg.Pool.Size != 50 {
		t.Errorf("expected pool size 50, got %d", cfg.Pool.Size)
	}
	if cfg.Pool.BufferRaw != 128*1024 {
		t.Errorf("expected pool buffer 128kb, got %d", cfg.Pool.BufferRaw)
	}
}

func TestLoadServerConfig_InvalidCacheMaxSize(t *testing.T) {
	cfgPath := writeTempConfig(t, `
cache_max_size: "not-a-size"
`)
	if _, err := LoadServerConfig(cfgPath); err == nil {
		t.Fatal("expected error for invalid cache_max_size")
	}
}

func TestLoadServerConfig_CompressionDefaultsToZstd(t *testing.T) {
	cfgPath := writeTempConfig(t, `
compression:
  enabled: true
`)
	cfg, err := LoadServerConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Compression.Mode != "zstd" {
		t.Errorf("expected default compression mode zstd, got %q", cfg.Compression.Mode)
	}
}

func TestLoadServerConfig_CompressionInvalidMode(t *testing.T) {
	cfgPath := writeTempConfig(t, `
compression:
  enabled: true
  mode: lz4
`)
	if _, err := LoadServerConfig(cfgPath); err == nil {
		t.Fatal("expected error for invalid compression mode")
	}
}

func TestLoadServerConfig_ArchiveRequiresBucketAndRegion(t *testing.T) {
	cfgPath := writeTempConfig(t, `
archive:
  enabled: true
`)
	if _, err := LoadServerConfig(cfgPath); err == nil {
		t.Fatal("expected error for archive enabled without bucket/region")
	}
}

func TestLoadServerConfig_StatsRequiresAllowOrigins(t *testing.T) {
	cfgPath := writeTempConfig(t, `
stats:
  enabled: true
`)
	if _, err := LoadServerConfig(cfgPath); err == nil {
		t.Fatal("expected error for stats enabled without allow_origins")
	}
}

func TestLoadServerConfig_StatsParsesCIDRsAndBarePIPs(t *testing.T) {
	cfgPath := writeTempConfig(t, `
stats:
  enabled: true
  allow_origins:
    - "10.0.0.0/8"
    - "192.168.1.10"
`)
	cfg, err := LoadServerConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Stats.ParsedCIDRs) != 2 {
		t.Fatalf("expected 2 parsed CIDRs, got %d", len(cfg.Stats.ParsedCIDRs))
	}
	if cfg.Stats.ParsedCIDRs[1].String() != "192.168.1.10/32" {
		t.Errorf("expected bare IP to become /32, got %s", cfg.Stats.ParsedCIDRs[1].String())
	}
	if cfg.Stats.Listen != "127.0.0.1:9848" {
		t.Errorf("expected default stats listen, got %q", cfg.Stats.Listen)
	}
	if cfg.Stats.Interval != 15*time.Second {
		t.Errorf("expected default stats interval 15s, got %v", cfg.Stats.Interval)
	}
}

func TestLoadServerConfig_StatsInvalidOrigin(t *testing.T) {
	cfgPath := writeTempConfig(t, `
stats:
  enabled: true
  allow_origins:
    - "not-an-ip"
`)
	if _, err := LoadServerConfig(cfgPath); err == nil {
		t.Fatal("expected error for invalid allow_origins entry")
	}
}

func TestLoadServerConfig_FileNotFound(t *testing.T) {
	if _, err := LoadServerConfig("/nonexistent/path/server.yaml"); err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadServerConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeTempConfig(t, "{{invalid yaml}}")
	if _, err := LoadServerConfig(cfgPath); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestLoadServerConfig_ThrottleDisabledByDefault(t *testing.T) {
	cfgPath := writeTempConfig(t, `
cache_dir: /tmp/cache
`)
	cfg, err := LoadServerConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Throttle.Raw != 0 {
		t.Errorf("expected no throttle by default, got %d", cfg.Throttle.Raw)
	}
}

func TestLoadServerConfig_ThrottleParsed(t *testing.T) {
	cfgPath := writeTempConfig(t, `
cache_dir: /tmp/cache
throttle:
  bytes_per_sec: "5mb"
`)
	cfg, err := LoadServerConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Throttle.Raw != 5*1024*1024 {
		t.Errorf("expected throttle 5mb, got %d", cfg.Throttle.Raw)
	}
}

func TestLoadServerConfig_ThrottleInvalid(t *testing.T) {
	cfgPath := writeTempConfig(t, `
cache_dir: /tmp/cache
throttle:
  bytes_per_sec: "nope"
`)
	if _, err := LoadServerConfig(cfgPath); err == nil {
		t.Fatal("expected error for invalid throttle.bytes_per_sec")
	}
}

func TestParseByteSize(t *testing.T) {
	cases := map[string]int64{
		"64kb": 64 * 1024,
		"8mb":  8 * 1024 * 1024,
		"1gb":  1024 * 1024 * 1024,
		"100b": 100,
		"512":  512,
	}
	for in, want := range cases {
		got, err := ParseByteSize(in)
		if err != nil {
			t.Errorf("ParseByteSize(%q) unexpected error: %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseByteSize_Invalid(t *testing.T) {
	if _, err := ParseByteSize("not-a-size"); err == nil {
		t.Fatal("expected error for invalid size string")
	}
	if _, err := ParseByteSize(""); err == nil {
		t.Fatal("expected error for empty size string")
	}
}
