// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import "testing"

func TestLoadClientConfig_Defaults(t *testing.T) {
	cfgPath := writeTempConfig(t, `
server:
  address: "localhost:8080"
source: /tmp/input.bin
`)
	cfg, err := LoadClientConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Path != "/audio" {
		t.Errorf("expected default path /audio, got %q", cfg.Server.Path)
	}
	if cfg.Throttle.Raw != 0 {
		t.Errorf("expected no throttle by default, got %d", cfg.Throttle.Raw)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level info, got %q", cfg.Logging.Level)
	}
}

func TestLoadClientConfig_MissingAddress(t *testing.T) {
	cfgPath := writeTempConfig(t, `
source: /tmp/input.bin
`)
	if _, err := LoadClientConfig(cfgPath); err == nil {
		t.Fatal("expected error for missing server.address")
	}
}

func TestLoadClientConfig_MissingSource(t *testing.T) {
	cfgPath := writeTempConfig(t, `
server:
  address: "localhost:8080"
`)
	if _, err := LoadClientConfig(cfgPath); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestLoadClientConfig_Throttle(t *testing.T) {
	cfgPath := writeTempConfig(t, `
server:
  address: "localhost:8080"
source: /tmp/input.bin
throttle:
  bytes_per_sec: "10mb"
`)
	cfg, err := LoadClientConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Throttle.Raw != 10*1024*1024 {
		t.Errorf("expected throttle 10mb, got %d", cfg.Throttle.Raw)
	}
}

func TestLoadClientConfig_ThrottleInvalid(t *testing.T) {
	cfgPath := writeTempConfig(t, `
server:
  address: "localhost:8080"
source: /tmp/input.bin
throttle:
  bytes_per_sec: "nope"
`)
	if _, err := LoadClientConfig(cfgPath); err == nil {
		t.Fatal("expected error for invalid throttle.bytes_per_sec")
	}
}

func TestLoadClientConfig_FileNotFound(t *testing.T) {
	if _, err := LoadClientConfig("/nonexistent/path/client.yaml"); err == nil {
		t.Fatal("expected error for non-existent file")
	}
}
