// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ClientConfig represents the full configuration of the streamclient
// conformance harness: a thin producer that uploads a source file to a
// streamserver and then reads it back for verification.
type ClientConfig struct {
	Server   ClientServer   `yaml:"server"`
	Source   string         `yaml:"source"` // path to the file to stream
	Throttle ThrottleConfig `yaml:"throttle"`
	Logging  LoggingInfo    `yaml:"logging"`
}

// ClientServer addresses the streamserver's WebSocket endpoint.
type ClientServer struct {
	Address string `yaml:"address"` // host:port
	Path    string `yaml:"path"`    // default: /audio
}

// ThrottleConfig bounds the harness's upload throughput.
type ThrottleConfig struct {
	BytesPerSec string `yaml:"bytes_per_sec"` // e.g. "10mb"; empty disables throttling
	Raw         int64  `yaml:"-"`
}

// LoadClientConfig reads and validates the harness's YAML configuration file.
func LoadClientConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading client config: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing client config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating client config: %w", err)
	}

	return &cfg, nil
}

func (c *ClientConfig) validate() error {
	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if c.Server.Path == "" {
		c.Server.Path = "/audio"
	}
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}

	if c.Throttle.BytesPerSec != "" {
		parsed, err := ParseByteSize(c.Throttle.BytesPerSec)
		if err != nil {
			return fmt.Errorf("throttle.bytes_per_sec: %w", err)
		}
		if parsed <= 0 {
			return fmt.Errorf("throttle.bytes_per_sec must be > 0, got %s", c.Throttle.BytesPerSec)
		}
		c.Throttle.Raw = parsed
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	return nil
}
