// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig represents the full configuration of streamserver.
type ServerConfig struct {
	Server      ServerListen      `yaml:"server"`
	CacheDir    string            `yaml:"cache_dir"`
	CacheMax    string            `yaml:"cache_max_size"` // per-stream cap, e.g. "8gb"
	CacheMaxRaw int64             `yaml:"-"`
	Segment     SegmentConfig     `yaml:"segment"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Pool        PoolConfig        `yaml:"pool"`
	Compression CompressionConfig `yaml:"compression"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Stats       StatsConfig       `yaml:"stats"`
	Logging     LoggingInfo       `yaml:"logging"`
	Throttle    ThrottleConfig    `yaml:"throttle"` // caps the per-connection GET response rate
}

// ServerListen contains the WebSocket server's listen port and upgrade path.
type ServerListen struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}

// SegmentConfig overrides the Memory-Mapped Cache's segment size. Intended
// for tests only; production deployments should leave this unset (1 GiB).
type SegmentConfig struct {
	Size    string `yaml:"size"`
	SizeRaw int64  `yaml:"-"`
}

// SweepConfig drives the Stream Manager's cleanup_old_streams cron job.
type SweepConfig struct {
	Cron          string        `yaml:"cron"` // default: "*/5 * * * *"
	IdleThreshold time.Duration `yaml:"idle_threshold"`
}

// PoolConfig sizes the Memory Pool's free-list of fixed-size buffers.
type PoolConfig struct {
	Size       int    `yaml:"size"`        // default: 100
	BufferSize string `yaml:"buffer_size"` // default: "64kb"
	BufferRaw  int64  `yaml:"-"`
}

// CompressionConfig describes a wire-compression mode. It is validated at
// load time only: the server does not read it when handling START, where a
// stream's mode is whatever the client names in the START frame.
type CompressionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Mode    string `yaml:"mode"` // "zstd" | "gzip"
}

// ArchiveConfig controls the optional async S3 archival of finalized streams.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// StatsConfig exposes a read-only JSON stats endpoint, gated by an ACL.
type StatsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Listen       string        `yaml:"listen"` // default: "127.0.0.1:9848"
	Interval     time.Duration `yaml:"interval"`
	AllowOrigins []string      `yaml:"allow_origins"`
	ParsedCIDRs  []*net.IPNet  `yaml:"-"`
}

// LoadServerConfig reads and validates the server's YAML configuration file.
func LoadServerConfig(path string) (*ServerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading server config: %w", err)
	}

	var cfg ServerConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing server config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating server config: %w", err)
	}

	return &cfg, nil
}

func (c *ServerConfig) validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Path == "" {
		c.Server.Path = "/audio"
	}
	if c.CacheDir == "" {
		c.CacheDir = "cache"
	}

	if c.CacheMax == "" {
		c.CacheMax = "8gb"
	}
	parsed, err := ParseByteSize(c.CacheMax)
	if err != nil {
		return fmt.Errorf("cache_max_size: %w", err)
	}
	if parsed <= 0 {
		return fmt.Errorf("cache_max_size must be > 0, got %s", c.CacheMax)
	}
	c.CacheMaxRaw = parsed

	if c.Segment.Size == "" {
		c.Segment.SizeRaw = 1 * 1024 * 1024 * 1024 // 1 GiB
	} else {
		segParsed, err := ParseByteSize(c.Segment.Size)
		if err != nil {
			return fmt.Errorf("segment.size: %w", err)
		}
		if segParsed <= 0 {
			return fmt.Errorf("segment.size must be > 0, got %s", c.Segment.Size)
		}
		pageSize := int64(os.Getpagesize())
		if segParsed%pageSize != 0 {
			return fmt.Errorf("segment.size must be a multiple of the system page size (%d), got %s", pageSize, c.Segment.Size)
		}
		c.Segment.SizeRaw = segParsed
	}

	if c.Sweep.Cron == "" {
		c.Sweep.Cron = "*/5 * * * *"
	}
	if c.Sweep.IdleThreshold <= 0 {
		c.Sweep.IdleThreshold = 30 * time.Minute
	}

	if c.Pool.Size <= 0 {
		c.Pool.Size = 100
	}
	if c.Pool.BufferSize == "" {
		c.Pool.BufferSize = "64kb"
	}
	bufParsed, err := ParseByteSize(c.Pool.BufferSize)
	if err != nil {
		return fmt.Errorf("pool.buffer_size: %w", err)
	}
	if bufParsed <= 0 {
		return fmt.Errorf("pool.buffer_size must be > 0, got %s", c.Pool.BufferSize)
	}
	c.Pool.BufferRaw = bufParsed

	if c.Compression.Enabled {
		c.Compression.Mode = strings.ToLower(strings.TrimSpace(c.Compression.Mode))
		if c.Compression.Mode == "" {
			c.Compression.Mode = "zstd"
		}
		if c.Compression.Mode != "zstd" && c.Compression.Mode != "gzip" {
			return fmt.Errorf("compression.mode must be zstd or gzip, got %q", c.Compression.Mode)
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required when archive is enabled")
		}
		if c.Archive.Region == "" {
			return fmt.Errorf("archive.region is required when archive is enabled")
		}
	}

	if c.Stats.Enabled {
		if c.Stats.Listen == "" {
			c.Stats.Listen = "127.0.0.1:9848"
		}
		if c.Stats.Interval <= 0 {
			c.Stats.Interval = 15 * time.Second
		}
		if len(c.Stats.AllowOrigins) == 0 {
			return fmt.Errorf("stats.allow_origins is required when stats is enabled (deny-by-default)")
		}
		for _, origin := range c.Stats.AllowOrigins {
			_, cidr, err := net.ParseCIDR(origin)
			if err != nil {
				ip := net.ParseIP(strings.TrimSpace(origin))
				if ip == nil {
					return fmt.Errorf("stats.allow_origins: %q is not a valid IP or CIDR", origin)
				}
				if ip.To4() != nil {
					_, cidr, _ = net.ParseCIDR(ip.String() + "/32")
				} else {
					_, cidr, _ = net.ParseCIDR(ip.String() + "/128")
				}
			}
			c.Stats.ParsedCIDRs = append(c.Stats.ParsedCIDRs, cidr)
		}
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
