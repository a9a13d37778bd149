// Package config loads node settings from a yaml file with env overrides.
// Precedence: defaults < file < environment < flags (applied by cmd/node).
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultIdentityPath     = "identity.json"
	DefaultCacheDir         = "models"
	DefaultJournalPath      = "journal.db"
	DefaultUpdateSignalPath = "update.signal"
	DefaultHeartbeatSec     = 30
	DefaultMonitorSec       = 5
	DefaultRetentionMin     = 60
	DefaultIdleThresholdSec = 60
	DefaultOfflineRetryMin  = 5
	DefaultMaxReconnects    = 100
	DefaultShardCacheSize   = 32
)

// Config holds node settings. Interval fields are plain integers so the yaml
// stays unit-suffixed and obvious.
type Config struct {
	Coordinator      string   `yaml:"coordinator"`
	AuthToken        string   `yaml:"auth_token,omitempty"`
	DataDir          string   `yaml:"data_dir,omitempty"`
	IdentityPath     string   `yaml:"identity_path,omitempty"`
	CacheDir         string   `yaml:"cache_dir,omitempty"`
	JournalPath      string   `yaml:"journal_path,omitempty"`
	UpdateSignalPath string   `yaml:"update_signal_path,omitempty"`
	MetricsAddr      string   `yaml:"metrics_addr,omitempty"`
	StunServers      []string `yaml:"stun_servers,omitempty"`
	LogLevel         string   `yaml:"log_level,omitempty"`

	HeartbeatSec     int `yaml:"heartbeat_sec,omitempty"`
	MonitorSec       int `yaml:"monitor_sec,omitempty"`
	RetentionMin     int `yaml:"retention_min,omitempty"`
	IdleThresholdSec int `yaml:"idle_threshold_sec,omitempty"`
	OfflineRetryMin  int `yaml:"offline_retry_min,omitempty"`
	MaxReconnects    int `yaml:"max_reconnects,omitempty"`
	ShardCacheSize   int `yaml:"shard_cache_size,omitempty"`
}

// Load reads path (missing file is fine: defaults apply), then applies env
// overrides and defaults.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	cfg.applyEnv()
	ApplyDefaults(&cfg)
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setStr(&c.Coordinator, "MESHNODE_COORDINATOR")
	setStr(&c.AuthToken, "MESHNODE_AUTH_TOKEN")
	setStr(&c.DataDir, "MESHNODE_DATA_DIR")
	setStr(&c.MetricsAddr, "MESHNODE_METRICS_ADDR")
	setStr(&c.LogLevel, "MESHNODE_LOG_LEVEL")
	setInt(&c.HeartbeatSec, "MESHNODE_HEARTBEAT_SEC")
	setInt(&c.MaxReconnects, "MESHNODE_MAX_RECONNECTS")
}

// ApplyDefaults fills every unset field. Paths default under DataDir when one
// is given, otherwise under the current directory.
func ApplyDefaults(c *Config) {
	base := c.DataDir
	if base == "" {
		base = "."
	}
	if c.IdentityPath == "" {
		c.IdentityPath = base + "/" + DefaultIdentityPath
	}
	if c.CacheDir == "" {
		c.CacheDir = base + "/" + DefaultCacheDir
	}
	if c.JournalPath == "" {
		c.JournalPath = base + "/" + DefaultJournalPath
	}
	if c.UpdateSignalPath == "" {
		c.UpdateSignalPath = base + "/" + DefaultUpdateSignalPath
	}
	if c.HeartbeatSec <= 0 {
		c.HeartbeatSec = DefaultHeartbeatSec
	}
	if c.MonitorSec <= 0 {
		c.MonitorSec = DefaultMonitorSec
	}
	if c.RetentionMin <= 0 {
		c.RetentionMin = DefaultRetentionMin
	}
	if c.IdleThresholdSec <= 0 {
		c.IdleThresholdSec = DefaultIdleThresholdSec
	}
	if c.OfflineRetryMin <= 0 {
		c.OfflineRetryMin = DefaultOfflineRetryMin
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	if c.ShardCacheSize <= 0 {
		c.ShardCacheSize = DefaultShardCacheSize
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks fields the node cannot run without.
func Validate(c Config) error {
	if c.Coordinator == "" {
		return fmt.Errorf("coordinator base URL is required")
	}
	return nil
}

func (c Config) HeartbeatInterval() time.Duration { return time.Duration(c.HeartbeatSec) * time.Second }
func (c Config) MonitorInterval() time.Duration   { return time.Duration(c.MonitorSec) * time.Second }
func (c Config) HistoryRetention() time.Duration  { return time.Duration(c.RetentionMin) * time.Minute }
func (c Config) IdleThreshold() time.Duration     { return time.Duration(c.IdleThresholdSec) * time.Second }
func (c Config) OfflineRetry() time.Duration      { return time.Duration(c.OfflineRetryMin) * time.Minute }
