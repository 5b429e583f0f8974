// Package config provides configuration management for pcapkeeper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBruteForceInterval is how long targeted removal runs between
	// timestamp-driven sweeps.
	DefaultBruteForceInterval = 20 * time.Minute
	// DefaultStatsPublishInterval is the minimum spacing between stats publishes.
	DefaultStatsPublishInterval = 5 * time.Second
	// DefaultFilesPerIteration is the batch size requested from the index.
	DefaultFilesPerIteration = 2000
	// DefaultSchedule runs a retention cycle every 30 seconds.
	DefaultSchedule = "@every 30s"
	// DefaultConfigPath is where the daemon looks for its config file.
	DefaultConfigPath = "/etc/pcapkeeper/config.yml"
)

// ErrNoCaptureLocations is returned when no capture location is configured.
var ErrNoCaptureLocations = errors.New("at least one capture location is required")

// RetentionPolicy holds the limits that trigger removal.
type RetentionPolicy struct {
	// FileCountLimit of 0 disables the file count check.
	FileCountLimit int64 `yaml:"file_count_limit"`
	// SizeLimitMB of 0 disables the size check.
	SizeLimitMB          uint64        `yaml:"size_limit_mb"`
	FilesPerIteration    int           `yaml:"files_per_iteration"`
	BruteForceInterval   time.Duration `yaml:"brute_force_interval"`
	StatsPublishInterval time.Duration `yaml:"stats_publish_interval"`
}

// IndexConfig locates the document index.
type IndexConfig struct {
	URL          string        `yaml:"url"`
	IndexPattern string        `yaml:"index_pattern"`
	Timeout      time.Duration `yaml:"timeout"`
	Username     string        `yaml:"username,omitempty"`
	Password     string        `yaml:"password,omitempty"`
	Proxy        ProxyConfig   `yaml:"proxy,omitempty"`
}

// ProxyConfig routes index traffic through a proxy. SOCKS5 wins over the
// HTTP proxies when both are set.
type ProxyConfig struct {
	HTTP    string `yaml:"http,omitempty"`
	HTTPS   string `yaml:"https,omitempty"`
	SOCKS5  string `yaml:"socks5,omitempty"`
	NoProxy string `yaml:"no_proxy,omitempty"`
}

// Enabled reports whether any proxy is configured.
func (p ProxyConfig) Enabled() bool {
	return p.HTTP != "" || p.HTTPS != "" || p.SOCKS5 != ""
}

// StatsConfig selects the stats sinks.
type StatsConfig struct {
	Prometheus   bool   `yaml:"prometheus"`
	RedisAddr    string `yaml:"redis_addr,omitempty"`
	RedisKey     string `yaml:"redis_key,omitempty"`
	RedisChannel string `yaml:"redis_channel,omitempty"`
}

// ServerConfig configures the status HTTP server.
type ServerConfig struct {
	Listen string `yaml:"listen"`
}

// JournalConfig configures the local removal journal.
type JournalConfig struct {
	// Path of the sqlite journal; empty disables the journal.
	Path        string `yaml:"path"`
	ReplayBatch int    `yaml:"replay_batch"`
	// RetainFor is how long confirmed entries are kept.
	RetainFor time.Duration `yaml:"retain_for"`
}

// LogConfig configures logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config holds the daemon configuration.
type Config struct {
	// CaptureLocations is ordered; the first entry is the primary location.
	CaptureLocations []string        `yaml:"capture_locations"`
	ProbeLocation    string          `yaml:"probe_location"`
	Retention        RetentionPolicy `yaml:"retention"`
	Schedule         string          `yaml:"schedule"`
	Index            IndexConfig     `yaml:"index"`
	Stats            StatsConfig     `yaml:"stats"`
	Server           ServerConfig    `yaml:"server"`
	Journal          JournalConfig   `yaml:"journal"`
	Log              LogConfig       `yaml:"log"`
}

// Default returns a Config with every optional field filled in.
func Default() *Config {
	return &Config{
		ProbeLocation: "/usr/local/probe",
		Retention: RetentionPolicy{
			FilesPerIteration:    DefaultFilesPerIteration,
			BruteForceInterval:   DefaultBruteForceInterval,
			StatsPublishInterval: DefaultStatsPublishInterval,
		},
		Schedule: DefaultSchedule,
		Index: IndexConfig{
			URL:          "http://127.0.0.1:9200",
			IndexPattern: "network_*",
			Timeout:      30 * time.Second,
		},
		Stats: StatsConfig{
			Prometheus:   true,
			RedisKey:     "pcapkeeper:stats",
			RedisChannel: "pcapkeeper.stats",
		},
		Server:  ServerConfig{Listen: "127.0.0.1:9187"},
		Journal: JournalConfig{ReplayBatch: 500, RetainFor: 30 * 24 * time.Hour},
		Log:     LogConfig{Level: "info", Format: "json"},
	}
}

// Validate checks that the configuration can drive a retention cycle.
func (c *Config) Validate() error {
	if len(c.CaptureLocations) == 0 {
		return ErrNoCaptureLocations
	}
	for _, loc := range c.CaptureLocations {
		if !filepath.IsAbs(loc) {
			return fmt.Errorf("capture location %q must be an absolute path", loc)
		}
	}
	if c.ProbeLocation == "" {
		return errors.New("probe_location is required")
	}
	if c.Retention.FileCountLimit < 0 {
		return errors.New("retention.file_count_limit must not be negative")
	}
	if c.Retention.FilesPerIteration <= 0 {
		return errors.New("retention.files_per_iteration must be positive")
	}
	if c.Retention.BruteForceInterval <= 0 {
		return errors.New("retention.brute_force_interval must be positive")
	}
	if c.Retention.StatsPublishInterval <= 0 {
		return errors.New("retention.stats_publish_interval must be positive")
	}
	if _, err := cron.ParseStandard(c.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
	}
	if c.Index.URL == "" {
		return errors.New("index.url is required")
	}
	if c.Journal.Path != "" && c.Journal.ReplayBatch <= 0 {
		return errors.New("journal.replay_batch must be positive")
	}
	if c.Journal.Path != "" && c.Journal.RetainFor <= 0 {
		return errors.New("journal.retain_for must be positive")
	}
	return nil
}

// PrimaryLocation returns the first capture location, or "" if none.
func (c *Config) PrimaryLocation() string {
	if len(c.CaptureLocations) == 0 {
		return ""
	}
	return c.CaptureLocations[0]
}

// Snapshot returns a deep copy that shares no state with c.
func (c *Config) Snapshot() *Config {
	cp := *c
	cp.CaptureLocations = append([]string(nil), c.CaptureLocations...)
	return &cp
}

// Load reads the configuration from the given path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Index credentials may be present
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}
