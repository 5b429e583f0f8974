package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables that override file settings.
const (
	EnvIndexURL       = "PCAPKEEPER_INDEX_URL"
	EnvIndexPassword  = "PCAPKEEPER_INDEX_PASSWORD"
	EnvRedisAddr      = "PCAPKEEPER_REDIS_ADDR"
	EnvLogLevel       = "PCAPKEEPER_LOG_LEVEL"
	EnvFileCountLimit = "PCAPKEEPER_FILE_COUNT_LIMIT"
	EnvSizeLimitMB    = "PCAPKEEPER_SIZE_LIMIT_MB"
	EnvPrometheus     = "PCAPKEEPER_PROMETHEUS"
)

// applyEnv overlays environment overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvIndexURL); v != "" {
		cfg.Index.URL = v
	}
	if v := os.Getenv(EnvIndexPassword); v != "" {
		cfg.Index.Password = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		cfg.Stats.RedisAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = strings.ToLower(v)
	}
	cfg.Retention.FileCountLimit = getEnvInt64(EnvFileCountLimit, cfg.Retention.FileCountLimit)
	if n := getEnvInt64(EnvSizeLimitMB, int64(cfg.Retention.SizeLimitMB)); n >= 0 {
		cfg.Retention.SizeLimitMB = uint64(n)
	}
	cfg.Stats.Prometheus = getEnvBool(EnvPrometheus, cfg.Stats.Prometheus)
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt64 reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt64(key string, defaultVal int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return defaultVal
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return defaultVal
	}
	return n
}
