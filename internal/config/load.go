package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("AGENTSCOPE_STORAGE_DIR", &c.Storage.Dir)
	envInt("AGENTSCOPE_RETENTION_DAYS", &c.Storage.RetentionDays)
	envStr("AGENTSCOPE_RETENTION_CRON", &c.Storage.RetentionCron)
	envInt("AGENTSCOPE_MAX_SIZE_MB", &c.Storage.MaxSizeMB)

	envStr("AGENTSCOPE_REDIS_URL", &c.Cache.URL)
	envInt("AGENTSCOPE_CACHE_COMMAND_TIMEOUT_MS", &c.Cache.CommandTimeoutMS)
	envInt("AGENTSCOPE_CACHE_CONNECT_TIMEOUT_MS", &c.Cache.ConnectTimeoutMS)
	envInt("AGENTSCOPE_CACHE_CONNECT_ATTEMPTS", &c.Cache.ConnectAttempts)
	envInt("AGENTSCOPE_BREAKER_FAILURE_THRESHOLD", &c.Cache.Breaker.FailureThreshold)
	envInt("AGENTSCOPE_BREAKER_RECOVERY_SECONDS", &c.Cache.Breaker.RecoverySeconds)
	envInt("AGENTSCOPE_BREAKER_WINDOW_SECONDS", &c.Cache.Breaker.WindowSeconds)

	envInt("AGENTSCOPE_SYNC_INTERVAL_SECONDS", &c.Sync.IntervalSeconds)
	envInt("AGENTSCOPE_SYNC_BATCH_SIZE", &c.Sync.BatchSize)
	envInt("AGENTSCOPE_SYNC_MAX_RETRIES", &c.Sync.MaxRetries)

	envStr("AGENTSCOPE_HOST", &c.Gateway.Host)
	envInt("AGENTSCOPE_PORT", &c.Gateway.Port)
	if v := os.Getenv("AGENTSCOPE_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}

	envStr("AGENTSCOPE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AGENTSCOPE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AGENTSCOPE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AGENTSCOPE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTSCOPE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	envStr("AGENTSCOPE_LOG_LEVEL", &c.Logging.Level)
	envStr("AGENTSCOPE_LOG_FORMAT", &c.Logging.Format)
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
