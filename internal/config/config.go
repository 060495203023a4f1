// Package config holds the server configuration: a JSON5 file overlaid with
// environment variables.
package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Config is the root configuration for the AgentScope server.
type Config struct {
	Storage   StorageConfig   `json:"storage"`
	Cache     CacheConfig     `json:"cache"`
	Sync      SyncConfig      `json:"sync"`
	Stream    StreamConfig    `json:"stream"`
	Gateway   GatewayConfig   `json:"gateway"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Logging   LoggingConfig   `json:"logging,omitempty"`
	mu        sync.RWMutex
}

// StorageConfig configures the durable store and retention.
type StorageConfig struct {
	Dir           string `json:"dir"`
	RetentionDays int    `json:"retention_days"`
	RetentionCron string `json:"retention_cron"` // 5-field cron, UTC
	MaxSizeMB     int    `json:"max_size_mb,omitempty"`
}

// CacheConfig configures the Redis cache and its circuit breaker.
type CacheConfig struct {
	URL                    string        `json:"url"`
	CommandTimeoutMS       int           `json:"command_timeout_ms"`
	ConnectTimeoutMS       int           `json:"connect_timeout_ms"`
	ConnectAttempts        int           `json:"connect_attempts"`
	MonitorIntervalSeconds int           `json:"monitor_interval_seconds"`
	Breaker                BreakerConfig `json:"breaker"`
}

// BreakerConfig tunes the cache circuit breaker.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold"`
	RecoverySeconds  int `json:"recovery_seconds"`
	WindowSeconds    int `json:"window_seconds"`
}

// SyncConfig tunes the deferred sync queue drain.
type SyncConfig struct {
	IntervalSeconds int `json:"interval_seconds"`
	BatchSize       int `json:"batch_size"`
	MaxRetries      int `json:"max_retries"`
	SettleDelayMS   int `json:"settle_delay_ms"`
}

// StreamConfig tunes the WebSocket broadcast path.
type StreamConfig struct {
	BroadcastHighWater  int `json:"broadcast_high_water"`
	InitialRecentEvents int `json:"initial_recent_events"`
}

// GatewayConfig configures the HTTP listener.
type GatewayConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level  string `json:"level,omitempty"`  // debug, info, warn, error
	Format string `json:"format,omitempty"` // "text" (default) or "json"
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir:           "~/.agentscope/data",
			RetentionDays: 30,
			RetentionCron: "0 3 * * *",
		},
		Cache: CacheConfig{
			URL:                    "redis://localhost:6379/0",
			CommandTimeoutMS:       3000,
			ConnectTimeoutMS:       5000,
			ConnectAttempts:        3,
			MonitorIntervalSeconds: 60,
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				RecoverySeconds:  30,
				WindowSeconds:    60,
			},
		},
		Sync: SyncConfig{
			IntervalSeconds: 30,
			BatchSize:       100,
			MaxRetries:      3,
			SettleDelayMS:   1000,
		},
		Stream: StreamConfig{
			BroadcastHighWater:  1024,
			InitialRecentEvents: 500,
		},
		Gateway: GatewayConfig{
			Host: "0.0.0.0",
			Port: 4000,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "agentscope",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SyncInterval returns the drain interval as a duration.
func (c *Config) SyncInterval() time.Duration {
	return time.Duration(c.Sync.IntervalSeconds) * time.Second
}

// SettleDelay returns the post-reconnect settle delay as a duration.
func (c *Config) SettleDelay() time.Duration {
	return time.Duration(c.Sync.SettleDelayMS) * time.Millisecond
}

// StoragePath returns the expanded storage directory.
func (c *Config) StoragePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Storage.Dir)
}

// ListenAddr returns the host:port the gateway binds to.
func (c *Config) ListenAddr() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fmt.Sprintf("%s:%d", c.Gateway.Host, c.Gateway.Port)
}

// Hash returns a SHA-256 hash of the config for change detection.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
