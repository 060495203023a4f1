package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Storage.RetentionDays != 30 || cfg.Storage.RetentionCron != "0 3 * * *" {
		t.Errorf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Cache.URL != "redis://localhost:6379/0" {
		t.Errorf("cache url = %q", cfg.Cache.URL)
	}
	if cfg.Cache.Breaker.FailureThreshold != 5 || cfg.Cache.Breaker.RecoverySeconds != 30 {
		t.Errorf("breaker defaults = %+v", cfg.Cache.Breaker)
	}
	if cfg.SyncInterval() != 30*time.Second {
		t.Errorf("sync interval = %v", cfg.SyncInterval())
	}
	if cfg.SettleDelay() != time.Second {
		t.Errorf("settle delay = %v", cfg.SettleDelay())
	}
	if cfg.ListenAddr() != "0.0.0.0:4000" {
		t.Errorf("listen addr = %q", cfg.ListenAddr())
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Gateway.Port != 4000 {
		t.Errorf("port = %d, want default", cfg.Gateway.Port)
	}
}

func TestLoadJSON5File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// comments are allowed
		storage: { dir: "/tmp/scope", retention_days: 7 },
		gateway: { port: 9999 },
	}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Storage.Dir != "/tmp/scope" || cfg.Storage.RetentionDays != 7 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Gateway.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Gateway.Port)
	}
	// Untouched sections keep defaults.
	if cfg.Sync.BatchSize != 100 {
		t.Errorf("batch size = %d, want default", cfg.Sync.BatchSize)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{storage:`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config accepted")
	}
}

func TestEnvOverridesBeatFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{gateway: {port: 9999}}`), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AGENTSCOPE_PORT", "5001")
	t.Setenv("AGENTSCOPE_REDIS_URL", "redis://cache.internal:6380/1")
	t.Setenv("AGENTSCOPE_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("AGENTSCOPE_SYNC_BATCH_SIZE", "bogus") // non-numeric: ignored
	t.Setenv("AGENTSCOPE_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if cfg.Gateway.Port != 5001 {
		t.Errorf("port = %d, want env override 5001", cfg.Gateway.Port)
	}
	if cfg.Cache.URL != "redis://cache.internal:6380/1" {
		t.Errorf("redis url = %q", cfg.Cache.URL)
	}
	if len(cfg.Gateway.AllowedOrigins) != 2 || cfg.Gateway.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins = %v", cfg.Gateway.AllowedOrigins)
	}
	if cfg.Sync.BatchSize != 100 {
		t.Errorf("batch size = %d, non-numeric env must be ignored", cfg.Sync.BatchSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q", cfg.Logging.Level)
	}
}

func TestHashChangesWithContent(t *testing.T) {
	a := Default()
	b := Default()
	if a.Hash() != b.Hash() {
		t.Error("identical configs hash differently")
	}
	b.Gateway.Port = 5001
	if a.Hash() == b.Hash() {
		t.Error("different configs hash identically")
	}
}

func TestSaveRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Default()
	cfg.Gateway.Port = 8123
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() = %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() = %v", err)
	}
	if loaded.Gateway.Port != 8123 {
		t.Errorf("roundtrip port = %d", loaded.Gateway.Port)
	}
}

func TestExpandHome(t *testing.T) {
	home, _ := os.UserHomeDir()
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"/abs/path", "/abs/path"},
		{"~", home},
		{"~/data", home + "/data"},
	}
	for _, tt := range tests {
		if got := ExpandHome(tt.in); got != tt.want {
			t.Errorf("ExpandHome(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
