package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{"POSTGRES_DSN", "USE_MEMORY", "VALIDATE_INTERVAL", "BATCH_WORKERS", "LOG_LEVEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg := FromEnv()
	if cfg.ValidateInterval != time.Hour {
		t.Errorf("ValidateInterval = %v, want 1h", cfg.ValidateInterval)
	}
	if cfg.BatchWorkers != 4 {
		t.Errorf("BatchWorkers = %d, want 4", cfg.BatchWorkers)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.UseMemory {
		t.Error("UseMemory should default to false")
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("USE_MEMORY", "true")
	t.Setenv("VALIDATE_INTERVAL", "15m")
	t.Setenv("BATCH_WORKERS", "8")
	t.Setenv("BATCH_TIME_LIMIT", "not-a-duration")

	cfg := FromEnv()
	if !cfg.UseMemory {
		t.Error("UseMemory = false, want true")
	}
	if cfg.ValidateInterval != 15*time.Minute {
		t.Errorf("ValidateInterval = %v, want 15m", cfg.ValidateInterval)
	}
	if cfg.BatchWorkers != 8 {
		t.Errorf("BatchWorkers = %d, want 8", cfg.BatchWorkers)
	}
	if cfg.BatchTimeLimit != 25*time.Minute {
		t.Errorf("invalid BATCH_TIME_LIMIT should fall back to default, got %v", cfg.BatchTimeLimit)
	}
}

func TestLoadFile_EnvTakesPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	content := "REDIS_ADDR=redis:6379\nKAFKA_BROKER=file-broker:9092\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("KAFKA_BROKER", "env-broker:9092")
	t.Setenv("REDIS_ADDR", "")
	os.Unsetenv("REDIS_ADDR")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Errorf("RedisAddr = %q, want value from file", cfg.RedisAddr)
	}
	if cfg.KafkaBroker != "env-broker:9092" {
		t.Errorf("KafkaBroker = %q, want value from environment", cfg.KafkaBroker)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	if err := (Config{UseMemory: true}).Validate(); err != nil {
		t.Errorf("memory config should be valid: %v", err)
	}
	if err := (Config{PostgresDSN: "postgres://x"}).Validate(); err != ErrMissingDSN {
		t.Errorf("expected ErrMissingDSN, got %v", err)
	}
}
