package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  mode: debug
storage:
  type: local
  local_path: `+filepath.Join(t.TempDir(), "uploads")+`
`)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("port = %q, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "mysql" {
		t.Fatalf("driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Enrollment.MaxRetries != 5 {
		t.Fatalf("max retries = %d, want 5", cfg.Enrollment.MaxRetries)
	}
	if cfg.Enrollment.ProgressCacheTTL != 300*time.Second {
		t.Fatalf("cache ttl = %v, want 5m", cfg.Enrollment.ProgressCacheTTL)
	}
	if cfg.RateLimit.CleanupMinutes != 1 || len(cfg.RateLimit.ExemptPaths) != 2 || cfg.RateLimit.ExemptPaths[0] != "/api/health" {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if len(cfg.CORS.AllowedMethods) != 5 {
		t.Fatalf("cors methods = %v", cfg.CORS.AllowedMethods)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := writeConfig(t, `
database:
  driver: mysql
enrollment:
  max_retries: 0
storage:
  type: minio
`)
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Enrollment.MaxRetries != 1 {
		t.Fatalf("max retries = %d, want clamp to 1", cfg.Enrollment.MaxRetries)
	}
}

func TestLoadConfigRejectsWeakSecretInRelease(t *testing.T) {
	dir := writeConfig(t, `
server:
  mode: release
jwt:
  secret: short
storage:
  type: minio
`)
	if _, err := LoadConfig(dir); err == nil {
		t.Fatalf("expected error for short jwt secret in release mode")
	}
}
