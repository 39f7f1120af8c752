package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"PosCache/internal/config"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CacheTTL() != 5*time.Minute {
		t.Errorf("cache TTL = %s, want 5m", cfg.CacheTTL())
	}
	if cfg.ModuleTTL() != time.Minute {
		t.Errorf("module TTL = %s, want 1m", cfg.ModuleTTL())
	}
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "poscache.yaml")
	data := []byte("cache:\n  ttl_sec: 120\nnats:\n  url: nats://file:4222\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("POSCACHE_NATS_URL", "nats://env:4222")
	t.Setenv("POSCACHE_CACHE_TTL_SEC", "")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.TTLSec != 120 {
		t.Errorf("ttl_sec = %d, want 120 from file", cfg.Cache.TTLSec)
	}
	if cfg.NATS.URL != "nats://env:4222" {
		t.Errorf("nats url = %q, want env override", cfg.NATS.URL)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	t.Setenv("POSCACHE_CACHE_TTL_SEC", "-1")
	if _, err := config.Load(""); err == nil {
		t.Fatal("negative TTL must fail validation")
	}
}
