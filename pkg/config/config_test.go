package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "listen_addr: 0.0.0.0\n")

	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != DefaultListenPort {
		t.Fatalf("ListenPort = %d, want default %d", cfg.ListenPort, DefaultListenPort)
	}
	if cfg.TickDurationMS != DefaultTickDurationMS {
		t.Fatalf("TickDurationMS = %d, want default %d", cfg.TickDurationMS, DefaultTickDurationMS)
	}
	if cfg.ListenAddr != "0.0.0.0" {
		t.Fatalf("ListenAddr = %q, want file value preserved", cfg.ListenAddr)
	}
}

func TestLoadEnvOverlayWinsOverFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "listen_port: 9999\n")

	t.Setenv("VALIDATOR_LISTEN_PORT", "7777")
	cfg, err := Load(path, filepath.Join(dir, "missing.env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenPort != 7777 {
		t.Fatalf("ListenPort = %d, want env override 7777", cfg.ListenPort)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	dir := t.TempDir()
	if _, err := Load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, "missing.env")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadDotEnvFileIsOverlaid(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "listen_addr: 127.0.0.1\n")
	writeFile(t, dir, ".env", "VALIDATOR_DATA_DIR=/tmp/validator-data\n")

	cfg, err := Load(path, filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/tmp/validator-data" {
		t.Fatalf("DataDir = %q, want value from .env overlay", cfg.DataDir)
	}
}
