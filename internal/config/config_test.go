package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.ListenAddr == "" || cfg.DBPath == "" {
		t.Errorf("expected non-empty defaults, got %+v", cfg)
	}
	if cfg.SyncInterval != 6*time.Hour {
		t.Errorf("expected 6h sync interval, got %v", cfg.SyncInterval)
	}
	if cfg.HorizonDays != 7 {
		t.Errorf("expected 7-day horizon, got %d", cfg.HorizonDays)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", cfg.BatchSize)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programsync.yaml")
	doc := "listen: 0.0.0.0:9000\nscheduler_secret: s3cret\nhorizon_days: 14\n"
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load from file: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("expected listen override, got %s", cfg.ListenAddr)
	}
	if cfg.SchedulerSecret != "s3cret" {
		t.Errorf("expected secret override, got %q", cfg.SchedulerSecret)
	}
	if cfg.HorizonDays != 14 {
		t.Errorf("expected horizon override, got %d", cfg.HorizonDays)
	}
	// Untouched keys keep their defaults.
	if cfg.BatchSize != 50 {
		t.Errorf("expected default batch size, got %d", cfg.BatchSize)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}
