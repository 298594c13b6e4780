package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/mfalcone/docmill/internal/config"
)

func TestLoad_DefaultsApplied(t *testing.T) {
	f, err := os.CreateTemp("", "docmill-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString("input_dir: /data/inbox\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.Load(f.Name())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InputDir != "/data/inbox" {
		t.Errorf("InputDir: got %q", cfg.InputDir)
	}
	if cfg.Pipeline.BatchSize != 1000 {
		t.Errorf("default batch_size: got %d, want 1000", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.ExtractTimeout != 30*time.Second {
		t.Errorf("default extract_timeout: got %v", cfg.Pipeline.ExtractTimeout)
	}
	if cfg.Pipeline.Workers != 0 {
		t.Errorf("workers should stay 0 (planner decides), got %d", cfg.Pipeline.Workers)
	}
	if len(cfg.IncludeExts) == 0 {
		t.Error("expected default include_exts")
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("missing config file should not be an error, got %v", err)
	}
	if cfg.CheckpointPath == "" {
		t.Error("expected default checkpoint_path")
	}
}

func TestLoad_UnknownFieldRejected(t *testing.T) {
	f, err := os.CreateTemp("", "docmill-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString("no_such_knob: true\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := config.Load(f.Name()); err == nil {
		t.Error("expected error for unknown config field")
	}
}
