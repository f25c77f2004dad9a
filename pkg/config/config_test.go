package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.Workers != runtime.NumCPU() {
		t.Errorf("Expected %d workers, got %d", runtime.NumCPU(), cfg.Processing.Workers)
	}
	if cfg.Reconstruction.PositionTolerance != 1e-3 {
		t.Errorf("Expected tolerance 1e-3, got %g", cfg.Reconstruction.PositionTolerance)
	}
	if cfg.Merge.Mode != MergeOr || cfg.Merge.Saturation != 255 {
		t.Errorf("Unexpected merge defaults %+v", cfg.Merge)
	}
	if !cfg.Reconstruction.SeriesVolumes {
		t.Errorf("Expected series volumes on by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Defaults should validate: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Output.Dir != "output" {
		t.Errorf("Expected default output dir, got %s", cfg.Output.Dir)
	}
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Processing.Workers = 3
	cfg.Merge.Mode = MergeSum
	cfg.Output.Dir = "/data/out"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Processing.Workers != 3 || loaded.Merge.Mode != MergeSum || loaded.Output.Dir != "/data/out" {
		t.Errorf("Round trip lost values: %+v", loaded)
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("processing:\n  workers: 2\nmerge:\n  mode: sum\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SEG2VOL_WORKERS", "5")
	t.Setenv("SEG2VOL_OUTPUT_DIR", "/env/out")
	t.Setenv("SEG2VOL_SERIES_VOLUMES", "false")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Workers != 5 {
		t.Errorf("Expected env to override workers, got %d", cfg.Processing.Workers)
	}
	if cfg.Merge.Mode != MergeSum {
		t.Errorf("Expected file value for merge mode, got %s", cfg.Merge.Mode)
	}
	if cfg.Output.Dir != "/env/out" {
		t.Errorf("Expected env output dir, got %s", cfg.Output.Dir)
	}
	if cfg.Reconstruction.SeriesVolumes {
		t.Errorf("Expected env to turn series volumes off")
	}
}

func TestEnvironmentParseError(t *testing.T) {
	t.Setenv("SEG2VOL_WORKERS", "many")
	_, err := LoadConfig("")
	if err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("Expected parse env error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"upper case mode", func(c *Config) { c.Merge.Mode = " OR " }, true},
		{"unknown mode", func(c *Config) { c.Merge.Mode = "max" }, false},
		{"zero tolerance", func(c *Config) { c.Reconstruction.PositionTolerance = 0 }, false},
		{"saturation too high", func(c *Config) { c.Merge.Saturation = 300 }, false},
		{"no output", func(c *Config) { c.Output.Dir = "" }, false},
		{"zero workers", func(c *Config) { c.Processing.Workers = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Expected ok=%v, got %v", tt.ok, err)
			}
		})
	}
}

func TestRegistryPath(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.RegistryPath("case1"); got != filepath.Join("output", "case1", "registry.db") {
		t.Errorf("Unexpected registry path %s", got)
	}
	cfg.Registry.Path = "/tmp/shared.db"
	if got := cfg.RegistryPath("case1"); got != "/tmp/shared.db" {
		t.Errorf("Expected explicit registry path, got %s", got)
	}
}
