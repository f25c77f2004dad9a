// Package config provides configuration loading and management for seg2vol.
// It handles loading configuration from YAML files, applies environment
// overrides and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Merge modes
const (
	MergeOr  = "or"
	MergeSum = "sum"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers bounds how many segmentation folders are processed at once
		Workers int `yaml:"workers" env:"SEG2VOL_WORKERS"`
	} `yaml:"processing"`

	// Reconstruction parameters
	Reconstruction struct {
		// PositionTolerance is the maximum distance in mm between a frame
		// position and a slice position for the two to match
		PositionTolerance float64 `yaml:"positionTolerance" env:"SEG2VOL_POSITION_TOLERANCE"`

		// Overwrite regenerates volumes even when stored ones look current
		Overwrite bool `yaml:"overwrite" env:"SEG2VOL_OVERWRITE"`

		// SeriesVolumes also stacks the scan series of every processed
		// segmentation into a base volume when its slice images are known
		SeriesVolumes bool `yaml:"seriesVolumes" env:"SEG2VOL_SERIES_VOLUMES"`
	} `yaml:"reconstruction"`

	// Merge parameters
	Merge struct {
		// Mode is "or" (logical OR) or "sum" (saturating sum)
		Mode string `yaml:"mode" env:"SEG2VOL_MERGE_MODE"`

		// Saturation caps voxel values in sum mode
		Saturation int `yaml:"saturation" env:"SEG2VOL_MERGE_SATURATION"`
	} `yaml:"merge"`

	// Output parameters
	Output struct {
		// Dir is the root of all case outputs
		Dir string `yaml:"dir" env:"SEG2VOL_OUTPUT_DIR"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel" env:"SEG2VOL_LOG_LEVEL"`

		// LogFormat is text or json
		LogFormat string `yaml:"logFormat" env:"SEG2VOL_LOG_FORMAT"`
	} `yaml:"output"`

	// Registry parameters
	Registry struct {
		// Path of the SQLite object registry. Empty means registry.db
		// inside each case's output directory.
		Path string `yaml:"path" env:"SEG2VOL_REGISTRY_PATH"`
	} `yaml:"registry"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.Workers = runtime.NumCPU()

	cfg.Reconstruction.PositionTolerance = 1e-3
	cfg.Reconstruction.Overwrite = false
	cfg.Reconstruction.SeriesVolumes = true

	cfg.Merge.Mode = MergeOr
	cfg.Merge.Saturation = 255

	cfg.Output.Dir = "output"
	cfg.Output.LogLevel = "info"
	cfg.Output.LogFormat = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file and applies SEG2VOL_*
// environment overrides. If the file doesn't exist, the defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and normalizes enumerations
func (c *Config) Validate() error {
	if c.Processing.Workers <= 0 {
		c.Processing.Workers = runtime.NumCPU()
	}
	if c.Reconstruction.PositionTolerance <= 0 {
		return fmt.Errorf("reconstruction.positionTolerance must be positive, got %g", c.Reconstruction.PositionTolerance)
	}

	c.Merge.Mode = strings.ToLower(strings.TrimSpace(c.Merge.Mode))
	switch c.Merge.Mode {
	case MergeOr, MergeSum:
	default:
		return fmt.Errorf("merge.mode must be %q or %q, got %q", MergeOr, MergeSum, c.Merge.Mode)
	}
	if c.Merge.Saturation < 1 || c.Merge.Saturation > 255 {
		return fmt.Errorf("merge.saturation must be within 1..255, got %d", c.Merge.Saturation)
	}

	if c.Output.Dir == "" {
		return errors.New("output.dir must be set")
	}
	return nil
}

// RegistryPath returns the registry database path for a case
func (c *Config) RegistryPath(caseName string) string {
	if c.Registry.Path != "" {
		return c.Registry.Path
	}
	return filepath.Join(c.CaseDir(caseName), "registry.db")
}

// CaseDir returns the output directory of a case
func (c *Config) CaseDir(caseName string) string {
	return filepath.Join(c.Output.Dir, caseName)
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
