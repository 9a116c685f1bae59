// Package config provides configuration loading and management for mosaicstitch.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Fusion mode names accepted in configuration files.
const (
	FusionLinearBlend = "linear_blend"
	FusionNearest     = "nearest"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumWorkers is the number of wells processed concurrently
		NumWorkers int `yaml:"numWorkers"`

		// Verbose controls per-stage progress output
		Verbose bool `yaml:"verbose"`
	} `yaml:"processing"`

	// Clustering parameters
	Clustering struct {
		// FootprintMargin is the multiple of the tile footprint used to
		// expand patch bounding boxes during the greedy membership test
		FootprintMargin float64 `yaml:"footprintMargin"`
	} `yaml:"clustering"`

	// Registration parameters
	Registration struct {
		// Subpixel enables parabolic sub-pixel refinement of the
		// correlation peak
		Subpixel bool `yaml:"subpixel"`

		// QualityThreshold is the minimum normalized cross-correlation
		// score for a pairwise offset to be accepted; pairs below it fall
		// back to their nominal layout
		QualityThreshold float64 `yaml:"qualityThreshold"`

		// PeakCandidates is how many correlation peaks are examined per
		// tile pair when resolving the true offset
		PeakCandidates int `yaml:"peakCandidates"`

		// MinOverlapPixels is the smallest overlap area (in pixels) for
		// which a candidate offset is scored at all
		MinOverlapPixels int `yaml:"minOverlapPixels"`
	} `yaml:"registration"`

	// Fusion parameters
	Fusion struct {
		// Mode selects the blending policy: "linear_blend" or "nearest"
		Mode string `yaml:"mode"`
	} `yaml:"fusion"`

	// Output parameters
	Output struct {
		// Directory is where fused patch images are written
		Directory string `yaml:"directory"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumWorkers = runtime.NumCPU()
	cfg.Processing.Verbose = true

	cfg.Clustering.FootprintMargin = 1.0

	cfg.Registration.Subpixel = true
	cfg.Registration.QualityThreshold = 0.5
	cfg.Registration.PeakCandidates = 5
	cfg.Registration.MinOverlapPixels = 64

	cfg.Fusion.Mode = FusionLinearBlend

	cfg.Output.Directory = "fused"

	return cfg
}

// Validate checks the loaded values for consistency.
func (c *Config) Validate() error {
	if c.Processing.NumWorkers < 1 {
		return fmt.Errorf("processing.numWorkers must be at least 1, got %d", c.Processing.NumWorkers)
	}
	if c.Clustering.FootprintMargin < 0 {
		return fmt.Errorf("clustering.footprintMargin must be non-negative, got %g", c.Clustering.FootprintMargin)
	}
	if c.Registration.PeakCandidates < 1 {
		return fmt.Errorf("registration.peakCandidates must be at least 1, got %d", c.Registration.PeakCandidates)
	}
	switch c.Fusion.Mode {
	case FusionLinearBlend, FusionNearest:
	default:
		return fmt.Errorf("fusion.mode must be %q or %q, got %q", FusionLinearBlend, FusionNearest, c.Fusion.Mode)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
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
