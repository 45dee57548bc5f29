// Package config provides configuration loading and management for particlealign.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Alignment parameters
	Alignment struct {
		// Oversampling is the number of rendered pixels per camera pixel
		Oversampling float64 `yaml:"oversampling"`

		// Iterations is the number of refinement rounds to run
		Iterations int `yaml:"iterations"`

		// PixelSize scales the axial axis (nm per camera pixel), 3D only
		PixelSize float64 `yaml:"pixelSize"`

		// Workers is the size of the alignment pool. Zero picks
		// three quarters of the available CPUs.
		Workers int `yaml:"workers"`

		// PollInterval controls how often progress is reported while a
		// batch of groups is in flight
		PollInterval time.Duration `yaml:"pollInterval"`
	} `yaml:"alignment"`

	// Output parameters
	Output struct {
		// MergeGroups stores all particles as a single group when saving
		MergeGroups bool `yaml:"mergeGroups"`

		// AverageImage is the PNG path the final average is written to.
		// Empty disables the export.
		AverageImage string `yaml:"averageImage"`

		// GrayImage is the PNG path of the raw normalized average, without
		// axes or color map. Empty disables the export.
		GrayImage string `yaml:"grayImage"`

		// MetricsFile receives the run counters in the Prometheus text
		// format. Empty disables the export.
		MetricsFile string `yaml:"metricsFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is a zerolog level name (debug, info, warn, error)
		Level string `yaml:"level"`

		// Console switches to human readable output instead of JSON lines
		Console bool `yaml:"console"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Alignment.Oversampling = 10
	cfg.Alignment.Iterations = 10
	cfg.Alignment.PixelSize = 160
	cfg.Alignment.Workers = 0
	cfg.Alignment.PollInterval = 500 * time.Millisecond

	cfg.Output.MergeGroups = false
	cfg.Output.AverageImage = ""
	cfg.Output.GrayImage = ""
	cfg.Output.MetricsFile = ""
	cfg.Output.Verbose = true

	cfg.Logging.Level = "info"
	cfg.Logging.Console = true

	return cfg
}

// Validate reports every parameter that cannot drive an alignment run.
func (c *Config) Validate() error {
	var errs []error
	if c.Alignment.Oversampling <= 0 {
		errs = append(errs, fmt.Errorf("oversampling must be positive, got %g", c.Alignment.Oversampling))
	}
	if c.Alignment.Iterations < 0 {
		errs = append(errs, fmt.Errorf("iterations must be non-negative, got %d", c.Alignment.Iterations))
	}
	if c.Alignment.PixelSize <= 0 {
		errs = append(errs, fmt.Errorf("pixelSize must be positive, got %g", c.Alignment.PixelSize))
	}
	if c.Alignment.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be non-negative, got %d", c.Alignment.Workers))
	}
	if c.Alignment.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("pollInterval must be positive, got %s", c.Alignment.PollInterval))
	}
	return errors.Join(errs...)
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
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
