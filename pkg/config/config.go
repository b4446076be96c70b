// Package config provides configuration loading and management for regionsplat.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"gopkg.in/yaml.v3"

	"regionsplat/pkg/codec"
	"regionsplat/pkg/dtype"
	"regionsplat/pkg/tiff"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers is the size of the encode pool; 0 uses one worker per CPU
		Workers int `yaml:"workers"`

		// ComputeType is the floating type pixels are normalised into
		ComputeType string `yaml:"computeType"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Format is the codec name of every archived image
		Format string `yaml:"format"`

		// ElementType forces the stored integer type; empty infers it from the inputs
		ElementType string `yaml:"elementType"`

		// Rescale stretches splat results over the full output range
		Rescale bool `yaml:"rescale"`

		// Compression applies to tiff output: none, deflate or zstd
		Compression string `yaml:"compression"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is one of debug, info, warn or error
		Level string `yaml:"level"`

		// Format is text or json
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Sequential unless asked otherwise
	cfg.Processing.Workers = 1
	cfg.Processing.ComputeType = "float32"

	// Output.Format has no default; the codec must be chosen
	cfg.Output.Compression = "none"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(fs billy.Basic, configPath string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := util.ReadFile(fs, configPath)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(fs billy.Filesystem, cfg *Config, configPath string) error {
	if dir := filepath.Dir(configPath); dir != "." {
		if err := fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := util.WriteFile(fs, configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(fs billy.Filesystem, configPath string) error {
	return SaveConfig(fs, DefaultConfig(), configPath)
}

// Validate checks every value and reports the first one that cannot be used
func (c *Config) Validate() error {
	if c.Processing.Workers < 0 {
		return fmt.Errorf("processing.workers must not be negative, got %d", c.Processing.Workers)
	}
	if _, err := c.Compute(); err != nil {
		return err
	}
	if _, err := c.Codec(); err != nil {
		return err
	}
	if _, err := c.ElementType(); err != nil {
		return err
	}
	if _, err := c.Compression(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// Compute parses processing.computeType
func (c *Config) Compute() (dtype.DType, error) {
	dt, err := dtype.Parse(c.Processing.ComputeType)
	if err != nil {
		return dtype.Invalid, fmt.Errorf("processing.computeType: %w", err)
	}
	if !dt.IsFloat() {
		return dtype.Invalid, fmt.Errorf("processing.computeType must be floating, got %s", dt)
	}
	return dt, nil
}

// Codec resolves output.format, which must be set
func (c *Config) Codec() (codec.Format, error) {
	if strings.TrimSpace(c.Output.Format) == "" {
		return codec.Invalid, errors.New("output.format is required")
	}
	f, err := codec.Lookup(c.Output.Format)
	if err != nil {
		return codec.Invalid, fmt.Errorf("output.format: %w", err)
	}
	return f, nil
}

// ElementType parses output.elementType; an empty value yields dtype.Invalid
func (c *Config) ElementType() (dtype.DType, error) {
	if c.Output.ElementType == "" {
		return dtype.Invalid, nil
	}
	dt, err := dtype.Parse(c.Output.ElementType)
	if err != nil {
		return dtype.Invalid, fmt.Errorf("output.elementType: %w", err)
	}
	if !dt.IsInteger() {
		return dtype.Invalid, fmt.Errorf("output.elementType must be an integer type, got %s", dt)
	}
	return dt, nil
}

// Compression parses output.compression
func (c *Config) Compression() (tiff.Compression, error) {
	comp, err := tiff.ParseCompression(c.Output.Compression)
	if err != nil {
		return 0, fmt.Errorf("output.compression: %w", err)
	}
	return comp, nil
}

// Level parses logging.level
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if c.Logging.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(c.Logging.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return l, nil
}
