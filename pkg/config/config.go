// Package config provides configuration loading and management for maskaudit.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"maskaudit/pkg/logging"
)

// EnvConfigPath names the environment variable holding the config file path
const EnvConfigPath = "MASKAUDIT_CONFIG"

// DefaultPath is the config file used when neither a flag nor the
// environment names one
const DefaultPath = "maskaudit.yaml"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input locations
	Input struct {
		// ImageDir holds one image volume per case
		ImageDir string `yaml:"imageDir"`

		// MaskDir holds one subdirectory of mask volumes per case
		MaskDir string `yaml:"maskDir"`

		// Reference is the .xlsx workbook with expected mask presence
		Reference string `yaml:"reference"`

		// Extensions lists the file suffixes treated as volumes
		Extensions []string `yaml:"extensions"`

		// Masks overrides the mask set normally taken from the first case
		Masks []string `yaml:"masks"`
	} `yaml:"input"`

	// Processing parameters
	Processing struct {
		// Workers bounds how many cases are processed concurrently
		Workers int `yaml:"workers"`

		// SlabDepth is the number of z-planes read per emptiness check step
		SlabDepth int `yaml:"slabDepth"`

		// OriginTolerance is the absolute tolerance when comparing affines
		OriginTolerance float64 `yaml:"originTolerance"`

		// CaseTimeout bounds the processing time of one case; 0 disables it
		CaseTimeout time.Duration `yaml:"caseTimeout"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Dir receives the report, the patched reference and the lock file
		Dir string `yaml:"dir"`

		// ReportName is the file name of the report workbook
		ReportName string `yaml:"reportName"`

		// PatchedSuffix is appended to the reference stem for the patched copy
		PatchedSuffix string `yaml:"patchedSuffix"`

		// Parquet also writes every report table as a Parquet file
		Parquet bool `yaml:"parquet"`

		// HistoryDB is the SQLite run history; empty disables it
		HistoryDB string `yaml:"historyDB"`
	} `yaml:"output"`

	Logging logging.Config `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.ImageDir = "images"
	cfg.Input.MaskDir = "masks"
	cfg.Input.Reference = "data.xlsx"
	cfg.Input.Extensions = []string{".nii.gz"}

	cfg.Processing.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.SlabDepth = 10
	cfg.Processing.OriginTolerance = 1e-5
	cfg.Processing.CaseTimeout = 0

	cfg.Output.Dir = "."
	cfg.Output.ReportName = "volume_analysis_results.xlsx"
	cfg.Output.PatchedSuffix = "_updated"
	cfg.Output.Parquet = false
	cfg.Output.HistoryDB = ""

	cfg.Logging = logging.DefaultConfig()

	return cfg
}

// ResolvePath picks the config file: an explicit path wins, then the
// MASKAUDIT_CONFIG environment variable, then DefaultPath.
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
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

	return cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error
	if c.Processing.Workers < 0 {
		errs = append(errs, fmt.Errorf("processing.workers must not be negative, got %d", c.Processing.Workers))
	}
	if c.Processing.SlabDepth < 0 {
		errs = append(errs, fmt.Errorf("processing.slabDepth must not be negative, got %d", c.Processing.SlabDepth))
	}
	if c.Processing.OriginTolerance < 0 {
		errs = append(errs, fmt.Errorf("processing.originTolerance must not be negative, got %g", c.Processing.OriginTolerance))
	}
	if c.Processing.CaseTimeout < 0 {
		errs = append(errs, fmt.Errorf("processing.caseTimeout must not be negative, got %s", c.Processing.CaseTimeout))
	}
	if strings.TrimSpace(c.Output.ReportName) == "" {
		errs = append(errs, errors.New("output.reportName must be set"))
	}
	if strings.TrimSpace(c.Output.PatchedSuffix) == "" {
		errs = append(errs, errors.New("output.patchedSuffix must be set so the reference is never overwritten"))
	}
	for _, ext := range c.Input.Extensions {
		if !strings.HasPrefix(ext, ".") {
			errs = append(errs, fmt.Errorf("input.extensions entry %q must start with a dot", ext))
		}
	}
	return errors.Join(errs...)
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
