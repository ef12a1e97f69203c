package config

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/surveybott/fmribatch/internal/models"
	"github.com/surveybott/fmribatch/internal/readiness"
)

// Runtimes lists the supported environment types.
var Runtimes = []string{"singularity", "apptainer", "docker", "native"}

// DefaultBatchConfig returns a BatchConfig with default values.
func DefaultBatchConfig() models.BatchConfig {
	return models.BatchConfig{
		Parallel:   4,
		LogLevel:   "info",
		LogFormat:  "console",
		LedgerPath: "~/.local/share/fmribatch/ledger.db",
		Environment: models.EnvironmentConfig{
			Type: "singularity",
		},
		Denoise: models.DenoiseConfig{
			Enabled:  true,
			Command:  "tedana",
			EchoDesc: "preproc",
			FitType:  "curvefit",
			TedPCA:   "kundu",
			Desc:     readiness.DefaultDenoiseDesc,
		},
		Resample: models.ResampleConfig{
			Enabled: true,
			Command: "tedana-cifti",
			Space:   readiness.DefaultStdSpace,
			Density: "91k",
		},
	}
}

// LoadBatchConfig loads and parses a batch YAML file.
func LoadBatchConfig(path string) (models.BatchConfig, error) {
	cfg := DefaultBatchConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading batch config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing batch config: %w", err)
	}

	ApplyBatchDefaults(&cfg)
	return cfg, nil
}

// ApplyBatchDefaults fills zero values left by a partial file.
func ApplyBatchDefaults(cfg *models.BatchConfig) {
	def := DefaultBatchConfig()
	if cfg.Parallel == 0 {
		cfg.Parallel = def.Parallel
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.LedgerPath == "" {
		cfg.LedgerPath = def.LedgerPath
	}
	if cfg.Environment.Type == "" {
		cfg.Environment.Type = def.Environment.Type
	}
	if cfg.Denoise.Command == "" {
		cfg.Denoise.Command = def.Denoise.Command
	}
	if cfg.Denoise.EchoDesc == "" {
		cfg.Denoise.EchoDesc = def.Denoise.EchoDesc
	}
	if cfg.Denoise.FitType == "" {
		cfg.Denoise.FitType = def.Denoise.FitType
	}
	if cfg.Denoise.TedPCA == "" {
		cfg.Denoise.TedPCA = def.Denoise.TedPCA
	}
	if cfg.Denoise.Desc == "" {
		cfg.Denoise.Desc = def.Denoise.Desc
	}
	if cfg.Resample.Command == "" {
		cfg.Resample.Command = def.Resample.Command
	}
	if cfg.Resample.Space == "" {
		cfg.Resample.Space = def.Resample.Space
	}
	if cfg.Resample.Density == "" {
		cfg.Resample.Density = def.Resample.Density
	}
}

// ResolveBatchPaths expands ~ in every path field, makes the directory and
// file fields absolute and fills the container image from the environment
// when none is configured. Image fields are left relative since docker takes
// image references, not paths.
func ResolveBatchPaths(cfg *models.BatchConfig, env Env) {
	cfg.DerivativesDir = AbsPath(env.ExpandPath(cfg.DerivativesDir))
	cfg.WorkingDir = AbsPath(env.ExpandPath(cfg.WorkingDir))
	cfg.LedgerPath = AbsPath(env.ExpandPath(cfg.LedgerPath))
	cfg.StateDir = AbsPath(env.ExpandPath(cfg.StateDir))
	cfg.LogFile = AbsPath(env.ExpandPath(cfg.LogFile))
	cfg.Environment.Image = env.ExpandPath(cfg.Environment.Image)
	cfg.Denoise.Image = env.ExpandPath(cfg.Denoise.Image)
	cfg.Resample.Image = env.ExpandPath(cfg.Resample.Image)
	if cfg.Environment.Image == "" && cfg.Environment.Type != "native" && cfg.Environment.Type != "docker" {
		cfg.Environment.Image = env.DefaultImage()
	}
}

// ValidateBatchConfig checks a resolved configuration before any work runs.
func ValidateBatchConfig(cfg models.BatchConfig) error {
	var errs []error
	if cfg.DerivativesDir == "" {
		errs = append(errs, errors.New("derivatives_dir is required"))
	}
	if cfg.Resample.Enabled && cfg.WorkingDir == "" {
		errs = append(errs, errors.New("working_dir is required when resample is enabled"))
	}
	if cfg.Parallel < 1 {
		errs = append(errs, fmt.Errorf("parallel must be at least 1, got %d", cfg.Parallel))
	}
	if cfg.UnitTimeoutSec < 0 {
		errs = append(errs, fmt.Errorf("unit_timeout_sec must not be negative, got %v", cfg.UnitTimeoutSec))
	}
	if !slices.Contains(Runtimes, cfg.Environment.Type) {
		errs = append(errs, fmt.Errorf("environment.type %q is not one of %v", cfg.Environment.Type, Runtimes))
	}
	if cfg.Environment.Type != "native" {
		if cfg.Denoise.Enabled && cfg.Environment.Image == "" && cfg.Denoise.Image == "" {
			errs = append(errs, errors.New("denoise needs environment.image or denoise.image"))
		}
		if cfg.Resample.Enabled && cfg.Environment.Image == "" && cfg.Resample.Image == "" {
			errs = append(errs, errors.New("resample needs environment.image or resample.image"))
		}
	}
	if _, err := readiness.ParseRoles(cfg.Resample.Required); err != nil {
		errs = append(errs, fmt.Errorf("resample.required: %w", err))
	}
	return errors.Join(errs...)
}
