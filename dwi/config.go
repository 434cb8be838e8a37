// Package dwi declares the diffusion-weighted MRI processing pipelines.
//
// The pipelines cover bias field correction, gross mask extraction, tensor
// and FA computation, multi-shell multi-tissue constrained spherical
// deconvolution, whole-brain probabilistic anatomically constrained
// tractography, tractogram filtering (SIFT), T1 tissue classification and
// diffusion-to-T1 rigid registration. The numerical work is delegated to
// the MRtrix3, FSL and ANTs command-line tools.
package dwi

import (
	"bytes"
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/alexpron/mri-processing/rules"
)

// Tractography defaults.
const (
	DefaultNTracks   = 5000000
	DefaultMinLength = 10.0  // mm
	DefaultMaxLength = 300.0 // mm
)

// Config carries every recognized pipeline option. It is fixed before
// pipeline construction and validated against the constraint list below;
// unknown YAML keys are rejected.
type Config struct {
	NTracks           int     `yaml:"n_tracks"`
	MinLength         float64 `yaml:"min_length"`
	MaxLength         float64 `yaml:"max_length"`
	ResponseAlgorithm string  `yaml:"response_algorithm"`
	TissueAlgorithm   string  `yaml:"tissue_algorithm"`
	UseANTS           bool    `yaml:"use_ants"`
	WorkDir           string  `yaml:"work_dir"`
	NodeTimeoutSec    int     `yaml:"node_timeout_sec,omitempty"`
	MaxRetries        int     `yaml:"max_retries,omitempty"`
	RetryDelaySec     int     `yaml:"retry_delay_sec,omitempty"`
}

// DefaultConfig returns the configuration the original pipelines hard-coded.
func DefaultConfig() Config {
	return Config{
		NTracks:           DefaultNTracks,
		MinLength:         DefaultMinLength,
		MaxLength:         DefaultMaxLength,
		ResponseAlgorithm: "msmt_5tt",
		TissueAlgorithm:   "fsl",
		UseANTS:           true,
		WorkDir:           "work",
	}
}

var configConstraints = []string{
	"n_tracks > 0",
	"min_length > 0",
	"min_length < max_length",
	`response_algorithm in ["msmt_5tt", "dhollander", "tournier"]`,
	`tissue_algorithm in ["fsl", "freesurfer"]`,
	`work_dir != ""`,
	"node_timeout_sec >= 0",
	"max_retries >= 0",
	"retry_delay_sec >= 0",
}

var evaluator = rules.NewExprEvaluator()

// Validate checks the configuration against the recognized constraints.
func (c Config) Validate() error {
	env := map[string]interface{}{
		"n_tracks":           c.NTracks,
		"min_length":         c.MinLength,
		"max_length":         c.MaxLength,
		"response_algorithm": c.ResponseAlgorithm,
		"tissue_algorithm":   c.TissueAlgorithm,
		"use_ants":           c.UseANTS,
		"work_dir":           c.WorkDir,
		"node_timeout_sec":   c.NodeTimeoutSec,
		"max_retries":        c.MaxRetries,
		"retry_delay_sec":    c.RetryDelaySec,
	}
	if err := rules.Validate(evaluator, configConstraints, env); err != nil {
		return fmt.Errorf("invalid pipeline configuration: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML parameter file over the defaults, applies
// environment overrides and validates the result. An empty path returns the
// validated defaults plus overrides.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides selected options from the process environment. The CLI
// loads a .env file first, so these can come from either place.
func (c *Config) applyEnv() {
	if v := os.Getenv("DWIPIPE_WORK_DIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("DWIPIPE_N_TRACKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.NTracks = n
		}
	}
}
