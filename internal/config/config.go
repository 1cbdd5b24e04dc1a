// Package config loads server configuration from defaults, an optional YAML
// file, a .env file and MOODSENSE_* environment variables, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/moodsense/internal/emotion"
	"github.com/Brownie44l1/moodsense/internal/model"
	"github.com/Brownie44l1/moodsense/internal/workflow"
)

// Provider kinds.
const (
	ProviderSimulated = "simulated"
	ProviderONNX      = "onnx"
)

// Probe kinds.
const (
	ProbeFile = "file"
	ProbeHTTP = "http"
)

// DefaultMaxPixels caps decoded images at roughly 40 megapixels.
const DefaultMaxPixels = 40_000_000

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is text, json or auto (json unless stderr is a terminal).
	Format string `yaml:"format"`
}

// ModelConfig selects the score provider and its readiness probe.
type ModelConfig struct {
	Provider     string        `yaml:"provider"`
	Probe        string        `yaml:"probe"`
	ProbePath    string        `yaml:"probe_path"`
	ProbeURL     string        `yaml:"probe_url"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	ONNXPath     string        `yaml:"onnx_path"`
	MetadataPath string        `yaml:"metadata_path"`
	// LibraryPath points at the onnxruntime shared library, if not on the default path.
	LibraryPath string `yaml:"library_path"`
}

// AnalysisConfig tunes the simulated analysis.
type AnalysisConfig struct {
	Weights              []float64     `yaml:"weights"`
	Spread               float64       `yaml:"spread"`
	Seed                 uint64        `yaml:"seed"`
	Delay                time.Duration `yaml:"delay"`
	ClearResultOnFailure bool          `yaml:"clear_result_on_failure"`
}

// UploadConfig bounds image uploads.
type UploadConfig struct {
	MaxBytes     int64                       `yaml:"max_bytes"`
	MaxPixels    int64                       `yaml:"max_pixels"`
	FailedPolicy workflow.FailedUploadPolicy `yaml:"failed_policy"`
}

// SessionConfig bounds the session registry.
type SessionConfig struct {
	Max int `yaml:"max"`
}

// Config is the full server configuration.
type Config struct {
	Addr     string                        `yaml:"addr"`
	Log      LogConfig                     `yaml:"log"`
	Model    ModelConfig                   `yaml:"model"`
	Analysis AnalysisConfig                `yaml:"analysis"`
	Upload   UploadConfig                  `yaml:"upload"`
	Sessions SessionConfig                 `yaml:"sessions"`
	Tips     map[emotion.Category][]string `yaml:"tips"`
}

// Default returns the configuration used when nothing else is set.
func Default() *Config {
	return &Config{
		Addr: ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Model: ModelConfig{
			Provider:     ProviderSimulated,
			Probe:        ProbeFile,
			ProbePath:    "models/model.json",
			ProbeTimeout: 5 * time.Second,
			ONNXPath:     "models/model_embedded.onnx",
			MetadataPath: "models/model_metadata.json",
		},
		Analysis: AnalysisConfig{
			Weights: append([]float64(nil), model.DefaultWeights...),
			Spread:  model.DefaultSpread,
			Delay:   time.Second,
		},
		Upload: UploadConfig{
			MaxBytes:     10 << 20,
			MaxPixels:    DefaultMaxPixels,
			FailedPolicy: workflow.RetainOnFailedUpload,
		},
		Sessions: SessionConfig{
			Max: 1024,
		},
	}
}

// Load builds the configuration. A missing YAML file is not an error; a
// malformed one is. path may be empty to skip the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}

	// PORT is honoured for platforms that only set that.
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Addr = ":" + strings.TrimPrefix(port, ":")
	}
	str("MOODSENSE_ADDR", &c.Addr)
	str("MOODSENSE_LOG_LEVEL", &c.Log.Level)
	str("MOODSENSE_LOG_FORMAT", &c.Log.Format)
	str("MOODSENSE_MODEL_PROVIDER", &c.Model.Provider)
	str("MOODSENSE_MODEL_PROBE", &c.Model.Probe)
	str("MOODSENSE_MODEL_PROBE_PATH", &c.Model.ProbePath)
	str("MOODSENSE_MODEL_PROBE_URL", &c.Model.ProbeURL)
	str("MOODSENSE_MODEL_ONNX_PATH", &c.Model.ONNXPath)
	str("MOODSENSE_MODEL_METADATA_PATH", &c.Model.MetadataPath)
	str("MOODSENSE_MODEL_LIBRARY_PATH", &c.Model.LibraryPath)

	if v := strings.TrimSpace(os.Getenv("MOODSENSE_UPLOAD_FAILED_POLICY")); v != "" {
		c.Upload.FailedPolicy = workflow.FailedUploadPolicy(v)
	}

	if v := strings.TrimSpace(os.Getenv("MOODSENSE_MODEL_PROBE_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: MOODSENSE_MODEL_PROBE_TIMEOUT: %v", ErrInvalidConfig, err)
		}
		c.Model.ProbeTimeout = d
	}
	if v := strings.TrimSpace(os.Getenv("MOODSENSE_ANALYSIS_DELAY")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: MOODSENSE_ANALYSIS_DELAY: %v", ErrInvalidConfig, err)
		}
		c.Analysis.Delay = d
	}
	if v := strings.TrimSpace(os.Getenv("MOODSENSE_ANALYSIS_SEED")); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MOODSENSE_ANALYSIS_SEED: %v", ErrInvalidConfig, err)
		}
		c.Analysis.Seed = seed
	}
	if v := strings.TrimSpace(os.Getenv("MOODSENSE_ANALYSIS_CLEAR_RESULT_ON_FAILURE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MOODSENSE_ANALYSIS_CLEAR_RESULT_ON_FAILURE: %v", ErrInvalidConfig, err)
		}
		c.Analysis.ClearResultOnFailure = b
	}
	if v := strings.TrimSpace(os.Getenv("MOODSENSE_UPLOAD_MAX_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MOODSENSE_UPLOAD_MAX_BYTES: %v", ErrInvalidConfig, err)
		}
		c.Upload.MaxBytes = n
	}
	if v := strings.TrimSpace(os.Getenv("MOODSENSE_UPLOAD_MAX_PIXELS")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MOODSENSE_UPLOAD_MAX_PIXELS: %v", ErrInvalidConfig, err)
		}
		c.Upload.MaxPixels = n
	}
	if v := strings.TrimSpace(os.Getenv("MOODSENSE_SESSIONS_MAX")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: MOODSENSE_SESSIONS_MAX: %v", ErrInvalidConfig, err)
		}
		c.Sessions.Max = n
	}
	return nil
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if err := model.ValidateWeights(c.Analysis.Weights); err != nil {
		return fmt.Errorf("%w: analysis.weights: %v", ErrInvalidConfig, err)
	}
	if c.Analysis.Spread < 0 {
		return fmt.Errorf("%w: analysis.spread must not be negative", ErrInvalidConfig)
	}
	if c.Analysis.Delay < 0 {
		return fmt.Errorf("%w: analysis.delay must not be negative", ErrInvalidConfig)
	}
	if c.Model.ProbeTimeout < 0 {
		return fmt.Errorf("%w: model.probe_timeout must not be negative", ErrInvalidConfig)
	}

	switch c.Model.Provider {
	case ProviderSimulated:
	case ProviderONNX:
		if c.Model.ONNXPath == "" || c.Model.MetadataPath == "" {
			return fmt.Errorf("%w: onnx provider needs model.onnx_path and model.metadata_path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown model.provider %q", ErrInvalidConfig, c.Model.Provider)
	}

	switch c.Model.Probe {
	case ProbeFile:
		if c.Model.ProbePath == "" {
			return fmt.Errorf("%w: file probe needs model.probe_path", ErrInvalidConfig)
		}
	case ProbeHTTP:
		if c.Model.ProbeURL == "" {
			return fmt.Errorf("%w: http probe needs model.probe_url", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown model.probe %q", ErrInvalidConfig, c.Model.Probe)
	}

	switch c.Upload.FailedPolicy {
	case workflow.RetainOnFailedUpload, workflow.ClearOnFailedUpload:
	default:
		return fmt.Errorf("%w: unknown upload.failed_policy %q", ErrInvalidConfig, c.Upload.FailedPolicy)
	}
	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("%w: upload.max_bytes must be positive", ErrInvalidConfig)
	}
	if c.Upload.MaxPixels <= 0 {
		return fmt.Errorf("%w: upload.max_pixels must be positive", ErrInvalidConfig)
	}

	for cat := range c.Tips {
		if !cat.Valid() {
			return fmt.Errorf("%w: tips for unknown category %q", ErrInvalidConfig, cat)
		}
	}
	return nil
}
