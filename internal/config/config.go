// Package config handles experiment configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Errors returned by configuration loading and validation.
var (
	ErrInvalid  = errors.New("invalid configuration") // unsupported or inconsistent settings
	ErrNotFound = errors.New("configuration file not found")
)

// Config represents an experiment configuration stored as YAML.
type Config struct {
	Data        DataConfig      `yaml:"data"`
	Paths       PathsConfig     `yaml:"paths"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
	Training    TrainingConfig  `yaml:"training"`
	Features    FeaturesConfig  `yaml:"features"`
	Threshold   ThresholdConfig `yaml:"threshold"`
	Log         LogConfig       `yaml:"log"`
	MetricsFile string          `yaml:"metrics_file,omitempty"` // Prometheus textfile, empty disables
}

// DataConfig locates the query and answer files.
type DataConfig struct {
	Queries        string `yaml:"queries"`
	Answers        string `yaml:"answers"`
	PrivateQueries string `yaml:"private_queries,omitempty"`
	PrivateAnswers string `yaml:"private_answers,omitempty"`
}

// PathsConfig holds the artifact directories.
type PathsConfig struct {
	KeyedVectors string `yaml:"kvs"`
	Models       string `yaml:"models"`
	Losses       string `yaml:"losses"`
	Accuracies   string `yaml:"accuracies"`
	Output       string `yaml:"output"` // run history database lives here
}

// EmbeddingConfig selects which embedding settings the sweep visits.
type EmbeddingConfig struct {
	Method    string       `yaml:"method"` // hypernode2vec or node2vec
	P         float64      `yaml:"p"`
	Q         []float64    `yaml:"q"`
	P1        float64      `yaml:"p1"`
	Q1        []float64    `yaml:"q1"`
	Skip      [][2]float64 `yaml:"skip,omitempty"` // (q, q1) pairs to leave out
	Format    string       `yaml:"format"`         // auto, text, or mapped
	Mmap      bool         `yaml:"mmap"`           // map binary files instead of reading them
	Extension string       `yaml:"extension"`
	CacheSize int          `yaml:"cache_size"` // similarity cache entries, 0 disables
}

// TrainingConfig holds classifier and optimizer hyperparameters.
type TrainingConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	Hidden       int     `yaml:"hidden"`
	ValRatio     float64 `yaml:"val_ratio"`
	Seed         uint64  `yaml:"seed"`
	Device       string  `yaml:"device"`
	Workers      int     `yaml:"workers"`
	Shuffle      bool    `yaml:"shuffle"` // reshuffle batches each epoch
}

// FeaturesConfig selects how queries become feature vectors.
type FeaturesConfig struct {
	AbsentPolicy string `yaml:"absent_policy"` // skip or fail
}

// ThresholdConfig controls the similarity threshold search.
type ThresholdConfig struct {
	Start float64 `yaml:"start"`
	End   float64 `yaml:"end"`
	Step  float64 `yaml:"step"`
	Mode  string  `yaml:"mode"` // diluted or corrected
}

// LogConfig controls logger construction.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Valid option values.
var (
	ValidMethods       = []string{"hypernode2vec", "node2vec"}
	ValidFormats       = []string{"auto", "text", "mapped"}
	ValidDevices       = []string{"cpu"}
	ValidAbsentPolicy  = []string{"skip", "fail"}
	ValidThresholdMode = []string{"diluted", "corrected"}
	ValidLogFormats    = []string{"json", "console"}
)

// Default returns the configuration of the standard node2vec/hypernode2vec sweep.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Queries:        filepath.Join("project_data", "query_public.txt"),
			Answers:        filepath.Join("project_data", "answer_public.txt"),
			PrivateQueries: filepath.Join("project_data", "query_private.txt"),
			PrivateAnswers: filepath.Join("project_data", "answer_private.txt"),
		},
		Paths: PathsConfig{
			KeyedVectors: "kvs",
			Models:       "models",
			Losses:       "losses",
			Accuracies:   "accuracies",
			Output:       "output",
		},
		Embedding: EmbeddingConfig{
			Method:    "hypernode2vec",
			P:         1,
			Q:         []float64{0.5, 1, 2},
			P1:        1,
			Q1:        []float64{0.5, 1, 2},
			Skip:      [][2]float64{{2, 0.5}},
			Format:    "auto",
			Mmap:      true,
			Extension: ".kv",
			CacheSize: 100000,
		},
		Training: TrainingConfig{
			LearningRate: 1e-4,
			BatchSize:    32,
			Epochs:       100,
			Hidden:       64,
			ValRatio:     0.2,
			Seed:         42,
			Device:       "cpu",
			Workers:      2,
			Shuffle:      true,
		},
		Features: FeaturesConfig{
			AbsentPolicy: "skip",
		},
		Threshold: ThresholdConfig{
			Start: 0.0,
			End:   1.0,
			Step:  0.005,
			Mode:  "diluted",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML configuration file on top of the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}

// Validate checks hyperparameters and option values.
// All failures wrap ErrInvalid.
func (c *Config) Validate() error {
	if err := oneOf("embedding.method", c.Embedding.Method, ValidMethods); err != nil {
		return err
	}
	if err := oneOf("embedding.format", c.Embedding.Format, ValidFormats); err != nil {
		return err
	}
	if c.Embedding.P <= 0 || c.Embedding.P1 <= 0 {
		return fmt.Errorf("%w: walk bias p and p1 must be positive", ErrInvalid)
	}
	if len(c.Embedding.Q) == 0 {
		return fmt.Errorf("%w: embedding.q must list at least one value", ErrInvalid)
	}
	for _, q := range append(append([]float64{}, c.Embedding.Q...), c.Embedding.Q1...) {
		if q <= 0 {
			return fmt.Errorf("%w: walk bias values must be positive, got %g", ErrInvalid, q)
		}
	}
	if c.Embedding.Method == "hypernode2vec" && len(c.Embedding.Q1) == 0 {
		return fmt.Errorf("%w: hypernode2vec requires embedding.q1 values", ErrInvalid)
	}
	if c.Embedding.CacheSize < 0 {
		return fmt.Errorf("%w: embedding.cache_size must not be negative", ErrInvalid)
	}

	t := c.Training
	if t.LearningRate <= 0 {
		return fmt.Errorf("%w: training.learning_rate must be positive", ErrInvalid)
	}
	if t.BatchSize <= 0 {
		return fmt.Errorf("%w: training.batch_size must be positive", ErrInvalid)
	}
	if t.Epochs <= 0 {
		return fmt.Errorf("%w: training.epochs must be positive", ErrInvalid)
	}
	if t.Hidden <= 0 {
		return fmt.Errorf("%w: training.hidden must be positive", ErrInvalid)
	}
	if err := ValidateRatio(t.ValRatio); err != nil {
		return err
	}
	if err := ValidateDevice(t.Device); err != nil {
		return err
	}
	if t.Workers < 0 {
		return fmt.Errorf("%w: training.workers must not be negative", ErrInvalid)
	}

	if err := oneOf("features.absent_policy", c.Features.AbsentPolicy, ValidAbsentPolicy); err != nil {
		return err
	}

	th := c.Threshold
	if err := oneOf("threshold.mode", th.Mode, ValidThresholdMode); err != nil {
		return err
	}
	if th.Step <= 0 || th.End <= th.Start {
		return fmt.Errorf("%w: threshold grid [%g, %g) step %g is empty", ErrInvalid, th.Start, th.End, th.Step)
	}

	if err := oneOf("log.format", c.Log.Format, ValidLogFormats); err != nil {
		return err
	}

	return nil
}

// ValidateRatio checks a validation split ratio.
func ValidateRatio(ratio float64) error {
	if ratio <= 0 || ratio >= 1 {
		return fmt.Errorf("%w: validation ratio must be in (0, 1), got %g", ErrInvalid, ratio)
	}
	return nil
}

// ValidateDevice checks a compute target. Only the CPU is supported.
func ValidateDevice(device string) error {
	return oneOf("training.device", device, ValidDevices)
}

func oneOf(field, value string, valid []string) error {
	for _, v := range valid {
		if value == v {
			return nil
		}
	}
	return fmt.Errorf("%w: %s %q (valid: %v)", ErrInvalid, field, value, valid)
}
