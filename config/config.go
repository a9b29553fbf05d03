// Package config loads training settings from YAML.
package config

import (
	"bytes"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// VectorConfig holds embedding shape settings.
type VectorConfig struct {
	// Length is the dimension of every embedding row.
	Length int `yaml:"length"`

	// Window is the maximum context radius.
	Window int `yaml:"window"`

	// Precision is "float32" or "float64".
	Precision string `yaml:"precision"`

	// MinCount drops rarer words from the vocabulary.
	MinCount int64 `yaml:"min_count"`
}

// LearningConfig holds the learning rate schedule.
type LearningConfig struct {
	AdaGrad    bool    `yaml:"adagrad"`
	Alpha      float64 `yaml:"alpha"`
	MinAlpha   float64 `yaml:"min_alpha"`
	Iterations int     `yaml:"iterations"`
}

// SamplingConfig holds negative sampling settings.
type SamplingConfig struct {
	// Negative is the number of negative samples per pair.
	Negative int `yaml:"negative"`

	// NumWords bounds remapped negative samples.
	// Zero means the vocabulary size.
	NumWords int `yaml:"num_words"`

	// Table is the path of a precomputed unigram table.
	// If empty, the table is built from the vocabulary.
	Table string `yaml:"table"`

	// TableSize is the size of a built unigram table.
	TableSize int `yaml:"table_size"`
}

// ReduceConfig controls the round loop.
type ReduceConfig struct {
	Workers      int           `yaml:"workers"`
	Rounds       int           `yaml:"rounds"`
	RoundTimeout time.Duration `yaml:"round_timeout"`
	Weighted     bool          `yaml:"weighted"`
	Threads      int           `yaml:"threads"`
	Seed         int64         `yaml:"seed"`

	// Journal is a SQLite file recording every round.
	// Empty disables the journal.
	Journal string `yaml:"journal"`
}

// NetworkConfig describes a feed-forward network.
type NetworkConfig struct {
	Hidden       []int   `yaml:"hidden"`
	LearningRate float64 `yaml:"learning_rate"`
	Inputs       int     `yaml:"inputs"`
	Outputs      int     `yaml:"outputs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Config is the full set of settings for a run.
type Config struct {
	Vector   VectorConfig   `yaml:"vector"`
	Learning LearningConfig `yaml:"learning"`
	Sampling SamplingConfig `yaml:"sampling"`
	Reduce   ReduceConfig   `yaml:"reduce"`
	Network  NetworkConfig  `yaml:"network"`
	Log      LogConfig      `yaml:"log"`
}

// Default returns the default settings.
func Default() *Config {
	return &Config{
		Vector: VectorConfig{
			Length:    100,
			Window:    5,
			Precision: "float32",
			MinCount:  1,
		},
		Learning: LearningConfig{
			Alpha:      0.025,
			MinAlpha:   1e-4,
			Iterations: 5,
		},
		Sampling: SamplingConfig{
			Negative:  5,
			TableSize: 1e6,
		},
		Reduce: ReduceConfig{
			Workers: 2,
			Rounds:  5,
			Threads: 1,
			Seed:    1,
		},
		Network: NetworkConfig{
			Hidden:       []int{16},
			LearningRate: 0.01,
			Outputs:      1,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file on top of the defaults.
//
// Unknown keys are an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and
// validates the result.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(c); err != nil {
			return nil, errors.Wrap(err, "parse config")
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the settings for consistency.
func (c *Config) Validate() error {
	switch {
	case c.Vector.Length <= 0:
		return errors.Errorf("config: vector.length must be positive, got %d", c.Vector.Length)
	case c.Vector.Window <= 0:
		return errors.Errorf("config: vector.window must be positive, got %d", c.Vector.Window)
	case c.Vector.Precision != "float32" && c.Vector.Precision != "float64":
		return errors.Errorf("config: unknown vector.precision %q", c.Vector.Precision)
	case c.Learning.Alpha <= 0 || c.Learning.MinAlpha < 0 || c.Learning.MinAlpha > c.Learning.Alpha:
		return errors.Errorf("config: need 0 <= learning.min_alpha <= learning.alpha, got %g and %g",
			c.Learning.MinAlpha, c.Learning.Alpha)
	case c.Learning.Iterations <= 0:
		return errors.Errorf("config: learning.iterations must be positive, got %d", c.Learning.Iterations)
	case c.Sampling.Negative < 0:
		return errors.Errorf("config: sampling.negative must not be negative, got %d", c.Sampling.Negative)
	case c.Sampling.NumWords < 0:
		return errors.Errorf("config: sampling.num_words must not be negative, got %d", c.Sampling.NumWords)
	case c.Sampling.Table == "" && c.Sampling.Negative > 0 && c.Sampling.TableSize <= 0:
		return errors.Errorf("config: sampling.table_size must be positive, got %d", c.Sampling.TableSize)
	case c.Reduce.Workers <= 0:
		return errors.Errorf("config: reduce.workers must be positive, got %d", c.Reduce.Workers)
	case c.Reduce.Rounds <= 0:
		return errors.Errorf("config: reduce.rounds must be positive, got %d", c.Reduce.Rounds)
	case c.Reduce.RoundTimeout < 0:
		return errors.Errorf("config: reduce.round_timeout must not be negative, got %s", c.Reduce.RoundTimeout)
	case c.Reduce.Threads <= 0:
		return errors.Errorf("config: reduce.threads must be positive, got %d", c.Reduce.Threads)
	case c.Network.LearningRate <= 0:
		return errors.Errorf("config: network.learning_rate must be positive, got %g", c.Network.LearningRate)
	case c.Network.Inputs < 0 || c.Network.Outputs <= 0:
		return errors.Errorf("config: bad network shape %d -> %d", c.Network.Inputs, c.Network.Outputs)
	}
	for _, h := range c.Network.Hidden {
		if h <= 0 {
			return errors.Errorf("config: network.hidden sizes must be positive, got %v", c.Network.Hidden)
		}
	}
	return nil
}

// LayerSizes returns the full list of layer widths for
// the network.
func (c *Config) LayerSizes() []int {
	sizes := append([]int{c.Network.Inputs}, c.Network.Hidden...)
	return append(sizes, c.Network.Outputs)
}
