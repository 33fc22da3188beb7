package featurestore

import (
	"fmt"

	"github.com/spf13/viper"
	"github.com/usnistgov/featurestore/dataset"
)

// Config holds the parameters of one extraction run.
type Config struct {
	Output        string // dataset file to create; must not exist
	BatchSize     int    // rows requested from the source per call
	BufferSize    int    // flush threshold of the dataset writer
	PredictorName string
	LabelName     string
}

// SetDefaults registers the default Config values with v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("BatchSize", 32)
	v.SetDefault("BufferSize", dataset.DefaultFlushThreshold)
	v.SetDefault("PredictorName", dataset.DefaultPredictorName)
	v.SetDefault("LabelName", dataset.DefaultLabelName)
}

// LoadConfig reads a Config out of v. Values never set in v take the defaults.
func LoadConfig(v *viper.Viper) (Config, error) {
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("reading configuration: %w", err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that cfg can drive an extraction run.
func (cfg Config) Validate() error {
	if cfg.Output == "" {
		return fmt.Errorf("no output file given")
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch size %d must be positive", cfg.BatchSize)
	}
	if cfg.BufferSize <= 0 {
		return fmt.Errorf("buffer size %d must be positive", cfg.BufferSize)
	}
	return nil
}

func (cfg Config) writerOptions() []dataset.Option {
	opts := []dataset.Option{dataset.WithFlushThreshold(cfg.BufferSize)}
	if cfg.PredictorName != "" {
		opts = append(opts, dataset.WithPredictorName(cfg.PredictorName))
	}
	if cfg.LabelName != "" {
		opts = append(opts, dataset.WithLabelName(cfg.LabelName))
	}
	return opts
}
