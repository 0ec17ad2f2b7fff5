// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// VisionConfig is the top-level configuration for the vision CLI.
type VisionConfig struct {
	// Device selects the compute device, e.g. "cpu" or "cpu:4".
	Device string `yaml:"device"`

	// Model configures the network and its weights.
	Model ModelConfig `yaml:"model"`

	// Data describes the evaluation dataset.
	Data DataConfig `yaml:"data"`

	// Loader tunes batch assembly.
	Loader LoaderConfig `yaml:"loader"`

	// Output is the directory predictions are written to.
	// Empty means a fresh temporary directory per run.
	Output string `yaml:"output"`

	// Cache configures the optional prediction cache.
	Cache CacheConfig `yaml:"cache"`

	// Server configures the HTTP service (serve command only).
	Server ServerConfig `yaml:"server"`

	// Telemetry selects the metric exporter: "prometheus" or "none".
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ModelConfig configures the network and checkpoint.
type ModelConfig struct {
	// Checkpoint is the weight file restored before evaluation.
	Checkpoint string `yaml:"checkpoint" validate:"required"`

	// NumClasses is the classifier's output width.
	NumClasses int `yaml:"num_classes" validate:"gte=2"`

	// SpatialSize is the cubic edge volumes are resized to.
	SpatialSize int `yaml:"spatial_size" validate:"gte=1"`
}

// DataConfig pairs image files with labels by list position.
type DataConfig struct {
	// Images is the ordered NIfTI file list.
	Images []string `yaml:"images" validate:"min=1,dive,required"`

	// Labels is the ordered label list; must match Images in length.
	Labels []int `yaml:"labels"`
}

// LoaderConfig tunes the data loader.
type LoaderConfig struct {
	// BatchSize is the number of samples per batch.
	BatchSize int `yaml:"batch_size" validate:"gte=1"`

	// Workers is the number of goroutines decoding samples.
	Workers int `yaml:"workers" validate:"gte=1"`
}

// CacheConfig configures the prediction cache.
type CacheConfig struct {
	// Enabled turns the cache on.
	Enabled bool `yaml:"enabled"`

	// Path is the BadgerDB directory. Required when Enabled.
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	// Listen is the bind address, e.g. ":8080".
	Listen string `yaml:"listen"`
}

// TelemetryConfig selects metric export.
type TelemetryConfig struct {
	MetricExporter string `yaml:"metric_exporter" validate:"omitempty,oneof=prometheus none"`
}

// DefaultConfig returns the configuration used when a field is absent.
func DefaultConfig() VisionConfig {
	return VisionConfig{
		Device: "cpu",
		Model: ModelConfig{
			Checkpoint:  "./runs/net_checkpoint_40.ckpt",
			NumClasses:  2,
			SpatialSize: 96,
		},
		Loader: LoaderConfig{
			BatchSize: 2,
			Workers:   4,
		},
		Server: ServerConfig{
			Listen: ":8080",
		},
		Telemetry: TelemetryConfig{
			MetricExporter: "prometheus",
		},
	}
}

// Validate checks structural constraints plus the cross-field rules the
// struct tags cannot express.
func (c *VisionConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if len(c.Data.Images) != len(c.Data.Labels) {
		return &MismatchError{Images: len(c.Data.Images), Labels: len(c.Data.Labels)}
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return &MissingCachePathError{}
	}
	return nil
}

// ResolveOutput returns the output directory, creating a temporary one
// when none is configured.
func (c *VisionConfig) ResolveOutput() (string, error) {
	if c.Output != "" {
		return c.Output, nil
	}
	return os.MkdirTemp("", "vision-predictions-")
}

// MismatchError reports unequal image and label list lengths.
type MismatchError struct {
	Images int
	Labels int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("config: image and label lists must have equal length (%d images, %d labels)",
		e.Images, e.Labels)
}

// MissingCachePathError reports an enabled cache without a path.
type MissingCachePathError struct{}

func (e *MissingCachePathError) Error() string {
	return "config: cache.path is required when cache.enabled is true"
}
