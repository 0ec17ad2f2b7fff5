// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vision serves 3D medical-image classification over HTTP.
//
// The service holds one network with weights restored from a checkpoint
// and classifies NIfTI volumes on request. Results are cached by volume
// digest and checkpoint checksum, so repeat requests for an unchanged
// volume return without a forward pass.
package vision

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianVision/pkg/validation"
	"github.com/AleutianAI/AleutianVision/services/vision/checkpoint"
	"github.com/AleutianAI/AleutianVision/services/vision/data"
	"github.com/AleutianAI/AleutianVision/services/vision/nets"
	"github.com/AleutianAI/AleutianVision/services/vision/nifti"
	"github.com/AleutianAI/AleutianVision/services/vision/storage/cache"
	"github.com/AleutianAI/AleutianVision/services/vision/telemetry"
	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
	"github.com/AleutianAI/AleutianVision/services/vision/transforms"
)

// ServiceVersion is the vision service version.
const ServiceVersion = "0.1.0"

// ErrModelNotLoaded is returned when classification is requested before
// a checkpoint has been restored.
var ErrModelNotLoaded = errors.New("model weights not loaded")

// ErrInvalidVolume is returned for requests that fail path validation.
var ErrInvalidVolume = errors.New("invalid volume path")

// ServiceConfig configures the vision service.
type ServiceConfig struct {
	// CheckpointPath is the weight file restored at startup.
	CheckpointPath string

	// NumClasses is the classifier's output width.
	// Default: 2
	NumClasses int

	// SpatialSize is the cubic edge volumes are resized to.
	// Default: 96
	SpatialSize int

	// Workers is the compute parallelism for the forward pass.
	// Default: 1
	Workers int

	// Net overrides the network architecture. Zero value means
	// DenseNet-121 with one input channel and NumClasses outputs.
	Net nets.Config
}

// DefaultServiceConfig returns sensible defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		NumClasses:  2,
		SpatialSize: 96,
		Workers:     1,
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.NumClasses < 2 {
		c.NumClasses = 2
	}
	if c.SpatialSize < 1 {
		c.SpatialSize = 96
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return c
}

// Service classifies volumes with a checkpoint-restored network.
type Service struct {
	cfg       ServiceConfig
	net       *nets.DenseNet
	transform transforms.Transform
	checksum  string
	cache     *cache.Cache
	metrics   *telemetry.Metrics
}

// NewService builds a service around a fresh DenseNet-121. Weights are
// not loaded until LoadCheckpoint succeeds.
func NewService(cfg ServiceConfig) (*Service, error) {
	cfg = cfg.withDefaults()
	netCfg := cfg.Net
	if netCfg.InChannels == 0 {
		netCfg.InChannels = 1
		netCfg.OutChannels = cfg.NumClasses
	}
	net, err := nets.New(netCfg)
	if err != nil {
		return nil, fmt.Errorf("vision: build network: %w", err)
	}
	net.SetWorkers(cfg.Workers)

	return &Service{
		cfg: cfg,
		net: net,
		transform: transforms.Compose{
			transforms.ScaleIntensity{},
			transforms.AddChannel{},
			transforms.Resize{D: cfg.SpatialSize, H: cfg.SpatialSize, W: cfg.SpatialSize},
		},
	}, nil
}

// WithCache attaches a prediction cache.
func (s *Service) WithCache(c *cache.Cache) *Service {
	s.cache = c
	return s
}

// Metrics returns the attached instrument set, or nil.
func (s *Service) Metrics() *telemetry.Metrics { return s.metrics }

// WithMetrics attaches service metrics.
func (s *Service) WithMetrics(m *telemetry.Metrics) *Service {
	s.metrics = m
	return s
}

// LoadCheckpoint restores network weights from the configured file.
func (s *Service) LoadCheckpoint() error {
	f, err := checkpoint.Load(s.cfg.CheckpointPath)
	if err != nil {
		return fmt.Errorf("vision: load checkpoint %s: %w", s.cfg.CheckpointPath, err)
	}
	if err := f.Restore("net", s.net.Parameters()); err != nil {
		return fmt.Errorf("vision: restore weights: %w", err)
	}
	s.checksum = f.Checksum()
	return nil
}

// ModelLoaded reports whether weights have been restored.
func (s *Service) ModelLoaded() bool { return s.checksum != "" }

// Checksum returns the loaded checkpoint's payload checksum.
func (s *Service) Checksum() string { return s.checksum }

// Classify scores one volume and returns its predicted class.
//
// The cache, when attached, is consulted before the forward pass; a hit
// never touches the network.
func (s *Service) Classify(ctx context.Context, path string) (ClassifyResponse, error) {
	if !s.ModelLoaded() {
		return ClassifyResponse{}, ErrModelNotLoaded
	}
	if err := validation.ValidateVolumePath(path); err != nil {
		return ClassifyResponse{}, fmt.Errorf("%w: %v", ErrInvalidVolume, err)
	}

	loadStart := time.Now()
	vol, err := nifti.Read(path)
	if err != nil {
		s.countError("volume_read")
		return ClassifyResponse{}, fmt.Errorf("vision: read volume: %w", err)
	}
	filename := filepath.Base(path)
	digest := cache.VolumeDigest(vol.Data)

	if s.cache != nil {
		entry, hit, err := s.cache.Get(s.checksum, digest)
		if err != nil {
			s.countError("cache")
			return ClassifyResponse{}, fmt.Errorf("vision: %w", err)
		}
		if hit {
			if s.metrics != nil {
				s.metrics.CacheHitsTotal.Add(ctx, 1)
			}
			return ClassifyResponse{
				Filename:    filename,
				Class:       entry.Class,
				Probability: entry.Probability,
				Cached:      true,
				Checkpoint:  s.checksum,
			}, nil
		}
		if s.metrics != nil {
			s.metrics.CacheMissesTotal.Add(ctx, 1)
		}
	}

	img, err := data.FromVolume(vol)
	if err != nil {
		return ClassifyResponse{}, fmt.Errorf("vision: %w", err)
	}
	if img, err = s.transform.Apply(img); err != nil {
		return ClassifyResponse{}, fmt.Errorf("vision: %w", err)
	}
	batched, err := img.Reshape(append([]int{1}, img.Shape...)...)
	if err != nil {
		return ClassifyResponse{}, fmt.Errorf("vision: %w", err)
	}
	if s.metrics != nil {
		s.metrics.VolumesLoaded.Add(ctx, 1)
		s.metrics.VolumeLoadDuration.Record(ctx, time.Since(loadStart).Seconds())
	}

	forwardStart := time.Now()
	out, err := s.net.Forward(ctx, batched)
	if err != nil {
		s.countError("forward")
		return ClassifyResponse{}, fmt.Errorf("vision: forward: %w", err)
	}
	preds, err := out.Argmax()
	if err != nil {
		return ClassifyResponse{}, fmt.Errorf("vision: %w", err)
	}
	row, err := out.Row(0)
	if err != nil {
		return ClassifyResponse{}, fmt.Errorf("vision: %w", err)
	}
	probs := tensor.Softmax(row)

	resp := ClassifyResponse{
		Filename:    filename,
		Class:       preds[0],
		Probability: float64(probs[preds[0]]),
		Checkpoint:  s.checksum,
	}
	if s.metrics != nil {
		s.metrics.InferenceDuration.Record(ctx, time.Since(forwardStart).Seconds())
		s.metrics.InferencesTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.Int("class", resp.Class),
			attribute.String("status", "ok"),
		))
	}

	if s.cache != nil {
		if err := s.cache.Put(s.checksum, digest, cache.Entry{
			Filename:    filename,
			Class:       resp.Class,
			Probability: resp.Probability,
		}); err != nil {
			// A failed cache write does not invalidate the result.
			s.countError("cache")
		}
	}
	return resp, nil
}

func (s *Service) countError(component string) {
	if s.metrics != nil && s.metrics.ErrorsTotal != nil {
		s.metrics.ErrorsTotal.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("component", component),
		))
	}
}
