// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics contains pre-defined metrics for the vision service.
//
// All metrics use the "vision_" prefix for consistent naming.
//
// Thread Safety: Safe for concurrent use after creation.
type Metrics struct {
	// --- HTTP Metrics ---

	// HTTPRequestsTotal counts total HTTP requests by method, path, and status.
	HTTPRequestsTotal metric.Int64Counter

	// HTTPRequestDuration records HTTP request duration in seconds.
	HTTPRequestDuration metric.Float64Histogram

	// --- Inference Metrics ---

	// InferencesTotal counts classified volumes by predicted class and status.
	InferencesTotal metric.Int64Counter

	// InferenceDuration records per-volume inference duration in seconds.
	InferenceDuration metric.Float64Histogram

	// VolumesLoaded counts volumes decoded from disk.
	VolumesLoaded metric.Int64Counter

	// VolumeLoadDuration records per-volume decode and transform duration in seconds.
	VolumeLoadDuration metric.Float64Histogram

	// --- Cache Metrics ---

	// CacheHitsTotal counts prediction cache hits.
	CacheHitsTotal metric.Int64Counter

	// CacheMissesTotal counts prediction cache misses.
	CacheMissesTotal metric.Int64Counter

	// --- Error Metrics ---

	// ErrorsTotal counts total errors by type and component.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
//
// Inputs:
//
//	meter - The OTel meter to use for metric registration.
//
// Outputs:
//
//	*Metrics - The metrics instance with all instruments initialized.
//	error - Non-nil if metric registration fails.
//
// Thread Safety: Safe for concurrent use after creation.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"vision_http_requests_total",
		metric.WithDescription("Total HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_requests_total: %w", err)
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"vision_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, fmt.Errorf("create http_request_duration: %w", err)
	}

	m.InferencesTotal, err = meter.Int64Counter(
		"vision_inferences_total",
		metric.WithDescription("Total classified volumes"),
		metric.WithUnit("{volume}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create inferences_total: %w", err)
	}

	m.InferenceDuration, err = meter.Float64Histogram(
		"vision_inference_duration_seconds",
		metric.WithDescription("Per-volume inference duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, fmt.Errorf("create inference_duration: %w", err)
	}

	m.VolumesLoaded, err = meter.Int64Counter(
		"vision_volumes_loaded_total",
		metric.WithDescription("Total volumes decoded from disk"),
		metric.WithUnit("{volume}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create volumes_loaded_total: %w", err)
	}

	m.VolumeLoadDuration, err = meter.Float64Histogram(
		"vision_volume_load_duration_seconds",
		metric.WithDescription("Per-volume decode and transform duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return nil, fmt.Errorf("create volume_load_duration: %w", err)
	}

	m.CacheHitsTotal, err = meter.Int64Counter(
		"vision_cache_hits_total",
		metric.WithDescription("Prediction cache hits"),
		metric.WithUnit("{hit}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_hits_total: %w", err)
	}

	m.CacheMissesTotal, err = meter.Int64Counter(
		"vision_cache_misses_total",
		metric.WithDescription("Prediction cache misses"),
		metric.WithUnit("{miss}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create cache_misses_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"vision_errors_total",
		metric.WithDescription("Total errors by type and component"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}
