// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the event handlers that attach to an
// evaluation engine: run statistics logging, prediction saving, and
// checkpoint loading.
package handlers

import (
	"fmt"

	"github.com/AleutianAI/AleutianVision/pkg/logging"
	"github.com/AleutianAI/AleutianVision/services/vision/engine"
)

// StatsHandler logs run progress at INFO level.
//
// It reports every iteration as it completes and a per-pass summary with
// metric values and throughput when the pass ends.
type StatsHandler struct {
	log *logging.Logger
}

// NewStatsHandler builds a stats handler over a logger.
func NewStatsHandler(log *logging.Logger) (*StatsHandler, error) {
	if log == nil {
		return nil, fmt.Errorf("handlers: stats handler needs a logger")
	}
	return &StatsHandler{log: log}, nil
}

// Attach registers the handler's events on an engine.
func (s *StatsHandler) Attach(e *engine.Engine) {
	e.AddEventHandler(engine.EpochStarted, s.onEpochStarted)
	e.AddEventHandler(engine.IterationCompleted, s.onIterationCompleted)
	e.AddEventHandler(engine.EpochCompleted, s.onEpochCompleted)
	e.AddEventHandler(engine.Completed, s.onCompleted)
}

func (s *StatsHandler) onEpochStarted(e *engine.Engine) error {
	s.log.Info("evaluation pass started",
		"epoch", e.State.Epoch,
		"max_epochs", e.State.MaxEpochs,
	)
	return nil
}

func (s *StatsHandler) onIterationCompleted(e *engine.Engine) error {
	s.log.Info("iteration completed",
		"epoch", e.State.Epoch,
		"iteration", e.State.Iteration,
		"batch_size", e.State.Batch.Size(),
	)
	return nil
}

func (s *StatsHandler) onEpochCompleted(e *engine.Engine) error {
	args := []any{
		"epoch", e.State.Epoch,
		"iterations", e.State.Iteration,
	}
	for name, v := range e.State.Metrics {
		args = append(args, name, v)
	}
	snap := e.State.Throughput.Snapshot()
	args = append(args,
		"samples", snap.Samples,
		"images_per_sec", fmt.Sprintf("%.2f", snap.ImagesPerSec),
		"avg_data_ms", fmt.Sprintf("%.1f", snap.AvgDataMS),
		"avg_forward_ms", fmt.Sprintf("%.1f", snap.AvgForwardMS),
	)
	s.log.Info("evaluation pass completed", args...)
	return nil
}

func (s *StatsHandler) onCompleted(e *engine.Engine) error {
	s.log.Info("run completed", "iterations", e.State.Iteration)
	return nil
}
