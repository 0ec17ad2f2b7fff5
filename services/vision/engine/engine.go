// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine runs an event-driven evaluation loop over a dataset.
//
// The engine owns the loop skeleton: it pulls batches, calls the model,
// and fires events at fixed points. Everything else (logging, result
// writing, weight loading) attaches as event handlers, so the loop stays
// free of policy.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/AleutianAI/AleutianVision/services/vision/data"
	"github.com/AleutianAI/AleutianVision/services/vision/metric"
	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// Event names a fixed point in the run loop.
type Event string

const (
	// Started fires once, before the first batch is requested. Weight
	// loading attaches here so a bad checkpoint kills the run before any
	// data is touched.
	Started Event = "started"

	// EpochStarted fires at the top of each pass.
	EpochStarted Event = "epoch_started"

	// IterationStarted fires after a batch arrives, before the forward.
	IterationStarted Event = "iteration_started"

	// IterationCompleted fires after the forward, with State.Output and
	// State.Batch holding the iteration's results.
	IterationCompleted Event = "iteration_completed"

	// EpochCompleted fires after the last batch of a pass, once metrics
	// are computed.
	EpochCompleted Event = "epoch_completed"

	// Completed fires once, after the final epoch.
	Completed Event = "completed"
)

// Handler reacts to an engine event. A handler error aborts the run.
type Handler func(e *Engine) error

// State is the run-visible state handlers read.
type State struct {
	// Epoch counts passes, starting at 1 on the first EpochStarted.
	Epoch int

	// MaxEpochs is the total number of passes this run makes.
	MaxEpochs int

	// Iteration counts batches across the whole run, starting at 1.
	Iteration int

	// Batch is the current batch, including per-sample metadata. Valid
	// from IterationStarted through IterationCompleted.
	Batch data.Batch

	// Output holds the model's (N, C) logits for the current batch.
	// Valid at IterationCompleted.
	Output *tensor.Tensor

	// Metrics holds per-pass metric results, filled before
	// EpochCompleted fires.
	Metrics map[string]float64

	// Throughput aggregates iteration timing for the current pass.
	Throughput metric.Window
}

// Model is anything that maps a batched image tensor to logits.
type Model interface {
	Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error)
}

// PrepareBatch extracts the model inputs from a batch.
//
// The default preparation forwards the image tensor and labels and
// nothing else; metadata stays on State.Batch for handlers that need it.
type PrepareBatch func(b data.Batch) (*tensor.Tensor, []int, error)

func defaultPrepareBatch(b data.Batch) (*tensor.Tensor, []int, error) {
	if b.Images == nil {
		return nil, nil, fmt.Errorf("engine: batch has no image tensor")
	}
	return b.Images, b.Labels, nil
}

// Engine drives passes over a loader and dispatches events.
type Engine struct {
	model    Model
	prepare  PrepareBatch
	metrics  map[string]metric.Metric
	handlers map[Event][]Handler

	// State is the current run state. Read it from handlers; the engine
	// resets it on Run.
	State State
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithPrepareBatch overrides how model inputs are extracted from a batch.
func WithPrepareBatch(p PrepareBatch) Option {
	return func(e *Engine) { e.prepare = p }
}

// WithMetric attaches a named metric, updated every iteration and
// computed into State.Metrics at the end of each pass.
func WithMetric(name string, m metric.Metric) Option {
	return func(e *Engine) { e.metrics[name] = m }
}

// NewEvaluator builds a single-pass supervised evaluator around a model.
func NewEvaluator(model Model, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, fmt.Errorf("engine: model must not be nil")
	}
	e := &Engine{
		model:    model,
		prepare:  defaultPrepareBatch,
		metrics:  make(map[string]metric.Metric),
		handlers: make(map[Event][]Handler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// AddEventHandler registers a handler for an event. Handlers fire in
// registration order; the first error aborts the run.
func (e *Engine) AddEventHandler(ev Event, h Handler) {
	e.handlers[ev] = append(e.handlers[ev], h)
}

func (e *Engine) fire(ev Event) error {
	for _, h := range e.handlers[ev] {
		if err := h(e); err != nil {
			return fmt.Errorf("engine: %s handler: %w", ev, err)
		}
	}
	return nil
}

// Run executes one pass over the loader.
//
// There is no error recovery: the first failure, whether from the
// loader, the model, a metric, or a handler, terminates the run and is
// returned.
func (e *Engine) Run(ctx context.Context, loader *data.Loader) error {
	return e.RunEpochs(ctx, loader, 1)
}

// RunEpochs executes maxEpochs passes over the loader.
func (e *Engine) RunEpochs(ctx context.Context, loader *data.Loader, maxEpochs int) error {
	if loader == nil {
		return fmt.Errorf("engine: loader must not be nil")
	}
	if maxEpochs < 1 {
		return fmt.Errorf("engine: maxEpochs must be at least 1, got %d", maxEpochs)
	}

	e.State = State{MaxEpochs: maxEpochs, Metrics: make(map[string]float64)}
	if err := e.fire(Started); err != nil {
		return err
	}

	for epoch := 1; epoch <= maxEpochs; epoch++ {
		e.State.Epoch = epoch
		for _, m := range e.metrics {
			m.Reset()
		}
		if err := e.fire(EpochStarted); err != nil {
			return err
		}
		if err := e.runEpoch(ctx, loader); err != nil {
			return err
		}
		for name, m := range e.metrics {
			v, err := m.Compute()
			if err != nil {
				return fmt.Errorf("engine: metric %q: %w", name, err)
			}
			e.State.Metrics[name] = v
		}
		if err := e.fire(EpochCompleted); err != nil {
			return err
		}
	}

	return e.fire(Completed)
}

func (e *Engine) runEpoch(ctx context.Context, loader *data.Loader) error {
	// The pass owns its own cancellation so an early return on a
	// handler, prepare, or forward error always stops the loader's
	// workers instead of leaving them parked on the batch channel.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, errc := loader.Run(ctx)

	waitStart := time.Now()
	for batch := range batches {
		dataTime := time.Since(waitStart)

		e.State.Iteration++
		e.State.Batch = batch
		e.State.Output = nil
		if err := e.fire(IterationStarted); err != nil {
			return err
		}

		images, labels, err := e.prepare(batch)
		if err != nil {
			return fmt.Errorf("engine: iteration %d: %w", e.State.Iteration, err)
		}

		forwardStart := time.Now()
		output, err := e.model.Forward(ctx, images)
		if err != nil {
			return fmt.Errorf("engine: iteration %d: forward: %w", e.State.Iteration, err)
		}
		e.State.Output = output
		e.State.Throughput.Record(batch.Size(), dataTime, time.Since(forwardStart))

		for name, m := range e.metrics {
			if err := m.Update(output, labels); err != nil {
				return fmt.Errorf("engine: metric %q: %w", name, err)
			}
		}
		if err := e.fire(IterationCompleted); err != nil {
			return err
		}
		waitStart = time.Now()
	}

	return <-errc
}
