// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/AleutianAI/AleutianVision/services/vision/engine"
	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// Prediction is one saved classification result.
type Prediction struct {
	// Filename is the source volume's base name, taken from batch
	// metadata rather than from anything the model saw.
	Filename string

	// Class is the argmax class index.
	Class int

	// Probability is the softmax probability of Class.
	Probability float64
}

// ClassificationSaver records per-sample predictions and writes them to
// a CSV file when the run completes.
//
// Rows appear in dataset order because batches arrive in dataset order.
type ClassificationSaver struct {
	dir      string
	filename string
	rows     []Prediction
}

// NewClassificationSaver writes results under dir, creating it if
// needed. The output file is predictions.csv.
func NewClassificationSaver(dir string) (*ClassificationSaver, error) {
	if dir == "" {
		return nil, fmt.Errorf("handlers: saver needs an output directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("handlers: creating output directory: %w", err)
	}
	return &ClassificationSaver{dir: dir, filename: "predictions.csv"}, nil
}

// Attach registers the saver on an engine. Results are collected at
// each iteration and flushed to disk when the run completes.
func (s *ClassificationSaver) Attach(e *engine.Engine) {
	e.AddEventHandler(engine.IterationCompleted, s.onIterationCompleted)
	e.AddEventHandler(engine.Completed, func(*engine.Engine) error {
		return s.Finalize()
	})
}

func (s *ClassificationSaver) onIterationCompleted(e *engine.Engine) error {
	out := e.State.Output
	if out == nil {
		return fmt.Errorf("handlers: saver: iteration %d has no model output", e.State.Iteration)
	}
	preds, err := out.Argmax()
	if err != nil {
		return fmt.Errorf("handlers: saver: %w", err)
	}
	if len(preds) != len(e.State.Batch.Metas) {
		return fmt.Errorf("handlers: saver: %d predictions but %d metadata entries",
			len(preds), len(e.State.Batch.Metas))
	}

	for i, meta := range e.State.Batch.Metas {
		row, err := out.Row(i)
		if err != nil {
			return fmt.Errorf("handlers: saver: %w", err)
		}
		probs := tensor.Softmax(row)
		s.rows = append(s.rows, Prediction{
			Filename:    meta.Filename,
			Class:       preds[i],
			Probability: float64(probs[preds[i]]),
		})
	}
	return nil
}

// Rows returns the predictions collected so far.
func (s *ClassificationSaver) Rows() []Prediction { return s.rows }

// Path returns where Finalize writes its CSV.
func (s *ClassificationSaver) Path() string { return filepath.Join(s.dir, s.filename) }

// Finalize writes all collected predictions to the output CSV.
func (s *ClassificationSaver) Finalize() error {
	f, err := os.Create(s.Path())
	if err != nil {
		return fmt.Errorf("handlers: saver: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"filename", "class", "probability"}); err != nil {
		return fmt.Errorf("handlers: saver: %w", err)
	}
	for _, r := range s.rows {
		record := []string{r.Filename, fmt.Sprintf("%d", r.Class), fmt.Sprintf("%.6f", r.Probability)}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("handlers: saver: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("handlers: saver: %w", err)
	}
	return f.Sync()
}
