// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metric defines evaluation metrics accumulated across batches.
package metric

import (
	"fmt"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// Metric accumulates a statistic over one evaluation pass.
//
// Update sees one batch of (N, C) logits plus the matching labels;
// Compute returns the aggregate. Reset clears accumulated state so the
// same instance can serve another pass.
type Metric interface {
	Reset()
	Update(output *tensor.Tensor, labels []int) error
	Compute() (float64, error)
}

// Accuracy counts argmax matches over all samples seen since Reset.
type Accuracy struct {
	correct int
	total   int
}

// NewAccuracy returns a zeroed accuracy metric.
func NewAccuracy() *Accuracy { return &Accuracy{} }

// Reset clears the running counts.
func (a *Accuracy) Reset() {
	a.correct = 0
	a.total = 0
}

// Update folds one batch of logits into the running counts.
func (a *Accuracy) Update(output *tensor.Tensor, labels []int) error {
	preds, err := output.Argmax()
	if err != nil {
		return fmt.Errorf("metric: accuracy: %w", err)
	}
	if len(preds) != len(labels) {
		return fmt.Errorf("metric: accuracy: %d predictions but %d labels", len(preds), len(labels))
	}
	for i, p := range preds {
		if p == labels[i] {
			a.correct++
		}
	}
	a.total += len(labels)
	return nil
}

// Compute returns the fraction of correct predictions.
func (a *Accuracy) Compute() (float64, error) {
	if a.total == 0 {
		return 0, fmt.Errorf("metric: accuracy: no samples accumulated")
	}
	return float64(a.correct) / float64(a.total), nil
}

// Seen returns how many samples the metric has accumulated.
func (a *Accuracy) Seen() int { return a.total }
