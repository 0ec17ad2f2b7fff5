// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metric

import "time"

// Window accumulates per-iteration timing across the pass.
type Window struct {
	samples int
	data    time.Duration
	forward time.Duration
	steps   int
}

// Record adds one iteration's measurements to the window.
func (w *Window) Record(batchSize int, dataTime, forwardTime time.Duration) {
	w.samples += batchSize
	w.data += dataTime
	w.forward += forwardTime
	w.steps++
}

// Snapshot returns aggregated throughput numbers and resets the window.
func (w *Window) Snapshot() Snapshot {
	snap := Snapshot{Samples: w.samples}
	total := w.data + w.forward
	if total > 0 {
		snap.ImagesPerSec = float64(w.samples) / total.Seconds()
	}
	if w.steps > 0 {
		snap.AvgDataMS = (w.data.Seconds() * 1000) / float64(w.steps)
		snap.AvgForwardMS = (w.forward.Seconds() * 1000) / float64(w.steps)
	}

	w.samples = 0
	w.data = 0
	w.forward = 0
	w.steps = 0
	return snap
}

// Snapshot represents loggable throughput metrics.
type Snapshot struct {
	Samples      int
	ImagesPerSec float64
	AvgDataMS    float64
	AvgForwardMS float64
}
