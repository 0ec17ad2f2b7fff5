// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVision/services/vision/data"
	"github.com/AleutianAI/AleutianVision/services/vision/metric"
	"github.com/AleutianAI/AleutianVision/services/vision/nifti"
	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// stubModel predicts class 1 when the sample's first voxel is positive.
type stubModel struct {
	calls int
	fail  bool
}

func (m *stubModel) Forward(_ context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	m.calls++
	if m.fail {
		return nil, fmt.Errorf("stub failure")
	}
	n := x.Dim(0)
	stride := x.Numel() / n
	out := tensor.New(n, 2)
	for i := 0; i < n; i++ {
		if x.Data[i*stride] > 0 {
			out.Data[i*2+1] = 1
		} else {
			out.Data[i*2] = 1
		}
	}
	return out, nil
}

// testLoader builds a loader over n on-disk volumes; volume k is the
// constant k, so the stub model predicts 0 for the first volume and 1
// for the rest.
func testLoader(t *testing.T, n, batchSize int) (*data.Loader, []int) {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, n)
	labels := make([]int, n)
	for k := 0; k < n; k++ {
		v := &nifti.Volume{Data: make([]float32, 8), Dx: 2, Dy: 2, Dz: 2}
		for i := range v.Data {
			v.Data[i] = float32(k)
		}
		paths[k] = filepath.Join(dir, fmt.Sprintf("vol_%d.nii", k))
		require.NoError(t, nifti.Write(paths[k], v))
		if k > 0 {
			labels[k] = 1
		}
	}
	ds, err := data.NewNiftiDataset(paths, labels, nil)
	require.NoError(t, err)
	loader, err := data.NewLoader(ds, data.LoaderConfig{BatchSize: batchSize, Workers: 2})
	require.NoError(t, err)
	return loader, labels
}

func TestEvaluatorSinglePass(t *testing.T) {
	loader, _ := testLoader(t, 5, 2)
	model := &stubModel{}
	eval, err := NewEvaluator(model, WithMetric("accuracy", metric.NewAccuracy()))
	require.NoError(t, err)

	var events []Event
	for _, ev := range []Event{Started, EpochStarted, IterationStarted, IterationCompleted, EpochCompleted, Completed} {
		ev := ev
		eval.AddEventHandler(ev, func(e *Engine) error {
			events = append(events, ev)
			return nil
		})
	}

	require.NoError(t, eval.Run(context.Background(), loader))

	// 5 samples at batch size 2 -> 3 iterations, one pass.
	assert.Equal(t, 3, model.calls)
	assert.Equal(t, 3, eval.State.Iteration)
	assert.Equal(t, 1, eval.State.Epoch)
	assert.Equal(t, []Event{
		Started, EpochStarted,
		IterationStarted, IterationCompleted,
		IterationStarted, IterationCompleted,
		IterationStarted, IterationCompleted,
		EpochCompleted, Completed,
	}, events)

	// The stub classifies every volume correctly.
	assert.Equal(t, 1.0, eval.State.Metrics["accuracy"])
}

func TestEvaluatorExposesBatchMetadata(t *testing.T) {
	loader, labels := testLoader(t, 4, 2)
	eval, err := NewEvaluator(&stubModel{})
	require.NoError(t, err)

	var seen []string
	eval.AddEventHandler(IterationCompleted, func(e *Engine) error {
		require.NotNil(t, e.State.Output)
		require.Equal(t, e.State.Batch.Size(), e.State.Output.Dim(0))
		for _, m := range e.State.Batch.Metas {
			seen = append(seen, m.Filename)
		}
		return nil
	})

	require.NoError(t, eval.Run(context.Background(), loader))
	assert.Equal(t, []string{"vol_0.nii", "vol_1.nii", "vol_2.nii", "vol_3.nii"}, seen)
	assert.Len(t, labels, 4)
}

func TestEvaluatorModelErrorAborts(t *testing.T) {
	loader, _ := testLoader(t, 4, 2)
	model := &stubModel{fail: true}
	eval, err := NewEvaluator(model)
	require.NoError(t, err)

	completed := false
	eval.AddEventHandler(Completed, func(e *Engine) error {
		completed = true
		return nil
	})

	err = eval.Run(context.Background(), loader)
	assert.ErrorContains(t, err, "stub failure")
	assert.Equal(t, 1, model.calls, "first failure must end the pass")
	assert.False(t, completed)
}

func TestEvaluatorModelErrorStopsPass(t *testing.T) {
	// Enough samples that the loader still has work queued when the
	// first forward fails; the abort must stop the pass rather than
	// leave it running.
	loader, _ := testLoader(t, 12, 2)
	model := &stubModel{fail: true}
	eval, err := NewEvaluator(model)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- eval.Run(context.Background(), loader)
	}()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "stub failure")
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after a forward error mid-pass")
	}
}

func TestEvaluatorHandlerErrorAborts(t *testing.T) {
	loader, _ := testLoader(t, 4, 2)
	eval, err := NewEvaluator(&stubModel{})
	require.NoError(t, err)

	eval.AddEventHandler(Started, func(e *Engine) error {
		return fmt.Errorf("refusing to start")
	})

	err = eval.Run(context.Background(), loader)
	assert.ErrorContains(t, err, "refusing to start")
	assert.Equal(t, 0, eval.State.Iteration)
}

func TestEvaluatorCustomPrepareBatch(t *testing.T) {
	loader, _ := testLoader(t, 2, 2)
	prepared := 0
	eval, err := NewEvaluator(&stubModel{}, WithPrepareBatch(func(b data.Batch) (*tensor.Tensor, []int, error) {
		prepared++
		return b.Images, b.Labels, nil
	}))
	require.NoError(t, err)
	require.NoError(t, eval.Run(context.Background(), loader))
	assert.Equal(t, 1, prepared)
}

func TestNewEvaluatorRejectsNilModel(t *testing.T) {
	_, err := NewEvaluator(nil)
	assert.Error(t, err)
}
