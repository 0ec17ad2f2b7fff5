// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nets

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// tinyConfig keeps forward passes fast in tests while exercising every
// layer type the 121 variant uses.
func tinyConfig() Config {
	return Config{
		InChannels:   1,
		OutChannels:  2,
		InitFeatures: 4,
		GrowthRate:   2,
		BlockLayers:  []int{2, 2},
		BNSize:       2,
	}
}

func TestNewValidatesChannels(t *testing.T) {
	_, err := New(Config{InChannels: 0, OutChannels: 2})
	assert.Error(t, err)
	_, err = New(Config{InChannels: 1, OutChannels: 0})
	assert.Error(t, err)
}

func TestForwardOutputShape(t *testing.T) {
	m, err := New(tinyConfig())
	require.NoError(t, err)
	m.InitRandom(1)

	in := tensor.New(3, 1, 16, 16, 16)
	for i := range in.Data {
		in.Data[i] = float32(i%13) / 13
	}
	out, err := m.Forward(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, out.Shape)
}

func TestForwardDeterministic(t *testing.T) {
	m, err := New(tinyConfig())
	require.NoError(t, err)
	m.InitRandom(42)

	in := tensor.New(1, 1, 16, 16, 16)
	for i := range in.Data {
		in.Data[i] = float32(i%7) / 7
	}
	a, err := m.Forward(context.Background(), in)
	require.NoError(t, err)

	m.SetWorkers(4)
	b, err := m.Forward(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestForwardRejectsWrongChannels(t *testing.T) {
	m, err := New(tinyConfig())
	require.NoError(t, err)
	_, err = m.Forward(context.Background(), tensor.New(1, 3, 16, 16, 16))
	assert.Error(t, err)
}

func TestForwardCanceledContext(t *testing.T) {
	m, err := New(tinyConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Forward(ctx, tensor.New(1, 1, 16, 16, 16))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParameterNames(t *testing.T) {
	m, err := New(tinyConfig())
	require.NoError(t, err)
	params := m.Parameters()

	for _, name := range []string{
		"features.conv0.weight",
		"features.norm0.weight",
		"features.norm0.running_mean",
		"features.denseblock1.denselayer1.conv1.weight",
		"features.denseblock1.denselayer2.norm2.running_var",
		"features.transition1.conv.weight",
		"features.denseblock2.denselayer1.conv2.weight",
		"features.norm5.bias",
		"classifier.weight",
		"classifier.bias",
	} {
		assert.Contains(t, params, name)
	}
	// No transition after the last block.
	assert.NotContains(t, params, "features.transition2.conv.weight")
}

func TestParametersAreLive(t *testing.T) {
	// Writing through the Parameters map must change what Forward uses;
	// checkpoint loading depends on this.
	m, err := New(tinyConfig())
	require.NoError(t, err)
	m.InitRandom(7)

	in := tensor.New(1, 1, 16, 16, 16)
	for i := range in.Data {
		in.Data[i] = 0.5
	}
	before, err := m.Forward(context.Background(), in)
	require.NoError(t, err)

	bias := m.Parameters()["classifier.bias"]
	for i := range bias.Data {
		bias.Data[i] += 10
	}
	after, err := m.Forward(context.Background(), in)
	require.NoError(t, err)
	for i := range before.Data {
		assert.InDelta(t, before.Data[i]+10, after.Data[i], 1e-4)
	}
}

func TestDenseNet121ParameterCount(t *testing.T) {
	m, err := DenseNet121(1, 2)
	require.NoError(t, err)
	params := m.Parameters()

	// 121 variant: 1 stem conv + 4 norms per dense layer ... spot-check
	// the block structure rather than the exact tensor count.
	assert.Contains(t, params, "features.denseblock4.denselayer16.conv2.weight")
	assert.Contains(t, params, "features.transition3.conv.weight")
	assert.NotContains(t, params, "features.denseblock5.denselayer1.conv1.weight")

	// Classifier is fed by 1024 features in the 121 layout.
	assert.Equal(t, []int{2, 1024}, params["classifier.weight"].Shape)
}

func TestConcatChannels(t *testing.T) {
	a := tensor.New(2, 1, 1, 1, 2)
	b := tensor.New(2, 2, 1, 1, 2)
	for i := range a.Data {
		a.Data[i] = 1
	}
	for i := range b.Data {
		b.Data[i] = 2
	}
	out, err := concatChannels(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1, 1, 2}, out.Shape)
	// Per-sample layout: one channel of a, then two of b.
	assert.Equal(t, []float32{1, 1, 2, 2, 2, 2, 1, 1, 2, 2, 2, 2}, out.Data)
}
