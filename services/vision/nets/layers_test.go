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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

func TestConv3DIdentityKernel(t *testing.T) {
	// A 1x1x1 kernel with weight 1 is the identity.
	conv := NewConv3D(1, 1, 1, 1, 0)
	conv.Weight.Data[0] = 1

	in := tensor.New(1, 1, 2, 3, 4)
	for i := range in.Data {
		in.Data[i] = float32(i)
	}
	out, err := conv.Forward(in, 1)
	require.NoError(t, err)
	assert.Equal(t, in.Shape, out.Shape)
	assert.Equal(t, in.Data, out.Data)
}

func TestConv3DSumKernel(t *testing.T) {
	// A 3x3x3 all-ones kernel on an all-ones interior voxel sums the
	// full neighborhood.
	conv := NewConv3D(1, 1, 3, 1, 1)
	for i := range conv.Weight.Data {
		conv.Weight.Data[i] = 1
	}
	in := tensor.New(1, 1, 3, 3, 3)
	for i := range in.Data {
		in.Data[i] = 1
	}
	out, err := conv.Forward(in, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 3, 3}, out.Shape)
	// Center sees all 27 neighbors, corner sees 8.
	assert.Equal(t, float32(27), out.Data[(1*3+1)*3+1])
	assert.Equal(t, float32(8), out.Data[0])
}

func TestConv3DStrideHalvesOutput(t *testing.T) {
	conv := NewConv3D(1, 1, 1, 2, 0)
	conv.Weight.Data[0] = 1
	in := tensor.New(1, 1, 8, 8, 8)
	out, err := conv.Forward(in, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 4, 4}, out.Shape)
}

func TestConv3DParallelMatchesSerial(t *testing.T) {
	conv := NewConv3D(2, 3, 3, 1, 1)
	for i := range conv.Weight.Data {
		conv.Weight.Data[i] = float32(i%7) - 3
	}
	in := tensor.New(2, 2, 4, 4, 4)
	for i := range in.Data {
		in.Data[i] = float32(i % 11)
	}

	serial, err := conv.Forward(in, 1)
	require.NoError(t, err)
	parallel, err := conv.Forward(in, 4)
	require.NoError(t, err)
	assert.Equal(t, serial.Data, parallel.Data)
}

func TestConv3DRejectsChannelMismatch(t *testing.T) {
	conv := NewConv3D(2, 1, 1, 1, 0)
	_, err := conv.Forward(tensor.New(1, 3, 2, 2, 2), 1)
	assert.Error(t, err)
}

func TestBatchNormIdentity(t *testing.T) {
	bn := NewBatchNorm3D(2)
	in := tensor.New(1, 2, 2, 2, 2)
	for i := range in.Data {
		in.Data[i] = float32(i)
	}
	out, err := bn.Forward(in)
	require.NoError(t, err)
	for i := range in.Data {
		assert.InDelta(t, in.Data[i], out.Data[i], 1e-3)
	}
}

func TestBatchNormAffine(t *testing.T) {
	bn := NewBatchNorm3D(1)
	bn.Mean.Data[0] = 2
	bn.Var.Data[0] = 4
	bn.Gamma.Data[0] = 3
	bn.Beta.Data[0] = 1

	in := tensor.New(1, 1, 1, 1, 2)
	in.Data[0] = 2 // normalizes to 0 -> beta
	in.Data[1] = 4 // normalizes to ~1 -> gamma + beta

	out, err := bn.Forward(in)
	require.NoError(t, err)
	assert.InDelta(t, 1, out.Data[0], 1e-3)
	assert.InDelta(t, 4, out.Data[1], 1e-2)
}

func TestMaxPool(t *testing.T) {
	in := tensor.New(1, 1, 2, 2, 2)
	for i := range in.Data {
		in.Data[i] = float32(i)
	}
	out, err := MaxPool3D{Kernel: 2, Stride: 2}.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1, 1}, out.Shape)
	assert.Equal(t, float32(7), out.Data[0])
}

func TestAvgPool(t *testing.T) {
	in := tensor.New(1, 1, 2, 2, 2)
	for i := range in.Data {
		in.Data[i] = float32(i)
	}
	out, err := AvgPool3D{Kernel: 2, Stride: 2}.Forward(in)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, out.Data[0], 1e-6)
}

func TestGlobalAvgPool(t *testing.T) {
	in := tensor.New(2, 3, 2, 2, 2)
	for i := range in.Data {
		in.Data[i] = 2
	}
	out, err := globalAvgPool(in)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, out.Shape)
	for _, v := range out.Data {
		assert.InDelta(t, 2, v, 1e-6)
	}
}

func TestLinear(t *testing.T) {
	l := NewLinear(2, 2)
	// y0 = x0 + 2*x1, y1 = -x0 + bias 1
	l.Weight.Data = []float32{1, 2, -1, 0}
	l.Bias.Data = []float32{0, 1}

	in, err := tensor.FromData([]float32{3, 4}, 1, 2)
	require.NoError(t, err)
	out, err := l.Forward(in)
	require.NoError(t, err)
	assert.Equal(t, []float32{11, -2}, out.Data)
}

func TestForeachCoversAllIndices(t *testing.T) {
	for _, workers := range []int{1, 2, 8} {
		seen := make([]int32, 100)
		foreach(100, workers, func(i int) { seen[i]++ })
		for i, c := range seen {
			require.Equal(t, int32(1), c, "index %d with %d workers", i, workers)
		}
	}
}
