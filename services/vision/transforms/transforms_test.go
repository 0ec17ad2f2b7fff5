// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package transforms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

func rampVolume(d, h, w int) *tensor.Tensor {
	t := tensor.New(d, h, w)
	for i := range t.Data {
		t.Data[i] = float32(i)
	}
	return t
}

func TestScaleIntensityRange(t *testing.T) {
	in := rampVolume(2, 3, 4)
	out, err := ScaleIntensity{}.Apply(in)
	require.NoError(t, err)

	mn, mx := out.MinMax()
	assert.InDelta(t, 0, mn, 1e-6)
	assert.InDelta(t, 1, mx, 1e-6)

	// Input untouched.
	assert.Equal(t, float32(0), in.Data[0])
	assert.Equal(t, float32(23), in.Data[23])
}

func TestScaleIntensityConstantInput(t *testing.T) {
	in := tensor.New(2, 2, 2)
	for i := range in.Data {
		in.Data[i] = 7
	}
	out, err := ScaleIntensity{}.Apply(in)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.Equal(t, float32(0), v)
	}
}

func TestScaleIntensityCustomRange(t *testing.T) {
	in := rampVolume(1, 1, 3)
	out, err := ScaleIntensity{Min: -1, Max: 1}.Apply(in)
	require.NoError(t, err)
	mn, mx := out.MinMax()
	assert.InDelta(t, -1, mn, 1e-6)
	assert.InDelta(t, 1, mx, 1e-6)

	_, err = ScaleIntensity{Min: 1, Max: 1}.Apply(in)
	assert.Error(t, err)
}

func TestAddChannel(t *testing.T) {
	in := rampVolume(2, 3, 4)
	out, err := AddChannel{}.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, out.Shape)
	// Shares data.
	assert.Same(t, &in.Data[0], &out.Data[0])
}

func TestResizeShape(t *testing.T) {
	in, err := AddChannel{}.Apply(rampVolume(8, 10, 12))
	require.NoError(t, err)
	out, err := Resize{D: 4, H: 5, W: 6}.Apply(in)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 5, 6}, out.Shape)
}

func TestResizeIdentity(t *testing.T) {
	in, err := AddChannel{}.Apply(rampVolume(3, 4, 5))
	require.NoError(t, err)
	out, err := Resize{D: 3, H: 4, W: 5}.Apply(in)
	require.NoError(t, err)
	for i := range in.Data {
		assert.InDelta(t, in.Data[i], out.Data[i], 1e-4)
	}
}

func TestResizeConstantStaysConstant(t *testing.T) {
	in := tensor.New(1, 4, 4, 4)
	for i := range in.Data {
		in.Data[i] = 3.5
	}
	out, err := Resize{D: 7, H: 9, W: 11}.Apply(in)
	require.NoError(t, err)
	for _, v := range out.Data {
		assert.InDelta(t, 3.5, v, 1e-5)
	}
}

func TestResizeRequiresChannelAxis(t *testing.T) {
	_, err := Resize{D: 4, H: 4, W: 4}.Apply(rampVolume(8, 8, 8))
	assert.ErrorContains(t, err, "AddChannel")
}

// TestComposeStandardChain covers the evaluation pipeline contract: any
// 3D volume comes out as a (1, 96, 96, 96) tensor with intensities in [0, 1].
func TestComposeStandardChain(t *testing.T) {
	chain := Compose{
		ScaleIntensity{},
		AddChannel{},
		Resize{D: 96, H: 96, W: 96},
	}

	for _, shape := range [][3]int{{32, 40, 28}, {96, 96, 96}, {10, 10, 10}} {
		out, err := chain.Apply(rampVolume(shape[0], shape[1], shape[2]))
		require.NoError(t, err)
		assert.Equal(t, []int{1, 96, 96, 96}, out.Shape)
		mn, mx := out.MinMax()
		assert.GreaterOrEqual(t, mn, float32(0))
		assert.LessOrEqual(t, mx, float32(1))
	}
}

func TestComposeReportsFailingStep(t *testing.T) {
	chain := Compose{
		ScaleIntensity{},
		// AddChannel omitted: Resize must fail and name the step.
		Resize{D: 8, H: 8, W: 8},
	}
	_, err := chain.Apply(rampVolume(4, 4, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")
}
