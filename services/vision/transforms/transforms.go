// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package transforms provides the per-sample image transforms applied
// before batching.
//
// Transforms are pure: they never modify their input tensor. The standard
// evaluation chain is
//
//	Compose(ScaleIntensity{}, AddChannel{}, Resize{96, 96, 96})
//
// and the order matters: AddChannel must run before Resize, because Resize
// expects a channel-first (C, D, H, W) tensor.
package transforms

import (
	"fmt"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// Transform maps one tensor to another.
type Transform interface {
	Apply(t *tensor.Tensor) (*tensor.Tensor, error)
}

// Compose chains transforms left to right.
type Compose []Transform

// Apply runs every transform in order, feeding each output to the next.
func (c Compose) Apply(t *tensor.Tensor) (*tensor.Tensor, error) {
	out := t
	var err error
	for i, tr := range c {
		out, err = tr.Apply(out)
		if err != nil {
			return nil, fmt.Errorf("transforms: step %d (%T): %w", i, tr, err)
		}
	}
	return out, nil
}

// ScaleIntensity linearly rescales voxel intensities into [Min, Max].
//
// The zero value rescales into [0, 1]. A constant input maps to Min
// everywhere.
type ScaleIntensity struct {
	Min, Max float32
}

// Apply rescales the tensor's intensities.
func (s ScaleIntensity) Apply(t *tensor.Tensor) (*tensor.Tensor, error) {
	lo, hi := s.Min, s.Max
	if lo == 0 && hi == 0 {
		hi = 1
	}
	if hi <= lo {
		return nil, fmt.Errorf("invalid target range [%v, %v]", lo, hi)
	}

	mn, mx := t.MinMax()
	out := t.Clone()
	if mx == mn {
		for i := range out.Data {
			out.Data[i] = lo
		}
		return out, nil
	}
	scale := (hi - lo) / (mx - mn)
	for i, v := range out.Data {
		out.Data[i] = (v-mn)*scale + lo
	}
	return out, nil
}

// AddChannel inserts a leading channel dimension of size 1, turning a
// (D, H, W) volume into (1, D, H, W). The backing data is shared.
type AddChannel struct{}

// Apply prepends the channel axis.
func (AddChannel) Apply(t *tensor.Tensor) (*tensor.Tensor, error) {
	shape := append([]int{1}, t.Shape...)
	return t.Reshape(shape...)
}

// Resize resamples a channel-first (C, D, H, W) tensor to a fixed spatial
// size using trilinear interpolation.
type Resize struct {
	D, H, W int
}

// Apply resamples the tensor.
//
// Returns an error when the input is not 4D; in the standard chain this
// means AddChannel was omitted or misordered.
func (r Resize) Apply(t *tensor.Tensor) (*tensor.Tensor, error) {
	if r.D <= 0 || r.H <= 0 || r.W <= 0 {
		return nil, fmt.Errorf("invalid target size (%d, %d, %d)", r.D, r.H, r.W)
	}
	if t.Dims() != 4 {
		return nil, fmt.Errorf("expected a channel-first 4D tensor, got shape %v (did AddChannel run first?)", t.Shape)
	}

	c, id, ih, iw := t.Dim(0), t.Dim(1), t.Dim(2), t.Dim(3)
	out := tensor.New(c, r.D, r.H, r.W)

	sd := float64(id) / float64(r.D)
	sh := float64(ih) / float64(r.H)
	sw := float64(iw) / float64(r.W)

	for ch := 0; ch < c; ch++ {
		src := t.Data[ch*id*ih*iw:]
		dst := out.Data[ch*r.D*r.H*r.W:]
		for z := 0; z < r.D; z++ {
			fz, z0, z1 := sampleCoord(z, sd, id)
			for y := 0; y < r.H; y++ {
				fy, y0, y1 := sampleCoord(y, sh, ih)
				for x := 0; x < r.W; x++ {
					fx, x0, x1 := sampleCoord(x, sw, iw)

					c000 := src[(z0*ih+y0)*iw+x0]
					c100 := src[(z0*ih+y0)*iw+x1]
					c010 := src[(z0*ih+y1)*iw+x0]
					c110 := src[(z0*ih+y1)*iw+x1]
					c001 := src[(z1*ih+y0)*iw+x0]
					c101 := src[(z1*ih+y0)*iw+x1]
					c011 := src[(z1*ih+y1)*iw+x0]
					c111 := src[(z1*ih+y1)*iw+x1]

					v00 := lerp(c000, c100, fx)
					v10 := lerp(c010, c110, fx)
					v01 := lerp(c001, c101, fx)
					v11 := lerp(c011, c111, fx)

					v0 := lerp(v00, v10, fy)
					v1 := lerp(v01, v11, fy)

					dst[(z*r.H+y)*r.W+x] = lerp(v0, v1, fz)
				}
			}
		}
	}
	return out, nil
}

// sampleCoord maps output index i to a source coordinate using
// pixel-center alignment, returning the interpolation fraction and the
// two clamped neighbor indices.
func sampleCoord(i int, scale float64, size int) (float32, int, int) {
	pos := (float64(i)+0.5)*scale - 0.5
	if pos < 0 {
		pos = 0
	}
	lo := int(pos)
	if lo > size-1 {
		lo = size - 1
	}
	hi := lo + 1
	if hi > size-1 {
		hi = size - 1
	}
	return float32(pos - float64(lo)), lo, hi
}

func lerp(a, b, f float32) float32 { return a + (b-a)*f }
