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
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// foreach runs body(i) for i in [0, n) on at most limit goroutines.
//
// limit <= 1 degrades to a plain loop, which keeps single-worker runs
// allocation-free and deterministic to profile.
func foreach(n, limit int, body func(i int)) {
	if n <= 0 {
		return
	}
	if limit <= 1 || n == 1 {
		for i := 0; i < n; i++ {
			body(i)
		}
		return
	}
	sem := make(chan struct{}, limit)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			body(i)
		}(i)
	}
	wg.Wait()
}

// Conv3D is a 3D convolution with a cubic kernel and no bias term.
//
// Weight layout is (OutCh, InCh, K, K, K). The network's convolutions are
// all bias-free because each one is followed by a batch norm.
type Conv3D struct {
	InCh, OutCh int
	Kernel      int
	Stride      int
	Padding     int
	Weight      *tensor.Tensor
}

// NewConv3D allocates a zero-weight convolution.
func NewConv3D(inCh, outCh, kernel, stride, padding int) *Conv3D {
	return &Conv3D{
		InCh:    inCh,
		OutCh:   outCh,
		Kernel:  kernel,
		Stride:  stride,
		Padding: padding,
		Weight:  tensor.New(outCh, inCh, kernel, kernel, kernel),
	}
}

// outDim returns the output spatial extent for an input extent.
func (c *Conv3D) outDim(in int) int {
	return (in+2*c.Padding-c.Kernel)/c.Stride + 1
}

// Forward applies the convolution to a (N, InCh, D, H, W) tensor,
// fanning the (sample, output-channel) pairs across workers goroutines.
func (c *Conv3D) Forward(x *tensor.Tensor, workers int) (*tensor.Tensor, error) {
	if x.Dims() != 5 {
		return nil, fmt.Errorf("nets: conv3d expects a 5D input, got shape %v", x.Shape)
	}
	if x.Dim(1) != c.InCh {
		return nil, fmt.Errorf("nets: conv3d expects %d input channels, got %d", c.InCh, x.Dim(1))
	}
	n, id, ih, iw := x.Dim(0), x.Dim(2), x.Dim(3), x.Dim(4)
	od, oh, ow := c.outDim(id), c.outDim(ih), c.outDim(iw)
	if od <= 0 || oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("nets: conv3d input %dx%dx%d too small for kernel %d stride %d padding %d",
			id, ih, iw, c.Kernel, c.Stride, c.Padding)
	}
	out := tensor.New(n, c.OutCh, od, oh, ow)

	inPlane := id * ih * iw
	outPlane := od * oh * ow
	k := c.Kernel
	kVol := k * k * k

	foreach(n*c.OutCh, workers, func(job int) {
		b, oc := job/c.OutCh, job%c.OutCh
		src := x.Data[b*c.InCh*inPlane:]
		dst := out.Data[(b*c.OutCh+oc)*outPlane:]
		wBase := c.Weight.Data[oc*c.InCh*kVol:]
		for oz := 0; oz < od; oz++ {
			z0 := oz*c.Stride - c.Padding
			for oy := 0; oy < oh; oy++ {
				y0 := oy*c.Stride - c.Padding
				for ox := 0; ox < ow; ox++ {
					x0 := ox*c.Stride - c.Padding
					var acc float32
					for ic := 0; ic < c.InCh; ic++ {
						plane := src[ic*inPlane:]
						w := wBase[ic*kVol:]
						for kz := 0; kz < k; kz++ {
							z := z0 + kz
							if z < 0 || z >= id {
								continue
							}
							for ky := 0; ky < k; ky++ {
								y := y0 + ky
								if y < 0 || y >= ih {
									continue
								}
								rowIn := (z*ih + y) * iw
								rowW := (kz*k + ky) * k
								for kx := 0; kx < k; kx++ {
									xx := x0 + kx
									if xx < 0 || xx >= iw {
										continue
									}
									acc += plane[rowIn+xx] * w[rowW+kx]
								}
							}
						}
					}
					dst[(oz*oh+oy)*ow+ox] = acc
				}
			}
		}
	})
	return out, nil
}

// BatchNorm3D is batch normalization in inference form: the stored running
// statistics are folded into a per-channel affine transform.
type BatchNorm3D struct {
	Ch    int
	Eps   float32
	Gamma *tensor.Tensor // weight, (Ch)
	Beta  *tensor.Tensor // bias, (Ch)
	Mean  *tensor.Tensor // running mean, (Ch)
	Var   *tensor.Tensor // running variance, (Ch)
}

// NewBatchNorm3D allocates an identity batch norm (gamma=1, var=1).
func NewBatchNorm3D(ch int) *BatchNorm3D {
	bn := &BatchNorm3D{
		Ch:    ch,
		Eps:   1e-5,
		Gamma: tensor.New(ch),
		Beta:  tensor.New(ch),
		Mean:  tensor.New(ch),
		Var:   tensor.New(ch),
	}
	for i := 0; i < ch; i++ {
		bn.Gamma.Data[i] = 1
		bn.Var.Data[i] = 1
	}
	return bn
}

// Forward normalizes a (N, Ch, D, H, W) tensor in a fresh output tensor.
func (bn *BatchNorm3D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dims() != 5 || x.Dim(1) != bn.Ch {
		return nil, fmt.Errorf("nets: batchnorm expects (N, %d, D, H, W), got shape %v", bn.Ch, x.Shape)
	}
	n := x.Dim(0)
	plane := x.Dim(2) * x.Dim(3) * x.Dim(4)

	scale := make([]float32, bn.Ch)
	shift := make([]float32, bn.Ch)
	for c := 0; c < bn.Ch; c++ {
		s := bn.Gamma.Data[c] / float32(math.Sqrt(float64(bn.Var.Data[c]+bn.Eps)))
		scale[c] = s
		shift[c] = bn.Beta.Data[c] - bn.Mean.Data[c]*s
	}

	out := tensor.New(x.Shape...)
	for b := 0; b < n; b++ {
		for c := 0; c < bn.Ch; c++ {
			base := (b*bn.Ch + c) * plane
			s, sh := scale[c], shift[c]
			for i := 0; i < plane; i++ {
				out.Data[base+i] = x.Data[base+i]*s + sh
			}
		}
	}
	return out, nil
}

// reluInPlace clamps negatives to zero in place.
func reluInPlace(t *tensor.Tensor) {
	for i, v := range t.Data {
		if v < 0 {
			t.Data[i] = 0
		}
	}
}

// MaxPool3D is max pooling with a cubic window.
type MaxPool3D struct {
	Kernel, Stride, Padding int
}

// Forward pools a (N, C, D, H, W) tensor. Padded positions never win the
// max; a window entirely in padding yields 0.
func (p MaxPool3D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return pool3d(x, p.Kernel, p.Stride, p.Padding, true)
}

// AvgPool3D is average pooling with a cubic window. The divisor counts
// only in-bounds positions, matching count_include_pad=false semantics.
type AvgPool3D struct {
	Kernel, Stride int
}

// Forward pools a (N, C, D, H, W) tensor.
func (p AvgPool3D) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return pool3d(x, p.Kernel, p.Stride, 0, false)
}

func pool3d(x *tensor.Tensor, kernel, stride, padding int, isMax bool) (*tensor.Tensor, error) {
	if x.Dims() != 5 {
		return nil, fmt.Errorf("nets: pool expects a 5D input, got shape %v", x.Shape)
	}
	n, c, id, ih, iw := x.Dim(0), x.Dim(1), x.Dim(2), x.Dim(3), x.Dim(4)
	od := (id+2*padding-kernel)/stride + 1
	oh := (ih+2*padding-kernel)/stride + 1
	ow := (iw+2*padding-kernel)/stride + 1
	if od <= 0 || oh <= 0 || ow <= 0 {
		return nil, fmt.Errorf("nets: pool input %dx%dx%d too small for kernel %d stride %d", id, ih, iw, kernel, stride)
	}
	out := tensor.New(n, c, od, oh, ow)
	inPlane := id * ih * iw
	outPlane := od * oh * ow

	for bc := 0; bc < n*c; bc++ {
		src := x.Data[bc*inPlane:]
		dst := out.Data[bc*outPlane:]
		for oz := 0; oz < od; oz++ {
			for oy := 0; oy < oh; oy++ {
				for ox := 0; ox < ow; ox++ {
					var best float32
					var sum float32
					count := 0
					first := true
					for kz := 0; kz < kernel; kz++ {
						z := oz*stride - padding + kz
						if z < 0 || z >= id {
							continue
						}
						for ky := 0; ky < kernel; ky++ {
							y := oy*stride - padding + ky
							if y < 0 || y >= ih {
								continue
							}
							for kx := 0; kx < kernel; kx++ {
								xx := ox*stride - padding + kx
								if xx < 0 || xx >= iw {
									continue
								}
								v := src[(z*ih+y)*iw+xx]
								if isMax {
									if first || v > best {
										best = v
										first = false
									}
								} else {
									sum += v
									count++
								}
							}
						}
					}
					if isMax {
						dst[(oz*oh+oy)*ow+ox] = best
					} else if count > 0 {
						dst[(oz*oh+oy)*ow+ox] = sum / float32(count)
					}
				}
			}
		}
	}
	return out, nil
}

// globalAvgPool reduces (N, C, D, H, W) to (N, C).
func globalAvgPool(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dims() != 5 {
		return nil, fmt.Errorf("nets: global pool expects a 5D input, got shape %v", x.Shape)
	}
	n, c := x.Dim(0), x.Dim(1)
	plane := x.Dim(2) * x.Dim(3) * x.Dim(4)
	out := tensor.New(n, c)
	for bc := 0; bc < n*c; bc++ {
		var sum float32
		base := bc * plane
		for i := 0; i < plane; i++ {
			sum += x.Data[base+i]
		}
		out.Data[bc] = sum / float32(plane)
	}
	return out, nil
}

// Linear is a fully connected layer, Weight (Out, In) plus Bias (Out).
type Linear struct {
	In, Out int
	Weight  *tensor.Tensor
	Bias    *tensor.Tensor
}

// NewLinear allocates a zero-weight linear layer.
func NewLinear(in, out int) *Linear {
	return &Linear{In: in, Out: out, Weight: tensor.New(out, in), Bias: tensor.New(out)}
}

// Forward maps (N, In) to (N, Out).
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dims() != 2 || x.Dim(1) != l.In {
		return nil, fmt.Errorf("nets: linear expects (N, %d), got shape %v", l.In, x.Shape)
	}
	n := x.Dim(0)
	out := tensor.New(n, l.Out)
	for b := 0; b < n; b++ {
		row := x.Data[b*l.In : (b+1)*l.In]
		for o := 0; o < l.Out; o++ {
			w := l.Weight.Data[o*l.In : (o+1)*l.In]
			acc := l.Bias.Data[o]
			for i, v := range row {
				acc += v * w[i]
			}
			out.Data[b*l.Out+o] = acc
		}
	}
	return out, nil
}

// kaimingFill initializes a conv or linear weight with He-normal values,
// fanIn being the receptive field size times input channels.
func kaimingFill(t *tensor.Tensor, fanIn int, rng *rand.Rand) {
	std := float32(math.Sqrt(2.0 / float64(fanIn)))
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * std
	}
}
