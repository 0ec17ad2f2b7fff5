// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nets implements the 3D DenseNet classifier used by the vision
// inference engine.
//
// The network is forward-only: weights are populated from a checkpoint (or
// random initialization for smoke runs) and never mutated by inference.
// Parameter names follow the familiar densenet convention
// (features.conv0.weight, features.denseblock1.denselayer1.conv1.weight, ...)
// so checkpoints are self-describing.
package nets

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// Config describes a DenseNet variant.
//
// Zero-valued architecture fields take the DenseNet-121 defaults, so
// callers normally set only InChannels and OutChannels.
type Config struct {
	// InChannels is the number of image channels (1 for grayscale MRI).
	InChannels int

	// OutChannels is the number of output classes.
	OutChannels int

	// InitFeatures is the channel count after the stem conv. Default 64.
	InitFeatures int

	// GrowthRate is the channel growth per dense layer. Default 32.
	GrowthRate int

	// BlockLayers is the dense-layer count per block. Default {6, 12, 24, 16}.
	BlockLayers []int

	// BNSize is the bottleneck width multiplier. Default 4.
	BNSize int
}

func (c Config) withDefaults() Config {
	if c.InitFeatures == 0 {
		c.InitFeatures = 64
	}
	if c.GrowthRate == 0 {
		c.GrowthRate = 32
	}
	if len(c.BlockLayers) == 0 {
		c.BlockLayers = []int{6, 12, 24, 16}
	}
	if c.BNSize == 0 {
		c.BNSize = 4
	}
	return c
}

// denseLayer is norm→relu→1³ bottleneck conv→norm→relu→3³ conv, whose
// output is concatenated onto its input.
type denseLayer struct {
	norm1 *BatchNorm3D
	conv1 *Conv3D
	norm2 *BatchNorm3D
	conv2 *Conv3D
}

func newDenseLayer(inCh, growth, bnSize int) *denseLayer {
	bottleneck := bnSize * growth
	return &denseLayer{
		norm1: NewBatchNorm3D(inCh),
		conv1: NewConv3D(inCh, bottleneck, 1, 1, 0),
		norm2: NewBatchNorm3D(bottleneck),
		conv2: NewConv3D(bottleneck, growth, 3, 1, 1),
	}
}

func (l *denseLayer) forward(x *tensor.Tensor, workers int) (*tensor.Tensor, error) {
	h, err := l.norm1.Forward(x)
	if err != nil {
		return nil, err
	}
	reluInPlace(h)
	if h, err = l.conv1.Forward(h, workers); err != nil {
		return nil, err
	}
	if h, err = l.norm2.Forward(h); err != nil {
		return nil, err
	}
	reluInPlace(h)
	if h, err = l.conv2.Forward(h, workers); err != nil {
		return nil, err
	}
	return concatChannels(x, h)
}

// transition halves channels with a 1³ conv and halves the spatial extent
// with 2³ average pooling.
type transition struct {
	norm *BatchNorm3D
	conv *Conv3D
	pool AvgPool3D
}

func newTransition(inCh, outCh int) *transition {
	return &transition{
		norm: NewBatchNorm3D(inCh),
		conv: NewConv3D(inCh, outCh, 1, 1, 0),
		pool: AvgPool3D{Kernel: 2, Stride: 2},
	}
}

func (t *transition) forward(x *tensor.Tensor, workers int) (*tensor.Tensor, error) {
	h, err := t.norm.Forward(x)
	if err != nil {
		return nil, err
	}
	reluInPlace(h)
	if h, err = t.conv.Forward(h, workers); err != nil {
		return nil, err
	}
	return t.pool.Forward(h)
}

// DenseNet is a 3D densely connected convolutional classifier.
type DenseNet struct {
	cfg Config

	conv0 *Conv3D
	norm0 *BatchNorm3D
	pool0 MaxPool3D

	blocks      [][]*denseLayer
	transitions []*transition
	norm5       *BatchNorm3D
	classifier  *Linear

	workers int
}

// New builds a DenseNet from cfg.
func New(cfg Config) (*DenseNet, error) {
	cfg = cfg.withDefaults()
	if cfg.InChannels <= 0 {
		return nil, fmt.Errorf("nets: in channels must be positive, got %d", cfg.InChannels)
	}
	if cfg.OutChannels <= 0 {
		return nil, fmt.Errorf("nets: out channels must be positive, got %d", cfg.OutChannels)
	}

	m := &DenseNet{
		cfg:     cfg,
		conv0:   NewConv3D(cfg.InChannels, cfg.InitFeatures, 7, 2, 3),
		norm0:   NewBatchNorm3D(cfg.InitFeatures),
		pool0:   MaxPool3D{Kernel: 3, Stride: 2, Padding: 1},
		workers: 1,
	}

	features := cfg.InitFeatures
	for b, layers := range cfg.BlockLayers {
		var block []*denseLayer
		for l := 0; l < layers; l++ {
			block = append(block, newDenseLayer(features, cfg.GrowthRate, cfg.BNSize))
			features += cfg.GrowthRate
		}
		m.blocks = append(m.blocks, block)
		if b < len(cfg.BlockLayers)-1 {
			m.transitions = append(m.transitions, newTransition(features, features/2))
			features /= 2
		}
	}
	m.norm5 = NewBatchNorm3D(features)
	m.classifier = NewLinear(features, cfg.OutChannels)
	return m, nil
}

// DenseNet121 builds the standard 121-layer variant; in-channels and
// out-channels are the only knobs, matching the reference pipeline.
func DenseNet121(inChannels, outChannels int) (*DenseNet, error) {
	return New(Config{InChannels: inChannels, OutChannels: outChannels})
}

// SetWorkers bounds the goroutines used for convolution fan-out.
func (m *DenseNet) SetWorkers(n int) {
	if n < 1 {
		n = 1
	}
	m.workers = n
}

// NumClasses returns the classifier width.
func (m *DenseNet) NumClasses() int { return m.cfg.OutChannels }

// InChannels returns the expected input channel count.
func (m *DenseNet) InChannels() int { return m.cfg.InChannels }

// Forward computes class logits for a (N, InChannels, D, H, W) batch.
//
// The context is checked between blocks so a canceled run stops without
// finishing the volume.
func (m *DenseNet) Forward(ctx context.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if x.Dims() != 5 {
		return nil, fmt.Errorf("nets: expected (N, C, D, H, W) input, got shape %v", x.Shape)
	}
	if x.Dim(1) != m.cfg.InChannels {
		return nil, fmt.Errorf("nets: expected %d input channels, got %d", m.cfg.InChannels, x.Dim(1))
	}

	h, err := m.conv0.Forward(x, m.workers)
	if err != nil {
		return nil, err
	}
	if h, err = m.norm0.Forward(h); err != nil {
		return nil, err
	}
	reluInPlace(h)
	if h, err = m.pool0.Forward(h); err != nil {
		return nil, err
	}

	for b, block := range m.blocks {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("nets: forward canceled: %w", err)
		}
		for _, layer := range block {
			if h, err = layer.forward(h, m.workers); err != nil {
				return nil, fmt.Errorf("nets: denseblock%d: %w", b+1, err)
			}
		}
		if b < len(m.transitions) {
			if h, err = m.transitions[b].forward(h, m.workers); err != nil {
				return nil, fmt.Errorf("nets: transition%d: %w", b+1, err)
			}
		}
	}

	if h, err = m.norm5.Forward(h); err != nil {
		return nil, err
	}
	reluInPlace(h)
	if h, err = globalAvgPool(h); err != nil {
		return nil, err
	}
	return m.classifier.Forward(h)
}

// Parameters returns the named weight tensors.
//
// The returned tensors are the live network weights: loading a checkpoint
// copies into them in place.
func (m *DenseNet) Parameters() map[string]*tensor.Tensor {
	params := map[string]*tensor.Tensor{
		"features.conv0.weight": m.conv0.Weight,
		"classifier.weight":     m.classifier.Weight,
		"classifier.bias":       m.classifier.Bias,
	}
	addNorm := func(prefix string, bn *BatchNorm3D) {
		params[prefix+".weight"] = bn.Gamma
		params[prefix+".bias"] = bn.Beta
		params[prefix+".running_mean"] = bn.Mean
		params[prefix+".running_var"] = bn.Var
	}
	addNorm("features.norm0", m.norm0)
	for b, block := range m.blocks {
		for l, layer := range block {
			prefix := fmt.Sprintf("features.denseblock%d.denselayer%d", b+1, l+1)
			addNorm(prefix+".norm1", layer.norm1)
			params[prefix+".conv1.weight"] = layer.conv1.Weight
			addNorm(prefix+".norm2", layer.norm2)
			params[prefix+".conv2.weight"] = layer.conv2.Weight
		}
	}
	for i, tr := range m.transitions {
		prefix := fmt.Sprintf("features.transition%d", i+1)
		addNorm(prefix+".norm", tr.norm)
		params[prefix+".conv.weight"] = tr.conv.Weight
	}
	addNorm("features.norm5", m.norm5)
	return params
}

// InitRandom fills the weights with He-normal values from a seeded source.
//
// Used by checkpoint seeding; real runs load trained weights instead.
func (m *DenseNet) InitRandom(seed int64) {
	rng := rand.New(rand.NewSource(seed))
	initConv := func(c *Conv3D) {
		kaimingFill(c.Weight, c.InCh*c.Kernel*c.Kernel*c.Kernel, rng)
	}
	initConv(m.conv0)
	for _, block := range m.blocks {
		for _, layer := range block {
			initConv(layer.conv1)
			initConv(layer.conv2)
		}
	}
	for _, tr := range m.transitions {
		initConv(tr.conv)
	}
	kaimingFill(m.classifier.Weight, m.classifier.In, rng)
	// Norm layers stay at identity, classifier bias at zero.
}

// concatChannels joins two (N, C, D, H, W) tensors along the channel axis.
func concatChannels(a, b *tensor.Tensor) (*tensor.Tensor, error) {
	if a.Dims() != 5 || b.Dims() != 5 {
		return nil, fmt.Errorf("nets: concat expects 5D tensors, got %v and %v", a.Shape, b.Shape)
	}
	for _, i := range []int{0, 2, 3, 4} {
		if a.Dim(i) != b.Dim(i) {
			return nil, fmt.Errorf("nets: concat shape mismatch: %v vs %v", a.Shape, b.Shape)
		}
	}
	n, ca, cb := a.Dim(0), a.Dim(1), b.Dim(1)
	plane := a.Dim(2) * a.Dim(3) * a.Dim(4)
	out := tensor.New(n, ca+cb, a.Dim(2), a.Dim(3), a.Dim(4))
	for s := 0; s < n; s++ {
		copy(out.Data[s*(ca+cb)*plane:], a.Data[s*ca*plane:(s+1)*ca*plane])
		copy(out.Data[(s*(ca+cb)+ca)*plane:], b.Data[s*cb*plane:(s+1)*cb*plane])
	}
	return out, nil
}
