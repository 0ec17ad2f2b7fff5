// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package data assembles datasets and feeds them to the evaluator in
// batches.
//
// A dataset pairs an ordered file list with an ordered label list; pairing
// is strictly by position and fixed for the life of the dataset. Samples
// are decoded and transformed lazily, on access, by the loader's worker
// pool.
package data

import (
	"fmt"
	"path/filepath"

	"github.com/AleutianAI/AleutianVision/services/vision/nifti"
	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
	"github.com/AleutianAI/AleutianVision/services/vision/transforms"
)

// Meta identifies a sample independently of its voxel content. It rides
// alongside the batch so result writers can name outputs after their
// source file without the model ever seeing it.
type Meta struct {
	// Index is the sample's position in the dataset.
	Index int

	// Path is the full path the volume was read from.
	Path string

	// Filename is the base name, used to label saved predictions.
	Filename string

	// Shape is the original (pre-transform) grid shape.
	Shape [3]int
}

// Sample is one transformed image with its label and metadata.
type Sample struct {
	Image *tensor.Tensor
	Label int
	Meta  Meta
}

// Dataset is an ordered, random-access collection of samples.
type Dataset interface {
	Len() int
	Sample(i int) (Sample, error)
}

// NiftiDataset reads NIfTI volumes from a fixed file list.
type NiftiDataset struct {
	paths     []string
	labels    []int
	transform transforms.Transform
}

// NewNiftiDataset pairs paths with labels by position.
//
// The two lists must have equal length; transform may be nil for raw
// volumes.
func NewNiftiDataset(paths []string, labels []int, transform transforms.Transform) (*NiftiDataset, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("data: empty file list")
	}
	if len(paths) != len(labels) {
		return nil, fmt.Errorf("data: %d image files but %d labels", len(paths), len(labels))
	}
	return &NiftiDataset{
		paths:     append([]string(nil), paths...),
		labels:    append([]int(nil), labels...),
		transform: transform,
	}, nil
}

// Len returns the number of samples.
func (d *NiftiDataset) Len() int { return len(d.paths) }

// Path returns the file path of sample i.
func (d *NiftiDataset) Path(i int) string { return d.paths[i] }

// Label returns the label of sample i.
func (d *NiftiDataset) Label(i int) int { return d.labels[i] }

// Sample decodes, transforms, and returns sample i.
func (d *NiftiDataset) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(d.paths) {
		return Sample{}, fmt.Errorf("data: sample %d out of range [0,%d)", i, len(d.paths))
	}
	vol, err := nifti.Read(d.paths[i])
	if err != nil {
		return Sample{}, fmt.Errorf("data: sample %d: %w", i, err)
	}

	img, err := FromVolume(vol)
	if err != nil {
		return Sample{}, fmt.Errorf("data: sample %d: %w", i, err)
	}
	if d.transform != nil {
		if img, err = d.transform.Apply(img); err != nil {
			return Sample{}, fmt.Errorf("data: sample %d (%s): %w", i, d.paths[i], err)
		}
	}

	return Sample{
		Image: img,
		Label: d.labels[i],
		Meta: Meta{
			Index:    i,
			Path:     d.paths[i],
			Filename: filepath.Base(d.paths[i]),
			Shape:    vol.Shape(),
		},
	}, nil
}

// FromVolume wraps a decoded volume as a (D, H, W) tensor.
//
// The volume's x-fastest layout maps directly onto a row-major
// (z, y, x) tensor, so no copy happens.
func FromVolume(v *nifti.Volume) (*tensor.Tensor, error) {
	return tensor.FromData(v.Data, v.Dz, v.Dy, v.Dx)
}
