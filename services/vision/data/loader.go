// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package data

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// Batch is a group of stacked samples plus the metadata that travels
// beside them.
type Batch struct {
	// Images is the stacked (N, C, D, H, W) tensor.
	Images *tensor.Tensor

	// Labels holds one label per sample, aligned with Images.
	Labels []int

	// Metas holds one Meta per sample, aligned with Images. Never passed
	// to the model.
	Metas []Meta
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Labels) }

// LoaderConfig tunes the parallel loader.
type LoaderConfig struct {
	// BatchSize is the number of samples per batch; the final batch may
	// be smaller. Default 1.
	BatchSize int

	// Workers is the number of goroutines decoding samples ahead of
	// consumption. Default 1.
	Workers int

	// Prefetch is the number of assembled batches buffered ahead of the
	// consumer. Default 1.
	Prefetch int
}

func (c LoaderConfig) withDefaults() LoaderConfig {
	if c.BatchSize < 1 {
		c.BatchSize = 1
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Prefetch < 1 {
		c.Prefetch = 1
	}
	return c
}

// Loader produces batches from a dataset using a fixed worker pool.
//
// Samples are decoded concurrently but batches always come out in dataset
// order, so run results are position-stable regardless of worker count.
type Loader struct {
	ds  Dataset
	cfg LoaderConfig
}

// NewLoader wraps a dataset.
func NewLoader(ds Dataset, cfg LoaderConfig) (*Loader, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("data: loader needs a non-empty dataset")
	}
	return &Loader{ds: ds, cfg: cfg.withDefaults()}, nil
}

// BatchSize returns the configured batch size.
func (l *Loader) BatchSize() int { return l.cfg.BatchSize }

// NumBatches returns how many batches one pass produces.
func (l *Loader) NumBatches() int {
	return (l.ds.Len() + l.cfg.BatchSize - 1) / l.cfg.BatchSize
}

// Run starts one pass over the dataset.
//
// The batch channel closes when the pass completes or fails; on failure
// exactly one error is delivered on the error channel after the batch
// channel closes. The first failing sample aborts the pass.
func (l *Loader) Run(ctx context.Context) (<-chan Batch, <-chan error) {
	batches := make(chan Batch, l.cfg.Prefetch)
	errc := make(chan error, 1)

	go func() {
		defer close(errc)
		defer close(batches)

		n := l.ds.Len()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)

		type indexed struct {
			i int
			s Sample
		}
		idxc := make(chan int)
		resc := make(chan indexed, l.cfg.Workers)

		g.Go(func() error {
			defer close(idxc)
			for i := 0; i < n; i++ {
				select {
				case idxc <- i:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})

		var workers sync.WaitGroup
		for w := 0; w < l.cfg.Workers; w++ {
			workers.Add(1)
			g.Go(func() error {
				defer workers.Done()
				for i := range idxc {
					s, err := l.ds.Sample(i)
					if err != nil {
						return err
					}
					select {
					case resc <- indexed{i: i, s: s}:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}
		go func() {
			workers.Wait()
			close(resc)
		}()

		// Reassemble dataset order from out-of-order worker results and
		// cut batches.
		pending := make(map[int]Sample, l.cfg.Workers)
		next := 0
		var current []Sample
		var passErr error
		flush := func() bool {
			b, err := stack(current)
			if err != nil {
				// Shape mismatches surface here; fail the pass.
				passErr = err
				return false
			}
			current = current[:0]
			select {
			case batches <- b:
				return true
			case <-gctx.Done():
				return false
			}
		}

	collect:
		for res := range resc {
			pending[res.i] = res.s
			for {
				s, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				next++
				current = append(current, s)
				if len(current) == l.cfg.BatchSize {
					if !flush() {
						break collect
					}
				}
			}
		}
		if passErr == nil && len(current) > 0 && next == n {
			flush()
		}

		// Unblock any worker still sending, then drain resc so the
		// closer goroutine can finish. Without this a mid-pass stack
		// failure leaves workers parked on resc and g.Wait never
		// returns.
		cancel()
		for range resc {
		}

		if err := g.Wait(); err != nil && passErr == nil {
			passErr = err
		}
		if passErr != nil {
			errc <- passErr
		}
	}()

	return batches, errc
}

// stack joins equally shaped sample images into one (N, ...) tensor.
func stack(samples []Sample) (Batch, error) {
	if len(samples) == 0 {
		return Batch{}, fmt.Errorf("data: cannot stack an empty batch")
	}
	first := samples[0].Image
	shape := append([]int{len(samples)}, first.Shape...)
	images := tensor.New(shape...)
	labels := make([]int, len(samples))
	metas := make([]Meta, len(samples))
	stride := first.Numel()

	for i, s := range samples {
		if !s.Image.SameShape(first) {
			return Batch{}, fmt.Errorf("data: sample %d shape %v does not match batch shape %v",
				s.Meta.Index, s.Image.Shape, first.Shape)
		}
		copy(images.Data[i*stride:], s.Image.Data)
		labels[i] = s.Label
		metas[i] = s.Meta
	}
	return Batch{Images: images, Labels: labels, Metas: metas}, nil
}
