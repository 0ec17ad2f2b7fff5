// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"

	"github.com/AleutianAI/AleutianVision/services/vision/checkpoint"
	"github.com/AleutianAI/AleutianVision/services/vision/engine"
	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// CheckpointLoader restores saved weights into live parameter maps when
// a run starts.
//
// It attaches at Started so a missing or corrupt checkpoint fails the
// run before any volume is read. Every named object must be present in
// the file, and every tensor must match strictly in both directions.
type CheckpointLoader struct {
	path    string
	objects map[string]map[string]*tensor.Tensor

	// Checksum holds the payload checksum of the loaded file, set after
	// a successful restore.
	Checksum string
}

// NewCheckpointLoader restores each object's parameters from its key in
// the checkpoint at path. A model registered under "net" is restored
// from the file's "net" entry set.
func NewCheckpointLoader(path string, objects map[string]map[string]*tensor.Tensor) (*CheckpointLoader, error) {
	if path == "" {
		return nil, fmt.Errorf("handlers: checkpoint loader needs a path")
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("handlers: checkpoint loader needs at least one object to restore")
	}
	return &CheckpointLoader{path: path, objects: objects}, nil
}

// Attach registers the loader on an engine.
func (c *CheckpointLoader) Attach(e *engine.Engine) {
	e.AddEventHandler(engine.Started, func(*engine.Engine) error {
		return c.Load()
	})
}

// Load restores all registered objects from the checkpoint file.
func (c *CheckpointLoader) Load() error {
	f, err := checkpoint.Load(c.path)
	if err != nil {
		return fmt.Errorf("handlers: loading checkpoint %s: %w", c.path, err)
	}
	for key, params := range c.objects {
		if err := f.Restore(key, params); err != nil {
			return fmt.Errorf("handlers: restoring %q from %s: %w", key, c.path, err)
		}
	}
	c.Checksum = f.Checksum()
	return nil
}
