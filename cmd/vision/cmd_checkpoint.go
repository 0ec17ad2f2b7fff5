// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianVision/pkg/ux"
	"github.com/AleutianAI/AleutianVision/services/vision/checkpoint"
	"github.com/AleutianAI/AleutianVision/services/vision/nets"
	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// runCheckpointInspect prints a checkpoint's header and contents.
func runCheckpointInspect(cmd *cobra.Command, args []string) error {
	f, err := checkpoint.Load(args[0])
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Version:  %s\n", f.Header.Version)
	fmt.Fprintf(&b, "Created:  %s\n", f.Header.CreatedAt)
	fmt.Fprintf(&b, "Checksum: %s\n", f.Checksum())
	for _, key := range f.Keys() {
		tensors := 0
		var count int64
		for _, e := range f.Header.Entries {
			if e.Key == key {
				tensors++
				count += e.Count
			}
		}
		fmt.Fprintf(&b, "Key %q: %d tensors, %d values\n", key, tensors, count)
	}
	ux.Box("Checkpoint "+args[0], b.String())
	return nil
}

// runCheckpointSeed writes a randomly initialized DenseNet-121
// checkpoint, mainly for demos and tests.
func runCheckpointSeed(cmd *cobra.Command, args []string) error {
	net, err := nets.DenseNet121(1, seedClasses)
	if err != nil {
		return err
	}
	net.InitRandom(seedValue)

	err = ux.WithSpinner("Writing checkpoint", func() error {
		return checkpoint.Save(args[0], map[string]map[string]*tensor.Tensor{
			"net": net.Parameters(),
		})
	})
	if err != nil {
		return err
	}
	ux.Success("Wrote " + args[0])
	return nil
}
