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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianVision/pkg/ux"
)

// --- Global Command Variables ---
var (
	configPath       string
	deviceOverride   string
	outputOverride   string
	personalityLevel string // UX personality level (full/standard/minimal/machine)

	seedValue   int64
	seedClasses int

	rootCmd = &cobra.Command{
		Use:   "vision",
		Short: "A cli to classify 3D medical-image volumes",
		Long: `Vision runs DenseNet-121 classification over NIfTI volumes,
				either as a one-shot evaluation pass, an HTTP service,
				or a directory watcher for incoming scans.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Evaluation ---
	inferCmd = &cobra.Command{
		Use:   "infer",
		Short: "Run one evaluation pass over the configured dataset",
		RunE:  runInfer, // Defined in cmd_infer.go
	}

	// --- Service ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve classification over HTTP",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Watcher ---
	watchCmd = &cobra.Command{
		Use:   "watch [directory]",
		Short: "Classify NIfTI volumes as they arrive in a directory",
		Args:  cobra.ExactArgs(1),
		RunE:  runWatch, // Defined in cmd_watch.go
	}

	// --- Checkpoints ---
	checkpointCmd = &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and create weight checkpoints",
	}
	checkpointInspectCmd = &cobra.Command{
		Use:   "inspect [file]",
		Short: "Print a checkpoint's version, checksum, and contents",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpointInspect, // Defined in cmd_checkpoint.go
	}
	checkpointSeedCmd = &cobra.Command{
		Use:   "seed [file]",
		Short: "Write a randomly initialized DenseNet-121 checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE:  runCheckpointSeed, // Defined in cmd_checkpoint.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "vision.yaml",
		"Path to the run configuration file")
	rootCmd.PersistentFlags().StringVar(&deviceOverride, "device", "",
		"Override the configured compute device (e.g. 'cpu', 'cpu:4')")
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"UX personality level (full/standard/minimal/machine)")

	rootCmd.AddCommand(inferCmd)
	inferCmd.Flags().StringVarP(&outputOverride, "output", "o", "",
		"Directory for saved predictions (default: configured output, else a temp dir)")

	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(watchCmd)

	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointInspectCmd)
	checkpointCmd.AddCommand(checkpointSeedCmd)
	checkpointSeedCmd.Flags().Int64Var(&seedValue, "seed", 0, "RNG seed for weight initialization")
	checkpointSeedCmd.Flags().IntVar(&seedClasses, "classes", 2, "Number of output classes")
}
