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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianVision/cmd/vision/config"
	"github.com/AleutianAI/AleutianVision/pkg/logging"
	"github.com/AleutianAI/AleutianVision/pkg/ux"
	"github.com/AleutianAI/AleutianVision/pkg/validation"
	"github.com/AleutianAI/AleutianVision/services/vision/data"
	"github.com/AleutianAI/AleutianVision/services/vision/device"
	"github.com/AleutianAI/AleutianVision/services/vision/engine"
	"github.com/AleutianAI/AleutianVision/services/vision/handlers"
	"github.com/AleutianAI/AleutianVision/services/vision/metric"
	"github.com/AleutianAI/AleutianVision/services/vision/nets"
	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
	"github.com/AleutianAI/AleutianVision/services/vision/transforms"
)

// runInfer executes one evaluation pass: restore weights, stream the
// configured volumes through the network, log statistics, and save
// per-volume predictions.
func runInfer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if deviceOverride != "" {
		cfg.Device = deviceOverride
	}
	if outputOverride != "" {
		cfg.Output = outputOverride
	}

	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "vision"})
	defer logger.Close()

	// Device resolution happens before any data is touched so an
	// unavailable accelerator fails the run immediately.
	dev, err := device.Resolve(cfg.Device)
	if err != nil {
		ux.Error(err.Error())
		return err
	}
	logger.Info("device resolved", "device", dev.String())

	if err := validation.ValidateVolumePaths(cfg.Data.Images); err != nil {
		return err
	}
	if err := validation.ValidateLabels(cfg.Data.Labels, cfg.Model.NumClasses); err != nil {
		return err
	}

	net, err := nets.DenseNet121(1, cfg.Model.NumClasses)
	if err != nil {
		return err
	}
	net.SetWorkers(dev.Workers)

	chain := transforms.Compose{
		transforms.ScaleIntensity{},
		transforms.AddChannel{},
		transforms.Resize{
			D: cfg.Model.SpatialSize,
			H: cfg.Model.SpatialSize,
			W: cfg.Model.SpatialSize,
		},
	}
	ds, err := data.NewNiftiDataset(cfg.Data.Images, cfg.Data.Labels, chain)
	if err != nil {
		return err
	}
	loader, err := data.NewLoader(ds, data.LoaderConfig{
		BatchSize: cfg.Loader.BatchSize,
		Workers:   cfg.Loader.Workers,
	})
	if err != nil {
		return err
	}

	outputDir, err := cfg.ResolveOutput()
	if err != nil {
		return err
	}

	eval, err := engine.NewEvaluator(net, engine.WithMetric("accuracy", metric.NewAccuracy()))
	if err != nil {
		return err
	}

	stats, err := handlers.NewStatsHandler(logger)
	if err != nil {
		return err
	}
	stats.Attach(eval)

	saver, err := handlers.NewClassificationSaver(outputDir)
	if err != nil {
		return err
	}
	saver.Attach(eval)

	ckpt, err := handlers.NewCheckpointLoader(cfg.Model.Checkpoint, map[string]map[string]*tensor.Tensor{
		"net": net.Parameters(),
	})
	if err != nil {
		return err
	}
	ckpt.Attach(eval)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ux.Info(fmt.Sprintf("Evaluating %d volumes (batch size %d, %d loader workers, %s)",
		ds.Len(), loader.BatchSize(), cfg.Loader.Workers, dev.String()))

	if err := eval.Run(ctx, loader); err != nil {
		ux.Error("Evaluation failed: " + err.Error())
		return err
	}

	ux.Success(fmt.Sprintf("Accuracy %.4f over %d volumes", eval.State.Metrics["accuracy"], ds.Len()))
	ux.Info("Predictions saved to " + saver.Path())
	return nil
}
