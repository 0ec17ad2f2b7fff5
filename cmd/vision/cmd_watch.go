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
	"github.com/AleutianAI/AleutianVision/services/vision"
	"github.com/AleutianAI/AleutianVision/services/vision/device"
	"github.com/AleutianAI/AleutianVision/services/vision/storage/cache"
	"github.com/AleutianAI/AleutianVision/services/vision/watch"
)

// runWatch classifies volumes as they land in a drop directory.
func runWatch(cmd *cobra.Command, args []string) error {
	dir := args[0]
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", dir)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if deviceOverride != "" {
		cfg.Device = deviceOverride
	}

	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "vision"})
	defer logger.Close()

	dev, err := device.Resolve(cfg.Device)
	if err != nil {
		return err
	}

	svc, err := vision.NewService(vision.ServiceConfig{
		CheckpointPath: cfg.Model.Checkpoint,
		NumClasses:     cfg.Model.NumClasses,
		SpatialSize:    cfg.Model.SpatialSize,
		Workers:        dev.Workers,
	})
	if err != nil {
		return err
	}
	if err := svc.LoadCheckpoint(); err != nil {
		return err
	}

	if cfg.Cache.Enabled {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Path = cfg.Cache.Path
		c, err := cache.Open(cacheCfg)
		if err != nil {
			return err
		}
		defer c.Close()
		svc.WithCache(c)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := watch.NewVolumeWatcher(dir, func(path string) {
		resp, err := svc.Classify(ctx, path)
		if err != nil {
			logger.Error("classification failed", "path", path, "error", err)
			ux.Error(fmt.Sprintf("%s: %v", path, err))
			return
		}
		logger.Info("volume classified",
			"filename", resp.Filename,
			"class", resp.Class,
			"probability", resp.Probability,
			"cached", resp.Cached)
		ux.Success(fmt.Sprintf("%s -> class %d (p=%.4f)", resp.Filename, resp.Class, resp.Probability))
	}, nil)
	if err != nil {
		return err
	}
	defer watcher.Stop()

	if err := watcher.Start(ctx); err != nil {
		return err
	}
	ux.Info("Watching " + dir + " for NIfTI volumes (ctrl-c to stop)")

	<-ctx.Done()
	ux.Muted("Watcher stopped")
	return nil
}
