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
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianVision/cmd/vision/config"
	"github.com/AleutianAI/AleutianVision/pkg/logging"
	"github.com/AleutianAI/AleutianVision/pkg/ux"
	"github.com/AleutianAI/AleutianVision/services/vision"
	"github.com/AleutianAI/AleutianVision/services/vision/device"
	"github.com/AleutianAI/AleutianVision/services/vision/storage/cache"
	"github.com/AleutianAI/AleutianVision/services/vision/telemetry"
)

// runServe starts the HTTP classification service.
func runServe(cmd *cobra.Command, args []string) error {
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

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telCfg := telemetry.DefaultConfig()
	if cfg.Telemetry.MetricExporter != "" {
		telCfg.MetricExporter = cfg.Telemetry.MetricExporter
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())

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
	logger.Info("checkpoint restored",
		"path", cfg.Model.Checkpoint,
		"checksum", svc.Checksum())

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

	m, err := telemetry.NewMetrics(otel.Meter("vision"))
	if err != nil {
		return err
	}
	svc.WithMetrics(m)

	router := vision.NewRouter(vision.NewHandlers(svc))
	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ux.Info("Serving on " + cfg.Server.Listen)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped", "error", err)
		return err
	}
	ux.Success("Server stopped cleanly")
	return nil
}
