// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vision

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/AleutianVision/services/vision/telemetry"
)

// RegisterRoutes registers all vision routes with the router group.
//
// Description:
//
//	Registers all /v1/vision/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Endpoints:
//
//	POST /v1/vision/classify - Classify a NIfTI volume by server path
//	POST /v1/vision/classify/upload - Classify an uploaded NIfTI volume
//	GET  /v1/vision/health - Health check
//
// Example:
//
//	svc, _ := vision.NewService(vision.DefaultServiceConfig())
//	handlers := vision.NewHandlers(svc)
//
//	v1 := router.Group("/v1")
//	vision.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	v := rg.Group("/vision")
	{
		v.POST("/classify", handlers.HandleClassify)
		v.POST("/classify/upload", handlers.HandleClassifyUpload)
		v.GET("/health", handlers.HandleHealth)
	}
}

// NewRouter builds the service's full router, including the Prometheus
// /metrics endpoint when telemetry is initialized.
func NewRouter(handlers *Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if m := handlers.svc.Metrics(); m != nil {
		router.Use(requestMetrics(m))
	}

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	router.GET("/healthz", handlers.HandleHealth)
	if mh := telemetry.MetricsHandler(); mh != nil {
		router.GET("/metrics", gin.WrapH(mh))
	}
	return router
}

// requestMetrics records one request count and one duration sample per
// request, labelled by method, route, and status.
func requestMetrics(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			// Unmatched requests would explode label cardinality if
			// recorded by raw URL.
			route = "unmatched"
		}
		attrs := metric.WithAttributes(
			attribute.String("method", c.Request.Method),
			attribute.String("path", route),
			attribute.Int("status", c.Writer.Status()),
		)
		ctx := c.Request.Context()
		m.HTTPRequestsTotal.Add(ctx, 1, attrs)
		m.HTTPRequestDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}
