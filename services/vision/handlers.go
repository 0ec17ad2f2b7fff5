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
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Handlers contains the HTTP handlers for the vision service.
type Handlers struct {
	svc *Service
}

// NewHandlers creates handlers for the given service.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// HandleClassify handles POST /v1/vision/classify.
//
// Description:
//
//	Classifies a NIfTI volume on the server's filesystem and returns
//	the predicted class with its probability.
//
// Request Body:
//
//	ClassifyRequest
//
// Response:
//
//	200 OK: ClassifyResponse
//	400 Bad Request: Validation error
//	404 Not Found: Volume file does not exist
//	503 Service Unavailable: Weights not loaded
//	500 Internal Server Error: Processing error
func (h *Handlers) HandleClassify(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClassify")

	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	logger.Info("Classifying volume", "path", req.Path)

	resp, err := h.svc.Classify(c.Request.Context(), req.Path)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "CLASSIFY_FAILED"

		if errors.Is(err, ErrModelNotLoaded) {
			statusCode = http.StatusServiceUnavailable
			errCode = "MODEL_NOT_LOADED"
		} else if errors.Is(err, ErrInvalidVolume) {
			statusCode = http.StatusBadRequest
			errCode = "INVALID_VOLUME"
		} else if errors.Is(err, os.ErrNotExist) {
			statusCode = http.StatusNotFound
			errCode = "VOLUME_NOT_FOUND"
		}

		logger.Error("Classification failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Volume classified",
		"filename", resp.Filename,
		"class", resp.Class,
		"probability", resp.Probability,
		"cached", resp.Cached)

	c.JSON(http.StatusOK, resp)
}

// HandleClassifyUpload handles POST /v1/vision/classify/upload.
//
// Description:
//
//	Accepts a NIfTI volume as a multipart upload (form field "volume"),
//	classifies it, and returns the predicted class with its probability.
//	The uploaded file is staged in a per-request temporary directory and
//	removed once the response is written.
//
// Response:
//
//	200 OK: ClassifyResponse
//	400 Bad Request: Missing or invalid upload
//	503 Service Unavailable: Weights not loaded
//	500 Internal Server Error: Processing error
func (h *Handlers) HandleClassifyUpload(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClassifyUpload")

	file, err := c.FormFile("volume")
	if err != nil {
		logger.Warn("Missing volume upload", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "Multipart field 'volume' is required",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	staging, err := os.MkdirTemp("", "vision-upload-")
	if err != nil {
		logger.Error("Failed to create staging directory", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to stage upload",
			Code:  "UPLOAD_FAILED",
		})
		return
	}
	defer os.RemoveAll(staging)

	// Keep the original base name so suffix validation and the response
	// filename reflect what the client sent.
	staged := filepath.Join(staging, filepath.Base(file.Filename))
	if err := c.SaveUploadedFile(file, staged); err != nil {
		logger.Error("Failed to save upload", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "Failed to stage upload",
			Code:  "UPLOAD_FAILED",
		})
		return
	}

	logger.Info("Classifying uploaded volume", "filename", file.Filename, "bytes", file.Size)

	resp, err := h.svc.Classify(c.Request.Context(), staged)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errCode := "CLASSIFY_FAILED"

		if errors.Is(err, ErrModelNotLoaded) {
			statusCode = http.StatusServiceUnavailable
			errCode = "MODEL_NOT_LOADED"
		} else if errors.Is(err, ErrInvalidVolume) {
			statusCode = http.StatusBadRequest
			errCode = "INVALID_VOLUME"
		}

		logger.Error("Classification failed", "error", err)
		c.JSON(statusCode, ErrorResponse{
			Error: err.Error(),
			Code:  errCode,
		})
		return
	}

	logger.Info("Uploaded volume classified",
		"filename", resp.Filename,
		"class", resp.Class,
		"probability", resp.Probability,
		"cached", resp.Cached)

	c.JSON(http.StatusOK, resp)
}

// HandleHealth handles GET /v1/vision/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	status := "ok"
	code := http.StatusOK
	if !h.svc.ModelLoaded() {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:      status,
		Version:     ServiceVersion,
		ModelLoaded: h.svc.ModelLoaded(),
	})
}

// getOrCreateRequestID gets or creates a request ID.
func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
