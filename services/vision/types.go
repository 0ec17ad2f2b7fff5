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

// ClassifyRequest asks the service to classify one volume on disk.
type ClassifyRequest struct {
	// Path is the NIfTI file to classify. Must end in .nii or .nii.gz.
	Path string `json:"path" binding:"required"`
}

// ClassifyResponse is the result of classifying one volume.
type ClassifyResponse struct {
	// Filename is the base name of the classified volume.
	Filename string `json:"filename"`

	// Class is the predicted class index.
	Class int `json:"class"`

	// Probability is the softmax probability of Class.
	Probability float64 `json:"probability"`

	// Cached is true when the result came from the prediction cache.
	Cached bool `json:"cached"`

	// Checkpoint is the checksum of the weights that produced the result.
	Checkpoint string `json:"checkpoint"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ModelLoaded bool   `json:"model_loaded"`
}

// ErrorResponse is the standard error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
