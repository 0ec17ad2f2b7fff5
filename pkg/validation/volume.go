// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that are used in
// file paths or subprocess calls. Using these validators prevents injection
// attacks (command injection, path traversal).
package validation

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateVolumePath validates a NIfTI volume path before it reaches the
// filesystem.
//
// Valid paths:
//   - Non-empty
//   - End in .nii or .nii.gz
//   - Contain no parent-directory traversal after cleaning
//
// Returns an error if the path is invalid.
//
// Example:
//
//	if err := validation.ValidateVolumePath(path); err != nil {
//	    return nil, fmt.Errorf("invalid volume: %w", err)
//	}
//	// Safe to open
func ValidateVolumePath(path string) error {
	if path == "" {
		return fmt.Errorf("volume path cannot be empty")
	}

	lower := strings.ToLower(path)
	if !strings.HasSuffix(lower, ".nii") && !strings.HasSuffix(lower, ".nii.gz") {
		return fmt.Errorf("invalid volume path %q: must end in .nii or .nii.gz", path)
	}

	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid volume path %q: escapes the working directory", path)
	}
	for _, part := range strings.Split(clean, string(filepath.Separator)) {
		if part == ".." {
			return fmt.Errorf("invalid volume path %q: contains parent traversal", path)
		}
	}

	return nil
}

// ValidateVolumePaths validates multiple volume paths.
// Returns an error listing all invalid paths if any fail validation.
func ValidateVolumePaths(paths []string) error {
	var invalid []string
	for _, p := range paths {
		if err := ValidateVolumePath(p); err != nil {
			invalid = append(invalid, p)
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid volume paths: %v", invalid)
	}
	return nil
}

// ValidateLabels checks every label lies in [0, numClasses).
//
// Use this when loading a dataset description so bad labels fail at
// config time rather than mid-run:
//
//	if err := validation.ValidateLabels(labels, cfg.NumClasses); err != nil {
//	    return err
//	}
func ValidateLabels(labels []int, numClasses int) error {
	if numClasses < 2 {
		return fmt.Errorf("numClasses must be at least 2, got %d", numClasses)
	}
	var invalid []int
	for _, l := range labels {
		if l < 0 || l >= numClasses {
			invalid = append(invalid, l)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("labels out of range [0,%d): %v", numClasses, invalid)
	}
	return nil
}
