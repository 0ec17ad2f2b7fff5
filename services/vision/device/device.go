// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package device resolves compute device selectors before a run starts.
//
// Only CPU execution is available; accelerator selectors fail at resolve
// time so a misconfigured run dies before any volume is decoded rather
// than partway through a pass.
package device

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// Device is a resolved compute target.
type Device struct {
	// Kind is always "cpu" for a successfully resolved device.
	Kind string

	// Workers is the compute parallelism the device grants, at least 1.
	Workers int
}

// String returns the selector form of the device.
func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Kind, d.Workers)
}

// Resolve parses a device selector of the form "cpu" or "cpu:N".
//
// N caps compute workers; when omitted it defaults to the machine's
// logical CPU count. Any non-CPU selector (cuda, mps, rocm, ...) is an
// immediate error: there is no silent fallback.
func Resolve(selector string) (Device, error) {
	sel := strings.ToLower(strings.TrimSpace(selector))
	if sel == "" {
		sel = "cpu"
	}

	kind, arg, hasArg := strings.Cut(sel, ":")
	if kind != "cpu" {
		return Device{}, fmt.Errorf("device: %q is not available on this build (only cpu execution is supported)", selector)
	}

	workers := runtime.NumCPU()
	if hasArg {
		n, err := strconv.Atoi(arg)
		if err != nil || n < 1 {
			return Device{}, fmt.Errorf("device: invalid worker count in selector %q", selector)
		}
		workers = n
	}
	return Device{Kind: "cpu", Workers: workers}, nil
}
