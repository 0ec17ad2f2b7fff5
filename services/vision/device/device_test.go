// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package device

import "testing"

func TestResolve(t *testing.T) {
	tests := []struct {
		selector string
		wantErr  bool
		workers  int // 0 means "machine default, just check >= 1"
	}{
		{selector: "cpu"},
		{selector: ""},
		{selector: "  CPU  "},
		{selector: "cpu:4", workers: 4},
		{selector: "cpu:1", workers: 1},
		{selector: "cpu:0", wantErr: true},
		{selector: "cpu:banana", wantErr: true},
		{selector: "cuda", wantErr: true},
		{selector: "cuda:0", wantErr: true},
		{selector: "mps", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.selector, func(t *testing.T) {
			d, err := Resolve(tt.selector)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Resolve(%q) succeeded, want error", tt.selector)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.selector, err)
			}
			if d.Kind != "cpu" {
				t.Fatalf("expected cpu device, got %q", d.Kind)
			}
			if tt.workers != 0 && d.Workers != tt.workers {
				t.Fatalf("expected %d workers, got %d", tt.workers, d.Workers)
			}
			if d.Workers < 1 {
				t.Fatalf("worker count must be at least 1, got %d", d.Workers)
			}
		})
	}
}
