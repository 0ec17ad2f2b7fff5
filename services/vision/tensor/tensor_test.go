// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tensor

import (
	"math"
	"testing"
)

func TestNewAndNumel(t *testing.T) {
	tn := New(2, 3, 4)
	if got := tn.Numel(); got != 24 {
		t.Fatalf("Numel() = %d, want 24", got)
	}
	if len(tn.Data) != 24 {
		t.Fatalf("len(Data) = %d, want 24", len(tn.Data))
	}
	for i, v := range tn.Data {
		if v != 0 {
			t.Fatalf("Data[%d] = %v, want 0", i, v)
		}
	}
}

func TestFromData(t *testing.T) {
	tests := []struct {
		name    string
		data    []float32
		shape   []int
		wantErr bool
	}{
		{"matching", []float32{1, 2, 3, 4, 5, 6}, []int{2, 3}, false},
		{"too short", []float32{1, 2, 3}, []int{2, 3}, true},
		{"too long", []float32{1, 2, 3, 4, 5, 6, 7}, []int{2, 3}, true},
		{"zero dim", []float32{}, []int{0, 3}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromData(tt.data, tt.shape...)
			if (err != nil) != tt.wantErr {
				t.Errorf("FromData() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReshapeSharesData(t *testing.T) {
	tn, err := FromData([]float32{1, 2, 3, 4}, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	flat, err := tn.Reshape(4)
	if err != nil {
		t.Fatal(err)
	}
	flat.Data[0] = 9
	if tn.Data[0] != 9 {
		t.Error("Reshape should share backing data")
	}
	if _, err := tn.Reshape(3); err == nil {
		t.Error("Reshape to mismatched element count should fail")
	}
}

func TestMinMax(t *testing.T) {
	tn, _ := FromData([]float32{3, -1, 7, 0.5}, 4)
	mn, mx := tn.MinMax()
	if mn != -1 || mx != 7 {
		t.Errorf("MinMax() = (%v, %v), want (-1, 7)", mn, mx)
	}
}

func TestArgmax(t *testing.T) {
	logits, _ := FromData([]float32{
		0.1, 0.9,
		2.0, -1.0,
		0.5, 0.5, // tie resolves low
	}, 3, 2)
	got, err := logits.Argmax()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{1, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Argmax()[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestArgmaxRequires2D(t *testing.T) {
	tn := New(4)
	if _, err := tn.Argmax(); err == nil {
		t.Error("Argmax on 1D tensor should fail")
	}
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float32{1, 2, 3})
	var sum float64
	for _, p := range probs {
		if p <= 0 || p >= 1 {
			t.Errorf("probability %v out of (0,1)", p)
		}
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
	if !(probs[2] > probs[1] && probs[1] > probs[0]) {
		t.Errorf("softmax not monotone: %v", probs)
	}
}

func TestSoftmaxLargeLogitsStable(t *testing.T) {
	probs := Softmax([]float32{1000, 1001})
	for _, p := range probs {
		if math.IsNaN(float64(p)) || math.IsInf(float64(p), 0) {
			t.Fatalf("softmax overflow: %v", probs)
		}
	}
	if probs[1] <= probs[0] {
		t.Errorf("expected probs[1] > probs[0], got %v", probs)
	}
}
