// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"errors"
	"strings"
	"testing"
)

func TestSpinnerMachineModePrintsOnce(t *testing.T) {
	out, _ := captured(t, PersonalityMachine)

	s := NewSpinner("restoring weights")
	s.Start()
	s.Start() // second start is a no-op
	s.Stop()

	if got := strings.Count(out.String(), "PROGRESS: restoring weights"); got != 1 {
		t.Errorf("progress line printed %d times, want 1:\n%s", got, out.String())
	}
}

func TestSpinnerStopWithoutStart(t *testing.T) {
	captured(t, PersonalityMachine)
	NewSpinner("idle").Stop() // must not panic or block
}

func TestSpinnerFullModeStops(t *testing.T) {
	captured(t, PersonalityFull)

	s := NewSpinner("working")
	s.Start()
	s.Stop() // blocks until the animation goroutine exits
	s.Stop() // idempotent
}

func TestWithSpinnerSuccess(t *testing.T) {
	out, _ := captured(t, PersonalityMachine)

	called := false
	err := WithSpinner("seeding checkpoint", func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithSpinner() error = %v", err)
	}
	if !called {
		t.Fatal("fn was not called")
	}
	if !strings.Contains(out.String(), "OK: seeding checkpoint") {
		t.Errorf("missing success line:\n%s", out.String())
	}
}

func TestWithSpinnerError(t *testing.T) {
	_, errOut := captured(t, PersonalityMachine)

	want := errors.New("disk full")
	err := WithSpinner("writing checkpoint", func() error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("WithSpinner() error = %v, want %v", err, want)
	}
	if !strings.Contains(errOut.String(), "writing checkpoint: disk full") {
		t.Errorf("missing error line:\n%s", errOut.String())
	}
}
