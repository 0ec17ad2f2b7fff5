// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.level.String(); got != tt.want {
			t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
		}
	}
}

// quietLogger builds a logger whose only destination is the buffer.
func quietLogger(cfg Config) (*Logger, *BufferedExporter) {
	exporter := NewBufferedExporter()
	cfg.Quiet = true
	cfg.Exporter = exporter
	return New(cfg), exporter
}

func TestExporterReceivesEntriesInOrder(t *testing.T) {
	logger, exporter := quietLogger(Config{Level: LevelInfo, Service: "vision"})
	defer logger.Close()

	logger.Info("evaluation pass started", "volumes", 10)
	logger.Info("iteration completed", "iteration", 1)
	logger.Error("volume unreadable", "path", "bad.nii")

	entries := exporter.Entries()
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	wantMessages := []string{"evaluation pass started", "iteration completed", "volume unreadable"}
	for i, want := range wantMessages {
		if entries[i].Message != want {
			t.Errorf("entry %d message = %q, want %q", i, entries[i].Message, want)
		}
	}
	if entries[0].Service != "vision" {
		t.Errorf("service = %q, want vision", entries[0].Service)
	}
	if entries[0].Attrs["volumes"] != 10 {
		t.Errorf("attrs[volumes] = %v, want 10", entries[0].Attrs["volumes"])
	}
	if entries[2].Level != LevelError {
		t.Errorf("entry 2 level = %v, want error", entries[2].Level)
	}
}

func TestLevelFiltersExport(t *testing.T) {
	logger, exporter := quietLogger(Config{Level: LevelWarn})
	defer logger.Close()

	logger.Debug("per-voxel trace")
	logger.Info("iteration completed")
	logger.Warn("slow volume decode")
	logger.Error("forward failed")

	entries := exporter.Entries()
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2 (warn and error)", len(entries))
	}
	if entries[0].Level != LevelWarn || entries[1].Level != LevelError {
		t.Errorf("levels = %v, %v", entries[0].Level, entries[1].Level)
	}
}

func TestFileLoggingWritesJSON(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "vision",
		Quiet:   true,
	})

	logger.Info("checkpoint restored", "tensors", 242)
	if err := logger.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	name := "vision_" + time.Now().Format("2006-01-02") + ".log"
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("log file missing: %v", err)
	}

	var rec map[string]any
	if err := json.Unmarshal(raw[:strings.IndexByte(string(raw), '\n')], &rec); err != nil {
		t.Fatalf("file log is not JSON: %v", err)
	}
	if rec["msg"] != "checkpoint restored" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if rec["service"] != "vision" {
		t.Errorf("service = %v", rec["service"])
	}
	if rec["tensors"] != float64(242) {
		t.Errorf("tensors = %v", rec["tensors"])
	}
}

func TestFileLoggingDefaultServiceName(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Quiet: true})
	logger.Info("started")
	logger.Close()

	files, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || !strings.HasPrefix(files[0].Name(), "vision_") {
		t.Errorf("expected one vision_*.log file, got %v", files)
	}
}

func TestWithAddsAttributes(t *testing.T) {
	dir := t.TempDir()
	logger := New(Config{LogDir: dir, Service: "vision", Quiet: true})
	child := logger.With("request_id", "r-1")

	child.Info("classified")
	logger.Info("plain")
	logger.Close()

	files, _ := os.ReadDir(dir)
	if len(files) != 1 {
		t.Fatalf("expected one log file, got %d", len(files))
	}
	raw, err := os.ReadFile(filepath.Join(dir, files[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "r-1") {
		t.Errorf("child line missing request_id: %s", lines[0])
	}
	if strings.Contains(lines[1], "r-1") {
		t.Errorf("parent line must not carry the child attribute: %s", lines[1])
	}
}

func TestCloseReportsExporterFailure(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: &failingExporter{}})
	if err := logger.Close(); err == nil {
		t.Fatal("Close() should surface the flush failure")
	}
}

func TestArgsToMap(t *testing.T) {
	tests := []struct {
		name string
		args []any
		want map[string]any
	}{
		{"pairs", []any{"a", 1, "b", "two"}, map[string]any{"a": 1, "b": "two"}},
		{"odd trailing key dropped", []any{"a", 1, "dangling"}, map[string]any{"a": 1}},
		{"non-string key skipped", []any{7, "x", "b", 2}, map[string]any{"b": 2}},
		{"empty", nil, map[string]any{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsToMap(tt.args)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	logger := Default()
	defer logger.Close()
	if logger.config.Service != "vision" {
		t.Errorf("Default service = %q, want vision", logger.config.Service)
	}
	if logger.config.Level != LevelInfo {
		t.Errorf("Default level = %v, want info", logger.config.Level)
	}
}

// failingExporter errors on flush to exercise Close's error path.
type failingExporter struct{}

func (e *failingExporter) Export(context.Context, LogEntry) error { return nil }
func (e *failingExporter) Flush(context.Context) error            { return errors.New("sink gone") }
func (e *failingExporter) Close() error                           { return nil }
