// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package watch notices NIfTI volumes arriving in a directory.
//
// Scanners drop files into a drop directory; the watcher debounces write
// events so a volume is only handed over once its writer has gone quiet,
// not on every partial flush.
package watch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// VolumeHandler is called once per settled volume file.
type VolumeHandler func(path string)

// Options configures the VolumeWatcher.
type Options struct {
	// SettleWindow is how long a file must go without writes before it
	// is considered complete.
	// Default: 500ms
	SettleWindow time.Duration

	// BufferSize is the size of the event buffer channel.
	// Default: 256
	BufferSize int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		SettleWindow: 500 * time.Millisecond,
		BufferSize:   256,
	}
}

// VolumeWatcher watches one directory for new NIfTI volumes.
//
// # Thread Safety
//
// Safe for concurrent use. The handler is called from a single
// goroutine, one settled file at a time.
type VolumeWatcher struct {
	dir     string
	watcher *fsnotify.Watcher
	handler VolumeHandler
	settle  time.Duration

	events   chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.RWMutex
	watching bool
}

// NewVolumeWatcher creates a watcher for the given directory.
//
// The handler fires once per volume after its last write settles. Only
// files ending in .nii or .nii.gz are reported.
func NewVolumeWatcher(dir string, handler VolumeHandler, opts *Options) (*VolumeWatcher, error) {
	if opts == nil {
		defaults := DefaultOptions()
		opts = &defaults
	}
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = DefaultOptions().SettleWindow
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultOptions().BufferSize
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &VolumeWatcher{
		dir:     dir,
		watcher: watcher,
		handler: handler,
		settle:  opts.SettleWindow,
		events:  make(chan string, opts.BufferSize),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching. Returns once the directory is registered; the
// handler fires from background goroutines until Stop or ctx ends.
func (w *VolumeWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.processEvents(ctx)
	go w.settleLoop(ctx)
	return nil
}

// Stop stops the watcher.
func (w *VolumeWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()

		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

// IsWatching returns true if the watcher is currently active.
func (w *VolumeWatcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watching
}

func isVolume(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".nii") || strings.HasSuffix(lower, ".nii.gz")
}

func (w *VolumeWatcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isVolume(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			select {
			case w.events <- ev.Name:
			default:
				// Buffer full; the settle pass will still see the file
				// on its next write event.
			}
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// settleLoop tracks the last write time per file and fires the handler
// once a file has been quiet for the settle window.
func (w *VolumeWatcher) settleLoop(ctx context.Context) {
	lastWrite := make(map[string]time.Time)
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.events:
			lastWrite[path] = time.Now()
		case now := <-ticker.C:
			for path, t := range lastWrite {
				if now.Sub(t) >= w.settle {
					delete(lastWrite, path)
					w.handler(path)
				}
			}
		}
	}
}
