// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists named weight tensors to disk.
//
// A checkpoint holds one or more keyed state maps (the evaluation pipeline
// stores the network under the key "net"). On disk the format is a small
// magic prefix, a JSON header describing every tensor, and a raw
// little-endian float32 payload:
//
//	"AVCP" | uint32 header length | JSON header | payload
//
// The header carries a format version and the SHA-256 of the payload;
// loads verify both before any weight reaches a network. Saves go through
// a temp file and an atomic rename so a crashed save never leaves a
// half-written checkpoint behind.
package checkpoint

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/AleutianAI/AleutianVision/services/vision/tensor"
)

// Version is the current checkpoint format version (semver).
const Version = "1.0.0"

var magic = [4]byte{'A', 'V', 'C', 'P'}

// Entry locates one tensor inside the payload.
type Entry struct {
	Key    string `json:"key"`
	Name   string `json:"name"`
	Shape  []int  `json:"shape"`
	Offset int64  `json:"offset"` // element offset into the payload
	Count  int64  `json:"count"`  // element count
}

// Header is the JSON metadata block at the front of a checkpoint file.
type Header struct {
	Version       string  `json:"version"`
	CreatedAt     string  `json:"created_at"` // RFC 3339 UTC
	PayloadSHA256 string  `json:"payload_sha256"`
	Entries       []Entry `json:"entries"`
}

// Save writes the keyed state maps to path atomically.
//
// Entries are sorted by (key, name) so identical states produce
// byte-identical files.
func Save(path string, states map[string]map[string]*tensor.Tensor) error {
	if len(states) == 0 {
		return fmt.Errorf("checkpoint: nothing to save")
	}

	var entries []Entry
	var offset int64
	for _, key := range sortedKeys(states) {
		params := states[key]
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			t := params[name]
			n := int64(t.Numel())
			entries = append(entries, Entry{
				Key:    key,
				Name:   name,
				Shape:  append([]int(nil), t.Shape...),
				Offset: offset,
				Count:  n,
			})
			offset += n
		}
	}

	payload := make([]byte, 4*offset)
	for _, e := range entries {
		data := states[e.Key][e.Name].Data
		base := 4 * e.Offset
		for i, f := range data {
			binary.LittleEndian.PutUint32(payload[base+int64(4*i):], math.Float32bits(f))
		}
	}

	sum := sha256.Sum256(payload)
	hdr := Header{
		Version:       Version,
		CreatedAt:     time.Now().UTC().Format(time.RFC3339),
		PayloadSHA256: hex.EncodeToString(sum[:]),
		Entries:       entries,
	}
	hdrBytes, err := json.Marshal(hdr)
	if err != nil {
		return fmt.Errorf("checkpoint: encode header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("checkpoint: create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ckpt-*")
	if err != nil {
		return fmt.Errorf("checkpoint: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after successful rename

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(hdrBytes)))
	for _, chunk := range [][]byte{magic[:], lenBuf[:], hdrBytes, payload} {
		if _, err := tmp.Write(chunk); err != nil {
			tmp.Close()
			return fmt.Errorf("checkpoint: write %s: %w", tmpName, err)
		}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("checkpoint: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("checkpoint: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("checkpoint: rename into place: %w", err)
	}
	return nil
}

// File is a loaded, checksum-verified checkpoint.
type File struct {
	Header Header

	payload []byte
}

// Load reads and verifies the checkpoint at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	defer f.Close()

	var prefix [8]byte
	if _, err := io.ReadFull(f, prefix[:]); err != nil {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}
	if [4]byte(prefix[:4]) != magic {
		return nil, fmt.Errorf("checkpoint: %s is not a checkpoint file (bad magic)", path)
	}
	hdrLen := binary.LittleEndian.Uint32(prefix[4:])
	if hdrLen == 0 || hdrLen > 64<<20 {
		return nil, fmt.Errorf("checkpoint: %s: implausible header length %d", path, hdrLen)
	}

	hdrBytes := make([]byte, hdrLen)
	if _, err := io.ReadFull(f, hdrBytes); err != nil {
		return nil, fmt.Errorf("checkpoint: read header: %w", err)
	}
	var hdr Header
	if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
		return nil, fmt.Errorf("checkpoint: parse header: %w", err)
	}
	if hdr.Version != Version {
		return nil, fmt.Errorf("checkpoint: unsupported format version %q (want %q)", hdr.Version, Version)
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read payload: %w", err)
	}
	sum := sha256.Sum256(payload)
	if hex.EncodeToString(sum[:]) != hdr.PayloadSHA256 {
		return nil, fmt.Errorf("checkpoint: %s: payload checksum mismatch, file is corrupt", path)
	}

	return &File{Header: hdr, payload: payload}, nil
}

// Checksum returns the payload SHA-256, which identifies the weights.
func (f *File) Checksum() string { return f.Header.PayloadSHA256 }

// Keys returns the distinct state keys in the checkpoint, sorted.
func (f *File) Keys() []string {
	seen := map[string]bool{}
	for _, e := range f.Header.Entries {
		seen[e.Key] = true
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Restore copies the tensors stored under key into the live parameter map.
//
// Strict in both directions: every stored tensor must have a target with a
// matching shape, and every target must be present in the checkpoint.
func (f *File) Restore(key string, params map[string]*tensor.Tensor) error {
	stored := map[string]Entry{}
	for _, e := range f.Header.Entries {
		if e.Key == key {
			stored[e.Name] = e
		}
	}
	if len(stored) == 0 {
		return fmt.Errorf("checkpoint: no state under key %q (have %v)", key, f.Keys())
	}

	for name := range params {
		if _, ok := stored[name]; !ok {
			return fmt.Errorf("checkpoint: parameter %q missing from checkpoint key %q", name, key)
		}
	}
	for name, e := range stored {
		target, ok := params[name]
		if !ok {
			return fmt.Errorf("checkpoint: stored tensor %q has no target parameter", name)
		}
		if !shapeEqual(e.Shape, target.Shape) {
			return fmt.Errorf("checkpoint: shape mismatch for %q: checkpoint %v, network %v", name, e.Shape, target.Shape)
		}
		// The checksum only covers the payload, so a tampered header
		// can carry a count that disagrees with its own shape.
		if e.Count != int64(target.Numel()) {
			return fmt.Errorf("checkpoint: tensor %q count %d does not match shape %v", name, e.Count, e.Shape)
		}
		if e.Offset < 0 {
			return fmt.Errorf("checkpoint: tensor %q has negative offset %d", name, e.Offset)
		}
		base := 4 * e.Offset
		if base+4*e.Count > int64(len(f.payload)) {
			return fmt.Errorf("checkpoint: tensor %q extends past payload end", name)
		}
		for i := int64(0); i < e.Count; i++ {
			target.Data[i] = math.Float32frombits(binary.LittleEndian.Uint32(f.payload[base+4*i:]))
		}
	}
	return nil
}

func shapeEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]map[string]*tensor.Tensor) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
