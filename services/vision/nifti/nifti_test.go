// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package nifti

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func synthVolume(dx, dy, dz int) *Volume {
	v := &Volume{
		Data:   make([]float32, dx*dy*dz),
		Dx:     dx,
		Dy:     dy,
		Dz:     dz,
		PixDim: [3]float32{1, 1, 1},
	}
	for i := range v.Data {
		v.Data[i] = float32(i % 97)
	}
	return v
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		file string
	}{
		{"plain", "vol.nii"},
		{"gzipped", "vol.nii.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			want := synthVolume(5, 6, 7)
			require.NoError(t, Write(path, want))

			got, err := Read(path)
			require.NoError(t, err)

			assert.Equal(t, [3]int{5, 6, 7}, got.Shape())
			assert.Equal(t, want.Data, got.Data)
			assert.Equal(t, path, got.Path)
		})
	}
}

func TestReadHonorsScaling(t *testing.T) {
	// Write a volume, then patch scl_slope/scl_inter in the raw header
	// (offsets 112 and 116) and verify voxels come back rescaled.
	dir := t.TempDir()
	path := filepath.Join(dir, "scaled.nii")
	v := synthVolume(4, 4, 4)
	require.NoError(t, Write(path, v))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	// slope = 2.0, inter = 1.0, little-endian float32
	copy(raw[112:116], []byte{0x00, 0x00, 0x00, 0x40})
	copy(raw[116:120], []byte{0x00, 0x00, 0x80, 0x3f})
	require.NoError(t, os.WriteFile(path, raw, 0640))

	got, err := Read(path)
	require.NoError(t, err)
	for i := range v.Data {
		assert.InDelta(t, v.Data[i]*2+1, got.Data[i], 1e-5)
	}
}

func TestReadAt(t *testing.T) {
	v := synthVolume(3, 4, 5)
	// x fastest: index (x=2, y=1, z=3) = (3*4+1)*3+2
	assert.Equal(t, v.Data[(3*4+1)*3+2], v.At(2, 1, 3))
}

func TestReadRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "garbage.nii")
	require.NoError(t, os.WriteFile(path, []byte("this is not a nifti file at all, not even close to 348 bytes"), 0640))

	_, err := Read(path)
	assert.Error(t, err)
}

func TestReadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "badmagic.nii")
	v := synthVolume(2, 2, 2)
	require.NoError(t, Write(path, v))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	copy(raw[344:348], []byte{'x', 'x', 'x', 0})
	require.NoError(t, os.WriteFile(path, raw, 0640))

	_, err = Read(path)
	assert.ErrorContains(t, err, "magic")
}

func TestReadRejectsMissingFile(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "nope.nii.gz"))
	assert.Error(t, err)
}

func TestWriteRejectsShapeMismatch(t *testing.T) {
	v := &Volume{Data: make([]float32, 7), Dx: 2, Dy: 2, Dz: 2}
	assert.Error(t, Write(filepath.Join(t.TempDir(), "bad.nii"), v))
}

func TestWriteReportsFailedWrite(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("needs /dev/full")
	}
	// Every byte written to /dev/full fails with ENOSPC; the error must
	// surface instead of a silently truncated file.
	assert.Error(t, Write("/dev/full", synthVolume(2, 2, 2)))
}
