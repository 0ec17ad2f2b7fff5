// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package nifti reads and writes NIfTI-1 volumes (.nii, .nii.gz).
//
// Only the single-file variant (magic "n+1") and the header/data pair magic
// ("ni1") are recognized, and only 3D scalar volumes are supported: callers
// get a flat float32 array in x-fastest order plus the grid shape. Integer
// datatypes are converted to float32 on read, honoring scl_slope/scl_inter.
//
// The writer always emits float32 single-file volumes. It exists for
// checkpoint seeding and tests; clinical data arrives from scanners, not
// from this package.
package nifti

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// NIfTI-1 datatype codes (subset supported by this reader).
const (
	DTUint8   int16 = 2
	DTInt16   int16 = 4
	DTInt32   int16 = 8
	DTFloat32 int16 = 16
	DTFloat64 int16 = 64
	DTInt8    int16 = 256
	DTUint16  int16 = 512
)

const headerSize = 348

// header mirrors the on-disk nifti_1_header layout, 348 bytes exactly.
type header struct {
	SizeofHdr     int32
	DataTypeName  [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XyztUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// Volume is a decoded 3D scalar image.
type Volume struct {
	// Data holds Dx*Dy*Dz voxels, x varying fastest.
	Data []float32

	// Dx, Dy, Dz are the grid dimensions.
	Dx, Dy, Dz int

	// PixDim is the voxel spacing in millimeters, when the file provides it.
	PixDim [3]float32

	// Path is the file the volume was read from, empty for synthetic volumes.
	Path string
}

// Shape returns the grid dimensions as a slice, outermost-last order
// preserved as (x, y, z).
func (v *Volume) Shape() [3]int { return [3]int{v.Dx, v.Dy, v.Dz} }

// At returns the voxel at (x, y, z).
func (v *Volume) At(x, y, z int) float32 {
	return v.Data[(z*v.Dy+y)*v.Dx+x]
}

// Read loads a NIfTI-1 volume from path.
//
// Gzip compression is detected from the stream contents, not the file
// extension, so a mis-named .nii that is actually gzipped still reads.
func Read(path string) (*Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nifti: open %s: %w", path, err)
	}
	defer f.Close()

	r, err := maybeGzip(f)
	if err != nil {
		return nil, fmt.Errorf("nifti: %s: %w", path, err)
	}
	v, err := decode(r)
	if err != nil {
		return nil, fmt.Errorf("nifti: %s: %w", path, err)
	}
	v.Path = path
	return v, nil
}

// maybeGzip wraps r in a gzip reader when the stream starts with the gzip
// magic bytes.
func maybeGzip(r io.Reader) (io.Reader, error) {
	br := make([]byte, 2)
	if _, err := io.ReadFull(r, br); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	rest := io.MultiReader(bytes.NewReader(br), r)
	if br[0] == 0x1f && br[1] == 0x8b {
		gz, err := gzip.NewReader(rest)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return gz, nil
	}
	return rest, nil
}

func decode(r io.Reader) (*Volume, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	// sizeof_hdr doubles as the byte-order check.
	var order binary.ByteOrder = binary.LittleEndian
	if binary.LittleEndian.Uint32(raw[:4]) != headerSize {
		if binary.BigEndian.Uint32(raw[:4]) != headerSize {
			return nil, fmt.Errorf("bad sizeof_hdr %d, not a NIfTI-1 file", binary.LittleEndian.Uint32(raw[:4]))
		}
		order = binary.BigEndian
	}

	var hdr header
	if err := binary.Read(bytes.NewReader(raw), order, &hdr); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	magic := string(hdr.Magic[:3])
	if magic != "n+1" && magic != "ni1" {
		return nil, fmt.Errorf("bad magic %q", magic)
	}
	if magic == "ni1" {
		return nil, fmt.Errorf("two-file NIfTI pairs (.hdr/.img) are not supported")
	}

	ndim := int(hdr.Dim[0])
	if ndim < 3 || ndim > 7 {
		return nil, fmt.Errorf("unsupported dim[0]=%d", ndim)
	}
	dx, dy, dz := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	if dx <= 0 || dy <= 0 || dz <= 0 {
		return nil, fmt.Errorf("invalid dimensions %dx%dx%d", dx, dy, dz)
	}
	// Trailing singleton dimensions (time, vectors) are tolerated; true 4D+
	// data is not.
	for i := 4; i <= ndim; i++ {
		if hdr.Dim[i] > 1 {
			return nil, fmt.Errorf("volume has %d frames in dim[%d], only 3D volumes are supported", hdr.Dim[i], i)
		}
	}

	// Skip any header extensions between the header and the voxel data.
	if skip := int64(hdr.VoxOffset) - headerSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, fmt.Errorf("skip to voxel data: %w", err)
		}
	}

	n := dx * dy * dz
	data, err := readVoxels(r, order, hdr.Datatype, n)
	if err != nil {
		return nil, err
	}

	// scl_slope == 0 means "no scaling" per the standard.
	if hdr.SclSlope != 0 && (hdr.SclSlope != 1 || hdr.SclInter != 0) {
		for i := range data {
			data[i] = data[i]*hdr.SclSlope + hdr.SclInter
		}
	}

	return &Volume{
		Data:   data,
		Dx:     dx,
		Dy:     dy,
		Dz:     dz,
		PixDim: [3]float32{hdr.Pixdim[1], hdr.Pixdim[2], hdr.Pixdim[3]},
	}, nil
}

func readVoxels(r io.Reader, order binary.ByteOrder, datatype int16, n int) ([]float32, error) {
	out := make([]float32, n)
	switch datatype {
	case DTFloat32:
		buf := make([]byte, 4*n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(order.Uint32(buf[4*i:]))
		}
	case DTFloat64:
		buf := make([]byte, 8*n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i := 0; i < n; i++ {
			out[i] = float32(math.Float64frombits(order.Uint64(buf[8*i:])))
		}
	case DTUint8:
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i := 0; i < n; i++ {
			out[i] = float32(buf[i])
		}
	case DTInt8:
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i := 0; i < n; i++ {
			out[i] = float32(int8(buf[i]))
		}
	case DTInt16:
		buf := make([]byte, 2*n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i := 0; i < n; i++ {
			out[i] = float32(int16(order.Uint16(buf[2*i:])))
		}
	case DTUint16:
		buf := make([]byte, 2*n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i := 0; i < n; i++ {
			out[i] = float32(order.Uint16(buf[2*i:]))
		}
	case DTInt32:
		buf := make([]byte, 4*n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read voxels: %w", err)
		}
		for i := 0; i < n; i++ {
			out[i] = float32(int32(order.Uint32(buf[4*i:])))
		}
	default:
		return nil, fmt.Errorf("unsupported datatype %d", datatype)
	}
	return out, nil
}

// Write saves a float32 volume to path as a single-file NIfTI-1 image.
//
// A ".gz" suffix on the path enables gzip compression.
func Write(path string, v *Volume) error {
	if len(v.Data) != v.Dx*v.Dy*v.Dz {
		return fmt.Errorf("nifti: data length %d does not match %dx%dx%d", len(v.Data), v.Dx, v.Dy, v.Dz)
	}

	hdr := header{
		SizeofHdr: headerSize,
		Dim:       [8]int16{3, int16(v.Dx), int16(v.Dy), int16(v.Dz), 1, 1, 1, 1},
		Datatype:  DTFloat32,
		Bitpix:    32,
		Pixdim:    [8]float32{1, v.PixDim[0], v.PixDim[1], v.PixDim[2], 0, 0, 0, 0},
		VoxOffset: 352,
		SclSlope:  1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	copy(hdr.Descrip[:], "AleutianVision")

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("nifti: encode header: %w", err)
	}
	// 4-byte extension flag, all zero: no extensions.
	buf.Write([]byte{0, 0, 0, 0})
	vox := make([]byte, 4*len(v.Data))
	for i, f := range v.Data {
		binary.LittleEndian.PutUint32(vox[4*i:], math.Float32bits(f))
	}
	buf.Write(vox)

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("nifti: create directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("nifti: create %s: %w", path, err)
	}

	var w io.Writer = f
	var gz *gzip.Writer
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("nifti: write %s: %w", path, err)
	}
	if gz != nil {
		if err := gz.Close(); err != nil {
			f.Close()
			return fmt.Errorf("nifti: flush gzip: %w", err)
		}
	}
	// A short write can surface only at close time.
	if err := f.Close(); err != nil {
		return fmt.Errorf("nifti: close %s: %w", path, err)
	}
	return nil
}
