// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wal implements the binary write-ahead-log file format used to
// buffer incoming sensor data before it is compressed into the timeseries
// engine.
//
// # File Format
//
// Every file starts with one fixed, packed, little-endian header:
//
//	[1B version][64B device_name][8B sample_freq_nhz]
//	[1B input_value_type][1B true_value_type][1B mode]
//	[4B samples_per_message][8B file_start_time]
//	[1B scale_type][4 × 8B scale_0..scale_3]
//	[64B measure_name][64B measure_units]
//
// Name fields are NUL-padded UTF-8. The header is followed by an append
// sequence of records whose layout depends on mode:
//
//	TIME_VALUE_PAIRS:  [8B nominal_time][8B server_time][value]
//	INTERVALS (fixed): [8B start_nominal][8B start_server]
//	                   [4B num_values][4B null_offset]
//	                   [samples_per_message × value]
//	INTERVALS (variable, samples_per_message == 0): same record layout but
//	                   each record carries num_values values.
//
// Files are named "<fingerprint>-<suffix>.wal" where fingerprint is the
// 128-bit xxh3 hash of the encoded header, so all files of one stream and
// time bucket group together by name prefix.
package wal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/zeebo/xxh3"
)

// HeaderSize is the byte length of the packed header.
const HeaderSize = 249

// Version is the only supported format version.
const Version = 1

const nameFieldLen = 64

// intervalMessageHeaderSize is the fixed prefix of one INTERVALS record:
// two int64 timestamps, num_values and null_offset.
const intervalMessageHeaderSize = 8 + 8 + 4 + 4

// Header is the decoded form of the fixed file header. Name fields hold the
// UTF-8 content without NUL padding.
type Header struct {
	Version           uint8
	DeviceName        string
	SampleFreq        uint64 // nano-hertz; 0 means aperiodic
	InputValueType    ValueType
	TrueValueType     ValueType
	Mode              Mode
	SamplesPerMessage uint32 // 0 means variable-length interval messages
	FileStartTime     int64  // nanoseconds since epoch
	ScaleType         ScaleType
	Scale             [4]float64
	MeasureName       string
	MeasureUnits      string
}

// Encode packs the header into its canonical HeaderSize-byte form.
func (h *Header) Encode() ([]byte, error) {
	buf := make([]byte, HeaderSize)
	buf[0] = h.Version

	if err := putName(buf[1:1+nameFieldLen], h.DeviceName); err != nil {
		return nil, fmt.Errorf("device_name: %w", err)
	}
	binary.LittleEndian.PutUint64(buf[65:], h.SampleFreq)
	buf[73] = uint8(h.InputValueType)
	buf[74] = uint8(h.TrueValueType)
	buf[75] = uint8(h.Mode)
	binary.LittleEndian.PutUint32(buf[76:], h.SamplesPerMessage)
	binary.LittleEndian.PutUint64(buf[80:], uint64(h.FileStartTime))
	buf[88] = uint8(h.ScaleType)
	for i, s := range h.Scale {
		binary.LittleEndian.PutUint64(buf[89+8*i:], math.Float64bits(s))
	}
	if err := putName(buf[121:121+nameFieldLen], h.MeasureName); err != nil {
		return nil, fmt.Errorf("measure_name: %w", err)
	}
	if err := putName(buf[185:185+nameFieldLen], h.MeasureUnits); err != nil {
		return nil, fmt.Errorf("measure_units: %w", err)
	}
	return buf, nil
}

// DecodeHeader unpacks a header from the first HeaderSize bytes of b.
// It validates the version and the type/mode bytes.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderSize {
		return h, ErrEmptyFile
	}

	h.Version = b[0]
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}

	h.DeviceName = getName(b[1 : 1+nameFieldLen])
	h.SampleFreq = binary.LittleEndian.Uint64(b[65:])
	h.InputValueType = ValueType(b[73])
	h.TrueValueType = ValueType(b[74])
	h.Mode = Mode(b[75])
	h.SamplesPerMessage = binary.LittleEndian.Uint32(b[76:])
	h.FileStartTime = int64(binary.LittleEndian.Uint64(b[80:]))
	h.ScaleType = ScaleType(b[88])
	for i := range h.Scale {
		h.Scale[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[89+8*i:]))
	}
	h.MeasureName = getName(b[121 : 121+nameFieldLen])
	h.MeasureUnits = getName(b[185 : 185+nameFieldLen])

	if !h.InputValueType.Valid() {
		return h, fmt.Errorf("%w: %d", ErrInvalidValueType, uint8(h.InputValueType))
	}
	if !h.Mode.Valid() {
		return h, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(h.Mode))
	}
	return h, nil
}

// Fingerprint returns the lowercase hex 128-bit xxh3 hash of the encoded
// header. All files of one stream and time bucket share a fingerprint; it is
// used as filename prefix and as the grouping key of the read manager.
func (h *Header) Fingerprint() (string, error) {
	raw, err := h.Encode()
	if err != nil {
		return "", err
	}
	sum := xxh3.Hash128(raw).Bytes()
	return fmt.Sprintf("%x", sum), nil
}

// Filename returns "<fingerprint>-<suffix>.wal".
func (h *Header) Filename(suffix string) (string, error) {
	fp, err := h.Fingerprint()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s.wal", fp, suffix), nil
}

// recordSize returns the fixed byte stride of one record, or 0 for
// variable-length interval records.
func (h *Header) recordSize() int {
	switch h.Mode {
	case TimeValuePairs:
		return 16 + h.InputValueType.Size()
	case Intervals:
		if h.SamplesPerMessage == 0 {
			return 0
		}
		return intervalMessageHeaderSize + int(h.SamplesPerMessage)*h.InputValueType.Size()
	default:
		return 0
	}
}

func putName(dst []byte, s string) error {
	if len(s) > nameFieldLen {
		return fmt.Errorf("%q longer than %d bytes", s, nameFieldLen)
	}
	copy(dst, s)
	return nil
}

func getName(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
