// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tsc

import (
	"errors"
	"fmt"
)

// Time encodings of the block format.
const (
	TTypeTimestampArrayInt64Nano        = 1
	TTypeGapArrayInt64IndexDurationNano = 2
	TTypeGapArrayInt64IndexNumSamples   = 3
	TTypeStartTimeNumSamples            = 4
)

// Value encodings of the block format.
const (
	VTypeInt64      = 1
	VTypeDouble     = 2
	VTypeDeltaInt64 = 3
	VTypeXorDouble  = 4
)

// WriteOptions are per-call codec knobs. They travel with the request so a
// caller raising, say, the time-compression level for an aperiodic stream
// never mutates shared codec state.
type WriteOptions struct {
	// BlockSize is the target number of samples per block.
	BlockSize int

	// TimeCompressionLevel tunes the time-column compressor. Aperiodic
	// streams pass raw timestamp arrays and raise this.
	TimeCompressionLevel int
}

// DefaultWriteOptions matches the production block size.
var DefaultWriteOptions = WriteOptions{BlockSize: 32768, TimeCompressionLevel: 0}

// WriteRequest is one stream write handed to the block codec. Exactly one
// of IntValues and FloatValues is set, matching RawValueType.
type WriteRequest struct {
	MeasureID int64
	DeviceID  int64

	// TimeData is either a flattened gap array ((sample_index, extra_ns)
	// pairs) or a raw timestamp array, per RawTimeType.
	TimeData  []int64
	StartTime int64
	FreqNhz   int64

	IntValues   []int64
	FloatValues []float64

	RawTimeType      int
	RawValueType     int
	EncodedTimeType  int
	EncodedValueType int

	ScaleB float64
	ScaleM float64

	Options WriteOptions
}

// BlockMeta describes one encoded block inside a codec's output buffer.
type BlockMeta struct {
	StartByte int64
	NumBytes  int64
	StartTime int64
	EndTime   int64
	NumValues int64
}

// Codec turns write requests into encoded TSC bytes. The scientific
// compression lives in a separately-shipped module that registers itself
// here, the same way database/sql drivers do.
type Codec interface {
	EncodeBlocks(req *WriteRequest) (data []byte, blocks []BlockMeta, err error)
}

var registeredCodec Codec

// ErrNoCodec is returned by engine operations when no codec was registered.
var ErrNoCodec = errors.New("tsc: no block codec registered")

// RegisterCodec installs the block codec. Calling it twice panics, like
// registering a duplicate sql driver.
func RegisterCodec(c Codec) {
	if registeredCodec != nil {
		panic("tsc: RegisterCodec called twice")
	}
	registeredCodec = c
}

// Index is the slice of the metadata repository the engine needs: it
// registers one new file and its blocks atomically.
type Index interface {
	InsertFile(path string, measureID, deviceID int64, blocks []BlockMeta) error
}

// Engine writes stream data as compressed block files: encode via the
// registered codec, stage the file, register it in the index, then make it
// visible. A failed index insert discards the staged file.
type Engine struct {
	fs    *FileStore
	index Index
	codec Codec
}

// NewEngine wires an engine to the registered codec. An explicit codec
// (tests) takes precedence.
func NewEngine(fs *FileStore, index Index, codec Codec) (*Engine, error) {
	if codec == nil {
		codec = registeredCodec
	}
	if codec == nil {
		return nil, ErrNoCodec
	}
	return &Engine{fs: fs, index: index, codec: codec}, nil
}

// Write encodes one request into a new TSC file and registers it.
func (e *Engine) Write(req *WriteRequest) error {
	data, blocks, err := e.codec.EncodeBlocks(req)
	if err != nil {
		return fmt.Errorf("tsc: encode: %w", err)
	}

	staged, err := e.fs.WriteStaged(req.MeasureID, req.DeviceID, data)
	if err != nil {
		return err
	}
	if err := e.index.InsertFile(staged.Name, req.MeasureID, req.DeviceID, blocks); err != nil {
		staged.Discard()
		return fmt.Errorf("tsc: index insert for %s: %w", staged.Name, err)
	}
	if err := staged.Commit(); err != nil {
		return fmt.Errorf("tsc: commit %s: %w", staged.Name, err)
	}
	return nil
}
