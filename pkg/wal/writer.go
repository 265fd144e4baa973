// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Writer appends records to one WAL file bound to one header. It is not
// safe for concurrent use; the file-manager pool serializes access.
type Writer struct {
	path string
	f    *os.File
	bw   *bufio.Writer

	valueType         ValueType
	samplesPerMessage uint32
	headerWritten     bool
	closed            bool
}

// NewWriter creates or truncates dir/filename. The caller guarantees
// filename uniqueness.
func NewWriter(dir, filename string) (*Writer, error) {
	p := filepath.Join(dir, filename)
	f, err := os.Create(p)
	if err != nil {
		return nil, fmt.Errorf("wal: create %s: %w", p, err)
	}
	return &Writer{path: p, f: f, bw: bufio.NewWriter(f)}, nil
}

// Path returns the absolute-as-given path of the file being written.
func (w *Writer) Path() string { return w.path }

// WriteHeader writes the file header. It must be the first write and
// memoizes the value type and message stride for the record writers.
func (w *Writer) WriteHeader(h Header) error {
	if w.closed {
		return ErrClosed
	}
	if h.Version != Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	raw, err := h.Encode()
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(raw); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}

	w.valueType = h.InputValueType
	w.samplesPerMessage = h.SamplesPerMessage
	w.headerWritten = true
	return nil
}

// WriteTimeValuePair appends one TIME_VALUE_PAIRS record. The value is
// converted to the header's element type; for integer types the fractional
// part is truncated.
func (w *Writer) WriteTimeValuePair(nominal, server int64, value float64) error {
	if err := w.writable(); err != nil {
		return err
	}

	var rec [16 + 8]byte
	binary.LittleEndian.PutUint64(rec[0:], uint64(nominal))
	binary.LittleEndian.PutUint64(rec[8:], uint64(server))

	n := 16
	switch w.valueType {
	case Float32:
		binary.LittleEndian.PutUint32(rec[16:], math.Float32bits(float32(value)))
		n += 4
	case Float64:
		binary.LittleEndian.PutUint64(rec[16:], math.Float64bits(value))
		n += 8
	case Int8:
		rec[16] = byte(int8(value))
		n++
	case Int16:
		binary.LittleEndian.PutUint16(rec[16:], uint16(int16(value)))
		n += 2
	case Int32:
		binary.LittleEndian.PutUint32(rec[16:], uint32(int32(value)))
		n += 4
	case Int64:
		binary.LittleEndian.PutUint64(rec[16:], uint64(int64(value)))
		n += 8
	}

	_, err := w.bw.Write(rec[:n])
	return err
}

// WriteIntervalMessage appends one INTERVALS record declaring all values
// present and a null offset of zero.
func (w *Writer) WriteIntervalMessage(nominal, server int64, values Values) error {
	return w.WriteIntervalMessagePartial(nominal, server, values, uint32(values.Len()), 0)
}

// WriteIntervalMessagePartial appends one INTERVALS record with an explicit
// value count and null offset. The element type of values must match the
// header.
func (w *Writer) WriteIntervalMessagePartial(nominal, server int64, values Values, numValues, nullOffset uint32) error {
	if err := w.writable(); err != nil {
		return err
	}
	if values.Type() != w.valueType {
		return fmt.Errorf("%w: got %s, header has %s", ErrTypeMismatch, values.Type(), w.valueType)
	}

	var hdr [intervalMessageHeaderSize]byte
	binary.LittleEndian.PutUint64(hdr[0:], uint64(nominal))
	binary.LittleEndian.PutUint64(hdr[8:], uint64(server))
	binary.LittleEndian.PutUint32(hdr[16:], numValues)
	binary.LittleEndian.PutUint32(hdr[20:], nullOffset)

	if _, err := w.bw.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.bw.Write(values.Bytes())
	return err
}

// WritePayload appends already-encoded bytes, header included if the caller
// encoded one. Used for bulk writes of prepared payloads.
func (w *Writer) WritePayload(encoded []byte) error {
	if w.closed {
		return ErrClosed
	}
	_, err := w.bw.Write(encoded)
	return err
}

// Flush pushes buffered bytes to the OS.
func (w *Writer) Flush() error {
	if w.closed {
		return nil
	}
	return w.bw.Flush()
}

// Sync flushes and fsyncs. Only used by callers that need durability
// stronger than the quiescence window.
func (w *Writer) Sync() error {
	if err := w.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Close flushes and closes the file. It is idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return err
	}
	return w.f.Close()
}

func (w *Writer) writable() error {
	if w.closed {
		return ErrClosed
	}
	if !w.headerWritten {
		return ErrHeaderNotWritten
	}
	return nil
}
