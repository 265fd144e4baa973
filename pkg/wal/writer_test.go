// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"os"
	"path/filepath"
	"testing"
)

// TestWriterIncrementalEqualsBulk writes the same payload once record by
// record and once as pre-encoded bulk bytes, and verifies both files decode
// to equal payloads.
func TestWriterIncrementalEqualsBulk(t *testing.T) {
	dir := t.TempDir()
	p := variableIntervalPayload(t, 20, 3)

	// Record by record.
	w, err := NewWriter(dir, "incremental.wal")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(p.Header); err != nil {
		t.Fatal(err)
	}
	off := 0
	for i := range p.Nominal {
		n := int(p.MessageSizes[i])
		err := w.WriteIntervalMessagePartial(p.Nominal[i], p.Server[i],
			p.Values.Slice(off, off+n), p.MessageSizes[i], p.NullOffsets[i])
		if err != nil {
			t.Fatal(err)
		}
		off += n
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Bulk.
	raw, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	wb, err := NewWriter(dir, "bulk.wal")
	if err != nil {
		t.Fatal(err)
	}
	if err := wb.WritePayload(raw); err != nil {
		t.Fatal(err)
	}
	if err := wb.Close(); err != nil {
		t.Fatal(err)
	}

	inc, err := ReadFile(filepath.Join(dir, "incremental.wal"))
	if err != nil {
		t.Fatal(err)
	}
	bulk, err := ReadFile(filepath.Join(dir, "bulk.wal"))
	if err != nil {
		t.Fatal(err)
	}
	if !inc.Equal(bulk) {
		t.Error("incremental and bulk writes decode differently")
	}
	if !inc.Equal(p) {
		t.Error("read-back differs from input payload")
	}
}

// TestWriterTimeValuePairs writes int32 pairs one at a time and reads them
// back, checking the integer conversion path.
func TestWriterTimeValuePairs(t *testing.T) {
	dir := t.TempDir()
	h := timeValueHeader()

	w, err := NewWriter(dir, "pairs.wal")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	for i := range 10 {
		if err := w.WriteTimeValuePair(int64(100+i), int64(200+i), float64(i*7)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := ReadFile(filepath.Join(dir, "pairs.wal"))
	if err != nil {
		t.Fatal(err)
	}
	if got.NumMessages() != 10 {
		t.Fatalf("NumMessages = %d, want 10", got.NumMessages())
	}
	for i := range 10 {
		if got.Nominal[i] != int64(100+i) || got.Server[i] != int64(200+i) {
			t.Fatalf("message %d times = (%d, %d)", i, got.Nominal[i], got.Server[i])
		}
		if got.Values.IntAt(i) != int64(i*7) {
			t.Fatalf("value %d = %d, want %d", i, got.Values.IntAt(i), i*7)
		}
	}
}

// TestWriterTypeMismatch verifies that interval writes with a foreign
// element type are rejected.
func TestWriterTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	h := variableIntervalHeader() // Int16

	w, err := NewWriter(dir, "mismatch.wal")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.WriteHeader(h); err != nil {
		t.Fatal(err)
	}
	err = w.WriteIntervalMessage(0, 0, Int32Values([]int32{1}))
	if err == nil {
		t.Fatal("WriteIntervalMessage accepted int32 values for an int16 header")
	}
}

// TestWriterHeaderRequired verifies that records cannot be written before
// the header, and that a bad version is rejected at WriteHeader.
func TestWriterHeaderRequired(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "noheader.wal")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	if err := w.WriteTimeValuePair(1, 2, 3); err != ErrHeaderNotWritten {
		t.Errorf("write before header: err = %v, want ErrHeaderNotWritten", err)
	}

	h := timeValueHeader()
	h.Version = 9
	if err := w.WriteHeader(h); err == nil {
		t.Error("WriteHeader accepted version 9")
	}
}

// TestWriterCloseIdempotent verifies repeated Close calls are harmless and
// that writes after Close fail.
func TestWriterCloseIdempotent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, "closed.wal")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteHeader(timeValueHeader()); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := w.WriteTimeValuePair(1, 2, 3); err != ErrClosed {
		t.Errorf("write after close: err = %v, want ErrClosed", err)
	}

	if _, err := os.Stat(w.Path()); err != nil {
		t.Errorf("closed file missing: %v", err)
	}
}
