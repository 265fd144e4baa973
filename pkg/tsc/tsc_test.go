// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tsc

import (
	"errors"
	"os"
	"testing"
)

// TestCondenseReads verifies that touching same-file reads coalesce while
// gaps and file changes start new reads.
func TestCondenseReads(t *testing.T) {
	reads := []BlockRead{
		{FileID: 1, StartByte: 0, NumBytes: 100},
		{FileID: 1, StartByte: 100, NumBytes: 50}, // touching: merge
		{FileID: 1, StartByte: 200, NumBytes: 50}, // gap: new read
		{FileID: 2, StartByte: 250, NumBytes: 10}, // other file: new read
		{FileID: 2, StartByte: 260, NumBytes: 10}, // touching: merge
	}
	got := CondenseReads(reads)
	want := []BlockRead{
		{FileID: 1, StartByte: 0, NumBytes: 150},
		{FileID: 1, StartByte: 200, NumBytes: 50},
		{FileID: 2, StartByte: 250, NumBytes: 20},
	}
	if len(got) != len(want) {
		t.Fatalf("CondenseReads returned %d reads, want %d: %v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("read %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

// TestCondenseReadsEmpty verifies the empty input case.
func TestCondenseReadsEmpty(t *testing.T) {
	if got := CondenseReads(nil); got != nil {
		t.Errorf("CondenseReads(nil) = %v", got)
	}
}

// TestFileStoreStagedWrite verifies the two-phase write: the staged file is
// invisible under its final name until Commit, and Discard leaves nothing.
func TestFileStoreStagedWrite(t *testing.T) {
	fs := NewFileStore(t.TempDir())

	staged, err := fs.WriteStaged(3, 7, []byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	finalPath := fs.ToAbsPath(staged.Name, 3, 7)
	if _, err := os.Stat(finalPath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("final path exists before Commit")
	}

	if err := staged.Commit(); err != nil {
		t.Fatal(err)
	}
	got, err := fs.ReadAt(staged.Name, 3, 7, 0, 7)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "payload" {
		t.Errorf("read back %q", got)
	}

	// Discard path.
	staged2, err := fs.WriteStaged(3, 7, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	staged2.Discard()
	if _, err := os.Stat(fs.ToAbsPath(staged2.Name, 3, 7) + ".tmp"); !errors.Is(err, os.ErrNotExist) {
		t.Error("staged file survives Discard")
	}
}

type fakeIndex struct {
	inserted []string
	fail     bool
}

func (f *fakeIndex) InsertFile(path string, measureID, deviceID int64, blocks []BlockMeta) error {
	if f.fail {
		return errors.New("index down")
	}
	f.inserted = append(f.inserted, path)
	return nil
}

type fakeCodec struct{}

func (fakeCodec) EncodeBlocks(req *WriteRequest) ([]byte, []BlockMeta, error) {
	data := []byte{1, 2, 3, 4}
	return data, []BlockMeta{{StartByte: 0, NumBytes: 4, StartTime: req.StartTime,
		EndTime: req.StartTime + 1, NumValues: int64(len(req.IntValues) + len(req.FloatValues))}}, nil
}

// TestEngineWriteCommitsAfterIndex verifies the ordering contract: index
// insert first, rename second, and a failed insert leaves no visible file.
func TestEngineWriteCommitsAfterIndex(t *testing.T) {
	fs := NewFileStore(t.TempDir())
	idx := &fakeIndex{}
	e, err := NewEngine(fs, idx, fakeCodec{})
	if err != nil {
		t.Fatal(err)
	}

	req := &WriteRequest{MeasureID: 1, DeviceID: 2, StartTime: 100,
		IntValues: []int64{1, 2, 3}, Options: DefaultWriteOptions}
	if err := e.Write(req); err != nil {
		t.Fatal(err)
	}
	if len(idx.inserted) != 1 {
		t.Fatalf("index got %d files", len(idx.inserted))
	}
	if _, err := os.Stat(fs.ToAbsPath(idx.inserted[0], 1, 2)); err != nil {
		t.Errorf("committed file missing: %v", err)
	}

	idx.fail = true
	if err := e.Write(req); err == nil {
		t.Fatal("Write succeeded although index insert failed")
	}
	entries, err := os.ReadDir(fs.ToAbsPath("", 1, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("%d files in stream dir after failed write, want 1", len(entries))
	}
}
