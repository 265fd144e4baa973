// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tscgen

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/LaussenLabs/atriumdb-server/pkg/wal"
)

func managerConfig(dir string) Config {
	cfg := DefaultConfig(dir)
	cfg.WaitCloseTime = 50 * time.Millisecond
	cfg.ScanInterval = 10 * time.Millisecond
	cfg.FileTimeout = 5 * time.Second
	cfg.NumWorkers = 2
	return cfg
}

func ageFile(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}
}

func waitInflight(t *testing.T, m *Manager) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for m.NumUnfinishedBatches() > 0 {
		if time.Now().After(deadline) {
			t.Fatal("workers did not finish")
		}
		time.Sleep(5 * time.Millisecond)
		m.LoopOnce()
	}
}

// TestManagerGroupsByFingerprint verifies one full pass: files sharing a
// fingerprint prefix form one batch, ready batches are promoted and
// reaped, ingest sees the merged data, and sources are deleted.
func TestManagerGroupsByFingerprint(t *testing.T) {
	dir := t.TempDir()
	h := pairHeader()
	ageFile(t, writePairFile(t, dir, "f1-a.wal", h, []int64{1, 2}, []float64{1, 2}))
	ageFile(t, writePairFile(t, dir, "f1-b.wal", h, []int64{3}, []float64{3}))
	h2 := pairHeader()
	h2.MeasureName = "RR"
	ageFile(t, writePairFile(t, dir, "f2-a.wal", h2, []int64{9}, []float64{9}))

	var mu sync.Mutex
	sizes := map[int]int{}
	m := NewManager(managerConfig(dir), func(p *wal.Payload) int {
		mu.Lock()
		defer mu.Unlock()
		sizes[p.NumMessages()]++
		return StatusOK
	})

	m.LoopOnce()
	// open_batches and closed_batches keys must stay disjoint.
	for fp := range m.openBatches {
		if _, ok := m.closedBatches[fp]; ok {
			t.Fatalf("fingerprint %s in both maps", fp)
		}
	}

	waitInflight(t, m)

	mu.Lock()
	defer mu.Unlock()
	if sizes[3] != 1 || sizes[1] != 1 {
		t.Errorf("ingest batch sizes = %v, want one 3-message and one 1-message batch", sizes)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("%d files left after ingest", len(entries))
	}
}

// TestManagerSkipsFreshBatches verifies quiescence gating: a freshly
// written file is never promoted.
func TestManagerSkipsFreshBatches(t *testing.T) {
	dir := t.TempDir()
	writePairFile(t, dir, "f1-a.wal", pairHeader(), []int64{1}, []float64{1})

	m := NewManager(managerConfig(dir), func(*wal.Payload) int { return StatusOK })
	m.LoopOnce()

	if m.NumOpenBatches() != 1 {
		t.Errorf("NumOpenBatches = %d, want 1", m.NumOpenBatches())
	}
	if m.NumUnfinishedBatches() != 0 {
		t.Errorf("fresh batch was promoted")
	}
}

// TestManagerFatalOnEngineReject verifies that a -2 ingest status sets the
// shutdown flag.
func TestManagerFatalOnEngineReject(t *testing.T) {
	dir := t.TempDir()
	ageFile(t, writePairFile(t, dir, "f1-a.wal", pairHeader(), []int64{1}, []float64{1}))

	m := NewManager(managerConfig(dir), func(*wal.Payload) int { return StatusFatal })
	m.LoopOnce()
	waitInflight(t, m)

	if !m.Fatal() {
		t.Error("fatal ingest status did not set the shutdown flag")
	}
}

// TestManagerLeavesBusyFingerprintsAlone verifies that files arriving for
// a fingerprint currently being processed are not added to a new batch
// until the worker finishes.
func TestManagerLeavesBusyFingerprintsAlone(t *testing.T) {
	dir := t.TempDir()
	h := pairHeader()
	ageFile(t, writePairFile(t, dir, "f1-a.wal", h, []int64{1}, []float64{1}))

	release := make(chan struct{})
	m := NewManager(managerConfig(dir), func(*wal.Payload) int {
		<-release
		return StatusOK
	})

	m.LoopOnce() // promotes f1
	if m.NumUnfinishedBatches() != 1 {
		t.Fatal("batch not promoted")
	}

	// A new file for the same fingerprint shows up while the worker runs.
	ageFile(t, writePairFile(t, dir, "f1-b.wal", h, []int64{2}, []float64{2}))
	m.LoopOnce()
	if m.NumOpenBatches() != 0 {
		t.Error("busy fingerprint was opened again")
	}

	close(release)
	waitInflight(t, m)

	// Later ticks pick the new file up and process it too.
	deadline := time.Now().Add(5 * time.Second)
	for {
		m.LoopOnce()
		if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("second file for the fingerprint never processed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestFingerprintFromPath verifies key extraction from filenames.
func TestFingerprintFromPath(t *testing.T) {
	if fp := fingerprintFromPath("/x/y/abc123-999.wal"); fp != "abc123" {
		t.Errorf("fingerprint = %q", fp)
	}
	if fp := fingerprintFromPath("noprefix.wal"); fp != "noprefix" {
		t.Errorf("fingerprint = %q", fp)
	}
}
