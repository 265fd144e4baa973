// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"fmt"
	"os"
	"time"
)

// DefaultWaitCloseTime is how long every file of a batch must have been
// unmodified before the batch is considered quiescent.
const DefaultWaitCloseTime = 5 * time.Minute

// Batch is an ordered-insertion, de-duplicated set of WAL file paths sharing
// one header fingerprint, plus the quiescence threshold that gates reading.
type Batch struct {
	paths         []string
	seen          map[string]struct{}
	WaitCloseTime time.Duration
	Fingerprint   string

	// Result holds the ingest status code after the batch was processed.
	Result *int
}

// NewBatch returns an empty batch. A zero waitCloseTime selects
// DefaultWaitCloseTime.
func NewBatch(waitCloseTime time.Duration, fingerprint string) *Batch {
	if waitCloseTime <= 0 {
		waitCloseTime = DefaultWaitCloseTime
	}
	return &Batch{
		seen:          make(map[string]struct{}),
		WaitCloseTime: waitCloseTime,
		Fingerprint:   fingerprint,
	}
}

// NewBatchFromPaths builds a batch pre-populated with paths.
func NewBatchFromPaths(paths []string, waitCloseTime time.Duration, fingerprint string) *Batch {
	b := NewBatch(waitCloseTime, fingerprint)
	for _, p := range paths {
		b.Add(p)
	}
	return b
}

// Add inserts a path; already-present paths are ignored.
func (b *Batch) Add(path string) {
	if _, ok := b.seen[path]; ok {
		return
	}
	b.seen[path] = struct{}{}
	b.paths = append(b.paths, path)
}

func (b *Batch) Contains(path string) bool {
	_, ok := b.seen[path]
	return ok
}

func (b *Batch) Len() int { return len(b.paths) }

// Paths returns the paths in insertion order. The slice is shared.
func (b *Batch) Paths() []string { return b.paths }

// IsReady reports whether the batch is non-empty and every file's mtime is
// at least WaitCloseTime in the past. A stat failure (for example a file
// deleted underneath the manager) makes the batch not ready and is returned
// for the caller to surface.
func (b *Batch) IsReady() (bool, error) {
	if len(b.paths) == 0 {
		return false, nil
	}
	now := time.Now()
	for _, p := range b.paths {
		info, err := os.Stat(p)
		if err != nil {
			return false, fmt.Errorf("wal: batch %s: %w", b.Fingerprint, err)
		}
		if now.Sub(info.ModTime()) < b.WaitCloseTime {
			return false, nil
		}
	}
	return true, nil
}

// DeleteAll unlinks every path. All removals are attempted; the first error
// is returned.
func (b *Batch) DeleteAll() error {
	var firstErr error
	for _, p := range b.paths {
		if err := os.Remove(p); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("wal: delete %s: %w", p, err)
		}
	}
	return firstErr
}
