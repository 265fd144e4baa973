// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tscgen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/LaussenLabs/atriumdb-server/internal/metrics"
	"github.com/LaussenLabs/atriumdb-server/pkg/wal"
)

// ErrBatchTimeout marks a worker that exceeded its budget. It is fatal to
// the pipeline.
var ErrBatchTimeout = errors.New("tscgen: batch worker timed out")

// Config carries the read-manager tunables.
type Config struct {
	// Dir is the WAL directory scanned for *.wal files.
	Dir string

	// WaitCloseTime is the quiescence threshold of new batches.
	WaitCloseTime time.Duration

	// ScanInterval is the pause between directory scans.
	ScanInterval time.Duration

	// FileTimeout bounds one batch's read-merge-ingest; exceeding it shuts
	// the pipeline down.
	FileTimeout time.Duration

	// NumWorkers bounds concurrently processed batches.
	NumWorkers int

	// DeleteOnIngest removes source files after a non-corrupt ingest.
	DeleteOnIngest bool
}

// DefaultConfig mirrors the production deployment defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:            dir,
		WaitCloseTime:  wal.DefaultWaitCloseTime,
		ScanInterval:   10 * time.Second,
		FileTimeout:    10 * time.Minute,
		NumWorkers:     4,
		DeleteOnIngest: true,
	}
}

type inflight struct {
	batch   *wal.Batch
	started time.Time
	done    chan struct{}
	err     error
}

// Manager groups WAL files into batches by filename fingerprint, promotes
// quiescent batches to the worker pool, and reaps finished work. All map
// state is owned by the manager goroutine; workers only fill their own
// inflight slot.
type Manager struct {
	cfg    Config
	ingest IngestFunc

	openBatches   map[string]*wal.Batch
	closedBatches map[string]*inflight

	sem   chan struct{}
	wg    sync.WaitGroup
	fatal atomic.Bool

	// Published after every tick for observers outside the manager
	// goroutine (health endpoint).
	openCount   atomic.Int64
	closedCount atomic.Int64
}

func NewManager(cfg Config, ingest IngestFunc) *Manager {
	return &Manager{
		cfg:           cfg,
		ingest:        ingest,
		openBatches:   make(map[string]*wal.Batch),
		closedBatches: make(map[string]*inflight),
		sem:           make(chan struct{}, cfg.NumWorkers),
	}
}

// Fatal reports whether the pipeline hit a fatal error.
func (m *Manager) Fatal() bool { return m.fatal.Load() }

// NumOpenBatches returns the count of batches still collecting files, as
// of the last tick.
func (m *Manager) NumOpenBatches() int { return int(m.openCount.Load()) }

// NumUnfinishedBatches returns the count of batches handed to workers and
// not yet reaped, as of the last tick.
func (m *Manager) NumUnfinishedBatches() int { return int(m.closedCount.Load()) }

// LoopOnce runs one scan-update-promote-reap tick.
func (m *Manager) LoopOnce() {
	m.updateBatches(m.refreshPaths())
	m.promoteReadyBatches()
	m.reapFinishedBatches()
	m.openCount.Store(int64(len(m.openBatches)))
	m.closedCount.Store(int64(len(m.closedBatches)))
}

// refreshPaths enumerates *.wal files sorted by ascending mtime.
func (m *Manager) refreshPaths() []string {
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		cclog.Errorf("[TSCGEN]> scan %s: %v", m.cfg.Dir, err)
		return nil
	}

	type pathInfo struct {
		path  string
		mtime time.Time
	}
	var found []pathInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wal") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		found = append(found, pathInfo{filepath.Join(m.cfg.Dir, e.Name()), info.ModTime()})
	}
	sort.Slice(found, func(a, b int) bool { return found[a].mtime.Before(found[b].mtime) })

	paths := make([]string, len(found))
	for i, f := range found {
		paths[i] = f.path
	}
	return paths
}

// updateBatches assigns each path to the open batch of its fingerprint.
// Files whose fingerprint is being processed right now are left for a
// later tick.
func (m *Manager) updateBatches(paths []string) {
	for _, p := range paths {
		fp := fingerprintFromPath(p)
		if _, busy := m.closedBatches[fp]; busy {
			continue
		}
		b, ok := m.openBatches[fp]
		if !ok {
			b = wal.NewBatch(m.cfg.WaitCloseTime, fp)
			m.openBatches[fp] = b
		}
		b.Add(p)
	}
}

// promoteReadyBatches moves every quiescent batch from openBatches to
// closedBatches and submits it. The two key sets stay disjoint.
func (m *Manager) promoteReadyBatches() {
	for fp, b := range m.openBatches {
		ready, err := b.IsReady()
		if err != nil {
			cclog.Errorf("[TSCGEN]> batch %s: %v", fp, err)
			m.openBatches[fp] = pruneMissing(b)
			continue
		}
		if !ready {
			continue
		}

		delete(m.openBatches, fp)
		inf := &inflight{batch: b, started: time.Now(), done: make(chan struct{})}
		m.closedBatches[fp] = inf

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer close(inf.done)
			m.sem <- struct{}{}
			defer func() { <-m.sem }()
			inf.err = ReadBatch(inf.batch, m.ingest, m.cfg.DeleteOnIngest)
		}()
	}
}

// reapFinishedBatches collects worker results, surfaces their errors, and
// frees the fingerprints. Batches running past the file timeout are fatal.
func (m *Manager) reapFinishedBatches() {
	for fp, inf := range m.closedBatches {
		select {
		case <-inf.done:
			m.finishBatch(fp, inf)
		default:
			if time.Since(inf.started) > m.cfg.FileTimeout {
				cclog.Errorf("[TSCGEN]> batch %s exceeded %s: %v", fp, m.cfg.FileTimeout, ErrBatchTimeout)
				m.fatal.Store(true)
			}
		}
	}
}

func (m *Manager) finishBatch(fp string, inf *inflight) {
	delete(m.closedBatches, fp)

	if inf.err != nil {
		cclog.Errorf("[TSCGEN]> batch %s: %v", fp, inf.err)
		metrics.BatchErrors.Inc()
		return
	}
	if inf.batch.Result == nil {
		return
	}
	switch *inf.batch.Result {
	case StatusOK:
		metrics.BatchesIngested.Inc()
		cclog.Debugf("[TSCGEN]> batch %s ingested (%d files)", fp, inf.batch.Len())
	case StatusDuplicate:
		metrics.BatchesDuplicate.Inc()
	case StatusEmpty:
		metrics.BatchesEmpty.Inc()
	case StatusCorrupt:
		metrics.BatchErrors.Inc()
	case StatusFatal:
		metrics.BatchErrors.Inc()
		cclog.Errorf("[TSCGEN]> batch %s: engine rejected stream, shutting down", fp)
		m.fatal.Store(true)
	}
}

// Run ticks the manager until the context ends or a fatal error stops the
// pipeline, then waits for in-flight workers.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		m.LoopOnce()
		if m.fatal.Load() {
			cclog.Error("[TSCGEN]> fatal error, manager loop stopping")
			break
		}
		select {
		case <-ctx.Done():
			cclog.Info("[TSCGEN]> manager loop stopping")
			goto drain
		case <-ticker.C:
		}
	}

drain:
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(m.cfg.FileTimeout):
		cclog.Error("[TSCGEN]> workers did not drain before timeout")
	}
}

// pruneMissing rebuilds a batch without paths that no longer exist.
func pruneMissing(b *wal.Batch) *wal.Batch {
	nb := wal.NewBatch(b.WaitCloseTime, b.Fingerprint)
	for _, p := range b.Paths() {
		if _, err := os.Stat(p); err == nil {
			nb.Add(p)
		}
	}
	return nb
}

// fingerprintFromPath derives the grouping key from the filename prefix
// before the first '-'.
func fingerprintFromPath(p string) string {
	name := filepath.Base(p)
	if i := strings.IndexByte(name, '-'); i >= 0 {
		return name[:i]
	}
	return strings.TrimSuffix(name, ".wal")
}
