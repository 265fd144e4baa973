// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package walwriter

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/LaussenLabs/atriumdb-server/internal/metrics"
	"github.com/LaussenLabs/atriumdb-server/pkg/wal"
)

// Config carries the writer-pool tunables.
type Config struct {
	// Dir is the WAL directory all files are created in.
	Dir string

	// FileLengthTime is the file_start_time bucket width in seconds.
	FileLengthTime int64

	// IdleTimeout is how long a writer may go unused before the GC closes it.
	IdleTimeout time.Duration

	// FlushMaxPoints flushes a file once this many unflushed samples
	// accumulated.
	FlushMaxPoints int

	// FlushMaxSeconds flushes a file with any unflushed samples after this
	// much wall time.
	FlushMaxSeconds time.Duration

	// MaxOpenFiles caps the pool; creating a file beyond the cap first
	// closes the least-recently-used entry.
	MaxOpenFiles int
}

// DefaultConfig mirrors the production deployment defaults.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		FileLengthTime:  3600,
		IdleTimeout:     10 * time.Minute,
		FlushMaxPoints:  5000,
		FlushMaxSeconds: 120 * time.Second,
		MaxOpenFiles:    1024,
	}
}

type poolEntry struct {
	writer          *wal.Writer
	fileName        string
	lastAccess      time.Time
	unflushedPoints int
	nextFlush       time.Time
}

// Manager owns the fingerprint → writer pool. One mutex guards the map and
// all per-entry state; parsing and hashing happen before the lock, so the
// per-message critical section is a map lookup and one buffered append.
type Manager struct {
	cfg Config

	mu   sync.Mutex
	pool map[string]*poolEntry
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, pool: make(map[string]*poolEntry)}
}

// Write routes one producer message to the WAL file of its stream and time
// bucket, creating the file if needed, and applies the flush policy.
func (m *Manager) Write(msg *ProducerMessage) error {
	h, values, err := ParseMessage(msg, m.cfg.FileLengthTime)
	if err != nil {
		return err
	}
	fp, err := h.Fingerprint()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, err := m.entry(fp, h)
	if err != nil {
		return err
	}

	if h.Mode == wal.Intervals {
		if err := e.writer.WriteIntervalMessage(msg.DataTime, msg.ServerTime, values); err != nil {
			return err
		}
		e.unflushedPoints += values.Len()
	} else {
		if err := e.writer.WriteTimeValuePair(msg.DataTime, msg.ServerTime, values.At(0)); err != nil {
			return err
		}
		e.unflushedPoints++
	}

	if m.flushable(e) {
		m.flush(e)
	}
	return nil
}

// entry returns the pool entry for fp, creating writer and file on a miss.
// Caller holds the lock.
func (m *Manager) entry(fp string, h wal.Header) (*poolEntry, error) {
	if e, ok := m.pool[fp]; ok {
		e.lastAccess = time.Now()
		return e, nil
	}

	if m.cfg.MaxOpenFiles > 0 && len(m.pool) >= m.cfg.MaxOpenFiles {
		m.evictOldest()
	}

	fileName := fmt.Sprintf("%s-%s.wal", fp, strconv.FormatUint(rand.Uint64(), 10))
	writer, err := wal.NewWriter(m.cfg.Dir, fileName)
	if err != nil {
		return nil, err
	}
	if err := writer.WriteHeader(h); err != nil {
		writer.Close()
		return nil, err
	}

	now := time.Now()
	e := &poolEntry{
		writer:     writer,
		fileName:   fileName,
		lastAccess: now,
		nextFlush:  now.Add(m.cfg.FlushMaxSeconds),
	}
	m.pool[fp] = e

	metrics.WALFilesOpen.Inc()
	metrics.WALFilesCreated.Inc()
	cclog.Debugf("[WALWRITER]> opened %s", fileName)
	return e, nil
}

// evictOldest flushes and closes the least-recently-accessed entry. Caller
// holds the lock.
func (m *Manager) evictOldest() {
	var oldestKey string
	var oldest *poolEntry
	for k, e := range m.pool {
		if oldest == nil || e.lastAccess.Before(oldest.lastAccess) {
			oldestKey, oldest = k, e
		}
	}
	if oldest == nil {
		return
	}
	m.closeEntry(oldestKey, oldest)
	cclog.Infof("[WALWRITER]> pool full, closed %s", oldest.fileName)
}

func (m *Manager) flushable(e *poolEntry) bool {
	if e.unflushedPoints >= m.cfg.FlushMaxPoints {
		return true
	}
	return e.unflushedPoints > 0 && !time.Now().Before(e.nextFlush)
}

func (m *Manager) flush(e *poolEntry) {
	if err := e.writer.Flush(); err != nil {
		cclog.Errorf("[WALWRITER]> flush %s: %v", e.fileName, err)
		return
	}
	e.unflushedPoints = 0
	e.nextFlush = time.Now().Add(m.cfg.FlushMaxSeconds)
	cclog.Debugf("[WALWRITER]> flushed %s", e.fileName)
}

func (m *Manager) closeEntry(key string, e *poolEntry) {
	if err := e.writer.Close(); err != nil {
		cclog.Errorf("[WALWRITER]> close %s: %v", e.fileName, err)
	}
	delete(m.pool, key)
	metrics.WALFilesOpen.Dec()
}

// GC flushes every flushable entry and closes entries idle for longer than
// the idle timeout. Registered as a periodic job by the task manager.
func (m *Manager) GC() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, e := range m.pool {
		if m.flushable(e) {
			m.flush(e)
		}
		if now.Sub(e.lastAccess) >= m.cfg.IdleTimeout {
			cclog.Infof("[WALWRITER]> closing idle %s", e.fileName)
			m.closeEntry(key, e)
		}
	}
}

// NumOpen returns the current pool size.
func (m *Manager) NumOpen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pool)
}

// Shutdown flushes and closes every open writer.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.pool {
		m.closeEntry(key, e)
	}
	cclog.Info("[WALWRITER]> writer pool closed")
}
