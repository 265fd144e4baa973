// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tsc

import (
	"fmt"
	"sync"
)

// StreamLocks serializes work on (measure, device) streams so an ingest
// write and an optimizer merge never touch the same stream concurrently.
type StreamLocks struct {
	mu   sync.Mutex
	cond *sync.Cond
	held map[string]struct{}
}

func NewStreamLocks() *StreamLocks {
	l := &StreamLocks{held: make(map[string]struct{})}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func streamKey(measureID, deviceID int64) string {
	return fmt.Sprintf("%d:%d", measureID, deviceID)
}

// Lock blocks until the stream is free and takes it.
func (l *StreamLocks) Lock(measureID, deviceID int64) {
	key := streamKey(measureID, deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if _, ok := l.held[key]; !ok {
			l.held[key] = struct{}{}
			return
		}
		l.cond.Wait()
	}
}

// TryLock takes the stream if free and reports whether it did.
func (l *StreamLocks) TryLock(measureID, deviceID int64) bool {
	key := streamKey(measureID, deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Unlock releases the stream.
func (l *StreamLocks) Unlock(measureID, deviceID int64) {
	key := streamKey(measureID, deviceID)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	l.cond.Broadcast()
}

// Streams is the process-wide lock set shared by the ingest workers and
// the optimizer.
var Streams = NewStreamLocks()
