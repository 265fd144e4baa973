// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tscgen turns quiescent WAL batches into compressed block writes:
// it scans the WAL directory, groups files by fingerprint, reads and merges
// ready batches in parallel, and hands the merged payloads to the engine.
package tscgen

import (
	"sort"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/LaussenLabs/atriumdb-server/internal/metrics"
	"github.com/LaussenLabs/atriumdb-server/pkg/wal"
)

// Ingest status codes. Source files are deleted for every status except
// StatusCorrupt; StatusFatal additionally shuts the pipeline down.
const (
	StatusOK        = 0
	StatusDuplicate = 1
	StatusEmpty     = 2
	StatusCorrupt   = -1
	StatusFatal     = -2
)

// IngestFunc consumes one merged payload and returns a status code.
type IngestFunc func(*wal.Payload) int

// ReadBatch reads every file of a quiescent batch in parallel, merges and
// sorts the payloads, invokes ingest, and deletes the source files unless
// ingest reported corruption. Read errors propagate and nothing is deleted.
func ReadBatch(b *wal.Batch, ingest IngestFunc, deleteOnIngest bool) error {
	payloads, err := readAll(b.Paths())
	if err != nil {
		return err
	}

	result := StatusEmpty
	if len(payloads) > 0 {
		result = ingest(Merge(payloads))
	}
	b.Result = &result

	if deleteOnIngest && result != StatusCorrupt {
		return b.DeleteAll()
	}
	return nil
}

// readAll loads all paths concurrently, one goroutine per file. Files
// shorter than a header decode to nil and are dropped.
func readAll(paths []string) ([]*wal.Payload, error) {
	payloads := make([]*wal.Payload, len(paths))
	errs := make([]error, len(paths))

	var wg sync.WaitGroup
	for i, p := range paths {
		wg.Add(1)
		go func(i int, p string) {
			defer wg.Done()
			payloads[i], errs[i] = wal.ReadFile(p)
		}(i, p)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	out := payloads[:0]
	for i, p := range payloads {
		if p == nil {
			continue
		}
		if p.TruncatedBytes > 0 {
			cclog.Warnf("[TSCGEN]> %s: dropped %d trailing bytes of a partial record",
				paths[i], p.TruncatedBytes)
			metrics.WALPartialRecords.Inc()
		}
		out = append(out, p)
	}
	return out, nil
}

// Merge concatenates payloads sharing a fingerprint and sorts the result
// ascending by nominal time with stable dedup: of two messages with the
// same nominal time, the first seen wins. The first payload's header is
// adopted as authoritative.
func Merge(payloads []*wal.Payload) *wal.Payload {
	merged := payloads[0]
	h := merged.Header

	if len(payloads) > 1 {
		nominal := merged.Nominal
		server := merged.Server
		values := merged.Values
		sizes := merged.MessageSizes
		offsets := merged.NullOffsets
		for _, p := range payloads[1:] {
			nominal = append(nominal, p.Nominal...)
			server = append(server, p.Server...)
			values = values.Append(p.Values)
			if h.Mode == wal.Intervals {
				sizes = append(sizes, p.MessageSizes...)
				offsets = append(offsets, p.NullOffsets...)
			}
		}
		merged = &wal.Payload{Header: h, Nominal: nominal, Server: server,
			Values: values, MessageSizes: sizes, NullOffsets: offsets}
	}

	return sortDedup(merged)
}

// sortDedup applies the permutation that makes Nominal ascending and
// unique to every parallel column.
func sortDedup(p *wal.Payload) *wal.Payload {
	n := len(p.Nominal)
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return p.Nominal[perm[a]] < p.Nominal[perm[b]]
	})

	// Keep the first occurrence of each nominal time. SliceStable preserves
	// input order within equal keys, so "first" is first-seen.
	kept := perm[:0]
	for i, idx := range perm {
		if i > 0 && p.Nominal[idx] == p.Nominal[kept[len(kept)-1]] {
			continue
		}
		kept = append(kept, idx)
	}

	starts, lengths := messageExtents(p)
	vs := p.Header.InputValueType.Size()

	out := &wal.Payload{Header: p.Header}
	out.Nominal = make([]int64, len(kept))
	out.Server = make([]int64, len(kept))
	if p.Header.Mode == wal.Intervals {
		out.MessageSizes = make([]uint32, len(kept))
		out.NullOffsets = make([]uint32, len(kept))
	}

	raw := make([]byte, 0, p.Values.Len()*vs)
	src := p.Values.Bytes()
	for i, idx := range kept {
		out.Nominal[i] = p.Nominal[idx]
		out.Server[i] = p.Server[idx]
		if p.Header.Mode == wal.Intervals {
			out.MessageSizes[i] = p.MessageSizes[idx]
			out.NullOffsets[i] = p.NullOffsets[idx]
		}
		raw = append(raw, src[starts[idx]:starts[idx]+lengths[idx]]...)
	}
	out.Values = wal.NewValues(p.Header.InputValueType, raw)
	return out
}

// messageExtents returns the byte offset and length of every message's
// samples within the value column.
func messageExtents(p *wal.Payload) (starts, lengths []int) {
	n := len(p.Nominal)
	starts = make([]int, n)
	lengths = make([]int, n)
	vs := p.Header.InputValueType.Size()

	switch {
	case p.Header.Mode == wal.TimeValuePairs:
		for i := range n {
			starts[i] = i * vs
			lengths[i] = vs
		}
	case p.Header.SamplesPerMessage > 0:
		row := int(p.Header.SamplesPerMessage) * vs
		for i := range n {
			starts[i] = i * row
			lengths[i] = row
		}
	default:
		off := 0
		for i := range n {
			starts[i] = off
			lengths[i] = int(p.MessageSizes[i]) * vs
			off += lengths[i]
		}
	}
	return starts, lengths
}
