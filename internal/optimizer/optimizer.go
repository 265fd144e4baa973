// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package optimizer rewrites streams of undersized TSC files into
// target-sized ones. Merges are guarded by a content checksum over the
// moved block bytes and rolled back by an undo path when anything fails.
package optimizer

import (
	"errors"
	"fmt"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/zeebo/xxh3"

	"github.com/LaussenLabs/atriumdb-server/internal/metrics"
	"github.com/LaussenLabs/atriumdb-server/internal/repository"
	"github.com/LaussenLabs/atriumdb-server/pkg/tsc"
)

// ErrChecksumMismatch marks a merge whose rewritten bytes do not equal the
// originals. It always triggers the undo path.
var ErrChecksumMismatch = errors.New("optimizer: block checksum mismatch after merge")

// Config carries the optimizer tunables.
type Config struct {
	// TargetFileSize is the minimum desired byte length of a merged file.
	TargetFileSize int64

	// MaxBlocksPerRun bounds one merge batch. The batch may exceed it up to
	// the first prefix that crosses TargetFileSize, so every run still
	// produces at least one full-sized file.
	MaxBlocksPerRun int

	// Timeout bounds the merge of one stream.
	Timeout time.Duration
}

// DefaultConfig mirrors the production deployment defaults.
func DefaultConfig() Config {
	return Config{
		TargetFileSize:  100_000_000,
		MaxBlocksPerRun: 10_000,
		Timeout:         time.Hour,
	}
}

// Optimizer merges the small TSC files of one dataset.
type Optimizer struct {
	Repo  *repository.IndexRepository
	Store *tsc.FileStore
	Locks *tsc.StreamLocks
	Cfg   Config
}

// Run merges every stream that owns at least two undersized files, then
// sweeps files no block references anymore.
func (o *Optimizer) Run() {
	pairs, err := o.Repo.FindStreamPairsWithSmallFiles(o.Cfg.TargetFileSize)
	if err != nil {
		cclog.Errorf("[OPTIMIZER]> find stream pairs: %v", err)
		return
	}

	for _, pair := range pairs {
		if !o.Locks.TryLock(pair.MeasureID, pair.DeviceID) {
			cclog.Infof("[OPTIMIZER]> stream %d/%d busy, skipping", pair.MeasureID, pair.DeviceID)
			continue
		}

		done := make(chan error, 1)
		go func(pair repository.StreamPair) {
			defer o.Locks.Unlock(pair.MeasureID, pair.DeviceID)
			done <- o.MergeSmallFiles(pair.MeasureID, pair.DeviceID)
		}(pair)

		select {
		case err := <-done:
			if err != nil {
				cclog.Errorf("[OPTIMIZER]> merge measure %d, device %d: %v", pair.MeasureID, pair.DeviceID, err)
				continue
			}
			metrics.OptimizerRuns.Inc()
		case <-time.After(o.timeout()):
			// The merge keeps running and releases the stream lock when it
			// ends; this run moves on and the next daily pass retries.
			cclog.Errorf("[OPTIMIZER]> merge measure %d, device %d exceeded %s",
				pair.MeasureID, pair.DeviceID, o.timeout())
		}
	}

	o.SweepUnreferencedFiles()
}

func (o *Optimizer) timeout() time.Duration {
	if o.Cfg.Timeout > 0 {
		return o.Cfg.Timeout
	}
	return time.Hour
}

// MergeSmallFiles rewrites the undersized files of one stream into files
// of at least the target size. The last file may stay under target; it is
// picked up again once the stream has grown.
func (o *Optimizer) MergeSmallFiles(measureID, deviceID int64) error {
	blocks, err := o.Repo.FindSmallBlocks(measureID, deviceID, o.Cfg.TargetFileSize)
	if err != nil {
		return err
	}
	blocks = o.limitBatch(blocks)

	if countDistinctFiles(blocks) < 2 {
		return nil
	}

	pathByID, err := o.Repo.FilePathsByIDs(distinctFileIDs(blocks))
	if err != nil {
		return err
	}

	checksumBefore, err := o.checksumBlocks(blocks, pathByID, measureID, deviceID)
	if err != nil {
		return err
	}

	cclog.Infof("[OPTIMIZER]> merging %d blocks from %d files for %s",
		len(blocks), countDistinctFiles(blocks), o.streamLabel(measureID, deviceID))

	// Write each target-sized group to a staged file first; nothing is
	// visible until the index transaction commits.
	var staged []*tsc.StagedFile
	var newFiles []repository.NewFile
	discardStaged := func() {
		for _, s := range staged {
			s.Discard()
		}
	}

	for _, group := range o.partitionBlocks(blocks) {
		data, err := o.loadBlockBytes(group, pathByID, measureID, deviceID)
		if err != nil {
			discardStaged()
			return err
		}
		s, err := o.Store.WriteStaged(measureID, deviceID, data)
		if err != nil {
			discardStaged()
			return err
		}
		staged = append(staged, s)

		nf := repository.NewFile{Path: s.Name, MeasureID: measureID, DeviceID: deviceID}
		startByte := int64(0)
		for _, b := range group {
			nb := b
			nb.StartByte = startByte
			nf.Blocks = append(nf.Blocks, nb)
			startByte += b.NumBytes
		}
		newFiles = append(newFiles, nf)
	}

	oldBlockIDs := make([]int64, len(blocks))
	for i, b := range blocks {
		oldBlockIDs[i] = b.ID
	}

	if err := o.Repo.CommitOptimizedFiles(newFiles, oldBlockIDs); err != nil {
		discardStaged()
		return err
	}

	newPaths := make([]string, len(staged))
	for i, s := range staged {
		newPaths[i] = s.Name
		if err := s.Commit(); err != nil {
			o.undoChanges(blocks, newPaths, measureID, deviceID)
			return err
		}
	}

	if err := o.verifyChecksum(checksumBefore, newPaths, measureID, deviceID); err != nil {
		cclog.Errorf("[OPTIMIZER]> %v, restoring old blocks and deleting new files", err)
		o.undoChanges(blocks, newPaths, measureID, deviceID)
		return err
	}
	return nil
}

// limitBatch cuts the block list to the greater of MaxBlocksPerRun and the
// prefix that first exceeds the target size.
func (o *Optimizer) limitBatch(blocks []repository.Block) []repository.Block {
	if len(blocks) <= o.Cfg.MaxBlocksPerRun {
		return blocks
	}

	prefix := len(blocks)
	var total int64
	for i, b := range blocks {
		total += b.NumBytes
		if total >= o.Cfg.TargetFileSize {
			prefix = i + 1
			break
		}
	}
	return blocks[:max(o.Cfg.MaxBlocksPerRun, prefix)]
}

// partitionBlocks cuts the batch into groups whose byte size first reaches
// the target; the remainder forms the final, possibly smaller group.
func (o *Optimizer) partitionBlocks(blocks []repository.Block) [][]repository.Block {
	var groups [][]repository.Block
	start := 0
	var size int64
	for i, b := range blocks {
		size += b.NumBytes
		if size >= o.Cfg.TargetFileSize {
			groups = append(groups, blocks[start:i+1])
			start = i + 1
			size = 0
		}
	}
	if start < len(blocks) {
		groups = append(groups, blocks[start:])
	}
	return groups
}

// loadBlockBytes reads one group's encoded bytes, condensing contiguous
// same-file reads into single I/Os.
func (o *Optimizer) loadBlockBytes(group []repository.Block, pathByID map[int64]string, measureID, deviceID int64) ([]byte, error) {
	reads := make([]tsc.BlockRead, len(group))
	for i, b := range group {
		reads[i] = tsc.BlockRead{FileID: b.FileID, StartByte: b.StartByte, NumBytes: b.NumBytes}
	}

	var data []byte
	for _, r := range tsc.CondenseReads(reads) {
		rel, ok := pathByID[r.FileID]
		if !ok {
			return nil, fmt.Errorf("optimizer: file id %d missing from file_index", r.FileID)
		}
		buf, err := o.Store.ReadAt(rel, measureID, deviceID, r.StartByte, r.NumBytes)
		if err != nil {
			return nil, err
		}
		data = append(data, buf...)
	}
	return data, nil
}

// checksumBlocks hashes the condensed byte stream of the given blocks.
func (o *Optimizer) checksumBlocks(blocks []repository.Block, pathByID map[int64]string, measureID, deviceID int64) (xxh3.Uint128, error) {
	data, err := o.loadBlockBytes(blocks, pathByID, measureID, deviceID)
	if err != nil {
		return xxh3.Uint128{}, err
	}
	h := xxh3.New()
	h.Write(data)
	return h.Sum128(), nil
}

// verifyChecksum re-reads the freshly written files through the index and
// compares their content hash against the pre-merge hash.
func (o *Optimizer) verifyChecksum(before xxh3.Uint128, newPaths []string, measureID, deviceID int64) error {
	newBlocks, err := o.Repo.SelectBlocksByFilePaths(newPaths)
	if err != nil {
		return err
	}
	pathByID, err := o.Repo.FilePathsByIDs(distinctFileIDs(newBlocks))
	if err != nil {
		return err
	}
	after, err := o.checksumBlocks(newBlocks, pathByID, measureID, deviceID)
	if err != nil {
		return err
	}
	if before != after {
		return ErrChecksumMismatch
	}
	return nil
}

// streamLabel names a stream for log lines, with the catalog tags when
// they resolve.
func (o *Optimizer) streamLabel(measureID, deviceID int64) string {
	label := fmt.Sprintf("measure %d, device %d", measureID, deviceID)
	m, err := o.Repo.GetMeasure(measureID)
	if err != nil || m == nil {
		return label
	}
	d, err := o.Repo.GetDevice(deviceID)
	if err != nil || d == nil {
		return label
	}
	return fmt.Sprintf("%s (%s/%s)", label, m.Tag, d.Tag)
}

// undoChanges restores the pre-merge state best-effort: reinsert the
// original block rows, drop the new blocks and files from the index, and
// unlink the new files.
func (o *Optimizer) undoChanges(originalBlocks []repository.Block, newPaths []string, measureID, deviceID int64) {
	metrics.OptimizerUndos.Inc()

	if err := o.Repo.RestoreBlocks(originalBlocks); err != nil {
		cclog.Errorf("[OPTIMIZER]> undo: restore blocks: %v", err)
	}
	// The restore runs outside a transaction; check it took effect.
	if len(originalBlocks) > 0 {
		if b, err := o.Repo.SelectBlock(originalBlocks[0].ID); err != nil || b == nil {
			cclog.Errorf("[OPTIMIZER]> undo: block %d not restored for %s (err: %v)",
				originalBlocks[0].ID, o.streamLabel(measureID, deviceID), err)
		}
	}
	if err := o.Repo.DeleteBlocksByFilePaths(newPaths); err != nil {
		cclog.Errorf("[OPTIMIZER]> undo: delete new blocks: %v", err)
	}
	for _, p := range newPaths {
		if err := o.Store.Remove(p, measureID, deviceID); err != nil {
			cclog.Errorf("[OPTIMIZER]> undo: remove %s: %v", p, err)
		}
	}
	if err := o.Repo.DeleteFileIndexRowsByPaths(newPaths); err != nil {
		cclog.Errorf("[OPTIMIZER]> undo: delete file rows: %v", err)
	}
}

func countDistinctFiles(blocks []repository.Block) int {
	return len(distinctFileIDs(blocks))
}

func distinctFileIDs(blocks []repository.Block) []int64 {
	seen := make(map[int64]struct{}, len(blocks))
	var ids []int64
	for _, b := range blocks {
		if _, ok := seen[b.FileID]; !ok {
			seen[b.FileID] = struct{}{}
			ids = append(ids, b.FileID)
		}
	}
	return ids
}
