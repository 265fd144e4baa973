// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package tsc handles the on-disk side of the compressed timeseries files:
// per-stream directory layout, staged writes, condensed block reads, and
// the contract of the block codec that fills them.
package tsc

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
)

// FileStore roots all TSC files of one dataset. Files live under
// <root>/<measure_id>/<device_id>/<name>.tsc; the file index stores only
// the name.
type FileStore struct {
	root string
}

func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

func (fs *FileStore) Root() string { return fs.root }

// ToAbsPath resolves a file-index path to its on-disk location.
func (fs *FileStore) ToAbsPath(rel string, measureID, deviceID int64) string {
	return filepath.Join(fs.root,
		strconv.FormatInt(measureID, 10), strconv.FormatInt(deviceID, 10), rel)
}

// NewFileName returns a fresh random file name for a stream directory.
func (fs *FileStore) NewFileName() string {
	return fmt.Sprintf("%016x.tsc", rand.Uint64())
}

// ReadAt reads n bytes at off from a stream file.
func (fs *FileStore) ReadAt(rel string, measureID, deviceID int64, off, n int64) ([]byte, error) {
	f, err := os.Open(fs.ToAbsPath(rel, measureID, deviceID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, n)
	if _, err := f.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("tsc: read %s [%d:%d): %w", rel, off, off+n, err)
	}
	return buf, nil
}

// Remove unlinks a stream file.
func (fs *FileStore) Remove(rel string, measureID, deviceID int64) error {
	return os.Remove(fs.ToAbsPath(rel, measureID, deviceID))
}

// StagedFile is a fully-written TSC file still under its staging name. It
// becomes visible to readers only on Commit, so the metadata transaction
// can be ordered before the rename.
type StagedFile struct {
	Name string // final file-index name

	stagedPath string
	finalPath  string
}

// WriteStaged writes data to a staging file in the stream directory and
// returns the handle used to commit or discard it.
func (fs *FileStore) WriteStaged(measureID, deviceID int64, data []byte) (*StagedFile, error) {
	name := fs.NewFileName()
	finalPath := fs.ToAbsPath(name, measureID, deviceID)
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return nil, fmt.Errorf("tsc: mkdir %s: %w", filepath.Dir(finalPath), err)
	}

	stagedPath := finalPath + ".tmp"
	if err := os.WriteFile(stagedPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("tsc: write %s: %w", stagedPath, err)
	}
	return &StagedFile{Name: name, stagedPath: stagedPath, finalPath: finalPath}, nil
}

// Commit moves the staged file to its final name.
func (s *StagedFile) Commit() error {
	return os.Rename(s.stagedPath, s.finalPath)
}

// Discard removes the staged file. Safe to call after Commit, where it is
// a no-op.
func (s *StagedFile) Discard() {
	os.Remove(s.stagedPath)
}
