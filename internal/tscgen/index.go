// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tscgen

import (
	"github.com/LaussenLabs/atriumdb-server/internal/repository"
	"github.com/LaussenLabs/atriumdb-server/pkg/tsc"
)

// RepositoryIndex adapts the metadata repository to the engine's Index
// contract.
type RepositoryIndex struct {
	Repo *repository.IndexRepository
}

func (a RepositoryIndex) InsertFile(path string, measureID, deviceID int64, blocks []tsc.BlockMeta) error {
	nf := repository.NewFile{Path: path, MeasureID: measureID, DeviceID: deviceID}
	for _, b := range blocks {
		nf.Blocks = append(nf.Blocks, repository.Block{
			StartByte: b.StartByte,
			NumBytes:  b.NumBytes,
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
			NumValues: b.NumValues,
		})
	}
	_, err := a.Repo.InsertNewFileAndBlocks(nf)
	return err
}
