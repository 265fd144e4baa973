// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package optimizer

import (
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/LaussenLabs/atriumdb-server/internal/metrics"
)

// SweepUnreferencedFiles unlinks TSC files no block_index row points at
// and drops their file_index rows. Runs after every merge pass.
func (o *Optimizer) SweepUnreferencedFiles() {
	files, err := o.Repo.FindUnreferencedFiles()
	if err != nil {
		cclog.Errorf("[OPTIMIZER]> find unreferenced files: %v", err)
		return
	}
	if len(files) == 0 {
		cclog.Debug("[OPTIMIZER]> no unreferenced tsc files to remove")
		return
	}

	ids := make([]int64, 0, len(files))
	for _, f := range files {
		err := o.Store.Remove(f.Path, f.MeasureID, f.DeviceID)
		if err != nil && !os.IsNotExist(err) {
			cclog.Errorf("[OPTIMIZER]> remove %s: %v", f.Path, err)
			continue
		}
		if err == nil {
			cclog.Infof("[OPTIMIZER]> deleted tsc file %s from disk", f.Path)
			metrics.OptimizerFilesDeleted.Inc()
		}
		ids = append(ids, f.ID)
	}

	if err := o.Repo.DeleteFileIndexRows(ids); err != nil {
		cclog.Errorf("[OPTIMIZER]> delete file index rows: %v", err)
	}
}
