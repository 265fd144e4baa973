// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskmanager

import (
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"

	"github.com/LaussenLabs/atriumdb-server/internal/walwriter"
)

// RegisterWriterPoolGC flushes and evicts idle WAL writers periodically.
func RegisterWriterPoolGC(mgr *walwriter.Manager, interval time.Duration) {
	cclog.Info("Register writer pool GC service")

	s.NewJob(gocron.DurationJob(interval),
		gocron.NewTask(
			func() {
				cclog.Debug("[WALWRITER]> running GC")
				mgr.GC()
			}))
}
