// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package taskmanager

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"

	"github.com/LaussenLabs/atriumdb-server/internal/optimizer"
)

// RegisterOptimizerService merges small TSC files once a day, during the
// low-traffic early morning.
func RegisterOptimizerService(o *optimizer.Optimizer) {
	cclog.Info("Register TSC optimizer service")

	s.NewJob(gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(03, 0, 0))),
		gocron.NewTask(
			func() {
				cclog.Info("[OPTIMIZER]> starting daily merge run")
				o.Run()
				cclog.Info("[OPTIMIZER]> daily merge run finished")
			}))
}
