// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package taskmanager schedules the pipeline's periodic maintenance: the
// writer-pool GC and the daily TSC file optimizer.
package taskmanager

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"
)

var s gocron.Scheduler

// Start creates the scheduler. Register* calls follow, then Run.
func Start() {
	var err error
	s, err = gocron.NewScheduler()
	if err != nil {
		cclog.Abortf("TaskManager Start: could not create gocron scheduler.\nError: %s\n", err.Error())
	}
}

// Run starts executing the registered jobs.
func Run() {
	s.Start()
}

// Shutdown stops the scheduler and waits for running jobs.
func Shutdown() {
	if s != nil {
		s.Shutdown()
	}
}
