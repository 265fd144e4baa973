// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"encoding/json"
	"net/http"
	"os"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/LaussenLabs/atriumdb-server/internal/tscgen"
)

// startAdminServer serves /metrics and /health on the admin address.
func startAdminServer(addr string, readMgr *tscgen.Manager) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		status := struct {
			Status            string `json:"status"`
			OpenBatches       int    `json:"open_batches"`
			UnfinishedBatches int    `json:"unfinished_batches"`
		}{
			Status:            "ok",
			OpenBatches:       readMgr.NumOpenBatches(),
			UnfinishedBatches: readMgr.NumUnfinishedBatches(),
		}
		if readMgr.Fatal() {
			status.Status = "fatal"
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      handlers.CombinedLoggingHandler(os.Stdout, r),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			cclog.Errorf("admin server: %v", err)
		}
	}()
	return srv
}
