// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package metrics holds the Prometheus instruments of the WAL pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WALFilesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atriumdb_wal_files_open",
		Help: "Number of WAL files currently held open by the writer pool.",
	})

	WALFilesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_wal_files_created_total",
		Help: "Total number of WAL files created by the writer pool.",
	})

	WALPartialRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_wal_partial_records_total",
		Help: "Trailing partial records dropped while decoding WAL files.",
	})

	BatchesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_tscgen_batches_ingested_total",
		Help: "WAL batches successfully written to the timeseries engine.",
	})

	BatchesDuplicate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_tscgen_batches_duplicate_total",
		Help: "WAL batches dropped because the engine already held their start time.",
	})

	BatchesEmpty = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_tscgen_batches_empty_total",
		Help: "WAL batches that held no messages to ingest.",
	})

	BatchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_tscgen_batch_errors_total",
		Help: "WAL batches that failed to read or ingest.",
	})

	MeasuresInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_tscgen_measures_inserted_total",
		Help: "Measures inserted into the metadata index on first sight.",
	})

	DevicesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_tscgen_devices_inserted_total",
		Help: "Devices inserted into the metadata index on first sight.",
	})

	OptimizerRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_optimizer_runs_total",
		Help: "Completed merge runs of the TSC file optimizer.",
	})

	OptimizerUndos = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_optimizer_undos_total",
		Help: "Merge runs rolled back by the optimizer undo path.",
	})

	OptimizerFilesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "atriumdb_optimizer_files_deleted_total",
		Help: "Unreferenced TSC files removed from disk by the sweep.",
	})
)
