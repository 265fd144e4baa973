// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads and validates the server configuration.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// ProgramConfig is the format of the configuration file. Durations are
// given in seconds.
type ProgramConfig struct {
	// Address of the admin HTTP listener (/metrics, /health).
	Addr string `json:"addr"`

	// WALDir holds the WAL files of this service; TSCDir roots the
	// compressed block files.
	WALDir string `json:"wal-dir"`
	TSCDir string `json:"tsc-dir"`

	// DB is the sqlite file of the metadata index.
	DB string `json:"db"`

	// Writer pool.
	FileLengthTimeS  int64 `json:"file-length-time-s"`
	IdleTimeoutS     int64 `json:"idle-timeout-s"`
	GCIntervalMin    int   `json:"gc-interval-min"`
	FlushMaxPoints   int   `json:"flush-max-points"`
	FlushMaxSeconds  int64 `json:"flush-max-seconds"`
	MaxOpenWALFiles  int   `json:"max-open-wal-files"`

	// Read manager.
	WaitCloseTimeS  int64 `json:"wait-close-time-s"`
	ScanIntervalS   int64 `json:"scan-interval-s"`
	WALFileTimeoutS int64 `json:"wal-file-timeout-s"`
	NumWorkers      int   `json:"num-workers"`
	DeleteOnIngest  bool  `json:"delete-on-ingest"`

	// Engine write.
	OptimalBlockNumValues    int `json:"optimal-block-num-values"`
	AperiodicTimeCompression int `json:"aperiodic-time-compression"`

	// Optimizer.
	TargetTSCFileSize       int64 `json:"target-tsc-file-size"`
	MaxBlocksPerRun         int   `json:"max-blocks-per-run"`
	TSCOptimizationTimeoutS int64 `json:"tsc-optimization-timeout-s"`

	// Broker.
	Nats json.RawMessage `json:"nats"`
}

// Keys holds the active configuration with the deployment defaults.
var Keys ProgramConfig = ProgramConfig{
	Addr:                     ":8080",
	WALDir:                   "./var/wal",
	TSCDir:                   "./var/tsc",
	DB:                       "./var/atriumdb.db",
	FileLengthTimeS:          3600,
	IdleTimeoutS:             600,
	GCIntervalMin:            5,
	FlushMaxPoints:           5000,
	FlushMaxSeconds:          120,
	MaxOpenWALFiles:          1024,
	WaitCloseTimeS:           300,
	ScanIntervalS:            10,
	WALFileTimeoutS:          600,
	NumWorkers:               4,
	DeleteOnIngest:           true,
	OptimalBlockNumValues:    32768,
	AperiodicTimeCompression: 12,
	TargetTSCFileSize:        100_000_000,
	MaxBlocksPerRun:          10_000,
	TSCOptimizationTimeoutS:  3600,
}

// Init reads the configuration file, validates it against the schema, and
// overlays it onto the defaults. A missing file keeps the defaults.
func Init(flagConfigFile string) {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if !os.IsNotExist(err) {
			cclog.Fatalf("[CONFIG]> read %s: %v", flagConfigFile, err)
		}
		return
	}

	Validate(configSchema, raw)
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		cclog.Fatalf("[CONFIG]> decode %s: %v", flagConfigFile, err)
	}
}
