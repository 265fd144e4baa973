// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/joho/godotenv"

	"github.com/LaussenLabs/atriumdb-server/internal/config"
	"github.com/LaussenLabs/atriumdb-server/internal/optimizer"
	"github.com/LaussenLabs/atriumdb-server/internal/repository"
	"github.com/LaussenLabs/atriumdb-server/internal/taskmanager"
	"github.com/LaussenLabs/atriumdb-server/internal/tscgen"
	"github.com/LaussenLabs/atriumdb-server/internal/walwriter"
	"github.com/LaussenLabs/atriumdb-server/pkg/tsc"
)

const version = "1.0.0"

func main() {
	var flagConfigFile, flagLogLevel string
	var flagVersion, flagLogDateTime bool
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Specify alternative path to `config.json`")
	flag.StringVar(&flagLogLevel, "loglevel", "warn", "Sets the logging level: `debug,info,warn,err,crit`")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.Parse()

	if flagVersion {
		fmt.Printf("Version:\t%s\n", version)
		os.Exit(0)
	}

	cclog.Init(flagLogLevel, flagLogDateTime)

	// Apply .env file only if existing, errors unrelated to absence are logged.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		cclog.Warnf("parsing .env file failed: %v", err)
	}

	config.Init(flagConfigFile)

	for _, dir := range []string{config.Keys.WALDir, config.Keys.TSCDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			cclog.Abortf("Could not create directory %s.\nError: %s\n", dir, err.Error())
		}
	}

	repository.Connect(config.Keys.DB)
	repo := repository.GetIndexRepository()

	fileStore := tsc.NewFileStore(config.Keys.TSCDir)
	engine, err := tsc.NewEngine(fileStore, tscgen.RepositoryIndex{Repo: repo}, nil)
	if err != nil {
		cclog.Abortf("No TSC block codec is linked into this build.\nError: %s\n", err.Error())
	}

	engineWriter := &tscgen.EngineWriter{
		Repo:   repo,
		Engine: engine,
		Locks:  tsc.Streams,
		Options: tsc.WriteOptions{
			BlockSize: config.Keys.OptimalBlockNumValues,
		},
		AperiodicTimeCompression: config.Keys.AperiodicTimeCompression,
	}

	// Write side: pool of WAL writers fed by the broker.
	poolCfg := walwriter.Config{
		Dir:             config.Keys.WALDir,
		FileLengthTime:  config.Keys.FileLengthTimeS,
		IdleTimeout:     time.Duration(config.Keys.IdleTimeoutS) * time.Second,
		FlushMaxPoints:  config.Keys.FlushMaxPoints,
		FlushMaxSeconds: time.Duration(config.Keys.FlushMaxSeconds) * time.Second,
		MaxOpenFiles:    config.Keys.MaxOpenWALFiles,
	}
	pool := walwriter.NewManager(poolCfg)

	var subscriber *walwriter.Subscriber
	if len(config.Keys.Nats) > 0 {
		var natsCfg walwriter.NatsConfig
		if err := json.Unmarshal(config.Keys.Nats, &natsCfg); err != nil {
			cclog.Abortf("Could not parse nats config.\nError: %s\n", err.Error())
		}
		subscriber, err = walwriter.Connect(natsCfg, pool)
		if err != nil {
			cclog.Abortf("Could not connect to the message broker.\nError: %s\n", err.Error())
		}
	} else {
		cclog.Warn("No nats config: running without a broker consumer")
	}

	// Read side: batch manager feeding the engine.
	readCfg := tscgen.Config{
		Dir:            config.Keys.WALDir,
		WaitCloseTime:  time.Duration(config.Keys.WaitCloseTimeS) * time.Second,
		ScanInterval:   time.Duration(config.Keys.ScanIntervalS) * time.Second,
		FileTimeout:    time.Duration(config.Keys.WALFileTimeoutS) * time.Second,
		NumWorkers:     config.Keys.NumWorkers,
		DeleteOnIngest: config.Keys.DeleteOnIngest,
	}
	readMgr := tscgen.NewManager(readCfg, engineWriter.Ingest)

	ctx, cancel := context.WithCancel(context.Background())
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		readMgr.Run(ctx)
	}()

	taskmanager.Start()
	taskmanager.RegisterWriterPoolGC(pool, time.Duration(config.Keys.GCIntervalMin)*time.Minute)
	taskmanager.RegisterOptimizerService(&optimizer.Optimizer{
		Repo:  repo,
		Store: fileStore,
		Locks: tsc.Streams,
		Cfg: optimizer.Config{
			TargetFileSize:  config.Keys.TargetTSCFileSize,
			MaxBlocksPerRun: config.Keys.MaxBlocksPerRun,
			Timeout:         time.Duration(config.Keys.TSCOptimizationTimeoutS) * time.Second,
		},
	})
	taskmanager.Run()

	srv := startAdminServer(config.Keys.Addr, readMgr)

	cclog.Infof("atriumdb-server %s started, WAL dir %s", version, config.Keys.WALDir)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigs:
		cclog.Infof("received %s, shutting down", sig)
	case <-managerDone:
		// The manager loop only ends on its own on a fatal pipeline error.
	}

	cancel()
	taskmanager.Shutdown()
	if subscriber != nil {
		subscriber.Close()
	}
	pool.Shutdown()
	<-managerDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	if readMgr.Fatal() {
		cclog.Error("pipeline stopped on a fatal error")
		os.Exit(1)
	}
}
