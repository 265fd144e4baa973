// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package repository implements the metadata index of the timeseries store:
// measures, devices, and the file/block index the compressed TSC files are
// addressed through.
package repository

import (
	"database/sql"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/qustavo/sqlhooks/v2"
)

var (
	dbConnOnce     sync.Once
	dbConnInstance *DBConnection
)

type DBConnection struct {
	DB *sqlx.DB
}

var registerHooksOnce sync.Once

// Open opens one sqlite metadata database and runs pending migrations.
func Open(db string) (*sqlx.DB, error) {
	registerHooksOnce.Do(func() {
		sql.Register("sqlite3WithHooks", sqlhooks.Wrap(&sqlite3.SQLiteDriver{}, &Hooks{}))
	})

	dbHandle, err := sqlx.Open("sqlite3WithHooks", fmt.Sprintf("%s?_foreign_keys=on", db))
	if err != nil {
		return nil, fmt.Errorf("repository: sqlx.Open: %w", err)
	}

	// sqlite does not multithread. Having more than one connection open
	// would just mean waiting for locks.
	dbHandle.SetMaxOpenConns(1)

	if err := MigrateDB(dbHandle.DB); err != nil {
		dbHandle.Close()
		return nil, err
	}
	return dbHandle, nil
}

// Connect opens the process-wide metadata database.
func Connect(db string) {
	dbConnOnce.Do(func() {
		dbHandle, err := Open(db)
		if err != nil {
			cclog.Fatalf("[REPOSITORY]> %v", err)
		}
		dbConnInstance = &DBConnection{DB: dbHandle}
	})
}

func GetConnection() *DBConnection {
	if dbConnInstance == nil {
		cclog.Fatal("[REPOSITORY]> database connection not initialized")
	}
	return dbConnInstance
}
