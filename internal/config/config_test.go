// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestInitOverlaysDefaults verifies that file values override defaults and
// unset keys keep theirs.
func TestInitOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
		"wal-dir": "/data/wal",
		"num-workers": 8,
		"nats": { "address": "nats://broker:4222", "subjects": ["sensors.>"] }
	}`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	Init(path)
	if Keys.WALDir != "/data/wal" {
		t.Errorf("WALDir = %q", Keys.WALDir)
	}
	if Keys.NumWorkers != 8 {
		t.Errorf("NumWorkers = %d", Keys.NumWorkers)
	}
	if Keys.FlushMaxPoints != 5000 {
		t.Errorf("FlushMaxPoints default lost: %d", Keys.FlushMaxPoints)
	}
	if len(Keys.Nats) == 0 {
		t.Error("nats config not captured")
	}
}

// TestInitMissingFileKeepsDefaults verifies a missing config file is fine.
func TestInitMissingFileKeepsDefaults(t *testing.T) {
	Init(filepath.Join(t.TempDir(), "nope.json"))
	if Keys.Addr == "" {
		t.Error("defaults lost")
	}
}
