// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"fmt"
)

// Measure is one catalog row. A measure is identified by its tag together
// with sample frequency and units, so the same tag at two frequencies forms
// two measures.
type Measure struct {
	ID      int64  `db:"id"`
	Tag     string `db:"tag"`
	FreqNhz int64  `db:"freq_nhz"`
	Units   string `db:"units"`
}

// Device is one catalog row, identified by tag.
type Device struct {
	ID  int64  `db:"id"`
	Tag string `db:"tag"`
}

// GetOrCreateMeasure resolves a measure id, inserting the row on first
// sight. The second return reports whether an insert happened.
func (r *IndexRepository) GetOrCreateMeasure(tag string, freqNhz int64, units string) (int64, bool, error) {
	var id int64
	err := r.DB.Get(&id, "SELECT id FROM measure WHERE tag = ? AND freq_nhz = ? AND units = ?",
		tag, freqNhz, units)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}

	res, err := r.DB.Exec("INSERT INTO measure (tag, freq_nhz, units) VALUES (?, ?, ?)",
		tag, freqNhz, units)
	if err != nil {
		return 0, false, fmt.Errorf("insert measure %q: %w", tag, err)
	}
	id, err = res.LastInsertId()
	return id, true, err
}

// GetOrCreateDevice resolves a device id, inserting the row on first sight.
func (r *IndexRepository) GetOrCreateDevice(tag string) (int64, bool, error) {
	var id int64
	err := r.DB.Get(&id, "SELECT id FROM device WHERE tag = ?", tag)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}

	res, err := r.DB.Exec("INSERT INTO device (tag) VALUES (?)", tag)
	if err != nil {
		return 0, false, fmt.Errorf("insert device %q: %w", tag, err)
	}
	id, err = res.LastInsertId()
	return id, true, err
}

// GetMeasure returns a measure row, or nil if unknown.
func (r *IndexRepository) GetMeasure(id int64) (*Measure, error) {
	var m Measure
	err := r.DB.Get(&m, "SELECT * FROM measure WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetDevice returns a device row, or nil if unknown.
func (r *IndexRepository) GetDevice(id int64) (*Device, error) {
	var d Device
	err := r.DB.Get(&d, "SELECT * FROM device WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}
