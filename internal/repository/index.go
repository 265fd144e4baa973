// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package repository

import (
	"database/sql"
	"fmt"
	"sync"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
)

var (
	indexRepoOnce     sync.Once
	indexRepoInstance *IndexRepository
)

// Block is one row of block_index: a compressed span of samples inside a
// TSC file.
type Block struct {
	ID        int64 `db:"id"`
	MeasureID int64 `db:"measure_id"`
	DeviceID  int64 `db:"device_id"`
	FileID    int64 `db:"file_id"`
	StartByte int64 `db:"start_byte"`
	NumBytes  int64 `db:"num_bytes"`
	StartTime int64 `db:"start_time_n"`
	EndTime   int64 `db:"end_time_n"`
	NumValues int64 `db:"num_values"`
}

// File is one row of file_index. Path is relative to the per-stream TSC
// directory.
type File struct {
	ID        int64  `db:"id"`
	MeasureID int64  `db:"measure_id"`
	DeviceID  int64  `db:"device_id"`
	Path      string `db:"path"`
}

// StreamPair identifies one (measure, device) stream.
type StreamPair struct {
	MeasureID int64 `db:"measure_id"`
	DeviceID  int64 `db:"device_id"`
}

// NewFile describes a file to be registered together with the blocks it
// holds. Block StartByte values are relative to the new file.
type NewFile struct {
	Path      string
	MeasureID int64
	DeviceID  int64
	Blocks    []Block
}

// IndexRepository gives access to the file/block index and the measure and
// device catalogs.
type IndexRepository struct {
	DB *sqlx.DB
}

func GetIndexRepository() *IndexRepository {
	indexRepoOnce.Do(func() {
		db := GetConnection()
		indexRepoInstance = &IndexRepository{DB: db.DB}
	})
	return indexRepoInstance
}

// NewIndexRepository wraps an already-open database handle. Used by tests;
// production code goes through Connect and GetIndexRepository.
func NewIndexRepository(db *sqlx.DB) *IndexRepository {
	return &IndexRepository{DB: db}
}

var blockColumns = []string{
	"id", "measure_id", "device_id", "file_id", "start_byte", "num_bytes",
	"start_time_n", "end_time_n", "num_values",
}

func scanBlocks(rows *sqlx.Rows) ([]Block, error) {
	defer rows.Close()
	var blocks []Block
	for rows.Next() {
		var b Block
		if err := rows.StructScan(&b); err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}

// SelectBlocks returns the blocks of one measure overlapping [startTime,
// endTime], optionally restricted to one device, ordered by time.
func (r *IndexRepository) SelectBlocks(measureID int64, startTime, endTime int64, deviceID *int64) ([]Block, error) {
	q := sq.Select(blockColumns...).From("block_index").
		Where(sq.Eq{"measure_id": measureID}).
		Where(sq.LtOrEq{"start_time_n": endTime}).
		Where(sq.GtOrEq{"end_time_n": startTime}).
		OrderBy("start_time_n ASC", "end_time_n ASC")
	if deviceID != nil {
		q = q.Where(sq.Eq{"device_id": *deviceID})
	}

	sqlQuery, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.Queryx(sqlQuery, args...)
	if err != nil {
		return nil, err
	}
	return scanBlocks(rows)
}

// SelectBlock returns one block row, or nil if the id is unknown.
func (r *IndexRepository) SelectBlock(id int64) (*Block, error) {
	var b Block
	err := r.DB.Get(&b, "SELECT * FROM block_index WHERE id = ?", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// SelectBlocksByIDs returns the rows of the given ids, ordered by time.
func (r *IndexRepository) SelectBlocksByIDs(ids []int64) ([]Block, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(
		"SELECT * FROM block_index WHERE id IN (?) ORDER BY start_time_n ASC, end_time_n ASC", ids)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.Queryx(q, args...)
	if err != nil {
		return nil, err
	}
	return scanBlocks(rows)
}

// SelectBlocksByFilePaths returns all blocks stored in the named files,
// ordered by time. Used by the optimizer to re-checksum freshly written
// files.
func (r *IndexRepository) SelectBlocksByFilePaths(paths []string) ([]Block, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(
		"SELECT bi.* FROM block_index bi JOIN file_index fi ON bi.file_id = fi.id "+
			"WHERE fi.path IN (?) ORDER BY bi.start_time_n ASC, bi.end_time_n ASC", paths)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.Queryx(q, args...)
	if err != nil {
		return nil, err
	}
	return scanBlocks(rows)
}

// FindUnreferencedFiles returns file_index rows no block points at.
func (r *IndexRepository) FindUnreferencedFiles() ([]File, error) {
	var files []File
	err := r.DB.Select(&files,
		"SELECT t1.id, t1.measure_id, t1.device_id, t1.path FROM file_index t1 "+
			"LEFT JOIN (SELECT DISTINCT file_id FROM block_index) t2 ON t1.id = t2.file_id "+
			"WHERE t2.file_id IS NULL")
	return files, err
}

// FindStreamPairsWithSmallFiles returns every (measure, device) that owns
// at least two TSC files smaller than targetSize.
func (r *IndexRepository) FindStreamPairsWithSmallFiles(targetSize int64) ([]StreamPair, error) {
	var pairs []StreamPair
	err := r.DB.Select(&pairs,
		"SELECT bi1.measure_id, bi1.device_id FROM block_index bi1 JOIN "+
			"(SELECT file_id FROM block_index GROUP BY file_id HAVING SUM(num_bytes) < ?) bi2 "+
			"ON bi1.file_id = bi2.file_id "+
			"GROUP BY bi1.measure_id, bi1.device_id HAVING COUNT(DISTINCT bi1.file_id) >= 2",
		targetSize)
	return pairs, err
}

// FindSmallBlocks returns the blocks of one stream whose files total less
// than targetSize, ordered so they are rewritten in time order.
func (r *IndexRepository) FindSmallBlocks(measureID, deviceID, targetSize int64) ([]Block, error) {
	rows, err := r.DB.Queryx(
		"SELECT * FROM block_index WHERE measure_id = ? AND device_id = ? AND file_id IN "+
			"(SELECT file_id FROM block_index WHERE measure_id = ? AND device_id = ? "+
			"GROUP BY file_id HAVING SUM(num_bytes) < ?) "+
			"ORDER BY start_time_n ASC, end_time_n ASC",
		measureID, deviceID, measureID, deviceID, targetSize)
	if err != nil {
		return nil, err
	}
	return scanBlocks(rows)
}

// InsertNewFileAndBlocks registers one file and its blocks in a single
// transaction and returns the file id.
func (r *IndexRepository) InsertNewFileAndBlocks(f NewFile) (int64, error) {
	tx, err := r.DB.Beginx()
	if err != nil {
		return 0, err
	}
	fileID, err := insertFileAndBlocks(tx, f)
	if err != nil {
		tx.Rollback()
		return 0, err
	}
	return fileID, tx.Commit()
}

func insertFileAndBlocks(tx *sqlx.Tx, f NewFile) (int64, error) {
	res, err := tx.Exec("INSERT INTO file_index (measure_id, device_id, path) VALUES (?, ?, ?)",
		f.MeasureID, f.DeviceID, f.Path)
	if err != nil {
		return 0, fmt.Errorf("insert file %s: %w", f.Path, err)
	}
	fileID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, b := range f.Blocks {
		_, err := tx.Exec(
			"INSERT INTO block_index (measure_id, device_id, file_id, start_byte, num_bytes, "+
				"start_time_n, end_time_n, num_values) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			f.MeasureID, f.DeviceID, fileID, b.StartByte, b.NumBytes,
			b.StartTime, b.EndTime, b.NumValues)
		if err != nil {
			return 0, fmt.Errorf("insert block into %s: %w", f.Path, err)
		}
	}
	return fileID, nil
}

// CommitOptimizedFiles atomically registers the optimizer's new files and
// their blocks and deletes the replaced block rows.
func (r *IndexRepository) CommitOptimizedFiles(newFiles []NewFile, oldBlockIDs []int64) error {
	tx, err := r.DB.Beginx()
	if err != nil {
		return err
	}
	for _, f := range newFiles {
		if _, err := insertFileAndBlocks(tx, f); err != nil {
			tx.Rollback()
			return err
		}
	}
	for _, id := range oldBlockIDs {
		if _, err := tx.Exec("DELETE FROM block_index WHERE id = ?", id); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete block %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// RestoreBlocks reinserts original block rows with their original ids.
// Rows that were never deleted are skipped, so the undo path can run no
// matter how far the failed merge got.
func (r *IndexRepository) RestoreBlocks(blocks []Block) error {
	for _, b := range blocks {
		_, err := r.DB.Exec(
			"INSERT OR IGNORE INTO block_index (id, measure_id, device_id, file_id, start_byte, "+
				"num_bytes, start_time_n, end_time_n, num_values) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
			b.ID, b.MeasureID, b.DeviceID, b.FileID, b.StartByte, b.NumBytes,
			b.StartTime, b.EndTime, b.NumValues)
		if err != nil {
			return fmt.Errorf("restore block %d: %w", b.ID, err)
		}
	}
	return nil
}

// DeleteBlocksByFilePaths removes every block stored in the named files.
func (r *IndexRepository) DeleteBlocksByFilePaths(paths []string) error {
	for _, p := range paths {
		_, err := r.DB.Exec(
			"DELETE FROM block_index WHERE file_id IN (SELECT id FROM file_index WHERE path = ?)", p)
		if err != nil {
			return fmt.Errorf("delete blocks of %s: %w", p, err)
		}
	}
	return nil
}

// DeleteFileIndexRows removes file_index rows by id in bounded chunks.
func (r *IndexRepository) DeleteFileIndexRows(ids []int64) error {
	const chunk = 1000
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		q, args, err := sqlx.In("DELETE FROM file_index WHERE id IN (?)", ids[start:end])
		if err != nil {
			return err
		}
		if _, err := r.DB.Exec(q, args...); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFileIndexRowsByPaths removes file_index rows by path.
func (r *IndexRepository) DeleteFileIndexRowsByPaths(paths []string) error {
	for _, p := range paths {
		if _, err := r.DB.Exec("DELETE FROM file_index WHERE path = ?", p); err != nil {
			return err
		}
	}
	return nil
}

// FilePathsByIDs maps file ids to their relative paths.
func (r *IndexRepository) FilePathsByIDs(ids []int64) (map[int64]string, error) {
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}
	q, args, err := sqlx.In("SELECT id, measure_id, device_id, path FROM file_index WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	var files []File
	if err := r.DB.Select(&files, q, args...); err != nil {
		return nil, err
	}
	out := make(map[int64]string, len(files))
	for _, f := range files {
		out[f.ID] = f.Path
	}
	if len(out) != len(ids) {
		cclog.Warnf("[REPOSITORY]> %d of %d file ids resolved to paths", len(out), len(ids))
	}
	return out, nil
}

// HasBlockAt reports whether a block of the stream already starts at
// startTime. Used for duplicate detection before an engine write.
func (r *IndexRepository) HasBlockAt(measureID, deviceID, startTime int64) (bool, error) {
	var n int
	err := r.DB.Get(&n,
		"SELECT COUNT(*) FROM block_index WHERE measure_id = ? AND device_id = ? AND start_time_n = ?",
		measureID, deviceID, startTime)
	return n > 0, err
}
