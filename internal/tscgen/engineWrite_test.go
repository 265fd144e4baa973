// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tscgen

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LaussenLabs/atriumdb-server/internal/repository"
	"github.com/LaussenLabs/atriumdb-server/pkg/tsc"
	"github.com/LaussenLabs/atriumdb-server/pkg/wal"
)

// recordingCodec captures the request and encodes each block as one byte
// per value.
type recordingCodec struct {
	last *tsc.WriteRequest
}

func (c *recordingCodec) EncodeBlocks(req *tsc.WriteRequest) ([]byte, []tsc.BlockMeta, error) {
	c.last = req
	n := int64(len(req.IntValues) + len(req.FloatValues))
	data := make([]byte, n)
	endTime := req.StartTime
	if len(req.TimeData) > 0 && req.RawTimeType == tsc.TTypeTimestampArrayInt64Nano {
		endTime = req.TimeData[len(req.TimeData)-1]
	}
	return data, []tsc.BlockMeta{{StartByte: 0, NumBytes: n, StartTime: req.StartTime,
		EndTime: endTime, NumValues: n}}, nil
}

func setupEngineWriter(t *testing.T) (*EngineWriter, *recordingCodec, *repository.IndexRepository) {
	t.Helper()
	db, err := repository.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := repository.NewIndexRepository(db)

	codec := &recordingCodec{}
	engine, err := tsc.NewEngine(tsc.NewFileStore(t.TempDir()), RepositoryIndex{Repo: repo}, codec)
	require.NoError(t, err)

	return &EngineWriter{
		Repo:                     repo,
		Engine:                   engine,
		Locks:                    tsc.NewStreamLocks(),
		Options:                  tsc.DefaultWriteOptions,
		AperiodicTimeCompression: 12,
	}, codec, repo
}

// TestIngestWritesAndDetectsDuplicates verifies the happy path (measure and
// device upserts, block rows registered) and the duplicate short-circuit on
// a second ingest with the same start time.
func TestIngestWritesAndDetectsDuplicates(t *testing.T) {
	w, codec, repo := setupEngineWriter(t)

	h := pairHeader()
	h.SampleFreq = 500_000_000_000
	p := wal.NewTimeValuePayload(h, []int64{1000, 1002, 1004}, []int64{1001, 1003, 1005},
		wal.Float64Values([]float64{1, 2, 3}))

	require.Equal(t, StatusOK, w.Ingest(p))
	require.NotNil(t, codec.last)
	assert.Equal(t, tsc.VTypeDouble, codec.last.RawValueType)
	assert.Equal(t, int64(1000), codec.last.StartTime)

	measureID, _, err := repo.GetOrCreateMeasure("HR", 500_000_000_000, "bpm")
	require.NoError(t, err)
	deviceID, _, err := repo.GetOrCreateDevice("bed-1")
	require.NoError(t, err)
	blocks, err := repo.SelectBlocks(measureID, 0, 10_000, &deviceID)
	require.NoError(t, err)
	assert.Len(t, blocks, 1)

	// Same payload again: duplicate.
	p2 := wal.NewTimeValuePayload(h, []int64{1000}, []int64{1001}, wal.Float64Values([]float64{1}))
	assert.Equal(t, StatusDuplicate, w.Ingest(p2))
}

// TestIngestAperiodicUsesTimestampArray verifies that freq 0 streams pass
// raw timestamps and the raised time-compression level.
func TestIngestAperiodicUsesTimestampArray(t *testing.T) {
	w, codec, _ := setupEngineWriter(t)

	h := pairHeader() // SampleFreq 0
	p := wal.NewTimeValuePayload(h, []int64{5, 900, 100_000}, []int64{6, 901, 100_001},
		wal.Float64Values([]float64{1, 2, 3}))

	require.Equal(t, StatusOK, w.Ingest(p))
	assert.Equal(t, tsc.TTypeTimestampArrayInt64Nano, codec.last.RawTimeType)
	assert.Equal(t, []int64{5, 900, 100_000}, codec.last.TimeData)
	assert.Equal(t, 12, codec.last.Options.TimeCompressionLevel)
	// The baseline options stay untouched.
	assert.Equal(t, tsc.DefaultWriteOptions.TimeCompressionLevel, w.Options.TimeCompressionLevel)
}

// TestIngestIntegerIntervals verifies integer streams select the delta
// encoding and carry int64 values.
func TestIngestIntegerIntervals(t *testing.T) {
	w, codec, _ := setupEngineWriter(t)

	h := pairHeader()
	h.Mode = wal.Intervals
	h.SamplesPerMessage = 2
	h.InputValueType = wal.Int16
	h.SampleFreq = 2_000_000_000 // 2 Hz → 1 s per 2-sample message
	p := wal.NewIntervalPayload(h, []int64{0, 1_000_000_000}, []int64{1, 2},
		wal.Int16Values([]int16{10, 11, 12, 13}), nil, nil)

	require.Equal(t, StatusOK, w.Ingest(p))
	assert.Equal(t, tsc.VTypeInt64, codec.last.RawValueType)
	assert.Equal(t, tsc.VTypeDeltaInt64, codec.last.EncodedValueType)
	assert.Equal(t, []int64{10, 11, 12, 13}, codec.last.IntValues)
	// Contiguous messages: no gaps.
	assert.Empty(t, codec.last.TimeData)
}

// TestCreateGapArray verifies gap entries appear exactly where the
// inter-message delta deviates from the nominal period.
func TestCreateGapArray(t *testing.T) {
	h := pairHeader()
	h.Mode = wal.Intervals
	h.SamplesPerMessage = 4
	h.InputValueType = wal.Int16
	h.SampleFreq = 4_000_000_000 // 4 Hz → 1 s per 4-sample message

	// Message 1 starts 2.5 s after message 0: 1.5 s of gap at sample 4.
	p := wal.NewIntervalPayload(h,
		[]int64{0, 2_500_000_000, 3_500_000_000}, []int64{0, 0, 0},
		wal.Int16Values(make([]int16, 12)), nil, nil)

	gaps := createGapArray(p)
	if len(gaps) != 2 {
		t.Fatalf("gap array = %v, want one (index, duration) pair", gaps)
	}
	if gaps[0] != 4 || gaps[1] != 1_500_000_000 {
		t.Errorf("gap = (%d, %d), want (4, 1500000000)", gaps[0], gaps[1])
	}
}

// TestCreateGapArrayVariablePeriods verifies that variable-length messages
// use their own sample counts for the expected period.
func TestCreateGapArrayVariablePeriods(t *testing.T) {
	h := pairHeader()
	h.Mode = wal.Intervals
	h.SamplesPerMessage = 0
	h.InputValueType = wal.Int16
	h.SampleFreq = 1_000_000_000 // 1 Hz → 1 s per sample

	// Message 0 has 2 samples (2 s), message 1 follows after exactly 2 s
	// (no gap), message 2 follows message 1 (1 sample, 1 s) after 3 s.
	p := wal.NewIntervalPayload(h,
		[]int64{0, 2_000_000_000, 5_000_000_000}, []int64{0, 0, 0},
		wal.Int16Values(make([]int16, 4)),
		[]uint32{2, 1, 1}, []uint32{0, 0, 0})

	gaps := createGapArray(p)
	if len(gaps) != 2 {
		t.Fatalf("gap array = %v", gaps)
	}
	if gaps[0] != 3 || gaps[1] != 2_000_000_000 {
		t.Errorf("gap = (%d, %d), want (3, 2000000000)", gaps[0], gaps[1])
	}
}

// TestTrimCorrupt verifies truncation at the first message whose declared
// size exceeds the fixed width, and the corrupt status for unknown modes.
func TestTrimCorrupt(t *testing.T) {
	h := pairHeader()
	h.Mode = wal.Intervals
	h.SamplesPerMessage = 2
	h.InputValueType = wal.Int16
	p := wal.NewIntervalPayload(h, []int64{0, 1, 2}, []int64{0, 1, 2},
		wal.Int16Values([]int16{1, 2, 3, 4, 5, 6}),
		[]uint32{2, 9, 2}, nil) // message 1 declares 9 > spm 2

	if code := trimCorrupt(p); code != 0 {
		t.Fatalf("trimCorrupt = %d", code)
	}
	if p.NumMessages() != 1 {
		t.Errorf("NumMessages after trim = %d, want 1", p.NumMessages())
	}
	if p.Values.Len() != 2 {
		t.Errorf("values after trim = %d, want 2", p.Values.Len())
	}

	bad := &wal.Payload{Header: wal.Header{Mode: 7}}
	if code := trimCorrupt(bad); code != StatusCorrupt {
		t.Errorf("unknown mode: trimCorrupt = %d, want %d", code, StatusCorrupt)
	}
}
