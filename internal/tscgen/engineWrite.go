// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tscgen

import (
	"math"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/LaussenLabs/atriumdb-server/internal/metrics"
	"github.com/LaussenLabs/atriumdb-server/internal/repository"
	"github.com/LaussenLabs/atriumdb-server/pkg/tsc"
	"github.com/LaussenLabs/atriumdb-server/pkg/wal"
)

// EngineWriter converts merged WAL payloads into engine write requests. It
// resolves measure and device ids (inserting them on first sight), builds
// the time column as a gap array or raw timestamps, and reports the
// pipeline status codes.
type EngineWriter struct {
	Repo   *repository.IndexRepository
	Engine *tsc.Engine
	Locks  *tsc.StreamLocks

	// Options is the codec baseline; aperiodic streams get the raised
	// time-compression level on a per-call copy.
	Options                  tsc.WriteOptions
	AperiodicTimeCompression int
}

// Ingest is the pipeline's IngestFunc.
func (w *EngineWriter) Ingest(p *wal.Payload) int {
	h := p.Header

	if code := trimCorrupt(p); code != 0 {
		return code
	}
	if p.NumMessages() == 0 {
		return StatusEmpty
	}

	measureID, created, err := w.Repo.GetOrCreateMeasure(h.MeasureName, int64(h.SampleFreq), h.MeasureUnits)
	if err != nil {
		cclog.Errorf("[TSCGEN]> insert measure %q: %v", h.MeasureName, err)
		return StatusFatal
	}
	if created {
		metrics.MeasuresInserted.Inc()
	}
	deviceID, created, err := w.Repo.GetOrCreateDevice(h.DeviceName)
	if err != nil {
		cclog.Errorf("[TSCGEN]> insert device %q: %v", h.DeviceName, err)
		return StatusFatal
	}
	if created {
		metrics.DevicesInserted.Inc()
	}

	if w.Locks != nil {
		w.Locks.Lock(measureID, deviceID)
		defer w.Locks.Unlock(measureID, deviceID)
	}

	startTime := p.Nominal[0]
	dup, err := w.Repo.HasBlockAt(measureID, deviceID, startTime)
	if err != nil {
		cclog.Errorf("[TSCGEN]> duplicate check: %v", err)
		return StatusFatal
	}
	if dup {
		cclog.Warnf("[TSCGEN]> duplicate data for measure %d, device %d at %d",
			measureID, deviceID, startTime)
		return StatusDuplicate
	}

	req := &tsc.WriteRequest{
		MeasureID: measureID,
		DeviceID:  deviceID,
		StartTime: startTime,
		FreqNhz:   int64(h.SampleFreq),
		ScaleB:    h.Scale[0],
		ScaleM:    h.Scale[1],
		Options:   w.Options,
	}

	values := storedValues(p)
	if h.InputValueType.Integer() {
		req.IntValues, _ = values.Int64s()
		req.RawValueType = tsc.VTypeInt64
		req.EncodedValueType = tsc.VTypeDeltaInt64
	} else {
		req.FloatValues = values.Float64s()
		req.RawValueType = tsc.VTypeDouble
		req.EncodedValueType = tsc.VTypeDouble
	}

	if h.SampleFreq == 0 {
		// Aperiodic: no nominal period exists, so ship the raw timestamps
		// and lean harder on the time compressor.
		req.TimeData = p.Nominal
		req.RawTimeType = tsc.TTypeTimestampArrayInt64Nano
		req.EncodedTimeType = tsc.TTypeTimestampArrayInt64Nano
		req.Options.TimeCompressionLevel = w.AperiodicTimeCompression
	} else {
		req.TimeData = createGapArray(p)
		req.RawTimeType = tsc.TTypeGapArrayInt64IndexDurationNano
		req.EncodedTimeType = tsc.TTypeGapArrayInt64IndexDurationNano
	}

	if err := w.Engine.Write(req); err != nil {
		cclog.Errorf("[TSCGEN]> engine write measure %d, device %d: %v", measureID, deviceID, err)
		return StatusFatal
	}
	return StatusOK
}

// trimCorrupt drops messages from the first one whose declared size or
// null offset exceeds the fixed message width. Returns StatusCorrupt only
// for an unknown mode.
func trimCorrupt(p *wal.Payload) int {
	h := p.Header
	switch h.Mode {
	case wal.TimeValuePairs:
		return 0
	case wal.Intervals:
		if h.SamplesPerMessage == 0 {
			return 0
		}
		for i := range p.MessageSizes {
			if p.MessageSizes[i] > h.SamplesPerMessage || p.NullOffsets[i] > h.SamplesPerMessage {
				cclog.Warnf("[TSCGEN]> corrupt interval data at message %d, ingesting data before it", i)
				truncateMessages(p, i)
				return 0
			}
		}
		return 0
	default:
		cclog.Errorf("[TSCGEN]> header mode %d is not a known mode", uint8(h.Mode))
		return StatusCorrupt
	}
}

func truncateMessages(p *wal.Payload, n int) {
	rowBytes := int(p.Header.SamplesPerMessage) * p.Header.InputValueType.Size()
	p.Nominal = p.Nominal[:n]
	p.Server = p.Server[:n]
	p.Values = wal.NewValues(p.Header.InputValueType, p.Values.Bytes()[:n*rowBytes])
	p.MessageSizes = p.MessageSizes[:n]
	p.NullOffsets = p.NullOffsets[:n]
}

// storedValues flattens the payload to the samples the engine stores: for
// interval messages only the first num_values samples of each message
// count.
func storedValues(p *wal.Payload) wal.Values {
	h := p.Header
	if h.Mode == wal.TimeValuePairs || h.SamplesPerMessage == 0 {
		// Already exactly the stored samples.
		return p.Values
	}

	vs := h.InputValueType.Size()
	row := int(h.SamplesPerMessage) * vs
	out := make([]byte, 0, p.Values.Len()*vs)
	src := p.Values.Bytes()
	full := true
	for i := range p.MessageSizes {
		n := int(p.MessageSizes[i]) * vs
		if n != row {
			full = false
		}
		out = append(out, src[i*row:i*row+n]...)
	}
	if full {
		return p.Values
	}
	return wal.NewValues(h.InputValueType, out)
}

// createGapArray converts message start times to (sample_index, extra_ns)
// pairs, flattened, marking where the delta between consecutive messages
// exceeds the message period. For variable-length messages the period
// follows each message's own sample count.
func createGapArray(p *wal.Payload) []int64 {
	h := p.Header
	var gaps []int64

	sampleIdx := int64(0)
	for i := 0; i+1 < len(p.Nominal); i++ {
		n := messageSampleCount(p, i)
		sampleIdx += n

		period := int64(math.Round(float64(n) * 1e18 / float64(h.SampleFreq)))
		delta := p.Nominal[i+1] - p.Nominal[i]
		if delta != period {
			gaps = append(gaps, sampleIdx, delta-period)
		}
	}
	return gaps
}

func messageSampleCount(p *wal.Payload, i int) int64 {
	switch {
	case p.Header.Mode == wal.TimeValuePairs:
		return 1
	case p.Header.SamplesPerMessage > 0:
		return int64(p.Header.SamplesPerMessage)
	default:
		return int64(p.MessageSizes[i])
	}
}
