// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package walwriter multiplexes an unbounded stream of producer messages
// into a bounded pool of open WAL writers keyed by header fingerprint.
package walwriter

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/LaussenLabs/atriumdb-server/pkg/wal"
)

// Producer message types.
const (
	MsgTypeWaveform = "wav"
	MsgTypeMetric   = "met"
)

// ProducerMessage is one decoded message from a sensor producer. Waveform
// messages ("wav") carry a burst of samples in Data as '^'-delimited
// decimals; metric messages ("met") carry a single decimal value.
type ProducerMessage struct {
	DeviceName   string
	MsgType      string
	MeasureName  string
	MeasureUnits string
	Freq         float64 // Hz; 0 for aperiodic metrics
	DataTime     int64   // nanoseconds, source-reported
	ServerTime   int64   // nanoseconds, stamped at ingest
	Data         string

	// Linear calibration from the producer. Both must be non-zero for the
	// waveform to be stored as scaled integers.
	ScaleM float64
	ScaleB float64
}

// ParseMessage derives the WAL header and sample column for a producer
// message. fileLengthTime is the file bucket width in seconds: the header's
// file_start_time is DataTime floored to a bucket boundary so that one
// stream maps to one fingerprint per bucket across restarts.
func ParseMessage(msg *ProducerMessage, fileLengthTime int64) (wal.Header, wal.Values, error) {
	h := wal.Header{
		Version:      wal.Version,
		DeviceName:   msg.DeviceName,
		SampleFreq:   uint64(math.Round(msg.Freq * 1e9)),
		MeasureName:  msg.MeasureName,
		MeasureUnits: msg.MeasureUnits,
	}

	sec := msg.DataTime / 1_000_000_000
	h.FileStartTime = (sec - sec%fileLengthTime) * 1_000_000_000

	switch msg.MsgType {
	case MsgTypeWaveform:
		samples, err := parseWaveform(msg.Data)
		if err != nil {
			return h, wal.Values{}, err
		}
		h.Mode = wal.Intervals
		h.SamplesPerMessage = uint32(len(samples))

		if msg.ScaleM != 0 && msg.ScaleB != 0 {
			// Store calibrated integers; the true values are recovered as
			// v*scale_1 + scale_0.
			h.InputValueType = wal.Int16
			h.TrueValueType = wal.Float64
			h.ScaleType = wal.ScaleLinear
			h.Scale[0] = msg.ScaleB
			h.Scale[1] = msg.ScaleM

			ints := make([]int16, len(samples))
			for i, v := range samples {
				ints[i] = int16(math.RoundToEven((v - msg.ScaleB) / msg.ScaleM))
			}
			return h, wal.Int16Values(ints), nil
		}

		h.InputValueType = wal.Float64
		h.TrueValueType = wal.Float64
		h.ScaleType = wal.ScaleNone
		return h, wal.Float64Values(samples), nil

	case MsgTypeMetric:
		v, err := strconv.ParseFloat(strings.TrimSpace(msg.Data), 64)
		if err != nil {
			return h, wal.Values{}, fmt.Errorf("walwriter: metric value %q: %w", msg.Data, err)
		}
		h.Mode = wal.TimeValuePairs
		h.SamplesPerMessage = 1
		h.InputValueType = wal.Float64
		h.TrueValueType = wal.Float64
		h.ScaleType = wal.ScaleNone
		return h, wal.Float64Values([]float64{v}), nil

	default:
		return h, wal.Values{}, fmt.Errorf("walwriter: unknown message type %q", msg.MsgType)
	}
}

func parseWaveform(data string) ([]float64, error) {
	parts := strings.Split(data, "^")
	samples := make([]float64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil, fmt.Errorf("walwriter: waveform sample %q: %w", p, err)
		}
		samples = append(samples, v)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("walwriter: waveform message carries no samples")
	}
	return samples, nil
}
