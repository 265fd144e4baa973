// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import "fmt"

// Mode selects the record layout of a WAL file body.
type Mode uint8

const (
	// TimeValuePairs stores one (nominal_time, server_time, value) record
	// per sample. Used for aperiodic metrics.
	TimeValuePairs Mode = 0

	// Intervals stores one record per message: two start timestamps, a
	// value count, a null offset and the sample values. Used for waveforms.
	Intervals Mode = 1
)

func (m Mode) Valid() bool {
	return m == TimeValuePairs || m == Intervals
}

func (m Mode) String() string {
	switch m {
	case TimeValuePairs:
		return "TIME_VALUE_PAIRS"
	case Intervals:
		return "INTERVALS"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

// ValueType identifies the element type of the sample values in a WAL file.
type ValueType uint8

const (
	Float32 ValueType = 0
	Float64 ValueType = 1
	Int8    ValueType = 2
	Int16   ValueType = 3
	Int32   ValueType = 4
	Int64   ValueType = 5
)

// Size returns the byte width of one element, or 0 for an invalid type.
func (t ValueType) Size() int {
	switch t {
	case Float32:
		return 4
	case Float64:
		return 8
	case Int8:
		return 1
	case Int16:
		return 2
	case Int32:
		return 4
	case Int64:
		return 8
	default:
		return 0
	}
}

func (t ValueType) Valid() bool {
	return t <= Int64
}

// Integer reports whether the type holds integer samples.
func (t ValueType) Integer() bool {
	return t >= Int8 && t <= Int64
}

func (t ValueType) String() string {
	switch t {
	case Float32:
		return "FLOAT32"
	case Float64:
		return "FLOAT64"
	case Int8:
		return "INT8"
	case Int16:
		return "INT16"
	case Int32:
		return "INT32"
	case Int64:
		return "INT64"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

// ScaleType identifies the transform between stored and true sample values.
type ScaleType uint8

const (
	// ScaleNone stores values as-is.
	ScaleNone ScaleType = 0

	// ScaleLinear stores v' = (v - scale_0) / scale_1; true values are
	// recovered as v = v'*scale_1 + scale_0.
	ScaleLinear ScaleType = 1
)

func (s ScaleType) String() string {
	switch s {
	case ScaleNone:
		return "NONE"
	case ScaleLinear:
		return "LINEAR"
	default:
		return fmt.Sprintf("ScaleType(%d)", uint8(s))
	}
}
