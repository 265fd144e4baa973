// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"encoding/binary"
	"math"
)

// Values is a typed column of samples. The samples are kept in their
// little-endian wire encoding so that encode/decode round-trips are
// bit-exact for every element type.
type Values struct {
	typ ValueType
	raw []byte // len == Len() * typ.Size()
}

// NewValues wraps already-encoded little-endian sample bytes.
func NewValues(typ ValueType, raw []byte) Values {
	return Values{typ: typ, raw: raw}
}

func Float32Values(v []float32) Values {
	raw := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(x))
	}
	return Values{typ: Float32, raw: raw}
}

func Float64Values(v []float64) Values {
	raw := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(raw[8*i:], math.Float64bits(x))
	}
	return Values{typ: Float64, raw: raw}
}

func Int8Values(v []int8) Values {
	raw := make([]byte, len(v))
	for i, x := range v {
		raw[i] = byte(x)
	}
	return Values{typ: Int8, raw: raw}
}

func Int16Values(v []int16) Values {
	raw := make([]byte, 2*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(x))
	}
	return Values{typ: Int16, raw: raw}
}

func Int32Values(v []int32) Values {
	raw := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(raw[4*i:], uint32(x))
	}
	return Values{typ: Int32, raw: raw}
}

func Int64Values(v []int64) Values {
	raw := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(raw[8*i:], uint64(x))
	}
	return Values{typ: Int64, raw: raw}
}

func (v Values) Type() ValueType { return v.typ }

// Len returns the number of samples.
func (v Values) Len() int {
	if s := v.typ.Size(); s > 0 {
		return len(v.raw) / s
	}
	return 0
}

// Bytes returns the wire encoding. The slice is shared, not copied.
func (v Values) Bytes() []byte { return v.raw }

// Slice returns the sub-column of samples [i, j).
func (v Values) Slice(i, j int) Values {
	s := v.typ.Size()
	return Values{typ: v.typ, raw: v.raw[i*s : j*s]}
}

// At returns sample i as float64.
func (v Values) At(i int) float64 {
	s := v.typ.Size()
	b := v.raw[i*s:]
	switch v.typ {
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	case Int8:
		return float64(int8(b[0]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	}
	return 0
}

// IntAt returns sample i widened to int64. Only meaningful for integer types.
func (v Values) IntAt(i int) int64 {
	s := v.typ.Size()
	b := v.raw[i*s:]
	switch v.typ {
	case Int8:
		return int64(int8(b[0]))
	case Int16:
		return int64(int16(binary.LittleEndian.Uint16(b)))
	case Int32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case Int64:
		return int64(binary.LittleEndian.Uint64(b))
	}
	return 0
}

// Float64s returns all samples widened to float64.
func (v Values) Float64s() []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.At(i)
	}
	return out
}

// Int64s returns all samples widened to int64. The second return is false
// for floating-point columns.
func (v Values) Int64s() ([]int64, bool) {
	if !v.typ.Integer() {
		return nil, false
	}
	out := make([]int64, v.Len())
	for i := range out {
		out[i] = v.IntAt(i)
	}
	return out, true
}

// Append returns the column extended by o's samples. Both columns must
// share an element type.
func (v Values) Append(o Values) Values {
	return Values{typ: v.typ, raw: append(v.raw, o.raw...)}
}

// equal reports element-wise equality, which for wire-encoded columns is
// byte equality.
func (v Values) equal(o Values) bool {
	if v.typ != o.typ || len(v.raw) != len(o.raw) {
		return false
	}
	for i := range v.raw {
		if v.raw[i] != o.raw[i] {
			return false
		}
	}
	return true
}
