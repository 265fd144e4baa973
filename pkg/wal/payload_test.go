// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"math/rand"
	"testing"
)

func timeValueHeader() Header {
	h := testHeader()
	h.Mode = TimeValuePairs
	h.SamplesPerMessage = 1
	h.InputValueType = Int32
	return h
}

func fixedIntervalHeader(spm uint32) Header {
	h := testHeader()
	h.Mode = Intervals
	h.SamplesPerMessage = spm
	h.InputValueType = Int32
	return h
}

func variableIntervalHeader() Header {
	h := testHeader()
	h.Mode = Intervals
	h.SamplesPerMessage = 0
	h.InputValueType = Int16
	return h
}

// TestTimeValuePairsRoundTrip writes ten 500 Hz int32 time-value pairs and
// verifies decode(encode(p)) reproduces every column exactly.
func TestTimeValuePairsRoundTrip(t *testing.T) {
	h := timeValueHeader()
	base := h.FileStartTime
	nominal := make([]int64, 10)
	server := make([]int64, 10)
	values := make([]int32, 10)
	for i := range nominal {
		nominal[i] = base + int64(i)*2_000_000 // 2 ms apart
		server[i] = base + int64(i)*2_000_000 + 137
		values[i] = int32(-500 + i*100)
	}
	p := NewTimeValuePayload(h, nominal, server, Int32Values(values))

	raw, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if want := HeaderSize + 10*(16+4); len(raw) != want {
		t.Fatalf("encoded length = %d, want %d", len(raw), want)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(p) {
		t.Error("decoded payload differs from input")
	}

	// Re-encoding the decoded payload must reproduce the bytes.
	raw2, err := got.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != string(raw2) {
		t.Error("encode(decode(encode(p))) is not byte-identical")
	}
}

// TestFixedIntervalsRoundTrip writes 1000 interval messages of 256 int32
// samples each and verifies the round trip.
func TestFixedIntervalsRoundTrip(t *testing.T) {
	const spm = 256
	const msgs = 1000
	h := fixedIntervalHeader(spm)

	rng := rand.New(rand.NewSource(1))
	nominal := make([]int64, msgs)
	server := make([]int64, msgs)
	values := make([]int32, msgs*spm)
	for i := range nominal {
		nominal[i] = h.FileStartTime + int64(i)*512_000_000
		server[i] = nominal[i] + 999
	}
	for i := range values {
		values[i] = rng.Int31()
	}
	p := NewIntervalPayload(h, nominal, server, Int32Values(values), nil, nil)

	raw, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(p) {
		t.Error("decoded payload differs from input")
	}
	if got.NumSamples() != msgs*spm {
		t.Errorf("NumSamples = %d, want %d", got.NumSamples(), msgs*spm)
	}
}

// TestFixedIntervalsRejectsBadShape verifies that a value count that is not
// a multiple of samples_per_message fails to encode.
func TestFixedIntervalsRejectsBadShape(t *testing.T) {
	h := fixedIntervalHeader(4)
	p := NewIntervalPayload(h, []int64{0}, []int64{0}, Int32Values(make([]int32, 3)), nil, nil)
	if _, err := p.Encode(); err == nil {
		t.Error("Encode accepted 3 values for samples_per_message=4")
	}
}

func variableIntervalPayload(t *testing.T, msgs int, seed int64) *Payload {
	t.Helper()
	h := variableIntervalHeader()
	rng := rand.New(rand.NewSource(seed))

	nominal := make([]int64, msgs)
	server := make([]int64, msgs)
	sizes := make([]uint32, msgs)
	offsets := make([]uint32, msgs)
	var values []int16
	for i := range nominal {
		nominal[i] = h.FileStartTime + int64(i)*1_000_000_000
		server[i] = nominal[i] + 42
		sizes[i] = uint32(rng.Intn(1000) + 1)
		for range sizes[i] {
			values = append(values, int16(rng.Int()))
		}
	}
	return NewIntervalPayload(h, nominal, server, Int16Values(values), sizes, offsets)
}

// TestVariableIntervalsRoundTrip round-trips 100 variable-length messages.
func TestVariableIntervalsRoundTrip(t *testing.T) {
	p := variableIntervalPayload(t, 100, 7)
	raw, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Equal(p) {
		t.Error("decoded payload differs from input")
	}
}

// TestVariableIntervalsTruncatedTail drops the last byte of an encoded
// variable-interval file. The decode must return 99 complete messages plus
// the final message header with its size forced to zero.
func TestVariableIntervalsTruncatedTail(t *testing.T) {
	p := variableIntervalPayload(t, 100, 11)
	raw, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Decode(raw[:len(raw)-1])
	if err != nil {
		t.Fatal(err)
	}
	if got.NumMessages() != 100 {
		t.Fatalf("NumMessages = %d, want 100", got.NumMessages())
	}
	for i := range 99 {
		if got.MessageSizes[i] != p.MessageSizes[i] {
			t.Fatalf("message %d size = %d, want %d", i, got.MessageSizes[i], p.MessageSizes[i])
		}
	}
	if got.MessageSizes[99] != 0 {
		t.Errorf("truncated terminator size = %d, want 0", got.MessageSizes[99])
	}
	wantSamples := p.NumSamples() - int(p.MessageSizes[99])
	if got.NumSamples() != wantSamples {
		t.Errorf("NumSamples = %d, want %d", got.NumSamples(), wantSamples)
	}
}

// TestFixedStrideTruncationSweep checks the truncation property for every
// cut point k in [HeaderSize, len): the decode returns the largest whole
// number of records that fit, and never fails.
func TestFixedStrideTruncationSweep(t *testing.T) {
	h := timeValueHeader()
	nominal := []int64{10, 20, 30, 40, 50}
	server := []int64{11, 21, 31, 41, 51}
	p := NewTimeValuePayload(h, nominal, server, Int32Values([]int32{1, 2, 3, 4, 5}))

	raw, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	stride := 16 + 4
	for k := HeaderSize; k < len(raw); k++ {
		got, err := Decode(raw[:k])
		if err != nil {
			t.Fatalf("Decode failed at cut %d: %v", k, err)
		}
		want := (k - HeaderSize) / stride
		if got.NumMessages() != want {
			t.Fatalf("cut %d: NumMessages = %d, want %d", k, got.NumMessages(), want)
		}
		for i := 0; i < want; i++ {
			if got.Nominal[i] != nominal[i] {
				t.Fatalf("cut %d: nominal[%d] = %d", k, i, got.Nominal[i])
			}
		}
	}
}

// TestDecodeShortFile verifies that anything shorter than a header is
// rejected with ErrEmptyFile.
func TestDecodeShortFile(t *testing.T) {
	if _, err := Decode(make([]byte, HeaderSize-1)); err != ErrEmptyFile {
		t.Errorf("Decode(short) error = %v, want ErrEmptyFile", err)
	}
}

// TestValuesAppend verifies column concatenation keeps the wire encoding
// and element order.
func TestValuesAppend(t *testing.T) {
	a := Int16Values([]int16{1, 2})
	b := Int16Values([]int16{3})
	got := a.Append(b)

	if got.Type() != Int16 || got.Len() != 3 {
		t.Fatalf("appended column: type %v, len %d", got.Type(), got.Len())
	}
	for i, want := range []int64{1, 2, 3} {
		if got.IntAt(i) != want {
			t.Errorf("sample %d = %d, want %d", i, got.IntAt(i), want)
		}
	}
	if !got.equal(Int16Values([]int16{1, 2, 3})) {
		t.Error("appended column not byte-equal to the direct encoding")
	}
}
