// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"encoding/binary"
	"fmt"
)

// Payload is the decoded content of one WAL file: the header plus parallel
// per-message columns. For INTERVALS files Values holds the concatenated
// samples of all messages and MessageSizes/NullOffsets give the per-message
// extents; for TIME_VALUE_PAIRS there is exactly one sample per message and
// MessageSizes/NullOffsets are nil.
type Payload struct {
	Header Header

	Nominal []int64
	Server  []int64
	Values  Values

	MessageSizes []uint32
	NullOffsets  []uint32

	// TruncatedBytes counts trailing bytes dropped during decode because
	// they were shorter than one whole record. Not part of equality.
	TruncatedBytes int
}

// NewTimeValuePayload builds an in-memory TIME_VALUE_PAIRS payload.
func NewTimeValuePayload(h Header, nominal, server []int64, values Values) *Payload {
	return &Payload{Header: h, Nominal: nominal, Server: server, Values: values}
}

// NewIntervalPayload builds an in-memory INTERVALS payload. If sizes is nil
// every message is assumed full (SamplesPerMessage values); if offsets is
// nil all null offsets are zero.
func NewIntervalPayload(h Header, nominal, server []int64, values Values, sizes, offsets []uint32) *Payload {
	if sizes == nil {
		sizes = make([]uint32, len(nominal))
		for i := range sizes {
			sizes[i] = h.SamplesPerMessage
		}
	}
	if offsets == nil {
		offsets = make([]uint32, len(nominal))
	}
	return &Payload{Header: h, Nominal: nominal, Server: server, Values: values,
		MessageSizes: sizes, NullOffsets: offsets}
}

// NumMessages returns the number of records.
func (p *Payload) NumMessages() int { return len(p.Nominal) }

// NumSamples returns the total number of stored sample values.
func (p *Payload) NumSamples() int {
	if p.Header.Mode == TimeValuePairs {
		return len(p.Nominal)
	}
	n := 0
	for _, s := range p.MessageSizes {
		n += int(s)
	}
	return n
}

// Encode serializes the payload into its canonical file form, header
// included. The result decodes back to an equal payload.
func (p *Payload) Encode() ([]byte, error) {
	hdr, err := p.Header.Encode()
	if err != nil {
		return nil, err
	}
	if len(p.Server) != len(p.Nominal) {
		return nil, fmt.Errorf("wal: %d server times for %d nominal times", len(p.Server), len(p.Nominal))
	}

	switch p.Header.Mode {
	case TimeValuePairs:
		return p.encodeTimeValuePairs(hdr)
	case Intervals:
		if p.Header.SamplesPerMessage == 0 {
			return p.encodeVariableIntervals(hdr)
		}
		return p.encodeFixedIntervals(hdr)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(p.Header.Mode))
	}
}

func (p *Payload) encodeTimeValuePairs(hdr []byte) ([]byte, error) {
	if p.Values.Len() != len(p.Nominal) {
		return nil, fmt.Errorf("wal: %d values for %d time-value pairs", p.Values.Len(), len(p.Nominal))
	}
	vs := p.Values.Type().Size()
	stride := 16 + vs

	buf := make([]byte, 0, len(hdr)+stride*len(p.Nominal))
	buf = append(buf, hdr...)
	raw := p.Values.Bytes()
	for i := range p.Nominal {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Nominal[i]))
		buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Server[i]))
		buf = append(buf, raw[i*vs:(i+1)*vs]...)
	}
	return buf, nil
}

func (p *Payload) encodeFixedIntervals(hdr []byte) ([]byte, error) {
	spm := int(p.Header.SamplesPerMessage)
	if p.Values.Len() != spm*len(p.Nominal) {
		return nil, fmt.Errorf("wal: %d values, want %d messages x %d samples",
			p.Values.Len(), len(p.Nominal), spm)
	}
	vs := p.Values.Type().Size()
	rowBytes := spm * vs

	buf := make([]byte, 0, len(hdr)+(intervalMessageHeaderSize+rowBytes)*len(p.Nominal))
	buf = append(buf, hdr...)
	raw := p.Values.Bytes()
	for i := range p.Nominal {
		buf = p.appendIntervalMessageHeader(buf, i)
		buf = append(buf, raw[i*rowBytes:(i+1)*rowBytes]...)
	}
	return buf, nil
}

func (p *Payload) encodeVariableIntervals(hdr []byte) ([]byte, error) {
	if len(p.MessageSizes) != len(p.Nominal) || len(p.NullOffsets) != len(p.Nominal) {
		return nil, fmt.Errorf("wal: message sizes/null offsets do not match %d messages", len(p.Nominal))
	}
	total := 0
	for _, s := range p.MessageSizes {
		total += int(s)
	}
	if p.Values.Len() != total {
		return nil, fmt.Errorf("wal: %d values, message sizes sum to %d", p.Values.Len(), total)
	}
	vs := p.Values.Type().Size()

	buf := make([]byte, 0, len(hdr)+intervalMessageHeaderSize*len(p.Nominal)+total*vs)
	buf = append(buf, hdr...)
	raw := p.Values.Bytes()
	off := 0
	for i := range p.Nominal {
		buf = p.appendIntervalMessageHeader(buf, i)
		n := int(p.MessageSizes[i]) * vs
		buf = append(buf, raw[off:off+n]...)
		off += n
	}
	return buf, nil
}

func (p *Payload) appendIntervalMessageHeader(buf []byte, i int) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Nominal[i]))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.Server[i]))
	buf = binary.LittleEndian.AppendUint32(buf, p.MessageSizes[i])
	buf = binary.LittleEndian.AppendUint32(buf, p.NullOffsets[i])
	return buf
}

// Decode parses one WAL file image. Files shorter than a header yield
// ErrEmptyFile. Trailing bytes shorter than one record are dropped; in
// variable-stride interval files a message whose declared values would run
// past EOF is kept with size zero and decoding stops there.
func Decode(b []byte) (*Payload, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, err
	}
	body := b[HeaderSize:]

	p := &Payload{Header: h}
	switch h.Mode {
	case TimeValuePairs:
		p.decodeTimeValuePairs(body)
	case Intervals:
		if h.SamplesPerMessage == 0 {
			p.decodeVariableIntervals(body)
		} else {
			p.decodeFixedIntervals(body)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidMode, uint8(h.Mode))
	}
	return p, nil
}

func (p *Payload) decodeTimeValuePairs(body []byte) {
	stride := p.Header.recordSize()
	vs := p.Header.InputValueType.Size()
	n := len(body) / stride
	p.TruncatedBytes = len(body) % stride

	p.Nominal = make([]int64, n)
	p.Server = make([]int64, n)
	raw := make([]byte, 0, n*vs)
	for i := 0; i < n; i++ {
		rec := body[i*stride:]
		p.Nominal[i] = int64(binary.LittleEndian.Uint64(rec))
		p.Server[i] = int64(binary.LittleEndian.Uint64(rec[8:]))
		raw = append(raw, rec[16:16+vs]...)
	}
	p.Values = NewValues(p.Header.InputValueType, raw)
}

func (p *Payload) decodeFixedIntervals(body []byte) {
	stride := p.Header.recordSize()
	rowBytes := int(p.Header.SamplesPerMessage) * p.Header.InputValueType.Size()
	n := len(body) / stride
	p.TruncatedBytes = len(body) % stride

	p.Nominal = make([]int64, n)
	p.Server = make([]int64, n)
	p.MessageSizes = make([]uint32, n)
	p.NullOffsets = make([]uint32, n)
	raw := make([]byte, 0, n*rowBytes)
	for i := 0; i < n; i++ {
		rec := body[i*stride:]
		p.Nominal[i] = int64(binary.LittleEndian.Uint64(rec))
		p.Server[i] = int64(binary.LittleEndian.Uint64(rec[8:]))
		p.MessageSizes[i] = binary.LittleEndian.Uint32(rec[16:])
		p.NullOffsets[i] = binary.LittleEndian.Uint32(rec[20:])
		raw = append(raw, rec[intervalMessageHeaderSize:intervalMessageHeaderSize+rowBytes]...)
	}
	p.Values = NewValues(p.Header.InputValueType, raw)
}

func (p *Payload) decodeVariableIntervals(body []byte) {
	vs := p.Header.InputValueType.Size()

	var raw []byte
	cursor := 0
	for cursor < len(body) {
		if cursor+intervalMessageHeaderSize > len(body) {
			break
		}
		rec := body[cursor:]
		numValues := binary.LittleEndian.Uint32(rec[16:])

		p.Nominal = append(p.Nominal, int64(binary.LittleEndian.Uint64(rec)))
		p.Server = append(p.Server, int64(binary.LittleEndian.Uint64(rec[8:])))
		p.MessageSizes = append(p.MessageSizes, numValues)
		p.NullOffsets = append(p.NullOffsets, binary.LittleEndian.Uint32(rec[20:]))
		cursor += intervalMessageHeaderSize

		valuesEnd := cursor + int(numValues)*vs
		if valuesEnd > len(body) {
			// Declared values run past EOF: keep the message header with
			// size zero and stop.
			p.MessageSizes[len(p.MessageSizes)-1] = 0
			break
		}
		raw = append(raw, body[cursor:valuesEnd]...)
		cursor = valuesEnd
	}
	p.Values = NewValues(p.Header.InputValueType, raw)
}

// Equal reports whether two payloads have byte-equal headers and
// element-equal columns.
func (p *Payload) Equal(o *Payload) bool {
	if o == nil {
		return false
	}
	ph, err1 := p.Header.Encode()
	oh, err2 := o.Header.Encode()
	if err1 != nil || err2 != nil || string(ph) != string(oh) {
		return false
	}
	if !int64sEqual(p.Nominal, o.Nominal) || !int64sEqual(p.Server, o.Server) {
		return false
	}
	if !p.Values.equal(o.Values) {
		return false
	}
	return uint32sEqual(p.MessageSizes, o.MessageSizes) && uint32sEqual(p.NullOffsets, o.NullOffsets)
}

func int64sEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func uint32sEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
