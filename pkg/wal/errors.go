// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import "errors"

var (
	// ErrUnsupportedVersion is returned when a header's version byte is not
	// one of the supported format versions.
	ErrUnsupportedVersion = errors.New("wal: unsupported header version")

	// ErrTypeMismatch is returned when the element type of values handed to
	// a writer does not match the header the writer was opened with.
	ErrTypeMismatch = errors.New("wal: value type does not match header")

	// ErrEmptyFile is returned when a file is shorter than one header.
	ErrEmptyFile = errors.New("wal: file shorter than header")

	// ErrInvalidMode is returned when a header carries an unknown mode byte.
	ErrInvalidMode = errors.New("wal: invalid mode")

	// ErrInvalidValueType is returned when a header carries an unknown value
	// type byte.
	ErrInvalidValueType = errors.New("wal: invalid value type")

	// ErrHeaderNotWritten is returned when a record write is attempted
	// before WriteHeader.
	ErrHeaderNotWritten = errors.New("wal: header not written")

	// ErrClosed is returned when writing to a closed writer.
	ErrClosed = errors.New("wal: writer closed")
)
