// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wal

import (
	"fmt"
	"os"
)

// ReadFile loads one WAL file and decodes it. Files shorter than one header
// yield (nil, nil); they are treated as empty by the read pipeline.
func ReadFile(path string) (*Payload, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("wal: read %s: %w", path, err)
	}
	if len(b) < HeaderSize {
		return nil, nil
	}
	p, err := Decode(b)
	if err != nil {
		return nil, fmt.Errorf("wal: decode %s: %w", path, err)
	}
	return p, nil
}
