// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tsc

// BlockRead locates one block's bytes inside a TSC file.
type BlockRead struct {
	FileID    int64
	StartByte int64
	NumBytes  int64
}

// CondenseReads coalesces touching reads of the same file into single
// larger reads. Blocks written back to back in one file are loaded with
// one I/O instead of one per block.
func CondenseReads(reads []BlockRead) []BlockRead {
	if len(reads) == 0 {
		return nil
	}

	out := make([]BlockRead, 0, len(reads))
	cur := reads[0]
	for _, r := range reads[1:] {
		if r.FileID == cur.FileID && r.StartByte == cur.StartByte+cur.NumBytes {
			cur.NumBytes += r.NumBytes
			continue
		}
		out = append(out, cur)
		cur = r
	}
	return append(out, cur)
}
