// Copyright (C) LaussenLabs, The Hospital for Sick Children.
// All rights reserved. This file is part of atriumdb-server.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

// configSchema is the JSON schema the configuration file is validated
// against before decoding.
const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "atriumdb-server configuration",
  "type": "object",
  "properties": {
    "addr": { "type": "string" },
    "wal-dir": { "type": "string" },
    "tsc-dir": { "type": "string" },
    "db": { "type": "string" },
    "file-length-time-s": { "type": "integer", "minimum": 1 },
    "idle-timeout-s": { "type": "integer", "minimum": 1 },
    "gc-interval-min": { "type": "integer", "minimum": 1 },
    "flush-max-points": { "type": "integer", "minimum": 1 },
    "flush-max-seconds": { "type": "integer", "minimum": 1 },
    "max-open-wal-files": { "type": "integer", "minimum": 1 },
    "wait-close-time-s": { "type": "integer", "minimum": 1 },
    "scan-interval-s": { "type": "integer", "minimum": 1 },
    "wal-file-timeout-s": { "type": "integer", "minimum": 1 },
    "num-workers": { "type": "integer", "minimum": 1 },
    "delete-on-ingest": { "type": "boolean" },
    "optimal-block-num-values": { "type": "integer", "minimum": 1 },
    "aperiodic-time-compression": { "type": "integer", "minimum": 0 },
    "target-tsc-file-size": { "type": "integer", "minimum": 1 },
    "max-blocks-per-run": { "type": "integer", "minimum": 1 },
    "tsc-optimization-timeout-s": { "type": "integer", "minimum": 1 },
    "nats": {
      "type": "object",
      "properties": {
        "address": { "type": "string" },
        "username": { "type": "string" },
        "password": { "type": "string" },
        "subjects": {
          "type": "array",
          "items": { "type": "string" }
        }
      },
      "required": ["address", "subjects"]
    }
  },
  "additionalProperties": false
}`
