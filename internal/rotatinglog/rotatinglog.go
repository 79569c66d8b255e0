// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package rotatinglog provides the size-bounded, append-only log sink
// every mind's captured stdout/stderr (and the daemon's own operational
// log) is written through. The teacher repo keeps logs in an in-memory
// ring buffer for its UI log viewer; this daemon has no UI, so logs are
// written straight through to disk via lumberjack, the rotation library
// the rest of the retrieval pack reaches for (gravitational/teleport,
// webitel/im-delivery-service, DataDog/datadog-agent).
package rotatinglog

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls rotation thresholds.
type Config struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Log is a line-oriented, append-only writer with size-bounded rotation.
type Log struct {
	w *lumberjack.Logger
}

// Open creates (or appends to) the rotating log at cfg.Path.
func Open(cfg Config) *Log {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 10
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}
	return &Log{w: &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   false,
	}}
}

// WriteLine appends a single line, stamping it with a timestamp prefix.
// Each call is a single Write, so concurrent writers never interleave a
// line's bytes — a crash mid-write can only truncate the last line, never
// corrupt the framing of prior ones.
func (l *Log) WriteLine(line string) error {
	line = strings.TrimRight(line, "\r\n")
	_, err := fmt.Fprintf(l.w, "%s %s\n", time.Now().Format(time.RFC3339), line)
	return err
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	return l.w.Close()
}
