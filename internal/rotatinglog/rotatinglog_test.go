// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package rotatinglog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_WriteLineAppendsTimestampedEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mind.log")
	log := Open(Config{Path: path})

	require.NoError(t, log.WriteLine("listening on :9001"))
	require.NoError(t, log.WriteLine("request handled\r\n"))
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "listening on :9001")
	assert.Contains(t, lines[1], "request handled")
	assert.False(t, strings.HasSuffix(lines[1], "\r"))
}

func TestLog_DefaultsApplied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mind.log")
	log := Open(Config{Path: path})
	assert.Equal(t, 10, log.w.MaxSize)
	assert.Equal(t, 5, log.w.MaxBackups)
}
