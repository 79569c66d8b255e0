// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "volute.hjson")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoader_LoadParsesHJSON(t *testing.T) {
	path := writeConfig(t, `{
		// this is a comment, only hjson allows it
		version: "1"
		server: {
			port: 9100
			host: "0.0.0.0"
		}
	}`)

	cfg, err := NewLoader().Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "1", cfg.Version)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
}

func TestLoader_LoadWithDefaultsFillsGaps(t *testing.T) {
	path := writeConfig(t, `{version: "1"}`)

	cfg, err := NewLoader().LoadWithDefaults(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 8420, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 5, cfg.Restart.MaxAttempts)
	assert.Equal(t, "3s", cfg.Restart.BaseDelay)
	assert.Equal(t, "60s", cfg.Restart.MaxDelay)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 10000, cfg.Events.History.MaxEvents)
}

func TestLoader_LoadMissingFile(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), filepath.Join(t.TempDir(), "missing.hjson"))
	assert.Error(t, err)
}

func TestLoader_FindConfigPrefersHJSON(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { require.NoError(t, os.Chdir(wd)) }()
	require.NoError(t, os.Chdir(dir))

	require.NoError(t, os.WriteFile("volute.json", []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile("volute.hjson", []byte(`{}`), 0o644))

	found, err := NewLoader().FindConfig()
	require.NoError(t, err)
	assert.Equal(t, "volute.hjson", filepath.Base(found))
}
