// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeManifest(t *testing.T, dir string, specs ...Spec) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	data, err := json.Marshal(Manifest{Connectors: specs})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "connectors.json"), data, 0o644))
}

func TestLoadManifest_MissingFileIsEmpty(t *testing.T) {
	m, err := LoadManifest(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, m.Connectors)
}

func TestManager_StartAndStopConnector(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}

	home := t.TempDir()
	dir := filepath.Join(home, "alpha", "home")
	writeManifest(t, dir, Spec{
		Type:    "discord",
		Command: []string{"/bin/sh", "-c", "while true; do sleep 1; done"},
		Env:     map[string]string{"DISCORD_TOKEN": "xyz"},
	})

	m := NewManager(ManagerConfig{StateDir: filepath.Join(home, "state"), DaemonURL: "http://127.0.0.1:8420"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.StartConnectors(ctx, "alpha", dir, 9000))

	statuses := m.ListForMind("alpha")
	require.Len(t, statuses, 1)
	assert.Equal(t, "discord", statuses[0].Type)
	assert.Equal(t, StateRunning, statuses[0].State)
	assert.NotZero(t, statuses[0].PID)

	m.StopAllForMind(context.Background(), "alpha")
	assert.Empty(t, m.ListForMind("alpha"))
}

func TestManager_StartConnectorTwiceFails(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("no /bin/sh available")
	}

	home := t.TempDir()
	dir := filepath.Join(home, "alpha", "home")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	spec := Spec{Type: "slack", Command: []string{"/bin/sh", "-c", "while true; do sleep 1; done"}}

	m := NewManager(ManagerConfig{StateDir: filepath.Join(home, "state")})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, m.StartConnector(ctx, "alpha", dir, 9000, spec))
	defer m.StopAll(context.Background())

	err := m.StartConnector(ctx, "alpha", dir, 9000, spec)
	assert.Error(t, err)
}
