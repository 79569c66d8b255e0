// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_AddGetList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, store.Add(Record{Name: "alpha", Port: 9001, Dir: "/minds/alpha", Stage: StageMind}))
	require.ErrorIs(t, store.Add(Record{Name: "alpha", Port: 9002}), ErrExists)

	rec, err := store.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, 9001, rec.Port)
	assert.False(t, rec.CreatedAt.IsZero())

	assert.Len(t, store.List(), 1)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Add(Record{Name: "alpha", Port: 9001}))
	require.NoError(t, store.SetRunning("alpha", true))

	reopened, err := Open(path)
	require.NoError(t, err)
	rec, err := reopened.Get("alpha")
	require.NoError(t, err)
	assert.True(t, rec.Running)
}

func TestStore_RemoveNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := Open(path)
	require.NoError(t, err)

	assert.ErrorIs(t, store.Remove("missing"), ErrNotFound)
	assert.ErrorIs(t, store.SetRunning("missing", true), ErrNotFound)
}

func TestPortAllocator_SkipsUsedPorts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Add(Record{Name: "alpha", Port: 9000}))
	require.NoError(t, store.Add(Record{Name: "beta", Port: 9001}))

	alloc := NewPortAllocator(store, 9000, 9010)
	port, err := alloc.Allocate()
	require.NoError(t, err)
	assert.Equal(t, 9002, port)
}

func TestPortAllocator_ExhaustedRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.json")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Add(Record{Name: "alpha", Port: 9000}))

	alloc := NewPortAllocator(store, 9000, 9001)
	_, err = alloc.Allocate()
	assert.Error(t, err)
}
