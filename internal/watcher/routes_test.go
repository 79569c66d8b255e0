// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volute/volute/internal/events"
)

func TestRoutesWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{HistoryMaxEvents: 10, HistoryMaxAge: time.Hour})
	t.Cleanup(func() { _ = bus.Close() })

	fired := make(chan events.Event, 4)
	sub, err := bus.SubscribeAsync(events.EventScheduleChanged, func(_ context.Context, e events.Event) error {
		fired <- e
		return nil
	}, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Unsubscribe(sub) })

	w, err := NewRoutesWatcher(bus, 20*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	var reloads atomic.Int32
	require.NoError(t, w.Watch("alpha", path, events.EventScheduleChanged, func(mind string) error {
		reloads.Add(1)
		return nil
	}))

	require.NoError(t, os.WriteFile(path, []byte(`{"rules":[]}`), 0o644))

	select {
	case e := <-fired:
		assert.Equal(t, "alpha", e.Mind)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload event")
	}
	assert.Equal(t, int32(1), reloads.Load())
}

func TestRoutesWatcher_UnwatchStopsReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "routes.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	w, err := NewRoutesWatcher(nil, 10*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	var reloads atomic.Int32
	require.NoError(t, w.Watch("alpha", path, "", func(string) error {
		reloads.Add(1)
		return nil
	}))
	require.NoError(t, w.Unwatch(path))

	require.NoError(t, os.WriteFile(path, []byte(`{"rules":[]}`), 0o644))
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, int32(0), reloads.Load())
}
