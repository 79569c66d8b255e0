// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/volute/volute/internal/delivery"
)

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []delivery.Message
}

func (f *fakeDeliverer) RouteAndDeliver(_ context.Context, _ string, msg delivery.Message) (delivery.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	return delivery.Result{Routed: true}, nil
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestFiresExactlyOncePerMinute(t *testing.T) {
	deliverer := &fakeDeliverer{}
	s, err := New(Config{
		StatePath: filepath.Join(t.TempDir(), "scheduler-state.json"),
		Minds:     func() []string { return []string{"alpha"} },
		LoadSchedules: func(string) ([]Schedule, error) {
			return []Schedule{{ID: "daily", Cron: "*/1 * * * *", Message: "tick", Enabled: true}}, nil
		},
		Deliver: deliverer,
	})
	require.NoError(t, err)
	require.NoError(t, s.LoadSchedules("alpha"))

	base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	s.tick(context.Background(), base)
	assert.Equal(t, 1, deliverer.count())

	s.tick(context.Background(), base.Add(30*time.Second))
	assert.Equal(t, 1, deliverer.count(), "a second tick inside the same minute must not re-fire")

	s.tick(context.Background(), base.Add(time.Minute))
	assert.Equal(t, 2, deliverer.count())

	require.Len(t, deliverer.calls, 2)
	assert.Equal(t, "tick", deliverer.calls[0].Content[0].Text)
	assert.Equal(t, "system:scheduler", deliverer.calls[0].Channel)
	assert.Equal(t, "daily", deliverer.calls[0].Sender)
}

func TestDisabledScheduleNeverFires(t *testing.T) {
	deliverer := &fakeDeliverer{}
	s, err := New(Config{
		Minds: func() []string { return []string{"alpha"} },
		LoadSchedules: func(string) ([]Schedule, error) {
			return []Schedule{{ID: "off", Cron: "*/1 * * * *", Message: "tick", Enabled: false}}, nil
		},
		Deliver: deliverer,
	})
	require.NoError(t, err)
	require.NoError(t, s.LoadSchedules("alpha"))

	s.tick(context.Background(), time.Now())
	assert.Equal(t, 0, deliverer.count())
}

func TestRestartResumesFromPersistedLedger(t *testing.T) {
	statePath := filepath.Join(t.TempDir(), "scheduler-state.json")
	deliverer := &fakeDeliverer{}
	base := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)

	mkCfg := func() Config {
		return Config{
			StatePath: statePath,
			Minds:     func() []string { return []string{"alpha"} },
			LoadSchedules: func(string) ([]Schedule, error) {
				return []Schedule{{ID: "daily", Cron: "*/1 * * * *", Message: "tick", Enabled: true}}, nil
			},
			Deliver: deliverer,
		}
	}

	s1, err := New(mkCfg())
	require.NoError(t, err)
	require.NoError(t, s1.LoadSchedules("alpha"))
	s1.tick(context.Background(), base)
	assert.Equal(t, 1, deliverer.count())

	s2, err := New(mkCfg())
	require.NoError(t, err)
	require.NoError(t, s2.LoadSchedules("alpha"))
	s2.tick(context.Background(), base.Add(10*time.Second))
	assert.Equal(t, 1, deliverer.count(), "restart within the same epoch-minute must not re-fire")
}

func TestScriptScheduleFiresOutputAsMessage(t *testing.T) {
	deliverer := &fakeDeliverer{}
	s, err := New(Config{
		Minds: func() []string { return []string{"alpha"} },
		LoadSchedules: func(string) ([]Schedule, error) {
			return []Schedule{{ID: "report", Cron: "*/1 * * * *", Script: "echo hello-from-script", Enabled: true}}, nil
		},
		Deliver: deliverer,
	})
	require.NoError(t, err)
	require.NoError(t, s.LoadSchedules("alpha"))

	s.tick(context.Background(), time.Now())
	require.Equal(t, 1, deliverer.count())
	assert.Equal(t, "hello-from-script", deliverer.calls[0].Content[0].Text)
}

func TestScriptScheduleEmptyOutputIsNoOp(t *testing.T) {
	deliverer := &fakeDeliverer{}
	s, err := New(Config{
		Minds: func() []string { return []string{"alpha"} },
		LoadSchedules: func(string) ([]Schedule, error) {
			return []Schedule{{ID: "quiet", Cron: "*/1 * * * *", Script: "true", Enabled: true}}, nil
		},
		Deliver: deliverer,
	})
	require.NoError(t, err)
	require.NoError(t, s.LoadSchedules("alpha"))

	s.tick(context.Background(), time.Now())
	assert.Equal(t, 0, deliverer.count())
}
