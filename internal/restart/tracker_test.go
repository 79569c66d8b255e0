// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package restart

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_BackoffSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash-attempts.json")
	tr := NewTracker(path, DefaultConfig())

	wantDelays := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second}
	for i, want := range wantDelays {
		should, delay, attempt := tr.Crash("alpha")
		assert.True(t, should, "crash %d should restart", i+1)
		assert.Equal(t, want, delay, "crash %d delay", i+1)
		assert.Equal(t, i+1, attempt)
	}

	// Fifth crash reaches maxAttempts: no further restart.
	should, _, attempt := tr.Crash("alpha")
	assert.False(t, should)
	assert.Equal(t, 5, attempt)
}

func TestTracker_ResetClearsCounter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash-attempts.json")
	tr := NewTracker(path, DefaultConfig())

	tr.Crash("alpha")
	tr.Crash("alpha")
	assert.Equal(t, 2, tr.Attempts("alpha"))

	tr.Reset("alpha")
	assert.Equal(t, 0, tr.Attempts("alpha"))
}

func TestTracker_PersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash-attempts.json")
	tr := NewTracker(path, DefaultConfig())
	tr.Crash("alpha")
	tr.Crash("alpha")

	reloaded := NewTracker(path, DefaultConfig())
	assert.Equal(t, 2, reloaded.Attempts("alpha"))
}

func TestTracker_DelayCapsAtMaxDelay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash-attempts.json")
	tr := NewTracker(path, Config{MaxAttempts: 10, BaseDelay: 3 * time.Second, MaxDelay: 20 * time.Second})

	for i := 0; i < 4; i++ {
		tr.Crash("alpha")
	}
	_, delay, _ := tr.Crash("alpha")
	assert.Equal(t, 20*time.Second, delay)
}

func TestTracker_KeysAreIndependent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash-attempts.json")
	tr := NewTracker(path, DefaultConfig())

	tr.Crash("alpha")
	tr.Crash("alpha")
	tr.Crash("beta")

	assert.Equal(t, 2, tr.Attempts("alpha"))
	assert.Equal(t, 1, tr.Attempts("beta"))
}

func TestTracker_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash-attempts.json")
	tr := NewTracker(path, DefaultConfig())
	tr.Crash("alpha")
	tr.Crash("beta")

	tr.Clear()
	assert.Equal(t, 0, tr.Attempts("alpha"))
	assert.Equal(t, 0, tr.Attempts("beta"))

	reloaded := NewTracker(path, DefaultConfig())
	require.Equal(t, 0, reloaded.Attempts("alpha"))
}
