// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package restart implements exponential-backoff crash bookkeeping,
// factored out of the inline restart-policy logic the teacher keeps
// inside its service manager, since here it is a named, independently
// persisted component shared by MindManager and ConnectorManager.
package restart

import (
	"sync"
	"time"

	"github.com/volute/volute/internal/atomicfile"
)

// Config holds the backoff parameters.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig matches the spec's defaults: 5 attempts, 3s base, 60s cap.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, BaseDelay: 3 * time.Second, MaxDelay: 60 * time.Second}
}

// Tracker is a per-key crash counter with exponential backoff, persisted
// to a JSON ledger so a crash-loop survives a daemon restart.
type Tracker struct {
	cfg  Config
	path string

	mu       sync.Mutex
	attempts map[string]int
}

// NewTracker creates a tracker backed by path, loading any existing
// ledger. A missing or corrupt ledger starts empty rather than failing —
// restart bookkeeping is best-effort, not safety-critical.
func NewTracker(path string, cfg Config) *Tracker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}

	t := &Tracker{cfg: cfg, path: path, attempts: make(map[string]int)}
	var ledger map[string]int
	if err := atomicfile.ReadJSON(path, &ledger); err == nil {
		for k, v := range ledger {
			t.attempts[k] = v
		}
	}
	return t
}

func (t *Tracker) save() {
	_ = atomicfile.WriteJSON(t.path, t.attempts)
}

// Crash records a crash for key and returns whether the caller should
// restart, the delay to wait before doing so, and the attempt number just
// recorded. delay = min(baseDelay * 2^(attempt-1), maxDelay).
func (t *Tracker) Crash(key string) (shouldRestart bool, delay time.Duration, attempt int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.attempts[key]++
	attempt = t.attempts[key]
	t.save()

	shouldRestart = attempt < t.cfg.MaxAttempts
	delay = t.cfg.BaseDelay << uint(attempt-1)
	if delay > t.cfg.MaxDelay || delay <= 0 {
		delay = t.cfg.MaxDelay
	}
	return shouldRestart, delay, attempt
}

// Reset clears the crash counter for key, called after a successful clean
// stop (or a clean, sustained run).
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.attempts[key]; !ok {
		return
	}
	delete(t.attempts, key)
	t.save()
}

// Attempts returns the current crash count for key.
func (t *Tracker) Attempts(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[key]
}

// Clear wipes the entire ledger, used by MindManager.StopAll's shutdown
// sequence ("clear restart attempts").
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts = make(map[string]int)
	t.save()
}
