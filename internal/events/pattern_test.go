// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatcher_Match(t *testing.T) {
	matcher := NewPatternMatcher()

	tests := []struct {
		name      string
		pattern   string
		eventType string
		matches   bool
	}{
		{
			name:      "exact match",
			pattern:   EventMindStarted,
			eventType: EventMindStarted,
			matches:   true,
		},
		{
			name:      "exact no match",
			pattern:   EventMindStarted,
			eventType: EventMindStopped,
			matches:   false,
		},
		{
			name:      "wildcard end matches mind.idle",
			pattern:   "mind.*",
			eventType: EventMindIdle,
			matches:   true,
		},
		{
			name:      "wildcard end matches mind.crashed",
			pattern:   "mind.*",
			eventType: EventMindCrashed,
			matches:   true,
		},
		{
			name:      "wildcard end no match different prefix",
			pattern:   "mind.*",
			eventType: EventScheduleFired,
			matches:   false,
		},
		{
			name:      "wildcard start matches schedule.changed",
			pattern:   "*.changed",
			eventType: EventScheduleChanged,
			matches:   true,
		},
		{
			name:      "wildcard start no match different suffix",
			pattern:   "*.changed",
			eventType: EventScheduleFired,
			matches:   false,
		},
		{
			name:      "match all",
			pattern:   "*",
			eventType: EventDeliveryQueued,
			matches:   true,
		},
		{
			name:      "wildcard end nested",
			pattern:   "connector.*",
			eventType: "connector.discord.started",
			matches:   true,
		},
		{
			name:      "exact nested match",
			pattern:   "connector.discord.started",
			eventType: "connector.discord.started",
			matches:   true,
		},
		{
			name:      "exact nested no match",
			pattern:   "connector.discord.started",
			eventType: "connector.discord.stopped",
			matches:   false,
		},
		{
			name:      "empty pattern",
			pattern:   "",
			eventType: EventMindStarted,
			matches:   false,
		},
		{
			name:      "empty event type",
			pattern:   "mind.*",
			eventType: "",
			matches:   false,
		},
		{
			name:      "both empty",
			pattern:   "",
			eventType: "",
			matches:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := matcher.Match(tt.eventType, tt.pattern)
			assert.Equal(t, tt.matches, result)
		})
	}
}

func TestPatternMatcher_Compile(t *testing.T) {
	matcher := NewPatternMatcher()

	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"exact pattern", EventMindStarted, false},
		{"wildcard end", "mind.*", false},
		{"wildcard start", "*.changed", false},
		{"match all", "*", false},
		{"empty pattern", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compiled, err := matcher.Compile(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, compiled)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, compiled)
			}
		})
	}
}

func TestCompiledPattern_Match(t *testing.T) {
	matcher := NewPatternMatcher()

	// The sleep manager's ActivityBus subscription compiles "mind.*" once
	// and matches it against every published event.
	pattern, err := matcher.Compile("mind.*")
	require.NoError(t, err)

	tests := []struct {
		eventType string
		matches   bool
	}{
		{EventMindStarted, true},
		{EventMindIdle, true},
		{EventMindCrashed, true},
		{EventScheduleFired, false},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			assert.Equal(t, tt.matches, pattern.Match(tt.eventType))
		})
	}
}

func TestPatternMatcher_Concurrency(t *testing.T) {
	matcher := NewPatternMatcher()

	pattern, err := matcher.Compile("mind.*")
	require.NoError(t, err)

	// SleepManager and webhook forwarders both subscribe concurrently;
	// matching must not race.
	done := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		go func() {
			for j := 0; j < 1000; j++ {
				pattern.Match(EventMindIdle)
				matcher.Match(EventMindStopped, "mind.*")
			}
			done <- true
		}()
	}

	for i := 0; i < 100; i++ {
		<-done
	}
}
