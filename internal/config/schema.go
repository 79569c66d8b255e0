// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package config handles the daemon's HJSON startup configuration.
package config

import "time"

// Config is the root configuration structure for the daemon, loaded once
// at startup from volute.hjson (or volute.json).
type Config struct {
	Version   string          `json:"version"`
	Server    ServerConfig    `json:"server"`
	Restart   RestartConfig   `json:"restart"`
	Isolation IsolationConfig `json:"isolation"`
	Events    EventsConfig    `json:"events"`
	Watch     WatchConfig     `json:"watch"`
	Logging   LoggingConfig   `json:"logging"`
}

// ServerConfig configures the daemon's HTTP API.
type ServerConfig struct {
	Port int    `json:"port"`
	Host string `json:"host"`
	// Token, when set, pins the bearer token persisted to daemon.json
	// instead of generating a random one on first start.
	Token string `json:"token"`
}

// RestartConfig configures the crash-backoff policy of the single
// RestartTracker shared by every mind; there is no per-mind override.
type RestartConfig struct {
	MaxAttempts int    `json:"max_attempts"`
	BaseDelay   string `json:"base_delay"`
	MaxDelay    string `json:"max_delay"`
}

// IsolationConfig configures whether spawned minds run under their own
// dedicated OS user/group.
type IsolationConfig struct {
	Enabled    bool   `json:"enabled"`
	UserPrefix string `json:"user_prefix"` // e.g. "mind-" -> "mind-alpha"
}

// EventsConfig configures the activity event system.
type EventsConfig struct {
	History  HistoryConfig   `json:"history"`
	Webhooks []WebhookConfig `json:"webhooks"`
}

// HistoryConfig configures event history retention.
type HistoryConfig struct {
	MaxEvents int    `json:"max_events"`
	MaxAge    string `json:"max_age"`
}

// WebhookConfig defines an outbound activity-event webhook.
type WebhookConfig struct {
	ID       string   `json:"id"`
	URL      string   `json:"url"`
	Token    string   `json:"token"`
	Patterns []string `json:"patterns"`
	Timeout  string   `json:"timeout"`
}

// WatchConfig configures file-watch debouncing (routes.json/schedules.json
// hot reload).
type WatchConfig struct {
	Debounce string `json:"debounce"`
}

// LoggingConfig configures daemon (not per-mind) logging.
type LoggingConfig struct {
	Level  string `json:"level"`  // "debug", "info", "warn", "error"
	Format string `json:"format"` // "json", "text"
}

// ParseDuration parses a duration string, returning a default if empty or
// invalid.
func ParseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}
