// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_ValidConfigPasses(t *testing.T) {
	cfg := &Config{
		Server:  ServerConfig{Port: 8420, Host: "127.0.0.1"},
		Restart: RestartConfig{MaxAttempts: 5, BaseDelay: "3s", MaxDelay: "60s"},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
	assert.NoError(t, NewValidator().Validate(cfg))
}

func TestValidator_RejectsBadPort(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: 70000}}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidator_RejectsBadLoggingLevel(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "verbose"}}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "logging.level")
}

func TestValidator_RejectsMalformedDurations(t *testing.T) {
	cfg := &Config{Restart: RestartConfig{BaseDelay: "soon"}}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restart.base_delay")
}

func TestValidator_RejectsDuplicateWebhookIDs(t *testing.T) {
	cfg := &Config{
		Events: EventsConfig{Webhooks: []WebhookConfig{
			{ID: "w1", URL: "http://a"},
			{ID: "w1", URL: "http://b"},
		}},
	}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate webhook id")
}

func TestValidator_RejectsWebhookMissingURL(t *testing.T) {
	cfg := &Config{Events: EventsConfig{Webhooks: []WebhookConfig{{ID: "w1"}}}}
	err := NewValidator().Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "events.webhooks[0].url")
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("7d")
	require.NoError(t, err)
	assert.Equal(t, 168*3600e9, float64(d))

	d, err = parseDurationWithDays("30s")
	require.NoError(t, err)
	assert.Equal(t, "30s", d.String())
}
