// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validator validates configuration against schema rules.
type Validator struct{}

// NewValidator creates a new config validator.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidationError contains multiple validation failures.
type ValidationError struct {
	Errors []FieldError
}

// FieldError represents a single field validation error.
type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	var msgs []string
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
	}
	return strings.Join(msgs, "; ")
}

// IsEmpty returns true if there are no validation errors.
func (e *ValidationError) IsEmpty() bool {
	return len(e.Errors) == 0
}

// Add adds a field error.
func (e *ValidationError) Add(field, message string) {
	e.Errors = append(e.Errors, FieldError{Field: field, Message: message})
}

// Validate checks configuration validity.
func (v *Validator) Validate(cfg *Config) error {
	errs := &ValidationError{}

	v.validateServer(cfg, errs)
	v.validateRestart(cfg, errs)
	v.validateLogging(cfg, errs)
	v.validateDurations(cfg, errs)
	v.validateWebhooks(cfg, errs)

	if errs.IsEmpty() {
		return nil
	}
	return errs
}

func (v *Validator) validateServer(cfg *Config, errs *ValidationError) {
	if cfg.Server.Port != 0 {
		if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
			errs.Add("server.port", "must be between 0 and 65535")
		}
	}
}

func (v *Validator) validateRestart(cfg *Config, errs *ValidationError) {
	if cfg.Restart.MaxAttempts < 0 {
		errs.Add("restart.max_attempts", "must not be negative")
	}
	for field, s := range map[string]string{
		"restart.base_delay": cfg.Restart.BaseDelay,
		"restart.max_delay":  cfg.Restart.MaxDelay,
	} {
		if s == "" {
			continue
		}
		if d, err := time.ParseDuration(s); err != nil {
			errs.Add(field, fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add(field, "must be positive")
		}
	}
}

func (v *Validator) validateLogging(cfg *Config, errs *ValidationError) {
	if cfg.Logging.Level != "" {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[cfg.Logging.Level] {
			errs.Add("logging.level", fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", cfg.Logging.Level))
		}
	}

	if cfg.Logging.Format != "" {
		validFormats := map[string]bool{
			"json": true,
			"text": true,
		}
		if !validFormats[cfg.Logging.Format] {
			errs.Add("logging.format", fmt.Sprintf("invalid format '%s', must be one of: json, text", cfg.Logging.Format))
		}
	}
}

func (v *Validator) validateDurations(cfg *Config, errs *ValidationError) {
	if cfg.Watch.Debounce != "" {
		d, err := time.ParseDuration(cfg.Watch.Debounce)
		if err != nil {
			errs.Add("watch.debounce", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("watch.debounce", "must be positive")
		}
	}

	if cfg.Events.History.MaxAge != "" {
		d, err := time.ParseDuration(cfg.Events.History.MaxAge)
		if err != nil {
			errs.Add("events.history.max_age", fmt.Sprintf("invalid duration format: %s", err))
		} else if d < 0 {
			errs.Add("events.history.max_age", "must be positive")
		}
	}
}

func (v *Validator) validateWebhooks(cfg *Config, errs *ValidationError) {
	seenIDs := make(map[string]bool)
	for i, wh := range cfg.Events.Webhooks {
		prefix := fmt.Sprintf("events.webhooks[%d]", i)

		if wh.URL == "" {
			errs.Add(prefix+".url", "is required")
		}
		if wh.ID != "" {
			if seenIDs[wh.ID] {
				errs.Add(prefix+".id", fmt.Sprintf("duplicate webhook id '%s'", wh.ID))
			}
			seenIDs[wh.ID] = true
		}
		if wh.Timeout != "" {
			if d, err := time.ParseDuration(wh.Timeout); err != nil {
				errs.Add(prefix+".timeout", fmt.Sprintf("invalid duration format: %s", err))
			} else if d < 0 {
				errs.Add(prefix+".timeout", "must be positive")
			}
		}
	}
}

// parseDurationWithDays parses a duration string that may include days
// (e.g., "7d"). Nothing in the daemon calls it outside this package's tests.
func parseDurationWithDays(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}
