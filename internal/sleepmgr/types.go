// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package sleepmgr implements the SleepManager: it schedules sleep/wake
// per mind on a cron, drains in-flight work before quiescing, archives
// session files, queues messages for sleeping minds, and replays them on
// wake in arrival order.
package sleepmgr

import "time"

// CronSchedule is a mind's sleep/wake cron pair, loaded from its sleep
// config (sleep.json under the mind's state dir).
type CronSchedule struct {
	Sleep string `json:"sleep"` // cron expression
	Wake  string `json:"wake"`  // cron expression
}

// TriggerRule is an additional wake-trigger glob beyond the always-on
// defaults (a DM, or an @mention of the mind's name).
type TriggerRule struct {
	Channel string `json:"channel,omitempty"`
	Sender  string `json:"sender,omitempty"`
}

// Config is one mind's sleep configuration.
type Config struct {
	Enabled  bool          `json:"enabled"`
	Schedule CronSchedule  `json:"schedule"`
	Triggers []TriggerRule `json:"triggers,omitempty"`
}

// State is the per-mind sleep state persisted to sleep-state.json.
type State struct {
	Sleeping           bool      `json:"sleeping"`
	SleepingSince      time.Time `json:"sleepingSince,omitempty"`
	ScheduledWakeAt    time.Time `json:"scheduledWakeAt,omitempty"`
	VoluntaryWakeAt    time.Time `json:"voluntaryWakeAt,omitempty"`
	WokenByTrigger     bool      `json:"wokenByTrigger,omitempty"`
	QueuedMessageCount int       `json:"queuedMessageCount,omitempty"`
}

// WakeOpts parameterizes InitiateWake.
type WakeOpts struct {
	// Trigger is true when the wake was caused by an inbound message
	// matching a wake trigger rather than the scheduled cron, or a
	// manual/voluntary wake request.
	Trigger bool
}

// SleepOpts parameterizes InitiateSleep. Currently empty; kept as a
// distinct type so a future voluntary-sleep reason/summary field has
// somewhere to live without changing InitiateSleep's signature.
type SleepOpts struct{}
