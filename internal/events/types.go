// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package events provides the activity event bus shared by every
// supervisor component (minds, connectors, the scheduler, sleep
// management).
package events

import (
	"context"
	"time"
)

// Event represents an immutable activity record.
type Event struct {
	ID        string                 `json:"id"`
	Version   string                 `json:"version"`
	Type      string                 `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Mind      string                 `json:"mind"`
	Payload   map[string]interface{} `json:"payload"`
}

// EventHandler processes received events.
type EventHandler func(ctx context.Context, event Event) error

// SubscriptionID uniquely identifies a subscription.
type SubscriptionID string

// EventFilter for querying event history.
type EventFilter struct {
	Types []string  // Event types to match (supports wildcards)
	Mind  string    // Filter by mind name
	Since time.Time // Events after this time
	Until time.Time // Events before this time
	Limit int       // Maximum events to return
}

// EventBus is the core event pub/sub system (the "ActivityBus").
type EventBus interface {
	// Publish emits an event to all matching subscribers.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a synchronous handler for events matching pattern.
	Subscribe(pattern string, handler EventHandler) (SubscriptionID, error)

	// SubscribeAsync registers an async handler with buffered channel. The
	// handler runs on its own goroutine so a slow subscriber never blocks
	// Publish or other subscribers.
	SubscribeAsync(pattern string, handler EventHandler, bufferSize int) (SubscriptionID, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(id SubscriptionID) error

	// History retrieves past events matching filter.
	History(filter EventFilter) ([]Event, error)

	// SetDefaultMind sets the default mind name for events that don't specify one.
	SetDefaultMind(mind string)

	// Close shuts down the event bus gracefully.
	Close() error
}

// Event type vocabulary emitted by the supervisor.
const (
	// Mind lifecycle
	EventMindStarted = "mind.started"
	EventMindStopped = "mind.stopped"
	EventMindCrashed = "mind.crashed"
	EventMindActive  = "mind.active"
	EventMindIdle    = "mind.idle"
	EventMindDone    = "mind.done"

	// Connector lifecycle
	EventConnectorStarted = "connector.started"
	EventConnectorStopped = "connector.stopped"
	EventConnectorCrashed = "connector.crashed"

	// Scheduler
	EventScheduleFired   = "schedule.fired"
	EventScheduleChanged = "schedule.changed"

	// Sleep/wake
	EventMindSleeping = "mind.sleeping"
	EventMindWaking   = "mind.waking"
	EventMindAwake    = "mind.awake"

	// Delivery
	EventDeliveryQueued   = "delivery.queued"
	EventDeliveryFlushed  = "delivery.flushed"
	EventDeliveryDropped  = "delivery.dropped"

	// Notification events (surfaced by minds/connectors to operators)
	EventNotifyDone    = "notify.done"    // Task completed
	EventNotifyBlocked = "notify.blocked" // Waiting for user input
	EventNotifyError   = "notify.error"   // Something failed
)

// RestartTrigger indicates why a mind or connector was restarted.
type RestartTrigger string

const (
	RestartTriggerManual RestartTrigger = "manual"
	RestartTriggerCrash  RestartTrigger = "crash"
	RestartTriggerWake   RestartTrigger = "wake"
)
