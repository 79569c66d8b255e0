// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package delivery implements the DeliveryManager: the stateful layer on
// top of the pure internal/routing.Route decision. It tracks per-session
// activity, buffers batched messages, applies new-speaker interrupts, and
// queues messages for sleeping minds.
package delivery

import (
	"context"
	"time"
)

// ContentPart is one block of a message's content, mirroring the mind
// child API's {type: "text"|"image", ...} wire shape.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	URL  string `json:"url,omitempty"`
}

// Message is an inbound message handed to RouteAndDeliver, matching the
// body of POST /api/minds/{name}/message.
type Message struct {
	Content          []ContentPart `json:"content"`
	Channel          string        `json:"channel"`
	Sender           string        `json:"sender"`
	Platform         string        `json:"platform,omitempty"`
	IsDM             bool          `json:"isDM,omitempty"`
	ChannelName      string        `json:"channelName,omitempty"`
	ServerName       string        `json:"serverName,omitempty"`
	ParticipantCount int           `json:"participantCount,omitempty"`
}

// Result is RouteAndDeliver's return value, the union described in spec
// §4.9.
type Result struct {
	Routed      bool
	Reason      string
	Destination string // "mind" | "file"
	Mode        string // "immediate" | "batch" | "gated"
	Session     string
	Path        string
	Queued      bool // true when the mind was sleeping and this was enqueued
}

// SleepChecker is the subset of SleepManager's contract DeliveryManager
// depends on. Declared locally (rather than importing internal/sleepmgr)
// so sleepmgr can depend on delivery.Manager to flush queued messages on
// wake without creating an import cycle.
type SleepChecker interface {
	IsSleeping(mind string) bool
	CheckWakeTrigger(mind, channel, sender string, isDM bool, text string) bool
	RequestWake(ctx context.Context, mind string, triggered bool)
}

// QueueWriter persists a message for a sleeping mind. Implemented by
// internal/queue against the durable delivery_queue table.
type QueueWriter interface {
	Enqueue(ctx context.Context, row QueueRow) error
}

// QueueRow is one durable delivery_queue row.
type QueueRow struct {
	Mind    string
	Session string
	Channel string
	Sender  string
	Status  string
	Payload string // JSON-encoded Message
}

// PortLookup resolves a mind's locally-bound port, e.g. backed by
// registry.Store.Get.
type PortLookup func(mind string) (port int, ok bool)

// sessionActivity is the per-(mind,session) activity-state invariant from
// spec §3: activeCount >= 0 at all observations, decremented exactly once
// per completed delivery.
type sessionActivity struct {
	activeCount          int
	lastDeliveredAt      time.Time
	lastDeliverySenders  map[string]struct{}
	lastDeliveryChannels map[string]struct{}
	lastInterruptAt      time.Time
}

type bufferedMessage struct {
	content []ContentPart
	channel string
	sender  string
}
