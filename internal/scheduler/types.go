// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package scheduler injects timed messages and scripts into minds on a
// cron schedule, idempotent across daemon restarts via a persisted
// epoch-minute firing ledger.
package scheduler

import (
	"context"

	"github.com/volute/volute/internal/delivery"
)

// Schedule is one entry in a mind's schedules.json, matching spec §3's
// "{id, cron, message? | script?, enabled: bool}".
type Schedule struct {
	ID      string `json:"id"`
	Cron    string `json:"cron"`
	Message string `json:"message,omitempty"`
	Script  string `json:"script,omitempty"`
	Enabled bool   `json:"enabled"`
}

// Deliverer is the subset of DeliveryManager's contract the Scheduler
// needs to fire a message-schedule — spec §4.7's "posts ... through
// DeliveryManager" means schedules are routed and batched like any other
// inbound message, not bypassed the way pending-context delivery is.
type Deliverer interface {
	RouteAndDeliver(ctx context.Context, mind string, msg delivery.Message) (delivery.Result, error)
}
