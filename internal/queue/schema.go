// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package queue persists messages destined for a sleeping mind in a
// durable SQLite table, so a daemon restart never drops work queued
// while a mind was asleep. Grounded on the pack's embedded-SQLite
// pattern (ashureev/shsh-labs's internal/store.SQLiteStore,
// Tutu-Engine/tutuengine's internal/infra/sqlite) using the pure-Go,
// cgo-free modernc.org/sqlite driver.
package queue

const schema = `
PRAGMA busy_timeout = 5000;
CREATE TABLE IF NOT EXISTS delivery_queue (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  mind TEXT NOT NULL,
  session TEXT NOT NULL,
  channel TEXT NOT NULL,
  sender TEXT,
  status TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_delivery_queue_mind ON delivery_queue(mind, status, id);
`
