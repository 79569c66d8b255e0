// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/volute/volute/internal/delivery"
)

// Status values a delivery_queue row can hold.
const (
	StatusSleepQueued = "sleep-queued"
	StatusDelivered   = "delivered"
)

// Row is one delivery_queue record, including the columns Enqueue does
// not accept (id, created_at).
type Row struct {
	ID        int64
	Mind      string
	Session   string
	Channel   string
	Sender    string
	Status    string
	Payload   string
	CreatedAt time.Time
}

// Store is the SQLite-backed delivery queue. It implements
// delivery.QueueWriter so a *Store can be wired directly into
// delivery.ManagerConfig.Queue.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the SQLite database at path and ensures the
// delivery_queue table and its index exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("queue: create database directory: %w", err)
		}
	}

	dsn := path + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("queue: open database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoids SQLITE_BUSY churn
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("queue: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Enqueue inserts row with status (defaulting to sleep-queued if unset)
// and the current time.
func (s *Store) Enqueue(ctx context.Context, row delivery.QueueRow) error {
	status := row.Status
	if status == "" {
		status = StatusSleepQueued
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_queue (mind, session, channel, sender, status, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		row.Mind, row.Session, row.Channel, row.Sender, status, row.Payload, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("queue: enqueue for %s: %w", row.Mind, err)
	}
	return nil
}

// Pending returns every sleep-queued row for mind, oldest first — the
// order SleepManager.initiateWake replays them in, preserving spec §8's
// "batch flush order matches arrival order" for queued messages too.
func (s *Store) Pending(ctx context.Context, mind string) ([]Row, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mind, session, channel, sender, status, payload, created_at
		 FROM delivery_queue WHERE mind = ? AND status = ? ORDER BY id ASC`,
		mind, StatusSleepQueued,
	)
	if err != nil {
		return nil, fmt.Errorf("queue: query pending for %s: %w", mind, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var createdAt int64
		var sender sql.NullString
		if err := rows.Scan(&r.ID, &r.Mind, &r.Session, &r.Channel, &sender, &r.Status, &r.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("queue: scan row: %w", err)
		}
		r.Sender = sender.String
		r.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Delete removes a row once SleepManager has attempted to replay it —
// per spec §3's "delivery_queue (DB): append-only for queued, delete on
// flush."
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM delivery_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("queue: delete row %d: %w", id, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
