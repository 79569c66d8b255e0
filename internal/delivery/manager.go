// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/volute/volute/internal/events"
	"github.com/volute/volute/internal/routing"
)

// bucketKey identifies one (mind, session) activity/batch bucket.
type bucketKey struct {
	mind    string
	session string
}

// ManagerConfig wires Manager to its collaborators. Ports and LoadConfig
// are required; the other fields are optional or defaulted as noted on
// each.
type ManagerConfig struct {
	// HTTPTimeout bounds each POST to a mind's local API.
	HTTPTimeout time.Duration
	// Ports resolves a mind's listening port.
	Ports PortLookup
	// LoadConfig returns the current routing.Config for mind, reading
	// through whatever cache the caller's routes.json watcher maintains.
	LoadConfig func(mind string) (routing.Config, error)
	// FileBase resolves the directory relative file-destination rules
	// are joined against.
	FileBase func(mind string) string
	// Sleep reports sleep state and requests wakes. May be nil, in which
	// case sleeping is never consulted (useful for tests of routing/batch
	// logic in isolation).
	Sleep SleepChecker
	// Queue persists messages for sleeping minds. Required whenever Sleep
	// is non-nil.
	Queue QueueWriter
	// Bus publishes mind.active/mind.idle around each delivery. May be nil.
	Bus events.EventBus
	// Poster performs the actual HTTP delivery. Defaults to NewHTTPPoster.
	Poster Poster
}

// Manager is the stateful DeliveryManager: it applies routing.Route,
// tracks per-session activity, buffers batched messages, applies the
// new-speaker interrupt, and queues messages for sleeping minds.
type Manager struct {
	cfg      ManagerConfig
	mu       sync.Mutex
	buckets  map[bucketKey]*bucket
	files    *fileSink
	disposed bool
}

// NewManager constructs a Manager. cfg.Ports and cfg.LoadConfig must be
// non-nil.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Poster == nil {
		cfg.Poster = NewHTTPPoster(cfg.HTTPTimeout)
	}
	if cfg.FileBase == nil {
		cfg.FileBase = func(string) string { return "." }
	}
	return &Manager{
		cfg:     cfg,
		buckets: make(map[bucketKey]*bucket),
		files:   newFileSink(cfg.FileBase),
	}
}

// SetSleep wires the SleepChecker after construction, letting callers
// break the SleepManager<->DeliveryManager construction cycle (the
// SleepManager's own config needs a Deliverer pointing back at this
// Manager) without a two-phase ManagerConfig.
func (m *Manager) SetSleep(sleep SleepChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Sleep = sleep
}

func (m *Manager) getBucket(mind, session string) *bucket {
	key := bucketKey{mind: mind, session: session}
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[key]
	if !ok {
		b = newBucket()
		m.buckets[key] = b
	}
	return b
}

// RouteAndDeliver applies routing.Route to msg and dispatches through
// whichever of {immediate POST, batch buffer, sleep queue, file sink}
// the decision selects. It is the single entry point connectors and the
// HTTP API call for every inbound platform message.
func (m *Manager) RouteAndDeliver(ctx context.Context, mind string, msg Message) (Result, error) {
	cfg, err := m.cfg.LoadConfig(mind)
	if err != nil {
		return Result{}, fmt.Errorf("delivery: load routing config for %s: %w", mind, err)
	}

	text := flattenText(msg.Content)
	decision := routing.Route(cfg, routing.Message{
		Channel: msg.Channel,
		Sender:  msg.Sender,
		Text:    text,
	})

	if !decision.Routed {
		return Result{Routed: false, Reason: decision.Reason}, nil
	}

	if decision.Destination == "file" {
		if err := m.files.append(mind, decision.Path, msg); err != nil {
			log.Printf("delivery: file sink write failed for %s/%s: %v", mind, decision.Path, err)
			return Result{}, fmt.Errorf("delivery: write file sink: %w", err)
		}
		return Result{Routed: true, Destination: "file", Path: decision.Path}, nil
	}

	if decision.Mode == "gated" {
		return Result{Routed: true, Destination: "mind", Mode: "gated"}, nil
	}

	if m.cfg.Sleep != nil && m.cfg.Sleep.IsSleeping(mind) {
		triggered := m.cfg.Sleep.CheckWakeTrigger(mind, msg.Channel, msg.Sender, msg.IsDM, text)
		if err := m.enqueue(ctx, mind, decision.Session, msg); err != nil {
			return Result{}, err
		}
		m.cfg.Sleep.RequestWake(ctx, mind, triggered)
		return Result{Routed: true, Destination: "mind", Session: decision.Session, Mode: decision.Mode, Queued: true}, nil
	}

	sessionCfg := cfg.Sessions[decision.Session]
	if decision.Mode == "batch" {
		return m.deliverBatch(ctx, mind, decision.Session, sessionCfg, msg)
	}
	return m.deliverImmediate(ctx, mind, decision.Session, sessionCfg, msg)
}

func (m *Manager) enqueue(ctx context.Context, mind, session string, msg Message) error {
	if m.cfg.Queue == nil {
		return fmt.Errorf("delivery: mind %s is sleeping but no queue is configured", mind)
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("delivery: marshal queued payload: %w", err)
	}
	return m.cfg.Queue.Enqueue(ctx, QueueRow{
		Mind:    mind,
		Session: session,
		Channel: msg.Channel,
		Sender:  msg.Sender,
		Status:  "sleep-queued",
		Payload: string(payload),
	})
}

func (m *Manager) deliverImmediate(ctx context.Context, mind, session string, sessionCfg routing.SessionConfig, msg Message) (Result, error) {
	b := m.getBucket(mind, session)
	bm := bufferedMessage{content: msg.Content, channel: msg.Channel, sender: msg.Sender}

	port, ok := m.cfg.Ports(mind)
	if !ok {
		return Result{}, fmt.Errorf("delivery: mind %s has no registered port", mind)
	}

	b.mu.Lock()
	b.activity.activeCount++
	b.mu.Unlock()
	m.publishActive(ctx, mind)

	done, err := m.cfg.Poster.Post(ctx, port, buildImmediatePayload(bm, sessionCfg))
	if err != nil {
		b.mu.Lock()
		if b.activity.activeCount > 0 {
			b.activity.activeCount--
		}
		b.mu.Unlock()
		log.Printf("delivery: immediate post to %s/%s failed: %v", mind, session, err)
		return Result{}, fmt.Errorf("delivery: post to mind: %w", err)
	}

	b.mu.Lock()
	b.recordDelivery([]string{msg.Sender}, []string{msg.Channel})
	b.mu.Unlock()

	go m.awaitDone(mind, session, done)

	return Result{Routed: true, Destination: "mind", Session: session, Mode: "immediate"}, nil
}

func (m *Manager) deliverBatch(ctx context.Context, mind, session string, sessionCfg routing.SessionConfig, msg Message) (Result, error) {
	spec := sessionCfg.Delivery.Batch
	b := m.getBucket(mind, session)
	text := flattenText(msg.Content)

	b.mu.Lock()
	interrupt := shouldInterrupt(b.activity, spec, msg.Channel, msg.Sender)

	triggered := containsTrigger(text, spec.Triggers)
	for _, buffered := range b.buffer {
		if containsTrigger(flattenText(buffered.content), spec.Triggers) {
			triggered = true
		}
	}

	b.buffer = append(b.buffer, bufferedMessage{content: msg.Content, channel: msg.Channel, sender: msg.Sender})
	passThrough := spec.Debounce == 0 && spec.MaxWait == 0 && len(spec.Triggers) == 0

	if interrupt || triggered || passThrough {
		toFlush := b.buffer
		b.buffer = nil
		b.cancelTimers()
		if interrupt {
			b.activity.lastInterruptAt = time.Now()
		}
		b.mu.Unlock()
		return m.flush(ctx, mind, session, sessionCfg, toFlush)
	}

	if len(b.buffer) == 1 && spec.MaxWait > 0 && b.maxWaitTimer == nil {
		b.maxWaitTimer = time.AfterFunc(durSeconds(spec.MaxWait), func() {
			m.flushTimer(mind, session, sessionCfg)
		})
	}
	if spec.Debounce > 0 {
		b.debouncer.SetDuration(durSeconds(spec.Debounce))
		b.debouncer.Debounce(debounceKey, func() {
			m.flushTimer(mind, session, sessionCfg)
		})
	}
	b.mu.Unlock()

	return Result{Routed: true, Destination: "mind", Session: session, Mode: "batch"}, nil
}

// flushTimer is the debounce/maxWait firing path: it has no caller
// waiting on a Result, so delivery failures are logged rather than
// returned, matching the "batches are not retried automatically" policy.
func (m *Manager) flushTimer(mind, session string, sessionCfg routing.SessionConfig) {
	b := m.getBucket(mind, session)
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return
	}
	toFlush := b.buffer
	b.buffer = nil
	b.cancelTimers()
	b.mu.Unlock()

	if _, err := m.flush(context.Background(), mind, session, sessionCfg, toFlush); err != nil {
		log.Printf("delivery: timer flush for %s/%s failed: %v", mind, session, err)
	}
}

// flush dispatches a completed batch through the immediate path,
// building the combined "[Batch: ...]" payload described in spec §4.9.
func (m *Manager) flush(ctx context.Context, mind, session string, sessionCfg routing.SessionConfig, msgs []bufferedMessage) (Result, error) {
	if len(msgs) == 0 {
		return Result{Routed: true, Destination: "mind", Session: session, Mode: "batch"}, nil
	}

	b := m.getBucket(mind, session)
	port, ok := m.cfg.Ports(mind)
	if !ok {
		return Result{}, fmt.Errorf("delivery: mind %s has no registered port", mind)
	}

	b.mu.Lock()
	b.activity.activeCount++
	b.mu.Unlock()
	m.publishActive(ctx, mind)

	done, err := m.cfg.Poster.Post(ctx, port, buildBatchPayload(msgs, sessionCfg))
	if err != nil {
		b.mu.Lock()
		if b.activity.activeCount > 0 {
			b.activity.activeCount--
		}
		b.mu.Unlock()
		log.Printf("delivery: batch flush post to %s/%s failed: %v", mind, session, err)
		return Result{}, fmt.Errorf("delivery: post batch to mind: %w", err)
	}

	var senders, channels []string
	for _, msg := range msgs {
		senders = append(senders, msg.sender)
		channels = append(channels, msg.channel)
	}
	b.mu.Lock()
	b.recordDelivery(senders, channels)
	b.mu.Unlock()

	go m.awaitDone(mind, session, done)

	return Result{Routed: true, Destination: "mind", Session: session, Mode: "batch"}, nil
}

// awaitDone blocks until the mind's response stream signals completion
// and decrements the session's active count, matching the activity
// invariant ("decremented exactly once per completed delivery").
func (m *Manager) awaitDone(mind, session string, done <-chan struct{}) {
	<-done
	m.SessionDone(mind, session)
}

// SessionDone records that an in-flight delivery to (mind, session) has
// completed. Exported so a Poster implementation that hands back control
// before its done channel closes (none currently does) could still be
// driven externally, and so tests can simulate completion directly.
func (m *Manager) SessionDone(mind, session string) {
	b := m.getBucket(mind, session)
	b.mu.Lock()
	if b.activity.activeCount > 0 {
		b.activity.activeCount--
	}
	active := b.activity.activeCount
	b.mu.Unlock()
	if active == 0 {
		m.publishIdle(context.Background(), mind)
	}
}

// IsSessionBusy reports whether (mind, session) has an in-flight
// delivery.
func (m *Manager) IsSessionBusy(mind, session string) bool {
	b := m.getBucket(mind, session)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activity.activeCount > 0
}

// GetPending returns the number of messages currently buffered for
// (mind, session), awaiting a batch flush.
func (m *Manager) GetPending(mind, session string) int {
	b := m.getBucket(mind, session)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffer)
}

// Dispose flushes every pending batch synchronously and releases file
// sink handles, per spec §4.9's "dispose() flushes every pending batch
// synchronously."
func (m *Manager) Dispose(ctx context.Context, cfgs map[string]routing.Config) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	keys := make([]bucketKey, 0, len(m.buckets))
	for k := range m.buckets {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	for _, k := range keys {
		b := m.getBucket(k.mind, k.session)
		b.mu.Lock()
		toFlush := b.buffer
		b.buffer = nil
		b.cancelTimers()
		b.mu.Unlock()
		if len(toFlush) == 0 {
			continue
		}
		var sessionCfg routing.SessionConfig
		if cfg, ok := cfgs[k.mind]; ok {
			sessionCfg = cfg.Sessions[k.session]
		}
		if _, err := m.flush(ctx, k.mind, k.session, sessionCfg, toFlush); err != nil {
			log.Printf("delivery: dispose flush for %s/%s failed: %v", k.mind, k.session, err)
		}
	}
	m.files.close()
}

func (m *Manager) publishActive(ctx context.Context, mind string) {
	if m.cfg.Bus == nil {
		return
	}
	if err := m.cfg.Bus.Publish(ctx, events.Event{Type: events.EventMindActive, Mind: mind, Timestamp: time.Now()}); err != nil {
		log.Printf("delivery: publish mind.active for %s failed: %v", mind, err)
	}
}

func (m *Manager) publishIdle(ctx context.Context, mind string) {
	if m.cfg.Bus == nil {
		return
	}
	if err := m.cfg.Bus.Publish(ctx, events.Event{Type: events.EventMindIdle, Mind: mind, Timestamp: time.Now()}); err != nil {
		log.Printf("delivery: publish mind.idle for %s failed: %v", mind, err)
	}
}
