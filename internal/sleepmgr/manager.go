// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package sleepmgr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/volute/volute/internal/atomicfile"
	"github.com/volute/volute/internal/delivery"
	"github.com/volute/volute/internal/events"
	"github.com/volute/volute/internal/queue"
	"github.com/volute/volute/internal/routing"
)

const (
	defaultTickInterval = 60 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	defaultSettleDelay  = 3 * time.Second
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Deliverer is the subset of delivery.Manager's contract SleepManager
// needs to replay queued messages on wake, in arrival order.
type Deliverer interface {
	RouteAndDeliver(ctx context.Context, mind string, msg delivery.Message) (delivery.Result, error)
}

// ManagerConfig wires SleepManager's dependencies. Minds, LoadConfig and
// Ports are required. Start, Stop, SessionsDir, ArchiveDir, Queue, Deliver
// and Bus may be nil, in which case that step is skipped; KillOrphan
// defaults to a no-op.
type ManagerConfig struct {
	TickInterval time.Duration
	IdleTimeout  time.Duration // waitForIdle hard cap, default 120s
	SettleDelay  time.Duration // post-idle settle sleep before archival, default 3s
	StatePath    string        // sleep-state.json

	Minds      func() []string
	LoadConfig func(mind string) (Config, error)
	Ports      delivery.PortLookup
	Start      func(ctx context.Context, mind string) error
	Stop       func(ctx context.Context, mind string) error
	KillOrphan func(mind string)

	SessionsDir func(mind string) string // live session files to archive
	ArchiveDir  func(mind string) string // base dir, timestamp subdir appended

	Queue   *queue.Store
	Deliver Deliverer
	Bus     events.EventBus
}

// Manager is the SleepManager: schedules sleep/wake per mind, drains
// in-flight work, archives sessions, queues messages for sleeping minds,
// and forwards them on wake.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	state    map[string]State
	inFlight map[string]bool
	waiters  map[string][]chan struct{}
	returnToSleep map[string]bool

	activityCh chan events.Event
	subID      events.SubscriptionID
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New constructs a Manager, loading any previously persisted sleep state
// and subscribing to the ActivityBus for waitForIdle signaling.
func New(cfg ManagerConfig) (*Manager, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.KillOrphan == nil {
		cfg.KillOrphan = func(string) {}
	}

	m := &Manager{
		cfg:           cfg,
		state:         make(map[string]State),
		inFlight:      make(map[string]bool),
		waiters:       make(map[string][]chan struct{}),
		returnToSleep: make(map[string]bool),
		activityCh:    make(chan events.Event, 256),
		stopCh:        make(chan struct{}),
	}

	if cfg.StatePath != "" {
		var persisted map[string]State
		if err := atomicfile.ReadJSON(cfg.StatePath, &persisted); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("sleepmgr: load state: %w", err)
			}
		} else if persisted != nil {
			m.state = persisted
		}
	}

	if cfg.Bus != nil {
		// SubscribeAsync so a slow waitForIdle processing path never
		// blocks the publisher; the handler itself only enqueues onto
		// activityCh, per spec §9's warning that a subscriber must never
		// call back into the bus synchronously — all such calls
		// (Publish, InitiateSleep/InitiateWake) are made from m.worker or
		// from goroutines it starts, never from this handler.
		id, err := cfg.Bus.SubscribeAsync("mind.*", func(_ context.Context, ev events.Event) error {
			select {
			case m.activityCh <- ev:
			default:
				log.Printf("sleepmgr: activity channel full, dropped %s for %s", ev.Type, ev.Mind)
			}
			return nil
		}, 256)
		if err != nil {
			return nil, fmt.Errorf("sleepmgr: subscribe to activity bus: %w", err)
		}
		m.subID = id
	}

	m.wg.Add(1)
	go m.worker()

	return m, nil
}

// SetDeliverer wires the Deliverer after construction, letting callers
// break the SleepManager<->DeliveryManager construction cycle (DeliveryManager's
// own config needs a SleepChecker pointing back at this Manager) without a
// two-phase ManagerConfig.
func (m *Manager) SetDeliverer(d Deliverer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg.Deliver = d
}

// Close stops the background worker and unsubscribes from the bus.
func (m *Manager) Close() {
	close(m.stopCh)
	m.wg.Wait()
	if m.cfg.Bus != nil && m.subID != "" {
		_ = m.cfg.Bus.Unsubscribe(m.subID)
	}
}

// worker drains activityCh, waking any pending waitForIdle callers and
// handling return-to-sleep after a trigger-woken mind goes idle again.
// The return-to-sleep InitiateSleep call runs on a fresh goroutine, never
// on the bus subscriber.
func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			return
		case ev := <-m.activityCh:
			if ev.Type != events.EventMindIdle && ev.Type != events.EventMindDone {
				continue
			}
			m.notifyWaiters(ev.Mind)

			m.mu.Lock()
			shouldReturn := m.returnToSleep[ev.Mind]
			if shouldReturn {
				delete(m.returnToSleep, ev.Mind)
			}
			m.mu.Unlock()
			if shouldReturn {
				go func(mind string) {
					if err := m.InitiateSleep(context.Background(), mind, SleepOpts{}); err != nil {
						log.Printf("sleepmgr: return-to-sleep for %s failed: %v", mind, err)
					}
				}(ev.Mind)
			}
		}
	}
}

func (m *Manager) notifyWaiters(mind string) {
	m.mu.Lock()
	chs := m.waiters[mind]
	delete(m.waiters, mind)
	m.mu.Unlock()
	for _, ch := range chs {
		close(ch)
	}
}

// Run drives the per-minute sleep/wake tick loop until ctx is canceled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.tick(ctx, now)
		}
	}
}

func (m *Manager) tick(ctx context.Context, now time.Time) {
	for _, mind := range m.cfg.Minds() {
		cfg, err := m.cfg.LoadConfig(mind)
		if err != nil || !cfg.Enabled {
			continue
		}

		m.mu.Lock()
		st := m.state[mind]
		m.mu.Unlock()

		if !st.Sleeping {
			if cfg.Schedule.Sleep != "" && firesAt(cfg.Schedule.Sleep, now) {
				go func(mind string) {
					if err := m.InitiateSleep(ctx, mind, SleepOpts{}); err != nil {
						log.Printf("sleepmgr: initiate sleep for %s failed: %v", mind, err)
					}
				}(mind)
			}
			continue
		}

		wakeAt := latest(st.VoluntaryWakeAt, st.ScheduledWakeAt)
		if !wakeAt.IsZero() && !now.Before(wakeAt) {
			go func(mind string) {
				if err := m.InitiateWake(ctx, mind, WakeOpts{}); err != nil {
					log.Printf("sleepmgr: initiate wake for %s failed: %v", mind, err)
				}
			}(mind)
		}
	}
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

// firesAt reports whether cronExpr's most recent scheduled time lands
// exactly on now's minute boundary, the same epoch-minute check the
// Scheduler uses.
func firesAt(cronExpr string, now time.Time) bool {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		log.Printf("sleepmgr: invalid cron %q: %v", cronExpr, err)
		return false
	}
	boundary := now.Truncate(time.Minute)
	return sched.Next(boundary.Add(-time.Nanosecond)).Equal(boundary)
}

// tryLock acquires the per-mind in-flight guard. Returns false if an
// initiateSleep/initiateWake is already in flight for mind, matching
// spec §4.10's invariant that overlapping requests are idempotent no-ops.
func (m *Manager) tryLock(mind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inFlight[mind] {
		return false
	}
	m.inFlight[mind] = true
	return true
}

func (m *Manager) unlock(mind string) {
	m.mu.Lock()
	delete(m.inFlight, mind)
	m.mu.Unlock()
}

// IsSleeping implements delivery.SleepChecker.
func (m *Manager) IsSleeping(mind string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[mind].Sleeping
}

// CheckWakeTrigger implements delivery.SleepChecker: default triggers are
// a DM or an @mention of the mind's name; additional channel/sender globs
// come from the mind's sleep config.
func (m *Manager) CheckWakeTrigger(mind, channel, sender string, isDM bool, text string) bool {
	if isDM {
		return true
	}
	if strings.Contains(strings.ToLower(text), "@"+strings.ToLower(mind)) {
		return true
	}
	cfg, err := m.cfg.LoadConfig(mind)
	if err != nil {
		return false
	}
	for _, rule := range cfg.Triggers {
		if rule.Channel != "" && !routing.CompileGlob(rule.Channel).Match(channel) {
			continue
		}
		if rule.Sender != "" && !routing.CompileGlob(rule.Sender).Match(sender) {
			continue
		}
		return true
	}
	return false
}

// RequestWake implements delivery.SleepChecker: asks the manager to wake
// mind, marking the wake as trigger-caused so it returns to sleep once
// the mind goes idle again.
func (m *Manager) RequestWake(ctx context.Context, mind string, triggered bool) {
	if !triggered {
		return
	}
	go func() {
		if err := m.InitiateWake(ctx, mind, WakeOpts{Trigger: true}); err != nil {
			log.Printf("sleepmgr: trigger-wake for %s failed: %v", mind, err)
		}
	}()
}

// InitiateSleep quiesces mind: posts a pre-sleep system message, waits
// for in-flight work to finish (bounded), archives session files, stops
// the mind's subprocess (connectors keep running), and marks it sleeping.
func (m *Manager) InitiateSleep(ctx context.Context, mind string, _ SleepOpts) error {
	if !m.tryLock(mind) {
		return nil
	}
	defer m.unlock(mind)

	m.mu.Lock()
	already := m.state[mind].Sleeping
	m.mu.Unlock()
	if already {
		return nil
	}

	if port, ok := m.cfg.Ports(mind); ok {
		m.postSystemMessage(ctx, port, "system:sleep", "[System: going to sleep now]")
	}

	m.waitForIdle(ctx, mind, m.cfg.IdleTimeout)
	time.Sleep(m.cfg.SettleDelay)

	if err := m.archiveSessions(mind); err != nil {
		log.Printf("sleepmgr: archive sessions for %s failed: %v", mind, err)
	}

	if m.cfg.Stop != nil {
		if err := m.cfg.Stop(ctx, mind); err != nil {
			log.Printf("sleepmgr: stop %s for sleep failed: %v", mind, err)
		}
	}
	m.cfg.KillOrphan(mind)

	m.mu.Lock()
	st := m.state[mind]
	st.Sleeping = true
	st.SleepingSince = time.Now()
	st.ScheduledWakeAt = m.nextWake(mind)
	m.state[mind] = st
	m.mu.Unlock()
	m.persist()
	m.publish(ctx, events.EventMindSleeping, mind)
	return nil
}

// nextWake computes the first time after now that mind's wake cron fires.
func (m *Manager) nextWake(mind string) time.Time {
	cfg, err := m.cfg.LoadConfig(mind)
	if err != nil || cfg.Schedule.Wake == "" {
		return time.Time{}
	}
	sched, err := cronParser.Parse(cfg.Schedule.Wake)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// waitForIdle blocks until mind reports mind.idle or mind.done, or until
// timeout elapses — whichever comes first. Per spec §5, timeout proceeds
// to archival regardless of whether idle was actually observed.
func (m *Manager) waitForIdle(ctx context.Context, mind string, timeout time.Duration) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.waiters[mind] = append(m.waiters[mind], ch)
	m.mu.Unlock()

	select {
	case <-ch:
	case <-time.After(timeout):
	case <-ctx.Done():
	}
}

// archiveSessions copies every file under the mind's live sessions
// directory into a fresh archive/<timestamp>/ subdirectory. A missing
// sessions directory is not an error — a mind with no persisted sessions
// yet has nothing to archive.
func (m *Manager) archiveSessions(mind string) error {
	if m.cfg.SessionsDir == nil || m.cfg.ArchiveDir == nil {
		return nil
	}
	src := m.cfg.SessionsDir(mind)
	if src == "" {
		return nil
	}
	entries, err := os.ReadDir(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sessions dir: %w", err)
	}

	dst := filepath.Join(m.cfg.ArchiveDir(mind), time.Now().UTC().Format("20060102T150405Z"))
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			log.Printf("sleepmgr: read session file %s failed: %v", e.Name(), err)
			continue
		}
		if err := os.WriteFile(filepath.Join(dst, e.Name()), data, 0o644); err != nil {
			log.Printf("sleepmgr: write archived session file %s failed: %v", e.Name(), err)
		}
	}
	return nil
}

// InitiateWake starts mind back up, renders and posts a wake summary
// naming how many messages queued per channel while it slept, then
// flushes the queue through DeliveryManager in arrival order. If the
// wake was trigger-caused, it arms a return-to-sleep hook for the mind's
// next idle event.
func (m *Manager) InitiateWake(ctx context.Context, mind string, opts WakeOpts) error {
	if !m.tryLock(mind) {
		return nil
	}
	defer m.unlock(mind)

	m.mu.Lock()
	st := m.state[mind]
	wasSleeping := st.Sleeping
	m.mu.Unlock()
	if !wasSleeping {
		return nil
	}

	m.publish(ctx, events.EventMindWaking, mind)

	if m.cfg.Start != nil {
		if err := m.cfg.Start(ctx, mind); err != nil {
			return fmt.Errorf("sleepmgr: start %s for wake: %w", mind, err)
		}
	}

	var rows []queue.Row
	if m.cfg.Queue != nil {
		var err error
		rows, err = m.cfg.Queue.Pending(ctx, mind)
		if err != nil {
			log.Printf("sleepmgr: read queued messages for %s failed: %v", mind, err)
		}
	}

	m.mu.Lock()
	st = m.state[mind]
	st.Sleeping = false
	st.WokenByTrigger = opts.Trigger
	st.VoluntaryWakeAt = time.Time{}
	st.ScheduledWakeAt = time.Time{}
	st.QueuedMessageCount = 0
	m.state[mind] = st
	m.mu.Unlock()
	m.persist()

	if port, ok := m.cfg.Ports(mind); ok {
		m.postSystemMessage(ctx, port, "system:sleep", renderWakeSummary(rows))
	}

	m.flushQueued(ctx, mind, rows)

	m.publish(ctx, events.EventMindAwake, mind)

	if opts.Trigger {
		m.mu.Lock()
		m.returnToSleep[mind] = true
		m.mu.Unlock()
	}
	return nil
}

// renderWakeSummary builds "<n> messages while you slept (<c> on
// <channel>, ...)", matching the literal phrasing in spec §8's seed
// scenario 5.
func renderWakeSummary(rows []queue.Row) string {
	if len(rows) == 0 {
		return "[System: waking up — no messages while you slept]"
	}
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Channel]++
	}
	channels := make([]string, 0, len(counts))
	for ch := range counts {
		channels = append(channels, ch)
	}
	sort.Strings(channels)

	parts := make([]string, 0, len(channels))
	for _, ch := range channels {
		parts = append(parts, fmt.Sprintf("%d on %s", counts[ch], ch))
	}
	return fmt.Sprintf("[System: %d messages while you slept (%s)]", len(rows), strings.Join(parts, ", "))
}

// flushQueued replays rows through DeliveryManager in arrival order
// (rows is already ordered oldest-first by queue.Store.Pending), deleting
// each row once its delivery has been attempted. A failed delivery is
// logged and its row is still deleted, as is a row whose payload does not
// parse.
func (m *Manager) flushQueued(ctx context.Context, mind string, rows []queue.Row) {
	if m.cfg.Deliver == nil || m.cfg.Queue == nil {
		return
	}
	for _, row := range rows {
		var msg delivery.Message
		if err := json.Unmarshal([]byte(row.Payload), &msg); err != nil {
			log.Printf("sleepmgr: unmarshal queued payload %d for %s failed: %v", row.ID, mind, err)
			_ = m.cfg.Queue.Delete(ctx, row.ID)
			continue
		}
		if _, err := m.cfg.Deliver.RouteAndDeliver(ctx, mind, msg); err != nil {
			log.Printf("sleepmgr: replay queued message %d for %s failed: %v", row.ID, mind, err)
		}
		if err := m.cfg.Queue.Delete(ctx, row.ID); err != nil {
			log.Printf("sleepmgr: delete queued row %d for %s failed: %v", row.ID, mind, err)
		}
	}
}

// postSystemMessage POSTs a plain text system message directly to mind's
// local API, bypassing DeliveryManager entirely — exactly as
// MindManager's pending-context delivery does, since sleep/wake
// announcements are operator-facing bootstrap messages, not routed chat.
func (m *Manager) postSystemMessage(ctx context.Context, port int, channel, text string) {
	body, err := json.Marshal(map[string]interface{}{
		"channel": channel,
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	if err != nil {
		return
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/message", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Printf("sleepmgr: post system message to port %d failed: %v", port, err)
		return
	}
	resp.Body.Close()
}

func (m *Manager) publish(ctx context.Context, eventType, mind string) {
	if m.cfg.Bus == nil {
		return
	}
	if err := m.cfg.Bus.Publish(ctx, events.Event{Type: eventType, Mind: mind, Timestamp: time.Now()}); err != nil {
		log.Printf("sleepmgr: publish %s for %s failed: %v", eventType, mind, err)
	}
}

// persist writes the per-mind sleep state to cfg.StatePath, if set.
func (m *Manager) persist() {
	if m.cfg.StatePath == "" {
		return
	}
	m.mu.Lock()
	snapshot := make(map[string]State, len(m.state))
	for k, v := range m.state {
		snapshot[k] = v
	}
	m.mu.Unlock()
	if err := atomicfile.WriteJSON(m.cfg.StatePath, snapshot); err != nil {
		log.Printf("sleepmgr: persist state failed: %v", err)
	}
}

// State returns a copy of mind's current sleep state, e.g. for API status
// surfacing.
func (m *Manager) State(mind string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state[mind]
}
