// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/volute/volute/internal/atomicfile"
	"github.com/volute/volute/internal/delivery"
)

const defaultTickInterval = 60 * time.Second

var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config wires a Scheduler to its collaborators.
type Config struct {
	// TickInterval drives the ticker loop; defaults to 60s. Tests override
	// this to something small.
	TickInterval time.Duration
	// StatePath is where the lastFired ledger is persisted
	// (scheduler-state.json).
	StatePath string
	// Minds lists the mind names currently known to the daemon.
	Minds func() []string
	// LoadSchedules (re)reads a mind's schedules.json. When it fails,
	// Scheduler.LoadSchedules keeps the previous in-memory copy.
	LoadSchedules func(mind string) ([]Schedule, error)
	// WorkDir resolves the working directory a script-schedule runs in
	// (the mind's home subtree).
	WorkDir func(mind string) string
	// ScriptTimeout bounds script-schedule execution.
	ScriptTimeout time.Duration
	// RunAs optionally returns the OS user a script-schedule should run
	// under when the mind has isolation enabled.
	RunAs func(mind string) (user string, enabled bool)
	Deliver Deliverer
}

// Scheduler evaluates every known mind's schedules once per tick,
// firing each at most once per epoch-minute, idempotent across restarts
// via a persisted ledger.
type Scheduler struct {
	cfg Config

	mu        sync.Mutex
	schedules map[string][]Schedule // mind -> schedules, loaded on demand
	lastFired map[string]int64      // "mind:id" -> epochMinute

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Scheduler and loads any previously persisted firing
// ledger from cfg.StatePath (a missing file is not an error — a fresh
// daemon simply starts with an empty ledger).
func New(cfg Config) (*Scheduler, error) {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	s := &Scheduler{
		cfg:       cfg,
		schedules: make(map[string][]Schedule),
		lastFired: make(map[string]int64),
		stop:      make(chan struct{}),
	}
	if cfg.StatePath != "" {
		var ledger map[string]int64
		if err := atomicfile.ReadJSON(cfg.StatePath, &ledger); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("scheduler: load state: %w", err)
			}
		} else if ledger != nil {
			s.lastFired = ledger
		}
	}
	return s, nil
}

// LoadSchedules (re)reads mind's schedule set. Called by App wiring
// after startup and whenever a schedule.changed event fires.
func (s *Scheduler) LoadSchedules(mind string) error {
	sched, err := s.cfg.LoadSchedules(mind)
	if err != nil {
		log.Printf("scheduler: reload schedules for %s failed, keeping previous copy: %v", mind, err)
		return err
	}
	s.mu.Lock()
	s.schedules[mind] = sched
	s.mu.Unlock()
	return nil
}

// UnloadSchedules drops mind's in-memory schedule set, e.g. when a mind
// is permanently removed.
func (s *Scheduler) UnloadSchedules(mind string) {
	s.mu.Lock()
	delete(s.schedules, mind)
	s.mu.Unlock()
}

// Run starts the tick loop and blocks until ctx is canceled or Stop is
// called.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// Stop halts the tick loop started by Run.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// tick evaluates every mind's schedules against now, firing each schedule
// at most once per epoch-minute. A per-tick cache memoizes cron parses
// so repeated schedules sharing a cron string aren't reparsed per mind.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	parsed := make(map[string]cron.Schedule)
	minute := epochMinute(now)
	fired := false

	for _, mind := range s.cfg.Minds() {
		s.mu.Lock()
		schedules := append([]Schedule(nil), s.schedules[mind]...)
		s.mu.Unlock()

		for _, sched := range schedules {
			if !sched.Enabled {
				continue
			}
			key := mind + ":" + sched.ID

			s.mu.Lock()
			last, seen := s.lastFired[key]
			s.mu.Unlock()
			if seen && last == minute {
				continue
			}

			cronSched, ok := parsed[sched.Cron]
			if !ok {
				var err error
				cronSched, err = standardParser.Parse(sched.Cron)
				if err != nil {
					log.Printf("scheduler: invalid cron %q for %s: %v", sched.Cron, key, err)
					continue
				}
				parsed[sched.Cron] = cronSched
			}

			if !firesAt(cronSched, now) {
				continue
			}

			s.fire(ctx, mind, sched)

			s.mu.Lock()
			s.lastFired[key] = minute
			s.mu.Unlock()
			fired = true
		}
	}

	if fired {
		s.persist()
	}
}

// firesAt reports whether sched's most recent scheduled time, evaluated
// from just before the current epoch-minute boundary, lands exactly on
// that boundary — the "cron.prev() as an epoch-minute" check spec §4.7
// describes, expressed against cron.Schedule's Next-only interface by
// probing from one tick before the boundary.
func firesAt(sched cron.Schedule, now time.Time) bool {
	boundary := now.Truncate(time.Minute)
	next := sched.Next(boundary.Add(-time.Nanosecond))
	return next.Equal(boundary)
}

func epochMinute(t time.Time) int64 {
	return t.Unix() / 60
}

func (s *Scheduler) fire(ctx context.Context, mind string, sched Schedule) {
	switch {
	case sched.Script != "":
		s.fireScript(ctx, mind, sched)
	default:
		s.fireMessage(ctx, mind, sched)
	}
}

func (s *Scheduler) fireMessage(ctx context.Context, mind string, sched Schedule) {
	msg := delivery.Message{
		Content: []delivery.ContentPart{{Type: "text", Text: sched.Message}},
		Channel: "system:scheduler",
		Sender:  sched.ID,
	}
	if _, err := s.cfg.Deliver.RouteAndDeliver(ctx, mind, msg); err != nil {
		log.Printf("scheduler: deliver message schedule %s/%s failed: %v", mind, sched.ID, err)
	}
}

func (s *Scheduler) fireScript(ctx context.Context, mind string, sched Schedule) {
	text, err := runScript(ctx, scriptJob{
		Script:  sched.Script,
		WorkDir: s.workDir(mind),
		Timeout: s.scriptTimeout(),
		RunAs:   s.runAs(mind),
	})
	if err != nil {
		text = fmt.Sprintf("[script error] %v", err)
	}
	if text == "" {
		return
	}
	msg := delivery.Message{
		Content: []delivery.ContentPart{{Type: "text", Text: text}},
		Channel: "system:scheduler",
		Sender:  sched.ID,
	}
	if _, err := s.cfg.Deliver.RouteAndDeliver(ctx, mind, msg); err != nil {
		log.Printf("scheduler: deliver script schedule %s/%s failed: %v", mind, sched.ID, err)
	}
}

func (s *Scheduler) workDir(mind string) string {
	if s.cfg.WorkDir == nil {
		return ""
	}
	return s.cfg.WorkDir(mind)
}

func (s *Scheduler) scriptTimeout() time.Duration {
	if s.cfg.ScriptTimeout <= 0 {
		return 30 * time.Second
	}
	return s.cfg.ScriptTimeout
}

func (s *Scheduler) runAs(mind string) string {
	if s.cfg.RunAs == nil {
		return ""
	}
	if user, enabled := s.cfg.RunAs(mind); enabled {
		return user
	}
	return ""
}

func (s *Scheduler) persist() {
	if s.cfg.StatePath == "" {
		return
	}
	s.mu.Lock()
	snapshot := make(map[string]int64, len(s.lastFired))
	for k, v := range s.lastFired {
		snapshot[k] = v
	}
	s.mu.Unlock()

	if err := atomicfile.WriteJSON(s.cfg.StatePath, snapshot); err != nil {
		log.Printf("scheduler: persist state failed: %v", err)
	}
}
