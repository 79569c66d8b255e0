// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package mind

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"text/template"
	"time"

	"github.com/volute/volute/internal/events"
	"github.com/volute/volute/internal/registry"
	"github.com/volute/volute/internal/restart"
	"github.com/volute/volute/internal/rotatinglog"
)

// pendingContextTemplate is the system message synthesized for a mind on
// its next successful start, when a caller queued context for it while it
// was stopped. Kept as a small inline text/template rather than a file —
// there is no templating library in the supervisor worth pulling in for
// one short string.
var pendingContextTemplate = template.Must(template.New("pending").Parse(
	`[System: context queued while you were offline]
{{.Context}}`))

// ManagerConfig wires the MindManager's dependencies.
type ManagerConfig struct {
	Registry    *registry.Store
	Bus         events.EventBus
	Restarts    *restart.Tracker
	StateDir    string // <home>/state
	VariantsDir string // path to variants.json
	DaemonURL   string
	DaemonToken string
	Isolation   IsolationSettings
}

// IsolationSettings mirrors config.IsolationConfig without importing the
// config package (MindManager shouldn't depend on the daemon's startup
// config schema directly).
type IsolationSettings struct {
	Enabled    bool
	UserPrefix string
}

// Manager supervises every mind's subprocess lifecycle.
type Manager struct {
	reg      *registry.Store
	bus      events.EventBus
	restarts *restart.Tracker
	variants *variantStore
	stateDir string
	daemon   struct {
		url   string
		token string
	}
	isolation IsolationSettings

	mu      sync.Mutex
	procs   map[string]*process
	pending map[string]string
	timers  map[string]*time.Timer
}

// NewManager constructs a MindManager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		reg:       cfg.Registry,
		bus:       cfg.Bus,
		restarts:  cfg.Restarts,
		variants:  newVariantStore(cfg.VariantsDir),
		stateDir:  cfg.StateDir,
		isolation: cfg.Isolation,
		procs:     make(map[string]*process),
		pending:   make(map[string]string),
		timers:    make(map[string]*time.Timer),
	}
	m.daemon.url = cfg.DaemonURL
	m.daemon.token = cfg.DaemonToken
	return m
}

// StartMind spawns name's subprocess (resolving base@variant first),
// reclaiming any orphaned process left over from a prior daemon run.
func (m *Manager) StartMind(ctx context.Context, name string) error {
	base := m.variants.resolveVariant(name)

	rec, err := m.reg.Get(base)
	if err != nil {
		return fmt.Errorf("start mind %s: %w", base, err)
	}

	m.mu.Lock()
	if _, running := m.procs[base]; running {
		m.mu.Unlock()
		return fmt.Errorf("mind %s: already running", base)
	}
	m.mu.Unlock()

	cfg := Config{
		Name:         base,
		Port:         rec.Port,
		Dir:          filepath.Join(rec.Dir, "home"),
		Command:      []string{filepath.Join(rec.Dir, "home", "run.sh")},
		StatePIDFile: filepath.Join(m.stateDir, base, "mind.pid"),
		LogPath:      filepath.Join(m.stateDir, base, "logs", "mind.log"),
		DaemonURL:    m.daemon.url,
		DaemonToken:  m.daemon.token,
	}
	if m.isolation.Enabled {
		cfg.IsolationEnabled = true
		cfg.IsolationUser = m.isolation.UserPrefix + base
		_ = chownForIsolation(filepath.Join(m.stateDir, base), cfg)
	}

	reclaimOrphan(cfg)

	rl := rotatinglog.Open(rotatinglog.Config{Path: cfg.LogPath})
	p := newProcess(cfg, rl)
	p.onExit = func(exitCode int, crashed bool) {
		m.handleExit(base, exitCode, crashed, p)
	}

	if err := p.start(ctx); err != nil {
		rl.Close()
		return fmt.Errorf("start mind %s: %w", base, err)
	}

	m.mu.Lock()
	m.procs[base] = p
	m.mu.Unlock()

	_ = m.reg.SetRunning(base, true)
	m.restarts.Reset(base)
	m.publish(ctx, events.EventMindStarted, base, nil)

	m.deliverPendingContext(base, p)
	return nil
}

// StopMind gracefully stops name's subprocess, if running.
func (m *Manager) StopMind(ctx context.Context, name string) error {
	base := m.variants.resolveVariant(name)

	m.mu.Lock()
	p, ok := m.procs[base]
	if ok {
		delete(m.procs, base)
	}
	if t, ok := m.timers[base]; ok {
		t.Stop()
		delete(m.timers, base)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := p.stop(ctx); err != nil {
		return err
	}
	_ = m.reg.SetRunning(base, false)
	m.restarts.Reset(base)
	m.mu.Lock()
	delete(m.pending, base)
	m.mu.Unlock()
	m.publish(ctx, events.EventMindStopped, base, nil)
	return nil
}

// RestartMind stops then starts name, resetting the restart ledger so a
// manual restart never counts against the crash-backoff budget.
func (m *Manager) RestartMind(ctx context.Context, name string) error {
	base := m.variants.resolveVariant(name)
	if err := m.StopMind(ctx, base); err != nil {
		return err
	}
	m.restarts.Reset(base)
	return m.StartMind(ctx, base)
}

// StopAll stops every running mind and clears the restart ledger, matching
// the daemon's shutdown sequence. Each stopped mind keeps running=true in
// the registry, so the next daemon start brings it back up.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	names := make([]string, 0, len(m.procs))
	for name := range m.procs {
		names = append(names, name)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			if err := m.StopMind(ctx, n); err == nil {
				_ = m.reg.SetRunning(n, true)
			}
		}(name)
	}
	wg.Wait()
	m.restarts.Clear()
}

// IsRunning reports whether name currently has a live subprocess.
func (m *Manager) IsRunning(name string) bool {
	base := m.variants.resolveVariant(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.procs[base]
	return ok
}

// GetRunningMinds returns the names of every currently-running mind.
func (m *Manager) GetRunningMinds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.procs))
	for name := range m.procs {
		names = append(names, name)
	}
	return names
}

// Status returns name's current status, if it is running.
func (m *Manager) Status(name string) (Status, bool) {
	base := m.variants.resolveVariant(name)
	m.mu.Lock()
	p, ok := m.procs[base]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return p.status(), true
}

// KillOrphanOnPort kills any process still bound to name's registered
// port and answering /health. Exported for SleepManager, which calls it
// as a belt-and-braces check immediately after stopping a mind for sleep.
func (m *Manager) KillOrphanOnPort(name string) {
	base := m.variants.resolveVariant(name)
	rec, err := m.reg.Get(base)
	if err != nil {
		return
	}
	killOrphanOnPort(rec.Port)
}

// SetVariant registers variant as an alias for base in variants.json.
func (m *Manager) SetVariant(variant, base string) error {
	return m.variants.set(variant, base)
}

// RemoveVariant un-registers variant and, per this implementation's
// resolution of the "variant identity" open question, stops the variant's
// mind if it is currently running (stop-on-removal) — a removed record's
// port must not remain held by a live process, since leaving it orphaned
// would risk the port being handed to a different variant later while
// still in use.
func (m *Manager) RemoveVariant(ctx context.Context, variant string) error {
	base, _ := m.variants.lookup(variant)
	if err := m.variants.remove(variant); err != nil {
		return err
	}
	if base != "" {
		_ = m.StopMind(ctx, base)
	}
	return nil
}

// SetPendingContext queues a system message to be delivered to name the
// next time it successfully starts (it may already be running, in which
// case delivery happens immediately).
func (m *Manager) SetPendingContext(name, context string) {
	base := m.variants.resolveVariant(name)
	m.mu.Lock()
	p, running := m.procs[base]
	if !running {
		m.pending[base] = context
	}
	m.mu.Unlock()

	if running {
		m.postPendingContext(p, context)
	}
}

func (m *Manager) deliverPendingContext(name string, p *process) {
	m.mu.Lock()
	ctx, ok := m.pending[name]
	if ok {
		delete(m.pending, name)
	}
	m.mu.Unlock()
	if ok {
		m.postPendingContext(p, ctx)
	}
}

// postPendingContext synthesizes the pending-context system message and
// POSTs it directly to the mind, bypassing the delivery manager entirely —
// this is an operator-initiated injection, not a routed chat message.
func (m *Manager) postPendingContext(p *process, context string) {
	var buf bytes.Buffer
	if err := pendingContextTemplate.Execute(&buf, struct{ Context string }{context}); err != nil {
		return
	}
	body, _ := json.Marshal(map[string]interface{}{
		"channel": "system",
		"content": []map[string]string{{"type": "text", "text": buf.String()}},
	})
	st := p.status()
	url := fmt.Sprintf("http://127.0.0.1:%d/message", st.Port)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	client := http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
	}
}

// handleExit runs on the process's own goroutine when the subprocess
// exits. A clean stop (requested by StopMind) does nothing further; a
// crash consults the RestartTracker for whether/when to respawn.
func (m *Manager) handleExit(name string, exitCode int, crashed bool, p *process) {
	m.mu.Lock()
	// StopMind already removed this entry on a requested stop; if it's
	// still present, this exit was unrequested.
	_, stillTracked := m.procs[name]
	if stillTracked {
		delete(m.procs, name)
	}
	m.mu.Unlock()

	if !stillTracked {
		return
	}

	ctx := context.Background()
	if !crashed {
		_ = m.reg.SetRunning(name, false)
		m.publish(ctx, events.EventMindStopped, name, nil)
		return
	}

	reason := classifyCrash(p.tailLines(), exitCode)
	m.publish(ctx, events.EventMindIdle, name, map[string]interface{}{
		"reason": string(reason), "exitCode": exitCode,
	})
	m.publish(ctx, events.EventMindStopped, name, map[string]interface{}{
		"reason": string(reason), "exitCode": exitCode,
	})

	shouldRestart, delay, attempt := m.restarts.Crash(name)
	if !shouldRestart {
		// Only now, with restart attempts exhausted, is the mind's desired
		// state actually cleared — while a restart is still pending, a
		// daemon restart mid-backoff must still see running=true and retry
		// the spawn (spec §4.1/§4.5).
		_ = m.reg.SetRunning(name, false)
		m.publish(ctx, events.EventMindCrashed, name, map[string]interface{}{
			"reason": string(reason), "attempts": attempt, "final": true,
		})
		return
	}

	m.publish(ctx, events.EventMindCrashed, name, map[string]interface{}{
		"reason": string(reason), "attempts": attempt, "retryIn": delay.String(),
	})

	timer := time.AfterFunc(delay, func() {
		_ = m.StartMind(context.Background(), name)
	})
	m.mu.Lock()
	m.timers[name] = timer
	m.mu.Unlock()
}

func (m *Manager) publish(ctx context.Context, eventType, mindName string, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(ctx, events.Event{Type: eventType, Mind: mindName, Payload: payload})
}
