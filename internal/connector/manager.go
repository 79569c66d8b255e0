// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/volute/volute/internal/procutil"
	"github.com/volute/volute/internal/rotatinglog"
)

// key identifies one (mind, connector-type) pair.
type key struct {
	mind string
	typ  string
}

func (k key) String() string { return k.mind + "/" + k.typ }

// ManagerConfig wires the ConnectorManager's dependencies.
type ManagerConfig struct {
	StateDir    string // <home>/state; each connector uses <StateDir>/<mind>/connectors/<type>
	DaemonURL   string
	DaemonToken string
}

// Manager supervises every running connector subprocess.
type Manager struct {
	stateDir string
	daemon   struct {
		url   string
		token string
	}

	mu    sync.Mutex
	procs map[key]*procutil.Runner
	logs  map[key]*rotatinglog.Log
}

// NewManager constructs a ConnectorManager.
func NewManager(cfg ManagerConfig) *Manager {
	m := &Manager{
		stateDir: cfg.StateDir,
		procs:    make(map[key]*procutil.Runner),
		logs:     make(map[key]*rotatinglog.Log),
	}
	m.daemon.url = cfg.DaemonURL
	m.daemon.token = cfg.DaemonToken
	return m
}

// LoadManifest reads <dir>/connectors.json, the per-mind descriptor of
// which connector subprocesses to start alongside it. A missing manifest
// means "no connectors for this mind" rather than an error.
func LoadManifest(dir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, "connectors.json"))
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read connectors.json: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse connectors.json: %w", err)
	}
	return m, nil
}

// StartConnectors spawns every connector listed in mind's connectors.json
// manifest that isn't already running, passing each the mind's name, port,
// home directory and a daemon bearer token per the connector<->daemon
// contract.
func (m *Manager) StartConnectors(ctx context.Context, mind, dir string, mindPort int) error {
	manifest, err := LoadManifest(dir)
	if err != nil {
		return err
	}
	var firstErr error
	for _, spec := range manifest.Connectors {
		if err := m.StartConnector(ctx, mind, dir, mindPort, spec); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// StartConnector spawns a single (mind, type) connector subprocess.
func (m *Manager) StartConnector(ctx context.Context, mind, dir string, mindPort int, spec Spec) error {
	k := key{mind: mind, typ: spec.Type}

	m.mu.Lock()
	if _, running := m.procs[k]; running {
		m.mu.Unlock()
		return fmt.Errorf("connector %s: already running", k)
	}
	m.mu.Unlock()

	if len(spec.Command) == 0 {
		return fmt.Errorf("connector %s: empty command", k)
	}

	env := []string{
		"VOLUTE_MIND_NAME=" + mind,
		"VOLUTE_MIND_PORT=" + strconv.Itoa(mindPort),
		"VOLUTE_MIND_DIR=" + dir,
		"VOLUTE_DAEMON_URL=" + m.daemon.url,
		"VOLUTE_DAEMON_TOKEN=" + m.daemon.token,
	}
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}

	logPath := filepath.Join(m.stateDir, mind, "connectors", spec.Type, "connector.log")
	rl := rotatinglog.Open(rotatinglog.Config{Path: logPath})

	pidFile := filepath.Join(m.stateDir, mind, "connectors", spec.Type, "connector.pid")

	r, err := procutil.Start(ctx, procutil.Config{
		Name:    k.String(),
		Command: spec.Command,
		Dir:     dir,
		Env:     env,
		PIDFile: pidFile,
		Sink:    rl,
		OnExit: func(exitCode int, crashed bool) {
			m.handleExit(k)
		},
	})
	if err != nil {
		rl.Close()
		return fmt.Errorf("start connector %s: %w", k, err)
	}

	m.mu.Lock()
	m.procs[k] = r
	m.logs[k] = rl
	m.mu.Unlock()
	return nil
}

// StopConnector stops a single (mind, type) connector, if running.
func (m *Manager) StopConnector(ctx context.Context, mind, typ string) error {
	k := key{mind: mind, typ: typ}
	m.mu.Lock()
	r, ok := m.procs[k]
	if ok {
		delete(m.procs, k)
	}
	rl := m.logs[k]
	delete(m.logs, k)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	err := r.Stop(ctx)
	if rl != nil {
		rl.Close()
	}
	return err
}

// StopAllForMind stops every connector running for mind, e.g. when the mind
// itself is stopped or deleted.
func (m *Manager) StopAllForMind(ctx context.Context, mind string) {
	m.mu.Lock()
	var keys []key
	for k := range m.procs {
		if k.mind == mind {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	for _, k := range keys {
		_ = m.StopConnector(ctx, k.mind, k.typ)
	}
}

// StopAll stops every running connector across every mind, part of the
// daemon's shutdown sequence.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	keys := make([]key, 0, len(m.procs))
	for k := range m.procs {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, k := range keys {
		wg.Add(1)
		go func(k key) {
			defer wg.Done()
			_ = m.StopConnector(ctx, k.mind, k.typ)
		}(k)
	}
	wg.Wait()
}

// Status returns the status of one (mind, type) connector, if running.
func (m *Manager) Status(mind, typ string) (Status, bool) {
	k := key{mind: mind, typ: typ}
	m.mu.Lock()
	r, ok := m.procs[k]
	m.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	st := r.Status()
	state := StateRunning
	if st.State == procutil.StateExited {
		state = StateStopped
	}
	return Status{
		Mind:      mind,
		Type:      typ,
		State:     state,
		PID:       st.PID,
		StartedAt: st.StartedAt,
		StoppedAt: st.StoppedAt,
	}, true
}

// ListForMind returns the status of every connector running for mind.
func (m *Manager) ListForMind(mind string) []Status {
	m.mu.Lock()
	var keys []key
	for k := range m.procs {
		if k.mind == mind {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()

	out := make([]Status, 0, len(keys))
	for _, k := range keys {
		if st, ok := m.Status(k.mind, k.typ); ok {
			out = append(out, st)
		}
	}
	return out
}

func (m *Manager) handleExit(k key) {
	m.mu.Lock()
	_, stillTracked := m.procs[k]
	if stillTracked {
		delete(m.procs, k)
	}
	rl := m.logs[k]
	delete(m.logs, k)
	m.mu.Unlock()
	if rl != nil {
		rl.Close()
	}
}
