// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app wires every daemon component together: Registry, ActivityBus,
// RestartTracker, MindManager, ConnectorManager, Scheduler, DeliveryManager,
// SleepManager, the delivery queue, the routes/schedules watcher, and the
// HTTP API. Adapted from the teacher's internal/app.App — same
// Initialize/Start/Run/Shutdown lifecycle and idempotent-shutdown guard,
// generalized from trellis's worktree/service/workflow graph to Volute's
// mind/connector/scheduler/delivery graph.
package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/volute/volute/internal/api"
	"github.com/volute/volute/internal/atomicfile"
	"github.com/volute/volute/internal/config"
	"github.com/volute/volute/internal/connector"
	"github.com/volute/volute/internal/delivery"
	"github.com/volute/volute/internal/events"
	"github.com/volute/volute/internal/mind"
	"github.com/volute/volute/internal/queue"
	"github.com/volute/volute/internal/registry"
	"github.com/volute/volute/internal/restart"
	"github.com/volute/volute/internal/routing"
	"github.com/volute/volute/internal/scheduler"
	"github.com/volute/volute/internal/sleepmgr"
	"github.com/volute/volute/internal/watcher"
)

// daemonInfo is the persisted daemon.json fingerprint: the port, hostname,
// and bearer token a connector or operator needs to talk to this daemon.
type daemonInfo struct {
	Port     int    `json:"port"`
	Hostname string `json:"hostname"`
	Token    string `json:"token"`
}

// App holds every long-lived daemon component.
type App struct {
	home string
	cfg  *config.Config

	registry   *registry.Store
	bus        *events.MemoryEventBus
	restarts   *restart.Tracker
	minds      *mind.Manager
	connectors *connector.Manager
	scheduler  *scheduler.Scheduler
	delivery   *delivery.Manager
	queue      *queue.Store
	sleep      *sleepmgr.Manager
	watcher    *watcher.RoutesWatcher
	webhooks   []*events.Webhook
	server     *api.Server

	token string

	mu       sync.Mutex
	shutdown bool
}

// New constructs the App without starting anything. home is the daemon's
// persistent home directory (where registry.json, state/, minds/, and
// volute.db live).
func New(home string, cfg *config.Config) (*App, error) {
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("app: create home dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(home, "state"), 0o755); err != nil {
		return nil, fmt.Errorf("app: create state dir: %w", err)
	}

	reg, err := registry.Open(filepath.Join(home, "registry.json"))
	if err != nil {
		return nil, fmt.Errorf("app: open registry: %w", err)
	}

	bus := events.NewMemoryEventBus(events.MemoryBusConfig{
		HistoryMaxEvents: cfg.Events.History.MaxEvents,
		HistoryMaxAge:    config.ParseDuration(cfg.Events.History.MaxAge, time.Hour),
	})

	restartCfg := restart.Config{
		MaxAttempts: cfg.Restart.MaxAttempts,
		BaseDelay:   config.ParseDuration(cfg.Restart.BaseDelay, 3*time.Second),
		MaxDelay:    config.ParseDuration(cfg.Restart.MaxDelay, 60*time.Second),
	}
	restarts := restart.NewTracker(filepath.Join(home, "crash-attempts.json"), restartCfg)

	token, err := loadOrCreateToken(home, cfg.Server.Token)
	if err != nil {
		return nil, err
	}

	a := &App{
		home:     home,
		cfg:      cfg,
		registry: reg,
		bus:      bus,
		restarts: restarts,
		token:    token,
	}

	a.minds = mind.NewManager(mind.ManagerConfig{
		Registry:    reg,
		Bus:         bus,
		Restarts:    restarts,
		StateDir:    filepath.Join(home, "state"),
		VariantsDir: filepath.Join(home, "variants.json"),
		DaemonURL:   fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
		DaemonToken: token,
		Isolation: mind.IsolationSettings{
			Enabled:    cfg.Isolation.Enabled,
			UserPrefix: cfg.Isolation.UserPrefix,
		},
	})

	a.connectors = connector.NewManager(connector.ManagerConfig{
		StateDir:    filepath.Join(home, "state"),
		DaemonURL:   fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port),
		DaemonToken: token,
	})

	q, err := queue.Open(filepath.Join(home, "volute.db"))
	if err != nil {
		return nil, fmt.Errorf("app: open delivery queue: %w", err)
	}
	a.queue = q

	sleepMgr, err := sleepmgr.New(sleepmgr.ManagerConfig{
		TickInterval: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
		SettleDelay:  3 * time.Second,
		StatePath:    filepath.Join(home, "sleep-state.json"),
		Minds:        a.mindNames,
		LoadConfig:   a.loadSleepConfig,
		Ports:        a.mindPort,
		Start:        a.minds.StartMind,
		Stop:         a.minds.StopMind,
		KillOrphan:   a.minds.KillOrphanOnPort,
		SessionsDir:  a.mindSessionsDir,
		ArchiveDir:   a.mindArchiveDir,
		Queue:        q,
		Bus:          bus,
	})
	if err != nil {
		return nil, fmt.Errorf("app: start sleep manager: %w", err)
	}
	a.sleep = sleepMgr

	a.delivery = delivery.NewManager(delivery.ManagerConfig{
		HTTPTimeout: 30 * time.Second,
		Ports:       a.mindPort,
		LoadConfig:  a.loadRoutes,
		FileBase:    a.mindHomeDir,
		Sleep:       sleepMgr,
		Queue:       q,
		Bus:         bus,
	})
	// SleepManager flushes queued messages back through the very same
	// DeliveryManager it is a dependency of; wire the cycle's other edge
	// here, once both sides exist, rather than thread Deliver through
	// ManagerConfig before delivery.Manager is constructed.
	sleepMgr.SetDeliverer(a.delivery)

	sched, err := scheduler.New(scheduler.Config{
		TickInterval:  60 * time.Second,
		StatePath:     filepath.Join(home, "scheduler-state.json"),
		Minds:         a.mindNames,
		LoadSchedules: a.loadSchedules,
		WorkDir:       a.mindHomeDir,
		ScriptTimeout: 5 * time.Minute,
		RunAs:         a.mindRunAsUser,
		Deliver:       a.delivery,
	})
	if err != nil {
		return nil, fmt.Errorf("app: start scheduler: %w", err)
	}
	a.scheduler = sched

	rw, err := watcher.NewRoutesWatcher(bus, config.ParseDuration(cfg.Watch.Debounce, 200*time.Millisecond))
	if err != nil {
		return nil, fmt.Errorf("app: start routes watcher: %w", err)
	}
	a.watcher = rw

	for _, wh := range cfg.Events.Webhooks {
		forwarder := events.NewWebhook(events.WebhookConfig{
			URL:      wh.URL,
			Token:    wh.Token,
			Patterns: wh.Patterns,
			Timeout:  config.ParseDuration(wh.Timeout, 5*time.Second),
		})
		if _, err := forwarder.Subscribe(bus); err != nil {
			log.Printf("app: webhook %s: %v", wh.ID, err)
			continue
		}
		a.webhooks = append(a.webhooks, forwarder)
	}

	a.server = api.NewServer(api.ServerConfig{
		Host:  cfg.Server.Host,
		Port:  cfg.Server.Port,
		Token: token,
	}, api.Dependencies{
		Registry:   reg,
		Minds:      a.minds,
		Connectors: a.connectors,
		Delivery:   a.delivery,
		Bus:        bus,
		DaemonLog:  filepath.Join(home, "daemon.log"),
	})

	return a, nil
}

// loadOrCreateToken returns the bearer token every API request must carry,
// pinning it to cfg's configured value when set, otherwise generating and
// persisting a random one on first start so it survives a restart.
func loadOrCreateToken(home, configured string) (string, error) {
	path := filepath.Join(home, "daemon.json")
	if configured != "" {
		return configured, nil
	}

	var info daemonInfo
	if err := atomicfile.ReadJSON(path, &info); err == nil && info.Token != "" {
		return info.Token, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("app: generate daemon token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Initialize persists daemon.pid and daemon.json, refusing to start (and
// leaving both files untouched) if a live daemon already owns this home
// directory or the configured API port is already in use.
func (a *App) Initialize() error {
	pidPath := filepath.Join(a.home, "daemon.pid")
	if pid, ok := readLivePID(pidPath); ok {
		return fmt.Errorf("app: daemon already running (pid %d)", pid)
	}

	addr := net.JoinHostPort(a.cfg.Server.Host, fmt.Sprint(a.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("app: port %d unavailable: %w", a.cfg.Server.Port, err)
	}
	ln.Close()

	if err := os.WriteFile(pidPath, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("app: write daemon.pid: %w", err)
	}

	info := daemonInfo{Port: a.cfg.Server.Port, Hostname: a.cfg.Server.Host, Token: a.token}
	if err := atomicfile.WriteJSON(filepath.Join(a.home, "daemon.json"), info); err != nil {
		return fmt.Errorf("app: write daemon.json: %w", err)
	}
	return nil
}

// Start brings up every running mind recorded in the registry, the
// scheduler and sleep-manager tick loops, and the HTTP API. It returns
// once the HTTP listener is bound (ListenAndServe runs on its own
// goroutine) so the caller can proceed to Run.
func (a *App) Start(ctx context.Context) error {
	for _, rec := range a.registry.List() {
		if !rec.Running {
			continue
		}
		if err := a.minds.StartMind(ctx, rec.Name); err != nil {
			log.Printf("app: start mind %s: %v", rec.Name, err)
			continue
		}
		if err := a.scheduler.LoadSchedules(rec.Name); err != nil {
			log.Printf("app: load schedules for %s: %v", rec.Name, err)
		}
		a.watchMindConfig(rec.Name)
		if err := a.connectors.StartConnectors(ctx, rec.Name, filepath.Join(rec.Dir, "home"), rec.Port); err != nil {
			log.Printf("app: start connectors for %s: %v", rec.Name, err)
		}
	}

	go a.scheduler.Run(ctx)
	go a.sleep.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("app: API server failed to start: %w", err)
	case <-time.After(200 * time.Millisecond):
		return nil
	}
}

// watchMindConfig registers fsnotify watches on a mind's routes.json and
// schedules.json, hot-reloading both on edit.
func (a *App) watchMindConfig(name string) {
	stateDir := filepath.Join(a.home, "state", name)
	_ = a.watcher.Watch(name, filepath.Join(stateDir, "routes.json"), "", func(string) error {
		_, err := a.loadRoutes(name)
		return err
	})
	_ = a.watcher.Watch(name, filepath.Join(stateDir, "schedules.json"), events.EventScheduleChanged, func(mindName string) error {
		return a.scheduler.LoadSchedules(mindName)
	})
}

// Run blocks until ctx is cancelled (typically by a signal handler in
// cmd/volute), then performs an orderly Shutdown.
func (a *App) Run(ctx context.Context) error {
	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// Shutdown stops every component in dependency order: scheduler and sleep
// ticks first (so no new work starts), then connectors and minds, then
// the queue and HTTP server, then the PID file is unlinked — but only if
// this process still owns it, so a second daemon's failed Initialize
// never deletes the first daemon's files.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	if a.shutdown {
		a.mu.Unlock()
		return nil
	}
	a.shutdown = true
	a.mu.Unlock()

	log.Println("app: shutting down")

	a.scheduler.Stop()
	a.sleep.Close()
	_ = a.watcher.Close()

	a.delivery.Dispose(ctx, a.routingConfigs())

	a.connectors.StopAll(ctx)
	a.minds.StopAll(ctx)

	if err := a.server.Shutdown(ctx); err != nil {
		log.Printf("app: API server shutdown: %v", err)
	}
	if err := a.queue.Close(); err != nil {
		log.Printf("app: close delivery queue: %v", err)
	}
	if err := a.bus.Close(); err != nil {
		log.Printf("app: close event bus: %v", err)
	}

	if pid, ok := readLivePID(filepath.Join(a.home, "daemon.pid")); ok && pid == os.Getpid() {
		_ = os.Remove(filepath.Join(a.home, "daemon.pid"))
	}

	return nil
}

func readLivePID(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil || pid <= 0 {
		return 0, false
	}
	if err := processSignal0(pid); err != nil {
		return 0, false
	}
	return pid, true
}

// --- closures wiring component configs to on-disk mind state ---

func (a *App) mindNames() []string {
	recs := a.registry.List()
	names := make([]string, 0, len(recs))
	for _, rec := range recs {
		names = append(names, rec.Name)
	}
	return names
}

// routingConfigs loads every registered mind's current routing config, for
// Dispose's batch-flush pass — a best-effort snapshot; a load failure for
// one mind just means its in-flight batch flushes with no session config
// (no instructions/autoReply prelude) rather than blocking shutdown.
func (a *App) routingConfigs() map[string]routing.Config {
	out := make(map[string]routing.Config)
	for _, name := range a.mindNames() {
		cfg, err := a.loadRoutes(name)
		if err != nil {
			log.Printf("app: load routes for %s during shutdown: %v", name, err)
			continue
		}
		out[name] = cfg
	}
	return out
}

func (a *App) mindPort(name string) (int, bool) {
	rec, err := a.registry.Get(name)
	if err != nil {
		return 0, false
	}
	return rec.Port, true
}

func (a *App) mindHomeDir(name string) string {
	rec, err := a.registry.Get(name)
	if err != nil {
		return ""
	}
	return filepath.Join(rec.Dir, "home")
}

func (a *App) mindSessionsDir(name string) string {
	return filepath.Join(a.mindHomeDir(name), "sessions")
}

func (a *App) mindArchiveDir(name string) string {
	return filepath.Join(a.home, "state", name, "archive")
}

func (a *App) mindRunAsUser(name string) (string, bool) {
	if !a.cfg.Isolation.Enabled {
		return "", false
	}
	return a.cfg.Isolation.UserPrefix + name, true
}

func (a *App) loadRoutes(name string) (routing.Config, error) {
	path := filepath.Join(a.home, "state", name, "routes.json")
	cfg, err := routing.Load(path)
	if os.IsNotExist(err) {
		return routing.Config{}, nil
	}
	return cfg, err
}

func (a *App) loadSchedules(name string) ([]scheduler.Schedule, error) {
	path := filepath.Join(a.home, "state", name, "schedules.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var schedules []scheduler.Schedule
	if err := json.Unmarshal(data, &schedules); err != nil {
		return nil, fmt.Errorf("app: parse schedules.json for %s: %w", name, err)
	}
	return schedules, nil
}

func (a *App) loadSleepConfig(name string) (sleepmgr.Config, error) {
	path := filepath.Join(a.home, "state", name, "sleep.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return sleepmgr.Config{}, nil
	}
	if err != nil {
		return sleepmgr.Config{}, err
	}
	var cfg sleepmgr.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return sleepmgr.Config{}, fmt.Errorf("app: parse sleep.json for %s: %w", name, err)
	}
	return cfg, nil
}
