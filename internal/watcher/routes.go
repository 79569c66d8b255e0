// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher provides debounced function execution and an
// fsnotify-backed watcher for each mind's routes.json/schedules.json,
// reloading them on edit without a daemon restart.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/volute/volute/internal/events"
)

// RoutesWatcher watches a set of per-mind config files (routes.json,
// schedules.json) and invokes a registered callback, debounced, whenever
// one changes on disk. Repurposed from the teacher's BinaryWatcher, which
// watched compiled service binaries for hot-restart rather than JSON
// config for hot-reload — the fsnotify + ref-counted-directory-watch +
// debounce shape carries over unchanged.
type RoutesWatcher struct {
	mu        sync.Mutex
	bus       events.EventBus
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer

	// watches maps an exact file path to what to do when it changes.
	watches map[string]watch
	// dirRefs ref-counts directory watches, since fsnotify watches
	// directories rather than individual files (so renames/atomic
	// replace-on-write are still observed).
	dirRefs map[string]int

	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

type watch struct {
	mind      string
	eventType string // published on the bus after a successful reload, "" to skip
	onChange  func(mind string) error
}

// NewRoutesWatcher creates a watcher with the given debounce duration
// (fires onChange this long after the last write burst settles).
func NewRoutesWatcher(bus events.EventBus, debounce time.Duration) (*RoutesWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: create fsnotify watcher: %w", err)
	}

	w := &RoutesWatcher{
		bus:       bus,
		fsWatcher: fsWatcher,
		debouncer: NewDebouncer(debounce),
		watches:   make(map[string]watch),
		dirRefs:   make(map[string]int),
		closeCh:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Watch registers path to be watched for mind; onChange is invoked
// (debounced) whenever the file is written, created, or renamed into
// place. When eventType is non-empty, a matching ActivityBus event is
// published after a successful onChange call.
func (w *RoutesWatcher) Watch(mind, path, eventType string, onChange func(mind string) error) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watcher: resolve %s: %w", path, err)
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return fmt.Errorf("watcher: closed")
	}

	if w.dirRefs[dir] == 0 {
		if err := w.fsWatcher.Add(dir); err != nil {
			return fmt.Errorf("watcher: watch dir %s: %w", dir, err)
		}
	}
	w.dirRefs[dir]++
	w.watches[abs] = watch{mind: mind, eventType: eventType, onChange: onChange}
	return nil
}

// Unwatch stops watching path, releasing the underlying directory watch
// once no other watched file shares it.
func (w *RoutesWatcher) Unwatch(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watches, abs)
	w.debouncer.Cancel(abs)

	if w.dirRefs[dir] > 0 {
		w.dirRefs[dir]--
		if w.dirRefs[dir] == 0 {
			delete(w.dirRefs, dir)
			_ = w.fsWatcher.Remove(dir)
		}
	}
	return nil
}

func (w *RoutesWatcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.closeCh:
			return
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case <-w.fsWatcher.Errors:
			// Best-effort: a watch error never terminates the daemon.
		}
	}
}

func (w *RoutesWatcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return
	}

	w.mu.Lock()
	wch, ok := w.watches[abs]
	w.mu.Unlock()
	if !ok {
		return
	}

	w.debouncer.Debounce(abs, func() {
		if err := wch.onChange(wch.mind); err != nil {
			return
		}
		if wch.eventType != "" && w.bus != nil {
			_ = w.bus.Publish(context.Background(), events.Event{Type: wch.eventType, Mind: wch.mind})
		}
	})
}

// Close stops the watcher and releases the fsnotify handle.
func (w *RoutesWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	w.debouncer.Stop()
	close(w.closeCh)
	err := w.fsWatcher.Close()
	w.wg.Wait()
	return err
}
