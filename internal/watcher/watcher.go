// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package watcher restarts apps when their configured watch paths
// change on disk.
package watcher

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wingedpig/localdock/internal/events"
)

// Cooldown after an emitted change before events for the same app are
// honored again. Restarting an app commonly rewrites its own watched
// artifacts, which must not retrigger.
const changeCooldown = 5 * time.Second

// AppWatcher watches per-app paths and emits files.changed events.
type AppWatcher struct {
	mu         sync.RWMutex
	bus        events.EventBus
	watcher    *fsnotify.Watcher
	debouncer  *Debouncer
	watches    map[string][]string // app id -> watched paths
	pathToApp  map[string]string   // path -> app id
	refs       map[string]int      // path -> watch count
	lastChange map[string]time.Time
	closed     bool
	closeCh    chan struct{}
	wg         sync.WaitGroup
}

// New creates an app watcher with the given debounce quiet period.
func New(bus events.EventBus, debounce time.Duration) (*AppWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &AppWatcher{
		bus:        bus,
		watcher:    fsWatcher,
		debouncer:  NewDebouncer(debounce),
		watches:    make(map[string][]string),
		pathToApp:  make(map[string]string),
		refs:       make(map[string]int),
		lastChange: make(map[string]time.Time),
		closeCh:    make(chan struct{}),
	}

	w.wg.Add(1)
	go w.processEvents()

	return w, nil
}

// Watch starts watching paths for an app, replacing any earlier watch
// set for the same app. Paths that cannot be watched are skipped.
func (w *AppWatcher) Watch(appID string, paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if len(paths) == 0 {
		return nil
	}

	if oldPaths, exists := w.watches[appID]; exists {
		for _, old := range oldPaths {
			w.removeWatch(old)
			delete(w.pathToApp, old)
		}
		delete(w.watches, appID)
	}

	var absPaths []string
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if err := w.addWatch(abs); err != nil {
			log.Printf("Watch %s for app %s failed: %v", abs, appID, err)
			continue
		}
		absPaths = append(absPaths, abs)
		w.pathToApp[abs] = appID
	}

	if len(absPaths) > 0 {
		w.watches[appID] = absPaths
	}
	return nil
}

// Unwatch stops watching an app's paths. Unknown apps are a no-op.
func (w *AppWatcher) Unwatch(appID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	paths, exists := w.watches[appID]
	if !exists {
		return
	}
	for _, p := range paths {
		w.removeWatch(p)
		delete(w.pathToApp, p)
	}
	delete(w.watches, appID)
	w.debouncer.Cancel(appID)
}

// Watching returns the ids of apps with active watches.
func (w *AppWatcher) Watching() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.watches))
	for id := range w.watches {
		out = append(out, id)
	}
	return out
}

// Close stops the watcher and releases resources.
func (w *AppWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	w.debouncer.Stop()
	w.watcher.Close()
	w.wg.Wait()
	return nil
}

func (w *AppWatcher) addWatch(path string) error {
	w.refs[path]++
	if w.refs[path] == 1 {
		if err := w.watcher.Add(path); err != nil {
			delete(w.refs, path)
			return err
		}
	}
	return nil
}

func (w *AppWatcher) removeWatch(path string) {
	w.refs[path]--
	if w.refs[path] <= 0 {
		w.watcher.Remove(path)
		delete(w.refs, path)
	}
}

func (w *AppWatcher) processEvents() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher error: %v", err)
		}
	}
}

func (w *AppWatcher) handleEvent(event fsnotify.Event) {
	// Chmod fires when a watched binary is executed; reacting to it
	// would loop the restart.
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}

	w.mu.RLock()
	appID, exists := w.pathToApp[event.Name]
	if !exists {
		// A write inside a watched directory maps to the directory's app.
		appID, exists = w.pathToApp[filepath.Dir(event.Name)]
	}
	w.mu.RUnlock()

	if exists {
		w.triggerChange(appID, event.Name)
	}
}

func (w *AppWatcher) triggerChange(appID, changedPath string) {
	w.debouncer.Debounce(appID, func() {
		w.mu.Lock()
		if time.Since(w.lastChange[appID]) < changeCooldown {
			w.mu.Unlock()
			return
		}
		w.lastChange[appID] = time.Now()
		w.mu.Unlock()

		if w.bus != nil {
			w.bus.Publish(context.Background(), events.Event{
				Type: events.EventFilesChanged,
				Payload: map[string]interface{}{
					"id":   appID,
					"path": changedPath,
				},
			})
		}
	})
}
