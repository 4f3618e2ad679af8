package main

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const apkWatchDebounce = 300 * time.Millisecond

// APKWatcher monitors a profile's APK directory so a freshly dropped
// launcher build is picked up without restarting the process.
type APKWatcher struct {
	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	mu       sync.Mutex
	onChange func(action, path string)
}

// NewAPKWatcher creates a watcher that invokes onChange after events settle.
func NewAPKWatcher(onChange func(action, path string)) *APKWatcher {
	return &APKWatcher{
		stopCh:   make(chan struct{}),
		onChange: onChange,
	}
}

// Start begins watching dir for APK file changes.
func (w *APKWatcher) Start(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = watcher

	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	LogInfo("apk_watcher").Str("path", dir).Msg("Started watching APK directory")

	go w.watch()
	return nil
}

// Stop stops watching the APK directory.
func (w *APKWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.watcher != nil {
		close(w.stopCh)
		w.watcher.Close()
		w.watcher = nil
		LogInfo("apk_watcher").Msg("Stopped watching APK directory")
	}
}

// watch is the main watch loop
func (w *APKWatcher) watch() {
	// Debounce: wait for events to settle before notifying
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.stopCh:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !strings.EqualFold(filepath.Ext(event.Name), ".apk") {
				continue
			}

			// Debounce: reset timer on each event
			if debounceTimer != nil {
				debounceTimer.Stop()
			}

			action := ""
			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				action = "create"
			case event.Op&fsnotify.Write == fsnotify.Write:
				action = "save"
			case event.Op&fsnotify.Remove == fsnotify.Remove:
				action = "delete"
			case event.Op&fsnotify.Rename == fsnotify.Rename:
				action = "delete" // Rename is often used for atomic writes
			}

			if action != "" {
				path := event.Name
				debounceTimer = time.AfterFunc(apkWatchDebounce, func() {
					w.notifyChange(action, path)
				})
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			LogError("apk_watcher").Err(err).Msg("Watcher error")
		}
	}
}

func (w *APKWatcher) notifyChange(action, path string) {
	LogDebug("apk_watcher").
		Str("action", action).
		Str("apk", filepath.Base(path)).
		Msg("APK directory changed")
	if w.onChange != nil {
		w.onChange(action, path)
	}
}
