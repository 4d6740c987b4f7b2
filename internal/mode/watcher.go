package mode

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event signals that the descriptor may have changed on disk. Reestablished
// marks events synthesized after the watch had to be rebuilt; changes may
// have been missed while the watch was down, so consumers should always
// re-read rather than trust the last value.
type Event struct {
	Reestablished bool
}

// Watcher emits an Event whenever the mode descriptor changes. It watches
// the descriptor's directory rather than the file itself, so atomic
// rename-over replacement does not kill the watch.
type Watcher struct {
	path string
	dir  string

	watcher  *fsnotify.Watcher
	events   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once

	// debounce collapses the event bursts a single save produces.
	debounce time.Duration
}

// NewWatcher starts watching the descriptor at path.
func NewWatcher(path string) (*Watcher, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	w := &Watcher{
		path:     path,
		dir:      dir,
		watcher:  fsw,
		events:   make(chan Event, 1),
		stopCh:   make(chan struct{}),
		debounce: 50 * time.Millisecond,
	}
	go w.loop()
	return w, nil
}

// Events returns the change channel. It closes when the watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop tears down the watch. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.events)

	debounceTimer := time.NewTimer(0)
	<-debounceTimer.C // drain initial timer

	pending := false
	reestablished := false

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// The watched directory itself going away takes the
			// watch with it; rebuild before more changes slip by.
			if event.Name == w.dir && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				if !w.reestablish() {
					return
				}
				pending = true
				reestablished = true
				debounceTimer.Reset(w.debounce)
				continue
			}

			if event.Name != w.path {
				continue
			}
			// Remove counts: a deleted descriptor means the
			// installation fell back to interactive mode.
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounceTimer.Reset(w.debounce)

		case <-debounceTimer.C:
			if pending {
				w.emit(Event{Reestablished: reestablished})
				pending = false
				reestablished = false
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			// Overflow or similar: events may have been dropped, so
			// schedule a re-read.
			pending = true
			debounceTimer.Reset(w.debounce)
		}
	}
}

// emit delivers e without blocking the loop. When the consumer lags, the
// undelivered event is merged rather than dropped so a Reestablished flag
// is never lost.
func (w *Watcher) emit(e Event) {
	for {
		select {
		case w.events <- e:
			return
		default:
		}
		select {
		case old := <-w.events:
			e.Reestablished = e.Reestablished || old.Reestablished
		default:
		}
	}
}

// reestablish rebuilds the directory watch, recreating the directory if
// needed. It backs off between attempts and gives up only when the watcher
// is stopped.
func (w *Watcher) reestablish() bool {
	delay := 250 * time.Millisecond
	for {
		select {
		case <-w.stopCh:
			return false
		case <-time.After(delay):
		}

		if err := os.MkdirAll(w.dir, 0755); err == nil {
			if err := w.watcher.Add(w.dir); err == nil {
				return true
			}
		}

		delay *= 2
		if delay > 5*time.Second {
			delay = 5 * time.Second
		}
	}
}
