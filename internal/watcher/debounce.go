package watcher

import (
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

type debounceEntry struct {
	timer *time.Timer
	event Event
}

// debouncer coalesces rapid successive events per path, delivering only the
// latest one after the quiet period.
type debouncer struct {
	duration time.Duration
	entries  map[string]debounceEntry
}

func newDebouncer(duration time.Duration) *debouncer {
	return &debouncer{
		duration: duration,
		entries:  make(map[string]debounceEntry),
	}
}

func (debouncer *debouncer) schedule(path string, event Event, flush func(string)) bool {
	if debouncer == nil {
		return false
	}
	entry := debouncer.entries[path]
	coalesced := entry.timer != nil
	entry.event = event
	if entry.timer == nil {
		entry.timer = time.AfterFunc(debouncer.duration, func() {
			flush(path)
		})
	} else {
		entry.timer.Reset(debouncer.duration)
	}
	debouncer.entries[path] = entry
	return coalesced
}

func (debouncer *debouncer) pop(path string) (Event, bool) {
	if debouncer == nil {
		return Event{}, false
	}
	entry, ok := debouncer.entries[path]
	if !ok {
		return Event{}, false
	}
	delete(debouncer.entries, path)
	return entry.event, true
}

func (debouncer *debouncer) stop() {
	if debouncer == nil {
		return
	}
	for _, entry := range debouncer.entries {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	debouncer.entries = nil
}

func (watcher *Watcher) handleEvent(event fsnotify.Event) {
	watcher.maybeTrackNewDir(event)

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return
	}
	if !watcher.hasCallbacksLocked(event.Name) {
		watcher.mutex.Unlock()
		return
	}

	entry := Event{
		Path:      event.Name,
		Op:        event.Op,
		Timestamp: time.Now().UTC(),
	}
	if watcher.debouncer != nil {
		coalesced := watcher.debouncer.schedule(event.Name, entry, watcher.flush)
		if coalesced {
			atomic.AddUint64(&watcher.eventsDropped, 1)
		}
	}
	watcher.mutex.Unlock()
}

// maybeTrackNewDir extends recursive coverage to directories created after
// the watch was armed.
func (watcher *Watcher) maybeTrackNewDir(event fsnotify.Event) {
	if watcher == nil || !watcher.watchRecursive || !event.Op.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return
	}

	watcher.mutex.Lock()
	covered := watcher.hasCallbacksLocked(event.Name)
	watcher.mutex.Unlock()
	if !covered {
		return
	}
	if err := watcher.acquireDirWatch(event.Name); err != nil {
		watcher.logWarn("recursive watch of new dir failed", map[string]string{
			"path":  event.Name,
			"error": err.Error(),
		})
	}
}

func (watcher *Watcher) flush(path string) {
	watcher.mutex.Lock()
	if watcher.closed || watcher.debouncer == nil {
		watcher.mutex.Unlock()
		return
	}
	event, ok := watcher.debouncer.pop(path)
	if !ok {
		watcher.mutex.Unlock()
		return
	}
	callbacks := watcher.callbacksForPathLocked(path)
	watcher.mutex.Unlock()

	for _, callback := range callbacks {
		callback(event)
		atomic.AddUint64(&watcher.eventsDelivered, 1)
	}
}
