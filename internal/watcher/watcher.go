// Package watcher wraps fsnotify with per-path callbacks, debouncing,
// optional recursive directory watching, and automatic restart after
// watcher-level failures.
package watcher

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"loom/internal/logging"
)

const (
	defaultDebounce    = 100 * time.Millisecond
	defaultMaxWatches  = 200
	maxRestartAttempts = 3
	restartBaseDelay   = 200 * time.Millisecond
)

var ErrMaxWatchesExceeded = errors.New("max watches exceeded")

// Event represents a single filesystem change.
type Event struct {
	Path      string
	Op        fsnotify.Op
	Timestamp time.Time
}

// Handle releases watcher resources for a registration.
type Handle interface {
	Close() error
}

// Watch registers a callback for filesystem events on a path. Directory
// registrations also receive events for paths below them when the watcher
// runs in recursive mode.
type Watch interface {
	Watch(path string, callback func(Event)) (Handle, error)
}

// Options controls watcher behavior.
type Options struct {
	Logger         *logging.Logger
	Debounce       time.Duration
	WatchRecursive bool
	MaxWatches     int
}

// Watcher is the concrete fsnotify-backed implementation.
type Watcher struct {
	watcher          *fsnotify.Watcher
	mutex            sync.Mutex
	callbacks        map[string][]callbackEntry
	debouncer        *debouncer
	events           chan fsnotify.Event
	errors           chan error
	done             chan struct{}
	closed           bool
	logger           *logging.Logger
	watchRecursive   bool
	maxWatches       int
	activeWatches    int
	nextID           uint64
	treeWatches      map[string]int

	restartMutex    sync.Mutex
	restartAttempts int
	restartTimer    *time.Timer
	errorHandler    func(error)

	eventsDelivered uint64
	eventsDropped   uint64
	errorCount      uint64
}

// Metrics reports current watcher stats.
type Metrics struct {
	ActiveWatches   int
	EventsDelivered uint64
	EventsDropped   uint64
	Errors          uint64
	RestartAttempts int
}

// New creates a Watcher with default options.
func New() (*Watcher, error) {
	return NewWithOptions(Options{})
}

// NewWithOptions creates a Watcher with custom options.
func NewWithOptions(options Options) (*Watcher, error) {
	source, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.LevelInfo, nil)
	}
	debounce := options.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	maxWatches := options.MaxWatches
	if maxWatches <= 0 {
		maxWatches = defaultMaxWatches
	}

	instance := &Watcher{
		watcher:          source,
		callbacks:        make(map[string][]callbackEntry),
		debouncer:        newDebouncer(debounce),
		events:           make(chan fsnotify.Event, 16),
		errors:           make(chan error, 4),
		done:             make(chan struct{}),
		logger:           logger,
		watchRecursive:   options.WatchRecursive,
		maxWatches:       maxWatches,
		treeWatches:      make(map[string]int),
	}

	instance.startForwarder(source)
	go instance.run()
	return instance, nil
}

// Close shuts down the watcher and stops event processing.
func (watcher *Watcher) Close() error {
	if watcher == nil {
		return nil
	}

	watcher.mutex.Lock()
	if watcher.closed {
		watcher.mutex.Unlock()
		return nil
	}
	watcher.closed = true
	if watcher.debouncer != nil {
		watcher.debouncer.stop()
		watcher.debouncer = nil
	}
	watcher.mutex.Unlock()

	watcher.restartMutex.Lock()
	if watcher.restartTimer != nil {
		watcher.restartTimer.Stop()
		watcher.restartTimer = nil
	}
	watcher.restartMutex.Unlock()

	close(watcher.done)
	if watcher.watcher == nil {
		return nil
	}
	return watcher.watcher.Close()
}

// SetErrorHandler configures a callback for unrecoverable watcher failures.
func (watcher *Watcher) SetErrorHandler(handler func(error)) {
	if watcher == nil {
		return
	}
	watcher.restartMutex.Lock()
	watcher.errorHandler = handler
	watcher.restartMutex.Unlock()
}

func (watcher *Watcher) run() {
	for {
		select {
		case event := <-watcher.events:
			watcher.handleEvent(event)
		case err := <-watcher.errors:
			watcher.handleError(err)
		case <-watcher.done:
			return
		}
	}
}

func (watcher *Watcher) startForwarder(source *fsnotify.Watcher) {
	if source == nil {
		return
	}
	go func() {
		for {
			select {
			case event, ok := <-source.Events:
				if !ok {
					return
				}
				select {
				case watcher.events <- event:
				case <-watcher.done:
					return
				}
			case err, ok := <-source.Errors:
				if !ok {
					return
				}
				select {
				case watcher.errors <- err:
				case <-watcher.done:
					return
				}
			case <-watcher.done:
				return
			}
		}
	}()
}

// Metrics reports current watcher stats.
func (watcher *Watcher) Metrics() Metrics {
	if watcher == nil {
		return Metrics{}
	}
	watcher.mutex.Lock()
	active := watcher.activeWatches
	watcher.mutex.Unlock()
	watcher.restartMutex.Lock()
	restartAttempts := watcher.restartAttempts
	watcher.restartMutex.Unlock()
	return Metrics{
		ActiveWatches:   active,
		EventsDelivered: atomic.LoadUint64(&watcher.eventsDelivered),
		EventsDropped:   atomic.LoadUint64(&watcher.eventsDropped),
		Errors:          atomic.LoadUint64(&watcher.errorCount),
		RestartAttempts: restartAttempts,
	}
}

func (watcher *Watcher) logWarn(message string, fields map[string]string) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Warn(message, withWatcherFields(fields))
}

func (watcher *Watcher) logDebug(message, path string, activeCount int) {
	if watcher == nil || watcher.logger == nil {
		return
	}
	watcher.logger.Debug(message, withWatcherFields(map[string]string{
		"path":           path,
		"active_watches": strconv.Itoa(activeCount),
	}))
}

func withWatcherFields(fields map[string]string) map[string]string {
	merged := make(map[string]string, len(fields)+1)
	merged["loom.category"] = "watcher"
	for key, value := range fields {
		merged[key] = value
	}
	return merged
}
