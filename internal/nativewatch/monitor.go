package nativewatch

import (
	"errors"
	"strings"
	"sync"

	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/watcher"
)

var ErrNoRoot = errors.New("native watch root is empty")

// MonitorOptions configures a Monitor.
type MonitorOptions struct {
	Logger  *logging.Logger
	Metrics *metrics.Registry

	// Source supplies filesystem watches. When nil the monitor owns a
	// recursive watcher of its own.
	Source watcher.Watch
}

// Monitor arms at most one filesystem watch per platform over that
// platform's native resource tree. Qualifying events set the platform's
// latch; the monitor never clears latches itself.
type Monitor struct {
	logger  *logging.Logger
	metrics *metrics.Registry

	mutex sync.Mutex
	armed map[string]*Armed

	source watcher.Watch
	owned  *watcher.Watcher
}

// Armed is the handle for one armed platform. Close disarms it.
type Armed struct {
	monitor  *Monitor
	platform string
	handle   watcher.Handle
}

// NewMonitor creates a Monitor. It returns an error only when it has to
// construct its own watcher and that fails.
func NewMonitor(options MonitorOptions) (*Monitor, error) {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.LevelInfo, nil)
	}
	recorder := options.Metrics
	if recorder == nil {
		recorder = metrics.Default
	}

	monitor := &Monitor{
		logger:  logger,
		metrics: recorder,
		armed:   make(map[string]*Armed),
		source:  options.Source,
	}
	if monitor.source == nil {
		owned, err := watcher.NewWithOptions(watcher.Options{
			Logger:         logger,
			WatchRecursive: true,
		})
		if err != nil {
			return nil, err
		}
		monitor.owned = owned
		monitor.source = owned
	}
	return monitor, nil
}

// Arm starts watching root for the platform. Events whose path
// satisfies ignore are dropped; every other event sets latch. Arming an
// already-armed platform returns the existing handle.
func (monitor *Monitor) Arm(platform, root string, latch *Latch, ignore func(string) bool) (*Armed, error) {
	if monitor == nil {
		return nil, errors.New("nil monitor")
	}
	if root == "" {
		return nil, ErrNoRoot
	}
	key := platformKey(platform)

	monitor.mutex.Lock()
	defer monitor.mutex.Unlock()

	if existing := monitor.armed[key]; existing != nil {
		return existing, nil
	}

	handle, err := monitor.source.Watch(root, func(event watcher.Event) {
		if ignore != nil && ignore(event.Path) {
			return
		}
		latch.Set()
		monitor.metrics.IncNativeChange(key)
		monitor.logger.Debug("native change latched", map[string]string{
			"platform": key,
			"path":     event.Path,
		})
	})
	if err != nil {
		return nil, err
	}

	armed := &Armed{
		monitor:  monitor,
		platform: key,
		handle:   handle,
	}
	monitor.armed[key] = armed
	monitor.logger.Debug("native watcher armed", map[string]string{
		"platform": key,
		"root":     root,
	})
	return armed, nil
}

// Disarm stops watching the platform. Unknown platforms are a no-op.
func (monitor *Monitor) Disarm(platform string) {
	if monitor == nil {
		return
	}
	key := platformKey(platform)

	monitor.mutex.Lock()
	armed := monitor.armed[key]
	delete(monitor.armed, key)
	monitor.mutex.Unlock()

	if armed == nil {
		return
	}
	if err := armed.handle.Close(); err != nil {
		monitor.logger.Warn("failed to release native watch", map[string]string{
			"platform": key,
			"error":    err.Error(),
		})
	}
}

// IsArmed reports whether the platform currently has a watch.
func (monitor *Monitor) IsArmed(platform string) bool {
	if monitor == nil {
		return false
	}
	monitor.mutex.Lock()
	defer monitor.mutex.Unlock()
	return monitor.armed[platformKey(platform)] != nil
}

// Close disarms every platform and shuts down an owned watcher.
func (monitor *Monitor) Close() error {
	if monitor == nil {
		return nil
	}
	monitor.mutex.Lock()
	armed := make([]*Armed, 0, len(monitor.armed))
	for _, entry := range monitor.armed {
		armed = append(armed, entry)
	}
	monitor.armed = make(map[string]*Armed)
	monitor.mutex.Unlock()

	for _, entry := range armed {
		_ = entry.handle.Close()
	}
	if monitor.owned != nil {
		return monitor.owned.Close()
	}
	return nil
}

// Close disarms the platform this handle belongs to.
func (armed *Armed) Close() error {
	if armed == nil || armed.monitor == nil {
		return nil
	}
	armed.monitor.Disarm(armed.platform)
	return nil
}

func platformKey(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
