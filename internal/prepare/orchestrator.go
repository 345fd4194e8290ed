// Package prepare coordinates native preparation, the native change
// watcher, and the bundler supervisor into a single readiness stream
// per (project, platform).
package prepare

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"loom/internal/bundler"
	"loom/internal/event"
	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/nativewatch"
)

// Compiler is the bundler supervisor surface the orchestrator drives.
type Compiler interface {
	CompileWatch(ctx context.Context, target bundler.Target) error
	CompileOnce(ctx context.Context, target bundler.Target) error
	Events() *event.Bus[bundler.CompilationEvent]
	Stop(platform string)
	StopAll()
}

// PlatformService stages native platforms before a build.
type PlatformService interface {
	AddPlatformIfNeeded(platform string) error
	PrepareNativePlatform(ctx context.Context, platform string) (bool, error)
	PlatformRoot(platform string) string
}

// NativeWatcher arms filesystem watches that feed the per-platform latch.
type NativeWatcher interface {
	Arm(platform, root string, latch *nativewatch.Latch, ignore func(string) bool) (*nativewatch.Armed, error)
	Disarm(platform string)
}

// Options configures an Orchestrator.
type Options struct {
	Compiler  Compiler
	Platforms PlatformService
	Watches   NativeWatcher
	Ignore    *nativewatch.IgnoreList
	Logger    *logging.Logger
	Metrics   *metrics.Registry
}

// PrepareOptions describes one prepare call.
type PrepareOptions struct {
	ProjectDir string
	Platform   string
	Watch      bool

	// OutputDir is where the bundler writes its artifacts; emitted
	// relative paths resolve against it.
	OutputDir string

	// NativeRoot overrides the watched native tree. Empty means the
	// platform service's root for the platform.
	NativeRoot string

	Env map[string]any
}

type stateKey struct {
	projectDir string
	platform   string
}

// platformState survives across prepare cycles within one session. The
// latch and watch handle are owned exclusively by the orchestrator.
type platformState struct {
	latch       nativewatch.Latch
	armed       bool
	subscribed  bool
	unsubscribe func()
}

// Orchestrator drives the Idle -> NativePreparing -> (WatchArmed |
// OneShotDone) -> Idle cycle per (projectDir, platform).
type Orchestrator struct {
	compiler  Compiler
	platforms PlatformService
	watches   NativeWatcher
	ignore    *nativewatch.IgnoreList
	logger    *logging.Logger
	metrics   *metrics.Registry

	mu     sync.Mutex
	states map[stateKey]*platformState

	bus *event.Bus[ReadyEvent]
}

// NewOrchestrator creates an Orchestrator. Compiler and Platforms are
// required.
func NewOrchestrator(ctx context.Context, options Options) (*Orchestrator, error) {
	if options.Compiler == nil {
		return nil, errors.New("prepare: compiler is required")
	}
	if options.Platforms == nil {
		return nil, errors.New("prepare: platform service is required")
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.LevelInfo, nil)
	}
	recorder := options.Metrics
	if recorder == nil {
		recorder = metrics.Default
	}
	return &Orchestrator{
		compiler:  options.Compiler,
		platforms: options.Platforms,
		watches:   options.Watches,
		ignore:    options.Ignore,
		logger:    logger.With(map[string]string{"loom.category": "prepare"}),
		metrics:   recorder,
		states:    make(map[stateKey]*platformState),
		bus: event.NewBus[ReadyEvent](ctx, event.BusOptions{
			Name:     "prepare_ready_events",
			Logger:   logger,
			Registry: recorder,
		}),
	}, nil
}

// Events exposes the readiness event bus.
func (orchestrator *Orchestrator) Events() *event.Bus[ReadyEvent] {
	return orchestrator.bus
}

// Prepare stages the platform and compiles it. In watch mode it returns
// after the initial full build while the watch loop keeps publishing
// readiness events; in one-shot mode it returns when the subprocess
// settles and publishes nothing.
func (orchestrator *Orchestrator) Prepare(ctx context.Context, options PrepareOptions) error {
	key, err := makeStateKey(options)
	if err != nil {
		return err
	}
	state := orchestrator.stateFor(key)

	if err := orchestrator.platforms.AddPlatformIfNeeded(key.platform); err != nil {
		return fmt.Errorf("add platform %s: %w", key.platform, err)
	}

	changed, err := orchestrator.platforms.PrepareNativePlatform(ctx, key.platform)
	if err != nil {
		return fmt.Errorf("prepare native %s: %w", key.platform, err)
	}
	if changed {
		state.latch.Set()
	}

	target := bundler.Target{
		Platform:   key.platform,
		ProjectDir: options.ProjectDir,
		OutputDir:  options.OutputDir,
		Env:        options.Env,
	}

	if !options.Watch {
		return orchestrator.compiler.CompileOnce(ctx, target)
	}

	if err := orchestrator.armWatch(key, state, options); err != nil {
		return err
	}
	if err := orchestrator.compiler.CompileWatch(ctx, target); err != nil {
		orchestrator.teardown(key, state)
		return err
	}
	return nil
}

// PrepareAll prepares several platforms concurrently with fully
// independent per-platform state. It returns the first failure.
func (orchestrator *Orchestrator) PrepareAll(ctx context.Context, all []PrepareOptions) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for _, options := range all {
		options := options
		group.Go(func() error {
			return orchestrator.Prepare(groupCtx, options)
		})
	}
	return group.Wait()
}

// Stop tears down the platform's subprocess, watch, and subscription.
// It is safe to call when nothing is running.
func (orchestrator *Orchestrator) Stop(projectDir, platform string) {
	key := stateKey{projectDir: projectDir, platform: platformKey(platform)}

	orchestrator.mu.Lock()
	state := orchestrator.states[key]
	delete(orchestrator.states, key)
	orchestrator.mu.Unlock()

	orchestrator.compiler.Stop(key.platform)
	if state == nil {
		return
	}
	orchestrator.release(key, state)
}

// StopAll tears down every platform.
func (orchestrator *Orchestrator) StopAll() {
	orchestrator.mu.Lock()
	states := make(map[stateKey]*platformState, len(orchestrator.states))
	for key, state := range orchestrator.states {
		states[key] = state
	}
	orchestrator.states = make(map[stateKey]*platformState)
	orchestrator.mu.Unlock()

	orchestrator.compiler.StopAll()
	for key, state := range states {
		orchestrator.release(key, state)
	}
}

func (orchestrator *Orchestrator) stateFor(key stateKey) *platformState {
	orchestrator.mu.Lock()
	defer orchestrator.mu.Unlock()
	state := orchestrator.states[key]
	if state == nil {
		state = &platformState{}
		orchestrator.states[key] = state
	}
	return state
}

// armWatch installs the native watch and the compilation subscription
// exactly once per state. The subscription is in place before the
// compiler starts so no event can slip past it.
func (orchestrator *Orchestrator) armWatch(key stateKey, state *platformState, options PrepareOptions) error {
	orchestrator.mu.Lock()
	defer orchestrator.mu.Unlock()

	if orchestrator.watches != nil && !state.armed {
		root := options.NativeRoot
		if root == "" {
			root = orchestrator.platforms.PlatformRoot(key.platform)
		}
		_, err := orchestrator.watches.Arm(key.platform, root, &state.latch, orchestrator.ignorePredicate())
		if err != nil {
			return fmt.Errorf("arm native watch for %s: %w", key.platform, err)
		}
		state.armed = true
	}

	if !state.subscribed {
		platform := key.platform
		events, cancel := orchestrator.compiler.Events().SubscribeFiltered(func(e bundler.CompilationEvent) bool {
			return platformKey(e.Platform) == platform
		})
		state.subscribed = true
		state.unsubscribe = cancel
		go orchestrator.forward(state, events)
	}
	return nil
}

// forward turns each compilation event into a readiness emission. The
// latch read is a single atomic consume, so a native change that races
// the emission lands either in this payload or the next, never nowhere.
func (orchestrator *Orchestrator) forward(state *platformState, events <-chan bundler.CompilationEvent) {
	for compilation := range events {
		payload := ReadyPayload{
			Files:                 compilation.Files,
			HasNativeChanges:      state.latch.Consume(),
			HasOnlyHotUpdateFiles: compilation.HasOnlyHotUpdateFiles,
			HMRData:               compilation.HMRData,
			Platform:              compilation.Platform,
		}
		orchestrator.metrics.IncPrepareReady(compilation.Platform)
		orchestrator.logger.Info("prepare ready", map[string]string{
			"platform":       payload.Platform,
			"files":          fmt.Sprintf("%d", len(payload.Files)),
			"native_changes": fmt.Sprintf("%t", payload.HasNativeChanges),
			"hot_update":     fmt.Sprintf("%t", payload.HasOnlyHotUpdateFiles),
		})
		orchestrator.bus.Publish(ReadyEvent{
			Payload:    payload,
			OccurredAt: time.Now(),
		})
	}
}

func (orchestrator *Orchestrator) teardown(key stateKey, state *platformState) {
	orchestrator.mu.Lock()
	delete(orchestrator.states, key)
	orchestrator.mu.Unlock()
	orchestrator.release(key, state)
}

func (orchestrator *Orchestrator) release(key stateKey, state *platformState) {
	if state.armed && orchestrator.watches != nil {
		orchestrator.watches.Disarm(key.platform)
		state.armed = false
	}
	if state.unsubscribe != nil {
		state.unsubscribe()
		state.unsubscribe = nil
		state.subscribed = false
	}
}

func (orchestrator *Orchestrator) ignorePredicate() func(string) bool {
	if orchestrator.ignore == nil {
		return nil
	}
	return orchestrator.ignore.IsFileInIgnoreList
}

func makeStateKey(options PrepareOptions) (stateKey, error) {
	platform := platformKey(options.Platform)
	if platform == "" {
		return stateKey{}, errors.New("prepare: platform is required")
	}
	return stateKey{
		projectDir: options.ProjectDir,
		platform:   platform,
	}, nil
}

func platformKey(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}
