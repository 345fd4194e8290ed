package prepare

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"loom/internal/bundler"
	"loom/internal/event"
	"loom/internal/logging"
	"loom/internal/nativewatch"
)

type fakeCompiler struct {
	bus *event.Bus[bundler.CompilationEvent]

	mutex      sync.Mutex
	watchCalls []bundler.Target
	onceCalls  []bundler.Target
	onceErr    error
	stopped    []string
}

func newFakeCompiler(t *testing.T) *fakeCompiler {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &fakeCompiler{
		bus: event.NewBus[bundler.CompilationEvent](ctx, event.BusOptions{Name: "test_compilations"}),
	}
}

func (c *fakeCompiler) CompileWatch(ctx context.Context, target bundler.Target) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.watchCalls = append(c.watchCalls, target)
	return nil
}

func (c *fakeCompiler) CompileOnce(ctx context.Context, target bundler.Target) error {
	c.mutex.Lock()
	c.onceCalls = append(c.onceCalls, target)
	c.mutex.Unlock()
	return c.onceErr
}

func (c *fakeCompiler) Events() *event.Bus[bundler.CompilationEvent] {
	return c.bus
}

func (c *fakeCompiler) Stop(platform string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stopped = append(c.stopped, platform)
}

func (c *fakeCompiler) StopAll() {
	c.Stop("*")
}

func (c *fakeCompiler) watchCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.watchCalls)
}

func (c *fakeCompiler) onceCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.onceCalls)
}

type fakePlatforms struct {
	mutex        sync.Mutex
	changed      bool
	prepareErr   error
	addErr       error
	addCalls     int
	prepareCalls int
}

func (p *fakePlatforms) AddPlatformIfNeeded(platform string) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.addCalls++
	return p.addErr
}

func (p *fakePlatforms) PrepareNativePlatform(ctx context.Context, platform string) (bool, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.prepareCalls++
	return p.changed, p.prepareErr
}

func (p *fakePlatforms) PlatformRoot(platform string) string {
	return "/fake/platforms/" + platform
}

type fakeWatches struct {
	mutex    sync.Mutex
	latches  map[string]*nativewatch.Latch
	armCalls int
	disarmed []string
}

func newFakeWatches() *fakeWatches {
	return &fakeWatches{latches: make(map[string]*nativewatch.Latch)}
}

func (w *fakeWatches) Arm(platform, root string, latch *nativewatch.Latch, ignore func(string) bool) (*nativewatch.Armed, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.armCalls++
	w.latches[platform] = latch
	return &nativewatch.Armed{}, nil
}

func (w *fakeWatches) Disarm(platform string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.disarmed = append(w.disarmed, platform)
}

func (w *fakeWatches) latch(platform string) *nativewatch.Latch {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.latches[platform]
}

type harness struct {
	orchestrator *Orchestrator
	compiler     *fakeCompiler
	platforms    *fakePlatforms
	watches      *fakeWatches
}

func newHarness(t *testing.T, platforms *fakePlatforms) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	compiler := newFakeCompiler(t)
	watches := newFakeWatches()
	orchestrator, err := NewOrchestrator(ctx, Options{
		Compiler:  compiler,
		Platforms: platforms,
		Watches:   watches,
		Logger:    logging.NewLoggerWithOutput(logging.LevelError, nil),
	})
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return &harness{
		orchestrator: orchestrator,
		compiler:     compiler,
		platforms:    platforms,
		watches:      watches,
	}
}

func receiveReady(t *testing.T, events <-chan ReadyEvent) ReadyPayload {
	t.Helper()
	select {
	case ready := <-events:
		return ready.Payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for readiness event")
		return ReadyPayload{}
	}
}

func TestWatchModeMergesRacedNativeChange(t *testing.T) {
	h := newHarness(t, &fakePlatforms{changed: false})
	events, cancel := h.orchestrator.Events().Subscribe()
	defer cancel()

	err := h.orchestrator.Prepare(context.Background(), PrepareOptions{
		ProjectDir: "/proj",
		Platform:   "ios",
		Watch:      true,
		OutputDir:  "/out",
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if h.compiler.watchCount() != 1 {
		t.Fatalf("expected one watch compile, got %d", h.compiler.watchCount())
	}

	// A native change lands after native prepare reported false and
	// before the first readiness emission.
	h.watches.latch("ios").Set()

	h.compiler.bus.Publish(bundler.CompilationEvent{
		Platform: "ios",
		Files:    []string{"/out/main.js"},
		HMRData:  &bundler.HMRData{Hash: "abc", FallbackFiles: []string{}},
	})

	payload := receiveReady(t, events)
	if payload.Platform != "ios" {
		t.Fatalf("unexpected platform %q", payload.Platform)
	}
	if len(payload.Files) != 1 || payload.Files[0] != "/out/main.js" {
		t.Fatalf("unexpected files %v", payload.Files)
	}
	if !payload.HasNativeChanges {
		t.Fatal("raced native change must be reported")
	}
	if payload.HasOnlyHotUpdateFiles {
		t.Fatal("main.js is not a hot-update file")
	}
	if payload.HMRData == nil || payload.HMRData.Hash != "abc" {
		t.Fatalf("unexpected hmr data %+v", payload.HMRData)
	}

	// The latch was consumed; the next cycle reports clean.
	h.compiler.bus.Publish(bundler.CompilationEvent{
		Platform: "ios",
		Files:    []string{"/out/main.js"},
		HMRData:  &bundler.HMRData{Hash: "def"},
	})
	second := receiveReady(t, events)
	if second.HasNativeChanges {
		t.Fatal("consumed latch must not carry into the next cycle")
	}
}

func TestWatchModeSeedsLatchFromNativePrepare(t *testing.T) {
	h := newHarness(t, &fakePlatforms{changed: true})
	events, cancel := h.orchestrator.Events().Subscribe()
	defer cancel()

	err := h.orchestrator.Prepare(context.Background(), PrepareOptions{
		ProjectDir: "/proj",
		Platform:   "android",
		Watch:      true,
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	h.compiler.bus.Publish(bundler.CompilationEvent{
		Platform: "android",
		Files:    []string{"/out/bundle.js"},
		HMRData:  &bundler.HMRData{Hash: "h1"},
	})
	payload := receiveReady(t, events)
	if !payload.HasNativeChanges {
		t.Fatal("native prepare change must seed the latch")
	}
}

func TestWatchModeIgnoresOtherPlatformEvents(t *testing.T) {
	h := newHarness(t, &fakePlatforms{})
	events, cancel := h.orchestrator.Events().Subscribe()
	defer cancel()

	err := h.orchestrator.Prepare(context.Background(), PrepareOptions{
		ProjectDir: "/proj",
		Platform:   "ios",
		Watch:      true,
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	h.compiler.bus.Publish(bundler.CompilationEvent{
		Platform: "android",
		Files:    []string{"/out/bundle.js"},
	})

	select {
	case ready := <-events:
		t.Fatalf("event for foreign platform must not emit, got %+v", ready)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRepeatedWatchPrepareDoesNotDuplicateState(t *testing.T) {
	h := newHarness(t, &fakePlatforms{})
	events, cancel := h.orchestrator.Events().Subscribe()
	defer cancel()

	options := PrepareOptions{ProjectDir: "/proj", Platform: "iOS", Watch: true}
	if err := h.orchestrator.Prepare(context.Background(), options); err != nil {
		t.Fatalf("first prepare: %v", err)
	}
	if err := h.orchestrator.Prepare(context.Background(), options); err != nil {
		t.Fatalf("second prepare: %v", err)
	}

	if h.watches.armCalls != 1 {
		t.Fatalf("expected one arm call, got %d", h.watches.armCalls)
	}

	h.compiler.bus.Publish(bundler.CompilationEvent{
		Platform: "ios",
		Files:    []string{"/out/main.js"},
	})
	receiveReady(t, events)

	select {
	case ready := <-events:
		t.Fatalf("duplicate subscription emitted twice: %+v", ready)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOneShotNeverArmsOrEmits(t *testing.T) {
	h := newHarness(t, &fakePlatforms{})
	events, cancel := h.orchestrator.Events().Subscribe()
	defer cancel()

	err := h.orchestrator.Prepare(context.Background(), PrepareOptions{
		ProjectDir: "/proj",
		Platform:   "android",
		Watch:      false,
	})
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if h.compiler.onceCount() != 1 {
		t.Fatalf("expected one once compile, got %d", h.compiler.onceCount())
	}
	if h.compiler.watchCount() != 0 {
		t.Fatal("one-shot mode must not start a watch compile")
	}
	if h.watches.armCalls != 0 {
		t.Fatal("one-shot mode must not arm the native watcher")
	}

	select {
	case ready := <-events:
		t.Fatalf("one-shot mode must not emit readiness events, got %+v", ready)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestOneShotPropagatesExitCode(t *testing.T) {
	h := newHarness(t, &fakePlatforms{})
	h.compiler.onceErr = &bundler.ExitError{Platform: "android", Code: 2}

	err := h.orchestrator.Prepare(context.Background(), PrepareOptions{
		ProjectDir: "/proj",
		Platform:   "android",
	})
	var exitErr *bundler.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %v", err)
	}
	if exitErr.Code != 2 {
		t.Fatalf("expected exit code 2, got %d", exitErr.Code)
	}
}

func TestCollaboratorFailuresLeaveNothingArmed(t *testing.T) {
	boom := errors.New("native toolchain missing")

	h := newHarness(t, &fakePlatforms{prepareErr: boom})
	err := h.orchestrator.Prepare(context.Background(), PrepareOptions{
		ProjectDir: "/proj",
		Platform:   "ios",
		Watch:      true,
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected native prepare failure, got %v", err)
	}
	if h.watches.armCalls != 0 {
		t.Fatal("failed prepare must not arm the watcher")
	}
	if h.compiler.watchCount() != 0 {
		t.Fatal("failed prepare must not start the compiler")
	}

	addFail := newHarness(t, &fakePlatforms{addErr: boom})
	if err := addFail.orchestrator.Prepare(context.Background(), PrepareOptions{
		ProjectDir: "/proj",
		Platform:   "ios",
		Watch:      true,
	}); !errors.Is(err, boom) {
		t.Fatalf("expected add platform failure, got %v", err)
	}
}

func TestStopTearsDownPlatform(t *testing.T) {
	h := newHarness(t, &fakePlatforms{})
	if err := h.orchestrator.Prepare(context.Background(), PrepareOptions{
		ProjectDir: "/proj",
		Platform:   "ios",
		Watch:      true,
	}); err != nil {
		t.Fatalf("prepare: %v", err)
	}

	h.orchestrator.Stop("/proj", "ios")

	h.compiler.mutex.Lock()
	stopped := append([]string(nil), h.compiler.stopped...)
	h.compiler.mutex.Unlock()
	if len(stopped) != 1 || stopped[0] != "ios" {
		t.Fatalf("expected compiler stop for ios, got %v", stopped)
	}

	h.watches.mutex.Lock()
	disarmed := append([]string(nil), h.watches.disarmed...)
	h.watches.mutex.Unlock()
	if len(disarmed) != 1 || disarmed[0] != "ios" {
		t.Fatalf("expected disarm for ios, got %v", disarmed)
	}

	// Stopping again is a safe no-op for the orchestrator state.
	h.orchestrator.Stop("/proj", "ios")
}

func TestPrepareAllKeepsPlatformsIndependent(t *testing.T) {
	h := newHarness(t, &fakePlatforms{})
	err := h.orchestrator.PrepareAll(context.Background(), []PrepareOptions{
		{ProjectDir: "/proj", Platform: "ios", Watch: true},
		{ProjectDir: "/proj", Platform: "android", Watch: true},
	})
	if err != nil {
		t.Fatalf("prepare all: %v", err)
	}
	if h.compiler.watchCount() != 2 {
		t.Fatalf("expected two watch compiles, got %d", h.compiler.watchCount())
	}
	if h.watches.latch("ios") == nil || h.watches.latch("android") == nil {
		t.Fatal("expected independent latches per platform")
	}
}
