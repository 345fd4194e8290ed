// Package bundler supervises the long-lived bundler subprocess per platform,
// parses its message stream, and turns incremental watch-mode output into
// compilation-complete events.
package bundler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"loom/internal/event"
	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/process"
)

// Target describes one platform's compilation.
type Target struct {
	Platform   string
	ProjectDir string
	// OutputDir is the directory emitted relative paths resolve against.
	OutputDir string
	Env       map[string]any
}

// Options configures a Supervisor.
type Options struct {
	Command         string
	Args            []string
	CompleteMessage string
	// BaseEnv is the full environment for spawned subprocesses; nil means
	// the current process environment.
	BaseEnv []string
	// Interactive runs the subprocess's stdio under a pty so progress output
	// keeps its ANSI formatting (unix only).
	Interactive bool
	Logger      *logging.Logger
	Metrics     *metrics.Registry
	Processes   *process.Registry
}

// Supervisor owns zero or one live bundler subprocess per platform.
type Supervisor struct {
	options Options
	logger  *logging.Logger

	mu       sync.Mutex
	sessions map[string]*session

	bus *event.Bus[CompilationEvent]
}

func NewSupervisor(ctx context.Context, options Options) *Supervisor {
	logger := options.Logger
	if logger == nil {
		logger = logging.NewLoggerWithOutput(logging.LevelInfo, nil)
	}
	if options.CompleteMessage == "" {
		options.CompleteMessage = DefaultCompleteMessage
	}
	if options.Metrics == nil {
		options.Metrics = metrics.Default
	}
	return &Supervisor{
		options:  options,
		logger:   logger.With(map[string]string{"loom.category": "bundler"}),
		sessions: make(map[string]*session),
		bus: event.NewBus[CompilationEvent](ctx, event.BusOptions{
			Name:     "compilation_events",
			Logger:   logger,
			Registry: options.Metrics,
		}),
	}
}

// Events exposes the compilation-complete event bus.
func (s *Supervisor) Events() *event.Bus[CompilationEvent] {
	return s.bus
}

// Running reports whether a subprocess is registered for the platform.
func (s *Supervisor) Running(platform string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[platformKey(platform)]
	return ok
}

// CompileWatch spawns the bundler in watch mode and returns once the initial
// full build completes. The subprocess stays alive afterwards, streaming
// incremental messages that are reconciled and published as events. Calling
// it while a subprocess is already registered for the platform returns
// immediately.
func (s *Supervisor) CompileWatch(ctx context.Context, target Target) error {
	sess, err := s.register(target, true)
	if err != nil || sess == nil {
		return err
	}

	if err := s.spawn(sess); err != nil {
		s.removeSession(sess)
		return err
	}
	s.options.Metrics.IncCompilation(sess.platform, "watch")

	select {
	case err := <-sess.initial:
		return err
	case <-ctx.Done():
		s.Stop(sess.platform)
		return ctx.Err()
	}
}

// CompileOnce spawns the bundler without watch mode and returns when it
// exits; a non-zero exit is reported as *ExitError. Calling it while a
// subprocess is already registered for the platform returns immediately.
func (s *Supervisor) CompileOnce(ctx context.Context, target Target) error {
	sess, err := s.register(target, false)
	if err != nil || sess == nil {
		return err
	}

	if err := s.spawn(sess); err != nil {
		s.removeSession(sess)
		return err
	}
	s.options.Metrics.IncCompilation(sess.platform, "once")

	select {
	case err := <-sess.initial:
		return err
	case <-ctx.Done():
		s.Stop(sess.platform)
		return ctx.Err()
	}
}

// Stop interrupts and deregisters the platform's subprocess. It is a no-op
// when nothing is running, and deregistration happens even when the
// interrupt fails.
func (s *Supervisor) Stop(platform string) {
	key := platformKey(platform)
	s.mu.Lock()
	sess := s.sessions[key]
	delete(s.sessions, key)
	s.mu.Unlock()
	if sess == nil {
		return
	}
	s.terminate(sess)
}

// StopAll interrupts and deregisters every registered subprocess.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		s.terminate(sess)
	}
}

func (s *Supervisor) register(target Target, watch bool) (*session, error) {
	key := platformKey(target.Platform)
	if key == "" {
		return nil, errors.New("platform is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.sessions[key]; running {
		return nil, nil
	}
	sess := newSession(key, target, watch)
	s.sessions[key] = sess
	return sess, nil
}

func (s *Supervisor) spawn(sess *session) error {
	env := make(map[string]any, len(sess.target.Env)+1)
	for key, value := range sess.target.Env {
		env[key] = value
	}
	if sess.watch {
		env["watch"] = true
	}
	args := append(append([]string{}, s.options.Args...), BuildEnvFlags(env)...)

	cmd := exec.Command(s.options.Command, args...)
	cmd.Dir = sess.target.ProjectDir
	baseEnv := s.options.BaseEnv
	if baseEnv == nil {
		baseEnv = os.Environ()
	}
	cmd.Env = append([]string{}, baseEnv...)

	messages, err := s.startProcess(cmd, sess)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}
	sess.cmd = cmd
	sess.pid = cmd.Process.Pid
	go func() {
		sess.waitErr = cmd.Wait()
		close(sess.done)
	}()

	s.options.Processes.RegisterWithWait(sess.pid, process.GroupID(sess.pid), "bundler-"+sess.platform, func(ctx context.Context) error {
		select {
		case <-sess.done:
			return sess.waitErr
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	s.logger.Info("bundler started", map[string]string{
		"platform": sess.platform,
		"pid":      fmt.Sprintf("%d", sess.pid),
		"watch":    fmt.Sprintf("%t", sess.watch),
	})

	go s.readLoop(sess, messages)
	go s.waitLoop(sess)
	return nil
}

func (s *Supervisor) readLoop(sess *session, messages io.ReadCloser) {
	defer messages.Close()

	scanner := bufio.NewScanner(messages)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		message, err := DecodeMessage(line, s.options.CompleteMessage)
		if err != nil {
			s.logger.Debug("skipping bundler message", map[string]string{
				"platform": sess.platform,
				"error":    err.Error(),
			})
			continue
		}
		if !sess.watch {
			// One-shot sessions settle on process exit, not on the
			// completion marker: a bundler can print the marker and
			// still exit non-zero.
			continue
		}
		if message.Done {
			sess.resolveInitial(nil)
			continue
		}
		s.handlePayload(sess, message.Payload)
	}
}

// handlePayload runs on the session's read goroutine, which is the only
// writer of the session's hash-chain state.
func (s *Supervisor) handlePayload(sess *session, payload *Payload) {
	// The very first structured message only seeds the expected hash: there
	// is no prior compile to compare against.
	if !sess.seeded {
		sess.expectedHash = payload.Hash
		sess.seeded = true
		return
	}

	previousExpected := sess.expectedHash
	result := Reconcile(payload.EmittedFiles, payload.ChunkFiles, payload.Hash, previousExpected)
	sess.expectedHash = result.NextExpectedHash
	if !result.ChainValid {
		s.options.Metrics.IncChainBreak(sess.platform)
		s.logger.Info("hot-update chain broken, falling back to full file list", map[string]string{
			"platform": sess.platform,
			"expected": previousExpected,
			"actual":   result.Hash,
		})
	}

	files := resolveAll(sess.target.OutputDir, result.EmittedFiles)
	fallback := resolveAll(sess.target.OutputDir, result.FallbackFiles)
	if len(files)+len(fallback) == 0 {
		return
	}

	hasOnlyHotUpdates := true
	for _, path := range files {
		if !isHotUpdateFile(path) {
			hasOnlyHotUpdates = false
			break
		}
	}
	if hasOnlyHotUpdates {
		for _, path := range fallback {
			if !isHotUpdateFile(path) {
				hasOnlyHotUpdates = false
				break
			}
		}
	}

	s.bus.Publish(CompilationEvent{
		Platform:              sess.platform,
		Files:                 files,
		HasOnlyHotUpdateFiles: hasOnlyHotUpdates,
		// The correlation hash shipped to clients is the one this message
		// predicts for the next compile, which is what hot-update file names
		// of the following cycle will carry.
		HMRData: &HMRData{
			Hash:          payload.Hash,
			FallbackFiles: fallback,
		},
		OccurredAt: time.Now().UTC(),
	})
}

func (s *Supervisor) waitLoop(sess *session) {
	<-sess.done
	code := exitCode(sess.cmd, sess.waitErr)

	s.options.Processes.Unregister(sess.pid)
	s.removeSession(sess)

	if !sess.watch {
		if code == 0 {
			sess.resolveInitial(nil)
		} else {
			s.options.Metrics.IncCompileFailure(sess.platform)
			sess.resolveInitial(&ExitError{Platform: sess.platform, Code: code})
		}
		return
	}

	if sess.stopped.Load() {
		sess.resolveInitial(&ExitError{Platform: sess.platform, Code: code})
		s.logger.Debug("bundler stopped", map[string]string{
			"platform": sess.platform,
		})
		return
	}

	s.options.Metrics.IncCompileFailure(sess.platform)
	exitErr := &ExitError{Platform: sess.platform, Code: code}
	if !sess.resolveInitial(exitErr) {
		// Steady-state watch loop: nobody is waiting, so log and leave the
		// registry clear for a future retry.
		s.logger.Error("bundler exited unexpectedly", map[string]string{
			"platform": sess.platform,
			"code":     fmt.Sprintf("%d", code),
		})
	}
}

func (s *Supervisor) terminate(sess *session) {
	sess.stopped.Store(true)
	var signalErr error
	if sess.cmd != nil && sess.cmd.Process != nil {
		signalErr = sess.cmd.Process.Signal(os.Interrupt)
	}
	// Deregistration is unconditional so a failed interrupt cannot leak a
	// registry entry.
	s.options.Processes.Unregister(sess.pid)
	if signalErr != nil && !errors.Is(signalErr, os.ErrProcessDone) {
		s.logger.Warn("bundler interrupt failed", map[string]string{
			"platform": sess.platform,
			"error":    signalErr.Error(),
		})
	}
}

func (s *Supervisor) removeSession(sess *session) {
	s.mu.Lock()
	if current, ok := s.sessions[sess.platform]; ok && current == sess {
		delete(s.sessions, sess.platform)
	}
	s.mu.Unlock()
}

func platformKey(platform string) string {
	return strings.ToLower(strings.TrimSpace(platform))
}

func resolveAll(outputDir string, files []string) []string {
	if len(files) == 0 {
		return nil
	}
	resolved := make([]string, len(files))
	for i, file := range files {
		resolved[i] = filepath.Join(outputDir, file)
	}
	return resolved
}

func exitCode(cmd *exec.Cmd, waitErr error) int {
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return -1
	}
	return 0
}
