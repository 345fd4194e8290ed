//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"
)

// startFakeBundler spawns a long-running child in its own process group,
// the way supervisors spawn bundlers.
func startFakeBundler(t *testing.T) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fake bundler: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})
	return cmd
}

func reaperFor(cmd *exec.Cmd) func(context.Context) error {
	done := make(chan error, 1)
	started := false
	return func(ctx context.Context) error {
		if !started {
			started = true
			go func() {
				done <- cmd.Wait()
			}()
		}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func assertGone(t *testing.T, pid int) {
	t.Helper()
	if err := syscall.Kill(pid, 0); err == nil || errors.Is(err, syscall.EPERM) {
		t.Fatalf("expected pid %d to exit", pid)
	}
}

func TestStopAllReapsRegisteredChild(t *testing.T) {
	cmd := startFakeBundler(t)
	registry := NewRegistry()
	registry.RegisterWithWait(cmd.Process.Pid, GroupID(cmd.Process.Pid), "bundler-ios", reaperFor(cmd))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := registry.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d children", registry.Len())
	}
	assertGone(t, cmd.Process.Pid)
}

func TestStopAllFallsBackToPollingWithoutReaper(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	registry := NewRegistry()
	registry.Register(cmd.Process.Pid, GroupID(cmd.Process.Pid), "bundler-android")

	// The child stays a zombie until someone waits on it, so polling sees
	// it alive. Reap in the background to let the poll loop settle.
	go func() {
		_ = cmd.Wait()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := registry.StopAll(ctx); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d children", registry.Len())
	}
}

func TestStopAllSkipsAlreadyExitedChild(t *testing.T) {
	cmd := exec.Command("true")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	pid := cmd.Process.Pid
	_ = cmd.Wait()

	registry := NewRegistry()
	registry.Register(pid, pid, "bundler-ios")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := registry.StopAll(ctx); err != nil {
		t.Fatalf("exited child must not surface an error, got %v", err)
	}
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d children", registry.Len())
	}
}

func TestUnregisterForgetsChild(t *testing.T) {
	registry := NewRegistry()
	registry.Register(12345, 12345, "bundler-ios")
	registry.Unregister(12345)
	if registry.Len() != 0 {
		t.Fatalf("expected empty registry, got %d children", registry.Len())
	}
}

func TestNilRegistryIsInert(t *testing.T) {
	var registry *Registry
	registry.Register(1, 1, "ghost")
	registry.Unregister(1)
	if registry.Len() != 0 {
		t.Fatal("nil registry must report zero children")
	}
	if err := registry.StopAll(context.Background()); err != nil {
		t.Fatalf("stop all on nil registry: %v", err)
	}
}
