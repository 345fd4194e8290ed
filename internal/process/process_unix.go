//go:build !windows

package process

import (
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"
)

const (
	defaultStopTimeout = 5 * time.Second
	alivePollInterval  = 50 * time.Millisecond
)

// GroupID reports the process group of pid, or 0 when it cannot be resolved.
func GroupID(pid int) int {
	if pid <= 0 {
		return 0
	}
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		return 0
	}
	return pgid
}

// stopProcess escalates: SIGTERM the group, wait for exit, SIGKILL if the
// wait failed or timed out. Signalling the group catches the node workers a
// bundler forks.
func stopProcess(ctx context.Context, pid, pgid int, wait func(context.Context) error) error {
	if pid <= 0 {
		return nil
	}
	if !alive(pid) {
		return ErrProcessNotFound
	}

	termErr := ignoreGone(signalGroup(pid, pgid, syscall.SIGTERM))
	waitErr := awaitExit(ctx, pid, wait)
	if exitedBySignal(waitErr) {
		waitErr = nil
	}
	if waitErr == nil {
		return termErr
	}

	killErr := ignoreGone(signalGroup(pid, pgid, syscall.SIGKILL))
	_ = awaitExit(ctx, pid, wait)
	return errors.Join(termErr, waitErr, killErr)
}

// ignoreGone treats "no such process" as success: the child beat us to it.
func ignoreGone(err error) error {
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	return err
}

func signalGroup(pid, pgid int, sig syscall.Signal) error {
	target := pid
	if pgid > 0 {
		target = -pgid
	}
	return syscall.Kill(target, sig)
}

// awaitExit blocks until the child exits, using its reaper when one was
// registered and falling back to liveness polling otherwise.
func awaitExit(ctx context.Context, pid int, wait func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if wait != nil {
		return wait(ctx)
	}

	deadline := time.Now().Add(stopTimeout(ctx))
	for {
		if !alive(pid) {
			return nil
		}
		if time.Now().After(deadline) {
			return context.DeadlineExceeded
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(alivePollInterval):
		}
	}
}

// stopTimeout caps the polling wait at the context deadline when one is set.
func stopTimeout(ctx context.Context) time.Duration {
	timeout := defaultStopTimeout
	if deadline, ok := ctx.Deadline(); ok {
		remaining := time.Until(deadline)
		if remaining < timeout {
			timeout = remaining
		}
	}
	if timeout < 0 {
		timeout = 0
	}
	return timeout
}

func alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	// EPERM means the process exists but belongs to someone else.
	return errors.Is(err, syscall.EPERM)
}

// exitedBySignal reports whether err is the expected wait error for a child
// we just signalled.
func exitedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	return ok && status.Signaled()
}
