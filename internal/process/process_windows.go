//go:build windows

package process

import (
	"context"
	"os"
	"time"
)

const (
	defaultStopTimeout = 5 * time.Second
	alivePollInterval  = 50 * time.Millisecond
)

func GroupID(pid int) int {
	return 0
}

// stopProcess kills the child directly; there is no group signalling or
// graceful escalation on Windows.
func stopProcess(ctx context.Context, pid, pgid int, wait func(context.Context) error) error {
	if pid <= 0 {
		return nil
	}
	_ = pgid
	proc, err := os.FindProcess(pid)
	if err != nil {
		return ErrProcessNotFound
	}
	_ = proc.Kill()
	return awaitExit(ctx, pid, wait)
}

func awaitExit(ctx context.Context, pid int, wait func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if wait != nil {
		return wait(ctx)
	}
	if pid <= 0 {
		return nil
	}

	deadline := time.Now().Add(stopTimeout(ctx))
	for {
		proc, err := os.FindProcess(pid)
		if err != nil || proc == nil {
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
