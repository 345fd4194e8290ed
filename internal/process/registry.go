// Package process tracks spawned bundler subprocesses so shutdown can
// reap them even when the supervisor that spawned them is gone.
package process

import (
	"context"
	"errors"
	"sync"
)

var ErrProcessNotFound = errors.New("process not running")

type child struct {
	pid  int
	pgid int
	name string
	wait func(context.Context) error
}

// Registry is process-wide shared state: every supervisor registers children
// here on spawn and unregisters them on stop or exit.
type Registry struct {
	mu       sync.Mutex
	children map[int]child
}

func NewRegistry() *Registry {
	return &Registry{
		children: make(map[int]child),
	}
}

func (r *Registry) Register(pid, pgid int, name string) {
	r.RegisterWithWait(pid, pgid, name, nil)
}

// RegisterWithWait tracks a child along with its reaper. The wait callback is
// preferred over polling when the registry stops the process.
func (r *Registry) RegisterWithWait(pid, pgid int, name string, wait func(context.Context) error) {
	if r == nil || pid <= 0 {
		return
	}
	r.mu.Lock()
	r.children[pid] = child{pid: pid, pgid: pgid, name: name, wait: wait}
	r.mu.Unlock()
}

func (r *Registry) Unregister(pid int) {
	if r == nil || pid <= 0 {
		return
	}
	r.mu.Lock()
	delete(r.children, pid)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.children)
}

// StopAll terminates every tracked child, escalating from SIGTERM to
// SIGKILL, and clears the registry. Already-exited children are skipped.
func (r *Registry) StopAll(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var stopErr error
	for _, c := range r.snapshot() {
		err := stopProcess(ctx, c.pid, c.pgid, c.wait)
		r.Unregister(c.pid)
		if err != nil && !errors.Is(err, ErrProcessNotFound) {
			stopErr = errors.Join(stopErr, err)
		}
	}
	return stopErr
}

func (r *Registry) snapshot() []child {
	r.mu.Lock()
	defer r.mu.Unlock()
	children := make([]child, 0, len(r.children))
	for _, c := range r.children {
		children = append(children, c)
	}
	return children
}
