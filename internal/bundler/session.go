package bundler

import (
	"os/exec"
	"sync"
	"sync/atomic"
)

// session is the per-platform compilation state. It exists for exactly the
// lifetime of one subprocess and is replaced wholesale on restart, which
// resets the hash chain.
type session struct {
	platform string
	target   Target
	watch    bool

	cmd     *exec.Cmd
	pid     int
	waitErr error
	done    chan struct{}

	initial     chan error
	initialOnce sync.Once
	stopped     atomic.Bool

	// Hash-chain state, owned by the read loop.
	expectedHash string
	seeded       bool
}

func newSession(platform string, target Target, watch bool) *session {
	return &session{
		platform: platform,
		target:   target,
		watch:    watch,
		done:     make(chan struct{}),
		initial:  make(chan error, 1),
	}
}

// resolveInitial settles the pending CompileWatch/CompileOnce call exactly
// once and reports whether this invocation performed the settlement.
func (sess *session) resolveInitial(err error) bool {
	resolved := false
	sess.initialOnce.Do(func() {
		sess.initial <- err
		resolved = true
	})
	return resolved
}
