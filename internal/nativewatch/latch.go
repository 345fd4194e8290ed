// Package nativewatch observes a platform's native resource tree and
// latches change signals until the orchestrator consumes them.
package nativewatch

import "sync/atomic"

// Latch is a sticky boolean. Once set it stays set until Consume reads
// and clears it in a single step, so a signal raised during an unrelated
// async operation is never lost.
type Latch struct {
	pending atomic.Bool
}

// Set marks the latch. Safe to call from watcher callbacks.
func (latch *Latch) Set() {
	if latch == nil {
		return
	}
	latch.pending.Store(true)
}

// Consume atomically reads and clears the latch, returning whether it
// was set.
func (latch *Latch) Consume() bool {
	if latch == nil {
		return false
	}
	return latch.pending.Swap(false)
}

// Peek reports the latch state without clearing it.
func (latch *Latch) Peek() bool {
	if latch == nil {
		return false
	}
	return latch.pending.Load()
}
