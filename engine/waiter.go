package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hothotzd123/sensei/version"
)

// VersionWaiter tracks the current version of an engine and lets callers wait
// for it to reach a target.
//
// Waiters block on a notification channel that is closed and replaced on every
// change, so a waiter never outlives its deadline.
type VersionWaiter struct {
	mu       sync.Mutex
	ordering version.Ordering
	current  string
	running  bool
	changed  chan struct{}
}

// NewVersionWaiter creates a stopped waiter using o (version.Default if nil).
func NewVersionWaiter(o version.Ordering) *VersionWaiter {
	if o == nil {
		o = version.Default
	}
	return &VersionWaiter{
		ordering: o,
		changed:  make(chan struct{}),
	}
}

// Ordering returns the ordering used to compare versions.
func (w *VersionWaiter) Ordering() version.Ordering {
	return w.ordering
}

// Open marks the waiter running and sets the initial version.
func (w *VersionWaiter) Open(initial string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = initial
	w.running = true
	w.notifyLocked()
}

// Close marks the waiter stopped and wakes every waiter.
func (w *VersionWaiter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	w.notifyLocked()
}

// Running reports whether the waiter is open.
func (w *VersionWaiter) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Current returns the current version.
func (w *VersionWaiter) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Advance moves the current version to v if v is ordered after it.
// It reports whether the version changed.
func (w *VersionWaiter) Advance(v string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ordering.Compare(w.current, v) >= 0 {
		return false
	}
	w.current = v
	w.notifyLocked()
	return true
}

func (w *VersionWaiter) notifyLocked() {
	close(w.changed)
	w.changed = make(chan struct{})
}

// Wait blocks until the current version is at or after target.
//
// A non-positive timeout checks once without blocking. On deadline it returns a
// *SyncTimeoutError; if the waiter is closed it returns an *EngineError wrapping
// ErrNotRunning. name labels returned errors.
func (w *VersionWaiter) Wait(ctx context.Context, name string, timeout time.Duration, target string) error {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		w.mu.Lock()
		running := w.running
		current := w.current
		ch := w.changed
		w.mu.Unlock()

		if !running {
			return &EngineError{Op: "sync", Engine: name, Err: ErrNotRunning}
		}
		if w.ordering.Compare(current, target) >= 0 {
			return nil
		}
		if timeout <= 0 {
			return &SyncTimeoutError{Version: target, Timeout: timeout, Observed: current}
		}

		select {
		case <-ch:
		case <-deadline:
			observed := w.Current()
			if w.ordering.Compare(observed, target) >= 0 {
				return nil
			}
			return &SyncTimeoutError{Version: target, Timeout: timeout, Observed: observed}
		case <-ctx.Done():
			return fmt.Errorf("sync to version %q: %w", target, ctx.Err())
		}
	}
}
