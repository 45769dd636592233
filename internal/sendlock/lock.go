// ABOUTME: Per-task mutex guarding the "send first message once ready" hand-off
// ABOUTME: FIFO waiter queue ensures exactly one consumer drains a pending send

package sendlock

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/tasksync/internal/message"
)

// ErrNotLocked is returned when Release is called on an unlocked lock.
// This is a programming error on the caller's side, never a runtime
// condition to swallow.
var ErrNotLocked = errors.New("sendlock: release of unlocked lock")

// PendingSend is a message queued before its owning task's live context
// (subscription, agent roster) has finished bootstrapping. GuardCount
// bounds how many user-authored messages may already exist at drain time
// before the send is considered stale and dropped.
type PendingSend struct {
	AgentID    string
	Content    message.Content
	GuardCount int
}

// waiter is one suspended Acquire call. The grant channel has capacity one
// so a releaser never blocks handing off.
type waiter struct {
	grant chan *PendingSend
}

// Lock serializes consumption of a task's pending send. At most one holder
// at a time; suspended acquirers are granted in strict FIFO order.
type Lock struct {
	mu      sync.Mutex
	locked  bool
	pending *PendingSend
	waiters []*waiter
}

// NewLock creates a lock holding the given pending send (may be nil).
func NewLock(pending *PendingSend) *Lock {
	return &Lock{pending: pending}
}

// Acquire returns the stored pending send (possibly nil) once the caller
// holds the lock. If the lock is held, the caller suspends in FIFO order
// until granted or ctx is cancelled. A cancelled waiter that loses the
// race with its own grant passes the lock on rather than leaking it.
func (l *Lock) Acquire(ctx context.Context) (*PendingSend, error) {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		p := l.pending
		l.mu.Unlock()
		return p, nil
	}

	w := &waiter{grant: make(chan *PendingSend, 1)}
	l.waiters = append(l.waiters, w)
	l.mu.Unlock()

	select {
	case p := <-w.grant:
		return p, nil
	case <-ctx.Done():
		l.mu.Lock()
		for i, cand := range l.waiters {
			if cand == w {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				l.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		l.mu.Unlock()
		// Grant already happened: we are the holder. Hand off without
		// consuming so the pending send is not lost.
		<-w.grant
		_ = l.Release(false)
		return nil, ctx.Err()
	}
}

// Release ends the caller's hold. When consume is true the pending send is
// cleared (delivered). The next waiter, if any, becomes the holder
// synchronously and receives the current (possibly nil) payload. Releasing
// an unlocked lock returns ErrNotLocked.
func (l *Lock) Release(consume bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.locked {
		return ErrNotLocked
	}
	if consume {
		l.pending = nil
	}

	if len(l.waiters) > 0 {
		next := l.waiters[0]
		l.waiters = l.waiters[1:]
		// Lock stays held; ownership transfers to the waiter.
		next.grant <- l.pending
		return nil
	}

	l.locked = false
	return nil
}

// Collectible reports whether the lock can be removed from its owning
// table: unlocked, no waiters, no pending send.
func (l *Lock) Collectible() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.locked && len(l.waiters) == 0 && l.pending == nil
}
