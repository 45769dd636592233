// ABOUTME: Registry of pending-send locks keyed by task id
// ABOUTME: Collects drained locks after every release so entries never leak

package sendlock

import (
	"context"
	"log/slog"
	"sync"
)

// ReleaseFunc ends a hold obtained through Table.Acquire. Pass consume=true
// when the pending send was delivered.
type ReleaseFunc func(consume bool) error

// Table owns at most one Lock per task id. Locks are created when a task
// is created with an attached first message (Stash) and removed once
// drained.
type Table struct {
	mu     sync.Mutex
	locks  map[string]*Lock
	logger *slog.Logger
}

// NewTable creates an empty lock table. Pass nil logger for default.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		locks:  make(map[string]*Lock),
		logger: logger.With("component", "sendlock"),
	}
}

// Stash records a pending send for the task, creating its lock on demand.
// An existing payload is replaced; a task queues at most one first message.
func (t *Table) Stash(taskID string, p *PendingSend) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, ok := t.locks[taskID]
	if !ok {
		t.locks[taskID] = NewLock(p)
		t.logger.Debug("pending send stashed", "task_id", taskID, "agent_id", p.AgentID)
		return
	}
	l.mu.Lock()
	l.pending = p
	l.mu.Unlock()
	t.logger.Debug("pending send replaced", "task_id", taskID, "agent_id", p.AgentID)
}

// Acquire takes the task's lock if one exists. When no lock exists there is
// nothing pending and nothing to serialize: returns (nil, nil, nil) without
// creating an entry. Otherwise returns the payload and a release func that
// also collects the lock once it is fully drained.
func (t *Table) Acquire(ctx context.Context, taskID string) (*PendingSend, ReleaseFunc, error) {
	t.mu.Lock()
	l, ok := t.locks[taskID]
	t.mu.Unlock()
	if !ok {
		return nil, nil, nil
	}

	p, err := l.Acquire(ctx)
	if err != nil {
		t.collect(taskID, l)
		return nil, nil, err
	}

	release := func(consume bool) error {
		err := l.Release(consume)
		if err != nil {
			t.logger.Error("send lock misuse", "task_id", taskID, "error", err)
			return err
		}
		t.collect(taskID, l)
		return nil
	}
	return p, release, nil
}

// Len returns the number of live lock entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}

// collect removes the lock if it is drained.
func (t *Table) collect(taskID string, l *Lock) {
	if !l.Collectible() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.locks[taskID]; ok && cur == l && l.Collectible() {
		delete(t.locks, taskID)
		t.logger.Debug("send lock collected", "task_id", taskID)
	}
}
