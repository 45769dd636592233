// ABOUTME: Reference-counted registry mapping task ids to their single Ledger
// ABOUTME: Replaces module-global singletons with explicit acquire/release

package ledger

import (
	"log/slog"
	"sync"
)

// entry tracks one shared ledger and its live reference count.
type entry struct {
	ledger *Ledger
	refs   int
}

// Registry hands out the single Ledger instance for each task id. Every
// Acquire must be paired with a call to the returned release func; the
// entry is torn down when the last reference goes away.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With("component", "ledger-registry"),
	}
}

// Acquire returns the task's shared ledger, creating it on first use. The
// release func is idempotent.
func (r *Registry) Acquire(taskID string) (*Ledger, func()) {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	if !ok {
		e = &entry{ledger: New(taskID, r.logger)}
		r.entries[taskID] = e
		r.logger.Debug("ledger created", "task_id", taskID)
	}
	e.refs++
	r.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.refs--
			if e.refs <= 0 {
				if cur, ok := r.entries[taskID]; ok && cur == e {
					delete(r.entries, taskID)
					r.logger.Debug("ledger released", "task_id", taskID)
				}
			}
		})
	}
	return e.ledger, release
}

// Len returns the number of live ledgers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
