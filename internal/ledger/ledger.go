// ABOUTME: Per-task message ledger merging paginated history, push snapshots, and sends
// ABOUTME: All mutation is a single atomic replace-or-merge step under one mutex

package ledger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/2389/tasksync/internal/message"
	"github.com/2389/tasksync/internal/transport"
)

// page is one cursor-bounded batch. Messages are stored newest-first, the
// order the gateway returns them; pages[0] is the newest page.
type page struct {
	msgs       []message.Message
	hasMore    bool
	nextCursor string
}

// Ledger is the single consistent view of a task's messages. Three
// producers feed it (backward page fetches, push snapshots, and local
// sends) and each applies as one atomic step; readers only ever observe
// complete snapshots.
type Ledger struct {
	mu      sync.RWMutex
	fetchMu sync.Mutex // serializes FetchOlder calls

	taskID  string
	pages   []page
	fetched bool // at least one explicit page fetch has committed

	onSettle []func(taskID string)
	logger   *slog.Logger
}

// New creates an empty ledger for the task. Pass nil logger for default.
func New(taskID string, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		taskID: taskID,
		logger: logger.With("component", "ledger", "task_id", taskID),
	}
}

// TaskID returns the owning task id.
func (l *Ledger) TaskID() string {
	return l.taskID
}

// OnSettle registers a hook invoked (outside the ledger lock) when a push
// snapshot moves a message out of the in-progress state. Used to invalidate
// derived data such as execution-trace lookups. Hooks accumulate; a shared
// ledger may have several observers.
func (l *Ledger) OnSettle(fn func(taskID string)) {
	l.mu.Lock()
	l.onSettle = append(l.onSettle, fn)
	l.mu.Unlock()
}

// Messages returns the full ledger in chronological order. The slice is a
// copy; callers may retain it.
func (l *Ledger) Messages() []message.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.flattenLocked()
}

// flattenLocked walks pages oldest to newest, reversing each page's
// newest-first storage order. Must be called with mu held.
func (l *Ledger) flattenLocked() []message.Message {
	n := 0
	for _, p := range l.pages {
		n += len(p.msgs)
	}
	out := make([]message.Message, 0, n)
	for i := len(l.pages) - 1; i >= 0; i-- {
		msgs := l.pages[i].msgs
		for j := len(msgs) - 1; j >= 0; j-- {
			out = append(out, msgs[j])
		}
	}
	return out
}

// HasMore reports whether older history remains beyond the oldest fetched
// page. False until the first fetch commits.
func (l *Ledger) HasMore() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.pages) == 0 || !l.fetched {
		return false
	}
	return l.pages[len(l.pages)-1].hasMore
}

// Fetched reports whether at least one explicit page fetch has committed.
func (l *Ledger) Fetched() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fetched
}

// FetchOlder fetches the page older than the current oldest one (or the
// newest page when nothing is fetched yet) and commits it. A fetch failure
// leaves cached pages untouched and is retryable. The commit is skipped
// when ctx is cancelled mid-flight.
func (l *Ledger) FetchOlder(ctx context.Context, lister transport.Lister, limit int) error {
	l.fetchMu.Lock()
	defer l.fetchMu.Unlock()

	l.mu.RLock()
	cursor := ""
	if l.fetched && len(l.pages) > 0 {
		oldest := l.pages[len(l.pages)-1]
		if !oldest.hasMore {
			l.mu.RUnlock()
			return nil
		}
		cursor = oldest.nextCursor
	}
	l.mu.RUnlock()

	fetched, err := lister.List(ctx, transport.ListParams{
		TaskID: l.taskID,
		Cursor: cursor,
		Limit:  limit,
	})
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		// Cancelled mid-flight: do not commit a partial merge.
		return ctx.Err()
	}

	l.commitPage(fetched)
	return nil
}

// commitPage applies a fetched page as one atomic step.
func (l *Ledger) commitPage(fetched *transport.Page) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := page{
		hasMore:    fetched.HasMore,
		nextCursor: fetched.NextCursor,
	}

	if !l.fetched {
		// First explicit fetch. Locally-queued messages (optimistic sends
		// before the fetch landed) survive unless the fetch already
		// contains them.
		locals := l.localCarryoverLocked(fetched.Messages)
		next.msgs = append(locals, fetched.Messages...)
		l.pages = []page{next}
		l.fetched = true
		l.logger.Debug("first page fetched", "count", len(fetched.Messages))
		return
	}

	// Older page: drop anything already present, update streaming fields
	// in place for duplicates (later value wins, position preserved).
	seen := l.idIndexLocked()
	for _, m := range fetched.Messages {
		if at, ok := seen[m.ID]; ok {
			l.updateInPlaceLocked(at, m)
			continue
		}
		next.msgs = append(next.msgs, m)
	}
	l.pages = append(l.pages, next)
	l.logger.Debug("older page fetched",
		"count", len(next.msgs),
		"has_more", next.hasMore)
}

// ApplySnapshot merges a push-delivered newest-first snapshot into page
// zero only. Entries whose ids already live in older pages belong to
// history paginated past and are dropped. Page-zero pagination metadata is
// never touched: a push snapshot carries no cursor authority. Returns
// false (no merge) before the first explicit fetch or when ctx is already
// cancelled. The settle hook fires for messages that left the in-progress
// state.
func (l *Ledger) ApplySnapshot(ctx context.Context, snapshot []message.Message) bool {
	if ctx != nil && ctx.Err() != nil {
		return false
	}

	var settled bool

	l.mu.Lock()
	if !l.fetched || len(l.pages) == 0 {
		l.mu.Unlock()
		return false
	}

	older := make(map[string]bool)
	for _, p := range l.pages[1:] {
		for _, m := range p.msgs {
			older[m.ID] = true
		}
	}

	inProgress := make(map[string]bool)
	for _, m := range l.pages[0].msgs {
		if m.InProgress() {
			inProgress[m.ID] = true
		}
	}

	filtered := make([]message.Message, 0, len(snapshot))
	seen := make(map[string]bool, len(snapshot))
	for _, m := range snapshot {
		if older[m.ID] || seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		filtered = append(filtered, m)
		if inProgress[m.ID] && !m.InProgress() {
			settled = true
		}
	}

	// A failed local send stays visible until the operator acts on it;
	// the snapshot cannot vouch for a message the gateway never accepted.
	for _, m := range l.pages[0].msgs {
		if m.SendFailed && !seen[m.ID] {
			filtered = append([]message.Message{m}, filtered...)
		}
	}

	l.pages[0].msgs = filtered
	hooks := l.onSettle
	l.mu.Unlock()

	if settled {
		for _, hook := range hooks {
			hook(l.taskID)
		}
	}
	return true
}

// Append inserts a locally-originated message at the newest position. When
// nothing has been fetched yet the message lands in a synthetic page zero
// with no pagination authority (Fetched stays false).
func (l *Ledger) Append(m message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.pages) == 0 {
		l.pages = []page{{msgs: []message.Message{m}}}
		return
	}
	l.pages[0].msgs = append([]message.Message{m}, l.pages[0].msgs...)
}

// ReplaceView replaces the visible ledger with the aggregator's output
// (chronological). Older pages keep their contents; page zero becomes the
// remainder, preserving pagination metadata.
func (l *Ledger) ReplaceView(msgs []message.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	older := make(map[string]bool)
	if len(l.pages) > 1 {
		for _, p := range l.pages[1:] {
			for _, m := range p.msgs {
				older[m.ID] = true
			}
		}
	}

	zero := make([]message.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- { // newest-first storage order
		if older[msgs[i].ID] {
			continue
		}
		zero = append(zero, msgs[i])
	}

	if len(l.pages) == 0 {
		l.pages = []page{{msgs: zero}}
		return
	}
	l.pages[0].msgs = zero
}

// ReplaceAll discards every page and installs the authoritative fetch
// result as the sole page. Used when a blocking-stream send completes and
// the post-send state is re-fetched.
func (l *Ledger) ReplaceAll(p *transport.Page) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pages = []page{{
		msgs:       append([]message.Message(nil), p.Messages...),
		hasMore:    p.HasMore,
		nextCursor: p.NextCursor,
	}}
	l.fetched = true
}

// MarkFailed annotates a locally-originated message as failed. Returns
// false when the id is not present.
func (l *Ledger) MarkFailed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for pi := range l.pages {
		for mi := range l.pages[pi].msgs {
			if l.pages[pi].msgs[mi].ID == id {
				l.pages[pi].msgs[mi].SendFailed = true
				return true
			}
		}
	}
	return false
}

// UserMessageCount returns the number of user-authored messages currently
// in the ledger. Used by the pending-send guard.
func (l *Ledger) UserMessageCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, p := range l.pages {
		for _, m := range p.msgs {
			if m.IsUser() {
				n++
			}
		}
	}
	return n
}

// idIndexLocked maps every present message id to its page/offset.
// Must be called with mu held.
func (l *Ledger) idIndexLocked() map[string][2]int {
	idx := make(map[string][2]int)
	for pi, p := range l.pages {
		for mi, m := range p.msgs {
			idx[m.ID] = [2]int{pi, mi}
		}
	}
	return idx
}

// updateInPlaceLocked applies the later value for mutable fields to an
// existing entry without moving it. Must be called with mu held.
func (l *Ledger) updateInPlaceLocked(at [2]int, m message.Message) {
	cur := &l.pages[at[0]].msgs[at[1]]
	cur.Content = m.Content
	cur.UpdatedAt = m.UpdatedAt
	cur.StreamStatus = m.StreamStatus
}

// localCarryoverLocked returns page-zero messages that should survive a
// first-fetch replacement: failed sends, plus optimistic entries the fetch
// does not already contain. Must be called with mu held.
func (l *Ledger) localCarryoverLocked(incoming []message.Message) []message.Message {
	if len(l.pages) == 0 {
		return nil
	}
	present := make(map[string]bool, len(incoming))
	for _, m := range incoming {
		present[m.ID] = true
	}
	var keep []message.Message
	for _, m := range l.pages[0].msgs {
		if present[m.ID] {
			continue
		}
		keep = append(keep, m)
	}
	return keep
}
