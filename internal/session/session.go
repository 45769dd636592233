// ABOUTME: Per-task orchestration tying ledger, subscription, and send pipeline
// ABOUTME: Drains the queued first message exactly once during bootstrap

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/2389/tasksync/internal/dedupe"
	"github.com/2389/tasksync/internal/ledger"
	"github.com/2389/tasksync/internal/message"
	"github.com/2389/tasksync/internal/pairing"
	"github.com/2389/tasksync/internal/send"
	"github.com/2389/tasksync/internal/sendlock"
	"github.com/2389/tasksync/internal/transport"
)

const defaultPageLimit = 50

// Deps are the shared collaborators a session is built from. Ledgers and
// Locks are process-wide registries; the transport interfaces are the
// engine's external boundary.
type Deps struct {
	Lister     transport.Lister
	Subscriber transport.Subscriber
	Sender     transport.Sender
	Aggregator transport.Aggregator
	Ledgers    *ledger.Registry
	Locks      *sendlock.Table
	Guard      *dedupe.Guard
	Logger     *slog.Logger
}

// Config tunes a session.
type Config struct {
	// PageLimit is the page size for history fetches. Defaults to 50.
	PageLimit int
}

// Session is one live view of a task's conversation. Opening a session
// fetches the first history page, starts the push subscription, and drains
// any pending first message under the send lock. Multiple sessions for the
// same task share one ledger through the registry.
type Session struct {
	task     message.Task
	led      *ledger.Ledger
	release  func()
	pipeline *send.Pipeline
	deps     Deps
	cfg      Config
	logger   *slog.Logger

	cancel  context.CancelFunc
	subDone chan struct{}

	mu          sync.Mutex
	conn        transport.ConnState
	lastSendErr error
	lastSubErr  error
	pairs       []pairing.Pair
	index       *pairing.Index
	dirty       bool

	closeOnce sync.Once
}

// Open creates a session for the task and bootstraps it. The subscription
// is scoped to ctx: cancelling it (the owning UI's lifetime) tears the
// subscription down. A failed initial fetch is returned and leaves nothing
// behind; Open may be retried.
func Open(ctx context.Context, task message.Task, deps Deps, cfg Config) (*Session, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = defaultPageLimit
	}

	led, release := deps.Ledgers.Acquire(task.ID)

	s := &Session{
		task:     task,
		led:      led,
		release:  release,
		pipeline: send.New(deps.Sender, deps.Lister, deps.Aggregator, deps.Guard, cfg.PageLimit, deps.Logger),
		deps:     deps,
		cfg:      cfg,
		logger:   deps.Logger.With("component", "session", "task_id", task.ID),
		conn:     transport.ConnDisconnected,
		dirty:    true,
		subDone:  make(chan struct{}),
	}

	// Initial history. A ledger shared with an already-open session has
	// this done already.
	if !led.Fetched() {
		if err := led.FetchOlder(ctx, deps.Lister, cfg.PageLimit); err != nil {
			release()
			return nil, fmt.Errorf("initial history fetch: %w", err)
		}
	}

	led.OnSettle(func(string) { s.invalidate() })

	subCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.runSubscription(subCtx)

	// Drain the queued first message, if any. The lock serializes racing
	// bootstraps so exactly one consumes the payload.
	if err := s.drainPending(ctx); err != nil {
		s.logger.Debug("pending drain interrupted", "error", err)
	}

	return s, nil
}

// runSubscription pumps the push subscription until the session closes.
func (s *Session) runSubscription(ctx context.Context) {
	defer close(s.subDone)

	err := s.deps.Subscriber.Subscribe(ctx, s.task.ID, transport.Handlers{
		OnMessages: func(msgs []message.Message) {
			if s.led.ApplySnapshot(ctx, msgs) {
				s.invalidate()
			}
		},
		OnTask: func(task message.Task) {
			s.mu.Lock()
			s.task = task
			s.mu.Unlock()
		},
		OnStreamStatus: func(state transport.ConnState) {
			s.mu.Lock()
			s.conn = state
			s.mu.Unlock()
		},
		OnError: func(err error) {
			s.mu.Lock()
			s.lastSubErr = err
			s.mu.Unlock()
			s.logger.Debug("subscription error", "error", err)
		},
	})
	if err != nil && ctx.Err() == nil {
		s.logger.Error("subscription terminated", "error", err)
		s.mu.Lock()
		s.lastSubErr = err
		s.conn = transport.ConnDisconnected
		s.mu.Unlock()
	}
}

// drainPending consumes the task's queued first message. A stale send,
// meaning more user messages already in the ledger than the guard allows,
// is dropped rather than duplicated.
func (s *Session) drainPending(ctx context.Context) error {
	pending, release, err := s.deps.Locks.Acquire(ctx, s.task.ID)
	if err != nil {
		return err
	}
	if release == nil {
		return nil // no lock, nothing was ever queued
	}

	if pending == nil {
		// Another bootstrap already consumed it.
		return release(false)
	}

	if s.led.UserMessageCount() > pending.GuardCount {
		s.logger.Debug("pending send dropped by guard",
			"guard_count", pending.GuardCount,
			"user_messages", s.led.UserMessageCount())
		return release(true)
	}

	_, sendErr := s.pipeline.Send(ctx, &send.Request{
		Ledger:  s.led,
		TaskID:  s.task.ID,
		AgentID: pending.AgentID,
		Content: pending.Content,
		Mode:    s.mode(),
	})
	if sendErr != nil {
		s.mu.Lock()
		s.lastSendErr = sendErr
		s.mu.Unlock()
	}
	s.invalidate()

	// The attempt is the delivery; a failure stays operator-visible in the
	// ledger and is never retried by the next bootstrap.
	return release(true)
}

// Send dispatches a user-authored message on this task.
func (s *Session) Send(ctx context.Context, content message.Content) (*send.Result, error) {
	res, err := s.pipeline.Send(ctx, &send.Request{
		Ledger:  s.led,
		TaskID:  s.task.ID,
		AgentID: s.agentID(),
		Content: content,
		Mode:    s.mode(),
	})
	s.mu.Lock()
	s.lastSendErr = err
	s.mu.Unlock()
	s.invalidate()
	return res, err
}

// LoadOlder fetches the next older history page.
func (s *Session) LoadOlder(ctx context.Context) error {
	err := s.led.FetchOlder(ctx, s.deps.Lister, s.cfg.PageLimit)
	if err == nil {
		s.invalidate()
	}
	return err
}

// Messages returns the chronological ledger.
func (s *Session) Messages() []message.Message {
	return s.led.Messages()
}

// HasMore reports whether older history remains unfetched.
func (s *Session) HasMore() bool {
	return s.led.HasMore()
}

// Pairs returns the user/agent turn pairing, rebuilt lazily after ledger
// changes.
func (s *Session) Pairs() []pairing.Pair {
	s.refreshDerived()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairs
}

// Exchanges returns tool exchanges in call order.
func (s *Session) Exchanges() []pairing.Exchange {
	s.refreshDerived()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Exchanges()
}

// LookupExchange resolves one tool exchange by call id.
func (s *Session) LookupExchange(toolCallID string) (*pairing.Exchange, bool) {
	s.refreshDerived()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Lookup(toolCallID)
}

// ConnState returns the subscription's tri-state status as last reported
// by the transport. A disconnect never clears messages.
func (s *Session) ConnState() transport.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// LastSendErr returns the most recent send failure, or nil.
func (s *Session) LastSendErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSendErr
}

// Close tears the session down: stops the subscription and releases the
// shared ledger reference. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.subDone
		s.release()
		s.logger.Debug("session closed")
	})
}

// invalidate marks derived projections stale.
func (s *Session) invalidate() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// refreshDerived rebuilds pairing and correlation when stale.
func (s *Session) refreshDerived() {
	s.mu.Lock()
	if !s.dirty && s.index != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	msgs := s.led.Messages()

	s.mu.Lock()
	s.pairs = pairing.Build(msgs)
	s.index = pairing.Correlate(msgs)
	s.dirty = false
	s.mu.Unlock()
}

func (s *Session) mode() message.ExecutionMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.Mode
}

func (s *Session) agentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.task.AgentID
}
