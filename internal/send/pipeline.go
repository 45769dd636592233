// ABOUTME: Send pipeline with optimistic insert and mode-selected dispatch
// ABOUTME: Blocking-stream sends aggregate deltas; fire-and-forget defers to push

package send

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/2389/tasksync/internal/dedupe"
	"github.com/2389/tasksync/internal/ledger"
	"github.com/2389/tasksync/internal/message"
	"github.com/2389/tasksync/internal/transport"
)

// RPC methods on the gateway's send surface.
const (
	methodSend       = "sendMessage"
	methodSendStream = "sendMessageStream"
)

// ErrUnknownMode reports an execution mode this client cannot dispatch.
// This is a fatal configuration error, not a retryable condition.
var ErrUnknownMode = errors.New("send: unknown execution mode")

// Status is the terminal state of one send attempt.
type Status string

const (
	// StatusReconciled means the authoritative post-send state replaced
	// the optimistic view.
	StatusReconciled Status = "reconciled"
	// StatusDispatched means the send left the client; reconciliation is
	// deferred (async mode, or a failed post-stream refetch).
	StatusDispatched Status = "dispatched"
	// StatusFailed means dispatch failed; any optimistic entry stays
	// visible, annotated.
	StatusFailed Status = "failed"
	// StatusDuplicate means the guard suppressed a resubmission.
	StatusDuplicate Status = "duplicate"
)

// Request is one client-authored message to deliver.
type Request struct {
	Ledger  *ledger.Ledger
	TaskID  string
	AgentID string
	Content message.Content
	Mode    message.ExecutionMode
}

// Result reports the outcome of a send. MessageID is set when an
// optimistic entry was inserted.
type Result struct {
	MessageID string
	Status    Status
}

// sendPayload is the JSON body for both send RPC shapes.
type sendPayload struct {
	TaskID  string          `json:"task_id"`
	AgentID string          `json:"agent_id,omitempty"`
	Content message.Content `json:"content"`
}

// Pipeline dispatches client-authored messages. The aggregator is an
// injected strategy so the assembly algorithm stays external to the engine.
type Pipeline struct {
	sender    transport.Sender
	lister    transport.Lister
	agg       transport.Aggregator
	guard     *dedupe.Guard
	pageLimit int
	logger    *slog.Logger
}

// New creates a pipeline. guard may be nil to disable resubmit protection;
// pass nil logger for default.
func New(sender transport.Sender, lister transport.Lister, agg transport.Aggregator, guard *dedupe.Guard, pageLimit int, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		sender:    sender,
		lister:    lister,
		agg:       agg,
		guard:     guard,
		pageLimit: pageLimit,
		logger:    logger.With("component", "send"),
	}
}

// Send dispatches one message using the protocol declared by the task's
// execution mode. Transport failures surface as the returned error; the
// caller owns retry.
func (p *Pipeline) Send(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Content.Validate(); err != nil {
		return nil, fmt.Errorf("invalid content: %w", err)
	}

	if p.guard != nil && p.guard.CheckAndMark(req.TaskID, req.Content) {
		p.logger.Debug("duplicate send suppressed", "task_id", req.TaskID)
		return &Result{Status: StatusDuplicate}, nil
	}

	switch req.Mode {
	case message.ModeSync:
		return p.sendSync(ctx, req)
	case message.ModeAsync:
		return p.sendAsync(ctx, req)
	default:
		p.logger.Error("unknown execution mode",
			"task_id", req.TaskID,
			"mode", string(req.Mode))
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}
}

// sendSync runs the blocking-stream protocol: optimistic insert, streaming
// RPC with per-delta aggregation, then an authoritative refetch replacing
// the whole ledger.
func (p *Pipeline) sendSync(ctx context.Context, req *Request) (*Result, error) {
	now := time.Now()
	optimistic := message.Message{
		ID:           uuid.New().String(),
		TaskID:       req.TaskID,
		Author:       message.AuthorUser,
		Content:      req.Content,
		CreatedAt:    now,
		UpdatedAt:    now,
		StreamStatus: message.StreamDone,
	}
	req.Ledger.Append(optimistic)

	payload := sendPayload{TaskID: req.TaskID, AgentID: req.AgentID, Content: req.Content}
	events, err := p.sender.Stream(ctx, methodSendStream, payload)
	if err != nil {
		req.Ledger.MarkFailed(optimistic.ID)
		p.logger.Error("stream dispatch failed",
			"task_id", req.TaskID,
			"message_id", optimistic.ID,
			"error", err)
		return &Result{MessageID: optimistic.ID, Status: StatusFailed}, err
	}

	var state any
	for ev := range events {
		if ev.Err != nil {
			req.Ledger.MarkFailed(optimistic.ID)
			p.logger.Error("send stream failed",
				"task_id", req.TaskID,
				"message_id", optimistic.ID,
				"error", ev.Err)
			return &Result{MessageID: optimistic.ID, Status: StatusFailed}, ev.Err
		}

		var msgs []message.Message
		msgs, state = p.agg.Aggregate(req.Ledger.Messages(), state, []json.RawMessage{ev.Delta})
		if ctx.Err() != nil {
			// Cancelled: the partially-aggregated view must not commit.
			return &Result{MessageID: optimistic.ID, Status: StatusDispatched}, ctx.Err()
		}
		req.Ledger.ReplaceView(msgs)
	}

	// Stream complete: the refetched list is the authority and removes the
	// optimistic placeholder for good.
	page, err := p.lister.List(ctx, transport.ListParams{TaskID: req.TaskID, Limit: p.pageLimit})
	if err != nil {
		p.logger.Error("post-send refetch failed",
			"task_id", req.TaskID,
			"error", err)
		return &Result{MessageID: optimistic.ID, Status: StatusDispatched}, err
	}
	req.Ledger.ReplaceAll(page)

	p.logger.Debug("send reconciled",
		"task_id", req.TaskID,
		"message_id", optimistic.ID)
	return &Result{MessageID: optimistic.ID, Status: StatusReconciled}, nil
}

// sendAsync issues the non-blocking dispatch. No optimistic placeholder:
// the push subscription delivers the authoritative state and would
// supersede it anyway.
func (p *Pipeline) sendAsync(ctx context.Context, req *Request) (*Result, error) {
	payload := sendPayload{TaskID: req.TaskID, AgentID: req.AgentID, Content: req.Content}
	if _, err := p.sender.Call(ctx, methodSend, payload); err != nil {
		p.logger.Error("dispatch failed",
			"task_id", req.TaskID,
			"error", err)
		return &Result{Status: StatusFailed}, err
	}
	return &Result{Status: StatusDispatched}, nil
}
