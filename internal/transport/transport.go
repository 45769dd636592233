// ABOUTME: Collaborator boundary for the sync engine's three data sources
// ABOUTME: Defines history listing, push subscription, and send RPC contracts

package transport

import (
	"context"
	"encoding/json"

	"github.com/2389/tasksync/internal/message"
)

// Page is one cursor-bounded batch of historical messages, newest-first
// as returned by the gateway.
type Page struct {
	Messages   []message.Message `json:"data"`
	HasMore    bool              `json:"has_more"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// ListParams selects a backward (older) slice of a task's history.
// An empty Cursor requests the newest page.
type ListParams struct {
	TaskID string
	Cursor string
	Limit  int
}

// Lister fetches historical message pages.
type Lister interface {
	List(ctx context.Context, params ListParams) (*Page, error)
}

// ConnState is the subscription's transport status as consumed by the
// engine. The transport layer owns retry and backoff; the engine only
// relabels this tri-state for observers.
type ConnState string

const (
	ConnReady        ConnState = "ready"
	ConnReconnecting ConnState = "reconnecting"
	ConnDisconnected ConnState = "disconnected"
)

// Handlers receives push subscription callbacks. Snapshots are complete
// newest-first message lists, not deltas.
type Handlers struct {
	OnMessages     func(msgs []message.Message)
	OnTask         func(task message.Task)
	OnStreamStatus func(state ConnState)
	OnError        func(err error)
}

// Subscriber delivers live updates for a task until ctx is cancelled.
type Subscriber interface {
	Subscribe(ctx context.Context, taskID string, h Handlers) error
}

// StreamEvent is one inbound update from a streaming send RPC. Exactly one
// of Delta or Err is set.
type StreamEvent struct {
	Delta json.RawMessage
	Err   error
}

// Sender dispatches send RPCs in both protocol shapes.
type Sender interface {
	// Call issues a non-streaming RPC and returns the raw result.
	Call(ctx context.Context, method string, payload any) (json.RawMessage, error)
	// Stream opens a streaming RPC. The returned channel is closed when the
	// stream completes; a terminal failure is delivered as a StreamEvent
	// carrying Err.
	Stream(ctx context.Context, method string, payload any) (<-chan StreamEvent, error)
}

// Aggregator assembles partial deltas into message objects against the
// current ledger snapshot. Implementations must be pure and idempotent
// given identical inputs; the engine treats the algorithm as opaque.
type Aggregator interface {
	Aggregate(current []message.Message, state any, deltas []json.RawMessage) ([]message.Message, any)
}
