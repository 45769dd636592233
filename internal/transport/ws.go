// ABOUTME: Websocket-backed push subscription adapter for the gateway
// ABOUTME: Owns reconnect/backoff and reports the tri-state connection status

package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/tasksync/internal/message"
)

const (
	// defaultReconnectWait is the pause between reconnect attempts. Retry
	// policy lives here in the transport layer; the engine only observes
	// the resulting status changes.
	defaultReconnectWait = 2 * time.Second
)

// wsFrame is one JSON frame on the subscription socket.
type wsFrame struct {
	Type     string            `json:"type"`
	Messages []message.Message `json:"messages,omitempty"`
	Task     *message.Task     `json:"task,omitempty"`
	Status   string            `json:"status,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// WSSubscriber implements Subscriber over a websocket connection to the
// gateway's event endpoint.
type WSSubscriber struct {
	baseURL       string
	tokens        *TokenSource
	reconnectWait time.Duration
	logger        *slog.Logger
}

// NewWSSubscriber creates a subscriber for the given gateway base URL
// (ws:// or wss://). Pass nil logger for default.
func NewWSSubscriber(baseURL string, tokens *TokenSource, logger *slog.Logger) *WSSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	if tokens == nil {
		tokens = NewTokenSource("")
	}
	return &WSSubscriber{
		baseURL:       baseURL,
		tokens:        tokens,
		reconnectWait: defaultReconnectWait,
		logger:        logger.With("component", "ws-subscriber"),
	}
}

// Subscribe connects to the task's event stream and dispatches frames to
// the handlers until ctx is cancelled. Connection drops are retried with
// a reconnecting status in between; a protocol error is fatal and returned.
func (s *WSSubscriber) Subscribe(ctx context.Context, taskID string, h Handlers) error {
	url := fmt.Sprintf("%s/api/tasks/%s/events", s.baseURL, taskID)

	for {
		err := s.readLoop(ctx, url, taskID, h)
		if ctx.Err() != nil {
			s.setState(h, ConnDisconnected)
			return nil
		}
		if err != nil && IsProtocol(err) {
			s.setState(h, ConnDisconnected)
			if h.OnError != nil {
				h.OnError(err)
			}
			return err
		}

		s.setState(h, ConnReconnecting)
		s.logger.Debug("subscription dropped, reconnecting",
			"task_id", taskID,
			"error", err)

		select {
		case <-ctx.Done():
			s.setState(h, ConnDisconnected)
			return nil
		case <-time.After(s.reconnectWait):
		}
	}
}

// readLoop runs one connection lifetime: dial, announce ready, pump frames.
func (s *WSSubscriber) readLoop(ctx context.Context, url, taskID string, h Handlers) error {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: s.tokens.Header(),
	})
	if err != nil {
		return fmt.Errorf("dialing event stream: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	s.setState(h, ConnReady)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Connection-level failure; caller decides whether to retry.
			return err
		}

		var frame wsFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
		}

		switch frame.Type {
		case "messages":
			if h.OnMessages != nil {
				h.OnMessages(frame.Messages)
			}
		case "task":
			if frame.Task != nil && h.OnTask != nil {
				h.OnTask(*frame.Task)
			}
		case "status":
			s.setState(h, ConnState(frame.Status))
		case "error":
			if h.OnError != nil {
				h.OnError(fmt.Errorf("gateway: %s", frame.Error))
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownFrame, frame.Type)
		}
	}
}

func (s *WSSubscriber) setState(h Handlers, state ConnState) {
	if h.OnStreamStatus != nil {
		h.OnStreamStatus(state)
	}
}
