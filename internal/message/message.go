// ABOUTME: Core message model shared by the ledger, send pipeline, and views
// ABOUTME: Defines the tagged content union and streaming status lifecycle

package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// StreamStatus tracks whether a message body is still being assembled.
// A message may be overwritten in place only while InProgress; once Done
// the body is final.
type StreamStatus string

const (
	StreamInProgress StreamStatus = "IN_PROGRESS"
	StreamDone       StreamStatus = "DONE"
)

// Author identifies who produced a message.
type Author string

const (
	AuthorUser   Author = "user"
	AuthorAgent  Author = "agent"
	AuthorSystem Author = "system"
)

// ExecutionMode selects the send protocol for a task's conversation.
type ExecutionMode string

const (
	// ModeSync sends over a blocking streaming RPC and aggregates deltas
	// as they arrive.
	ModeSync ExecutionMode = "sync"
	// ModeAsync dispatches fire-and-forget; the push subscription delivers
	// the authoritative response later.
	ModeAsync ExecutionMode = "async"
)

// ContentKind tags the content union.
type ContentKind string

const (
	KindText       ContentKind = "text"
	KindData       ContentKind = "data"
	KindReasoning  ContentKind = "reasoning"
	KindToolCall   ContentKind = "tool_call"
	KindToolResult ContentKind = "tool_result"
)

// Reasoning carries intermediate model reasoning with its sub-parts.
type Reasoning struct {
	Content []string `json:"content,omitempty"`
	Summary []string `json:"summary,omitempty"`
}

// ToolCall is a request for a tool invocation, correlated to its result
// by ToolCallID.
type ToolCall struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments,omitempty"`
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Content    json.RawMessage `json:"content,omitempty"`
}

// Content is a tagged union. Exactly one variant field is populated,
// selected by Kind.
type Content struct {
	Kind       ContentKind     `json:"kind"`
	Text       string          `json:"text,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Reasoning  *Reasoning      `json:"reasoning,omitempty"`
	ToolCall   *ToolCall       `json:"tool_call,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
}

// Text returns a text content value.
func Text(s string) Content {
	return Content{Kind: KindText, Text: s}
}

// Validate checks that the tagged variant matches Kind.
func (c *Content) Validate() error {
	switch c.Kind {
	case KindText:
		return nil
	case KindData:
		if len(c.Data) == 0 {
			return fmt.Errorf("data content requires a data payload")
		}
	case KindReasoning:
		if c.Reasoning == nil {
			return fmt.Errorf("reasoning content requires a reasoning payload")
		}
	case KindToolCall:
		if c.ToolCall == nil || c.ToolCall.ToolCallID == "" {
			return fmt.Errorf("tool_call content requires a tool_call_id")
		}
	case KindToolResult:
		if c.ToolResult == nil || c.ToolResult.ToolCallID == "" {
			return fmt.Errorf("tool_result content requires a tool_call_id")
		}
	default:
		return fmt.Errorf("unknown content kind %q", c.Kind)
	}
	return nil
}

// Message is an immutable-by-id record in a task's conversation ledger.
// The body may be rewritten in place while StreamStatus is InProgress.
type Message struct {
	ID           string       `json:"id"`
	TaskID       string       `json:"task_id"`
	Author       Author       `json:"author"`
	Content      Content      `json:"content"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	StreamStatus StreamStatus `json:"streaming_status"`

	// SendFailed marks a locally-originated message whose dispatch failed.
	// Local annotation only; never serialized.
	SendFailed bool `json:"-"`
}

// IsUser reports whether the message was authored by the end user.
func (m *Message) IsUser() bool {
	return m.Author == AuthorUser
}

// InProgress reports whether the message body is still streaming.
func (m *Message) InProgress() bool {
	return m.StreamStatus == StreamInProgress
}

// Task is the conversation owner's metadata as delivered by the push
// subscription.
type Task struct {
	ID      string        `json:"id"`
	AgentID string        `json:"agent_id"`
	Name    string        `json:"name,omitempty"`
	Mode    ExecutionMode `json:"execution_mode"`
}
