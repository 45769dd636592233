// ABOUTME: Tests for the message content union
// ABOUTME: Covers variant validation and wire-format decoding

package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentValidate(t *testing.T) {
	valid := []Content{
		Text("hello"),
		{Kind: KindData, Data: json.RawMessage(`{"k":1}`)},
		{Kind: KindReasoning, Reasoning: &Reasoning{Content: []string{"step"}}},
		{Kind: KindToolCall, ToolCall: &ToolCall{ToolCallID: "x", Name: "search"}},
		{Kind: KindToolResult, ToolResult: &ToolResult{ToolCallID: "x"}},
	}
	for _, c := range valid {
		assert.NoErrorf(t, c.Validate(), "kind %s", c.Kind)
	}

	invalid := []Content{
		{Kind: "banner"},
		{Kind: KindData},
		{Kind: KindReasoning},
		{Kind: KindToolCall, ToolCall: &ToolCall{Name: "search"}},
		{Kind: KindToolResult, ToolResult: &ToolResult{}},
	}
	for _, c := range invalid {
		assert.Errorf(t, c.Validate(), "kind %s", c.Kind)
	}
}

func TestMessageDecode(t *testing.T) {
	raw := `{
		"id": "msg-1",
		"task_id": "task-1",
		"author": "agent",
		"content": {
			"kind": "tool_call",
			"tool_call": {"tool_call_id": "call-9", "name": "search", "arguments": {"q": "go"}}
		},
		"created_at": "2025-06-01T12:00:00Z",
		"updated_at": "2025-06-01T12:00:01Z",
		"streaming_status": "IN_PROGRESS"
	}`

	var m Message
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	assert.Equal(t, "msg-1", m.ID)
	assert.Equal(t, AuthorAgent, m.Author)
	assert.True(t, m.InProgress())
	assert.False(t, m.IsUser())
	require.NotNil(t, m.Content.ToolCall)
	assert.Equal(t, "call-9", m.Content.ToolCall.ToolCallID)
	assert.NoError(t, m.Content.Validate())
}

func TestSendFailedNeverSerialized(t *testing.T) {
	m := Message{ID: "msg-1", SendFailed: true}

	raw, err := json.Marshal(m)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "SendFailed")
}
