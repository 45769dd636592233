// ABOUTME: Tool-call to tool-result correlation by call identifier
// ABOUTME: One-shot index rebuilt whenever the ledger changes

package pairing

import (
	"github.com/2389/tasksync/internal/message"
)

// Exchange is one tool invocation and, when it has arrived, its result.
// A missing result is a pending invocation, not an error.
type Exchange struct {
	Call   message.Message
	Result *message.Message
}

// Pending reports whether the result has not arrived yet.
func (e *Exchange) Pending() bool {
	return e.Result == nil
}

// Index correlates tool exchanges by tool_call_id.
type Index struct {
	order     []string
	exchanges map[string]*Exchange
}

// Correlate builds the one-shot index from a chronological ledger.
// Unrelated exchanges interleaved between a call and its result do not
// disturb the match.
func Correlate(msgs []message.Message) *Index {
	idx := &Index{exchanges: make(map[string]*Exchange)}
	for _, m := range msgs {
		switch m.Content.Kind {
		case message.KindToolCall:
			if m.Content.ToolCall == nil {
				continue
			}
			id := m.Content.ToolCall.ToolCallID
			if _, ok := idx.exchanges[id]; ok {
				continue // call ids are unique; keep the first
			}
			idx.exchanges[id] = &Exchange{Call: m}
			idx.order = append(idx.order, id)
		case message.KindToolResult:
			if m.Content.ToolResult == nil {
				continue
			}
			id := m.Content.ToolResult.ToolCallID
			ex, ok := idx.exchanges[id]
			if !ok || ex.Result != nil {
				continue // result without a visible call, or a duplicate
			}
			result := m
			ex.Result = &result
		}
	}
	return idx
}

// Lookup returns the exchange for a call id.
func (i *Index) Lookup(toolCallID string) (*Exchange, bool) {
	ex, ok := i.exchanges[toolCallID]
	return ex, ok
}

// Exchanges returns all exchanges in call order.
func (i *Index) Exchanges() []Exchange {
	out := make([]Exchange, 0, len(i.order))
	for _, id := range i.order {
		out = append(out, *i.exchanges[id])
	}
	return out
}

// PendingCount returns the number of calls still awaiting a result.
func (i *Index) PendingCount() int {
	n := 0
	for _, ex := range i.exchanges {
		if ex.Pending() {
			n++
		}
	}
	return n
}
