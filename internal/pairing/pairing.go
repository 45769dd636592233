// ABOUTME: Read-only projection grouping the ledger into user/agent turn pairs
// ABOUTME: Recomputed from the chronological message list on every change

package pairing

import (
	"github.com/2389/tasksync/internal/message"
)

// Pair is one user turn and the agent turns that answer it. A leading
// non-user message anchors its own pair.
type Pair struct {
	User   message.Message
	Agents []message.Message
}

// Build groups a chronological ledger into pairs. Each user-authored
// message opens a new pair; every following non-user message attaches to
// the open pair until the next user message.
func Build(msgs []message.Message) []Pair {
	var pairs []Pair
	for _, m := range msgs {
		if m.IsUser() || len(pairs) == 0 {
			pairs = append(pairs, Pair{User: m})
			continue
		}
		last := &pairs[len(pairs)-1]
		last.Agents = append(last.Agents, m)
	}
	return pairs
}
