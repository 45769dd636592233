// ABOUTME: TTL-based guard against accidental resubmission of identical sends
// ABOUTME: Keys on task id plus content digest; expired entries swept inline

package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/2389/tasksync/internal/message"
)

// Guard tracks recently-dispatched sends so a UI re-render that fires the
// same submit twice does not produce duplicate messages. Entries expire
// after the TTL; the map is swept inline on writes, no background
// goroutine to manage.
type Guard struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// NewGuard creates a guard. A zero ttl disables deduplication entirely.
func NewGuard(ttl time.Duration, maxSize int) *Guard {
	return &Guard{
		seen:    make(map[string]time.Time),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// CheckAndMark atomically reports whether an identical send was dispatched
// within the TTL, marking it when new. Check and mark are one step to keep
// two racing submits from both passing.
func (g *Guard) CheckAndMark(taskID string, content message.Content) bool {
	if g.ttl <= 0 {
		return false
	}
	key := digest(taskID, content)

	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if at, ok := g.seen[key]; ok && now.Sub(at) < g.ttl {
		return true
	}

	g.sweepLocked(now)
	g.seen[key] = now
	return false
}

// sweepLocked drops expired entries, then oldest entries while over
// capacity. Must be called with mu held.
func (g *Guard) sweepLocked(now time.Time) {
	for k, at := range g.seen {
		if now.Sub(at) >= g.ttl {
			delete(g.seen, k)
		}
	}
	for g.maxSize > 0 && len(g.seen) >= g.maxSize {
		var oldestKey string
		var oldestAt time.Time
		for k, at := range g.seen {
			if oldestKey == "" || at.Before(oldestAt) {
				oldestKey, oldestAt = k, at
			}
		}
		delete(g.seen, oldestKey)
	}
}

// digest builds the dedupe key from the task id and canonical content JSON.
func digest(taskID string, content message.Content) string {
	raw, _ := json.Marshal(content)
	sum := sha256.Sum256(raw)
	return taskID + ":" + hex.EncodeToString(sum[:])
}
