package conflict

import (
	"sync"
	"time"

	"github.com/parlorsh/parlor/internal/message"
)

// Record is one message's flag conflict awaiting UI adjudication under
// the AskUser policy. Synchronization of that message's flags pauses
// until Resolve (on Queue) is called for its ID; other messages in the
// same folder proceed normally.
type Record struct {
	MessageID   string
	AccountID   string
	FolderName  string
	BaseFlags   map[message.Flag]bool
	ServerFlags map[message.Flag]bool
	Delta       FlagDelta
	QueuedAt    time.Time
}

// Queue holds pending AskUser conflicts, keyed by message ID so a
// message is never queued twice.
type Queue struct {
	mu      sync.Mutex
	pending map[string]Record
}

// NewQueue builds an empty conflict queue.
func NewQueue() *Queue {
	return &Queue{pending: make(map[string]Record)}
}

// Add queues r, replacing any earlier pending record for the same
// message (a message can only have one outstanding conflict at a time).
func (q *Queue) Add(r Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[r.MessageID] = r
}

// List returns a snapshot of all pending conflicts.
func (q *Queue) List() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Record, 0, len(q.pending))
	for _, r := range q.pending {
		out = append(out, r)
	}
	return out
}

// Get returns the pending record for messageID, if any.
func (q *Queue) Get(messageID string) (Record, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.pending[messageID]
	return r, ok
}

// Resolve removes messageID's pending record and returns the flag set
// the UI chose to apply (and whether it should be pushed to the server
// or just adopted locally). Returns false if no conflict was pending.
func (q *Queue) Resolve(messageID string, chosen map[message.Flag]bool, push bool) (Resolution, bool) {
	q.mu.Lock()
	_, ok := q.pending[messageID]
	if ok {
		delete(q.pending, messageID)
	}
	q.mu.Unlock()
	if !ok {
		return Resolution{}, false
	}
	action := ActionAdoptServer
	if push {
		action = ActionPushToServer
	}
	return Resolution{Flags: cloneFlags(chosen), Action: action}, true
}
