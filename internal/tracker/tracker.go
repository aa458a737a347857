// Package tracker remembers the last observed state of every message so that
// full conversation snapshots can be turned into discrete transitions.
package tracker

import (
	"sync"

	"github.com/V4T54L/msgtap/internal/domain"
)

// Transition describes what changed between the stored snapshot of a message
// and the state just observed.
type Transition struct {
	IsNew            bool
	ReadReceiptAdded bool
	// NewReader is the last reader in the observed read list when a receipt
	// was added.
	NewReader string
}

// Tracker maps a message key to its first observed snapshot.
type Tracker struct {
	mu        sync.Mutex
	snapshots map[string]domain.Message
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{snapshots: make(map[string]domain.Message)}
}

// Key builds the tracker key for a message in a conversation.
func Key(conversationID, messageID string) string {
	return conversationID + "/" + messageID
}

// Observe compares msg with the stored snapshot for key.
//
// The first observation stores a copy and reports IsNew. Later observations
// only report a read receipt when the stored read list was empty and the
// observed one is not. The stored copy is then replaced, so later readers do
// not report again.
func (t *Tracker) Observe(key string, msg domain.Message) Transition {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, seen := t.snapshots[key]
	if !seen {
		t.snapshots[key] = msg.Clone()
		return Transition{IsNew: true}
	}

	if len(prev.ReadBy) == 0 && len(msg.ReadBy) > 0 {
		t.snapshots[key] = msg.Clone()
		return Transition{
			ReadReceiptAdded: true,
			NewReader:        msg.ReadBy[len(msg.ReadBy)-1],
		}
	}
	return Transition{}
}

// Sweep drops every snapshot whose key is not in live and returns how many
// were removed.
func (t *Tracker) Sweep(live map[string]struct{}) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.snapshots {
		if _, ok := live[key]; !ok {
			delete(t.snapshots, key)
			removed++
		}
	}
	return removed
}

// Reset forgets every snapshot.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.snapshots = make(map[string]domain.Message)
	t.mu.Unlock()
}

// Len returns the number of tracked messages.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.snapshots)
}
