// Package presence maintains the peer online/offline map. State is
// session-scoped: it is rebuilt from the next bulk snapshot after every
// reconnect and never persisted.
package presence

import (
	"sort"
	"sync"
)

// Tracker owns the user-id → online map. Safe for concurrent use.
type Tracker struct {
	mu     sync.Mutex
	online map[string]bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[string]bool)}
}

// ApplyBulk replaces the entire online set with onlineIDs. Sent by the
// server on (re)connect.
func (t *Tracker) ApplyBulk(onlineIDs []string) {
	next := make(map[string]bool, len(onlineIDs))
	for _, id := range onlineIDs {
		if id != "" {
			next[id] = true
		}
	}

	t.mu.Lock()
	t.online = next
	t.mu.Unlock()
}

// ApplyUpdate mutates a single entry.
func (t *Tracker) ApplyUpdate(userID string, online bool) {
	if userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[userID] = true
	} else {
		delete(t.online, userID)
	}
}

// IsOnline reports whether userID currently has an active connection.
// Unknown ids are offline.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online[userID]
}

// OnlineIDs returns a sorted copy of the online set.
func (t *Tracker) OnlineIDs() []string {
	t.mu.Lock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	t.mu.Unlock()

	sort.Strings(out)
	return out
}
