// Package feed holds the deduplicated, capacity-bounded, read-tracked
// notification feed and its durable persistence boundary.
package feed

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/edupulse/edupulse/internal/model"
)

// entry pairs a notification with its insertion sequence number. The
// sequence breaks created_at ties (newest-inserted first) so push-delivered
// items stay visible immediately even when their timestamp is coarse.
type entry struct {
	n   model.Notification
	seq uint64
}

// Store is the notification merge store. It is the sole mutator of the
// read flag; observers only ever receive copies. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	capacity int
	nextSeq  uint64
	entries  []entry // sorted: created_at desc, then seq desc
	log      *slog.Logger
}

// NewStore creates a feed bounded to the given capacity. Overflow silently
// drops the oldest entries.
func NewStore(capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{capacity: capacity, log: logger}
}

// LoadSnapshot merges a REST-fetched batch into the store. For an id
// already present the snapshot wins on every field except that a read flag
// already true locally is never downgraded by a stale snapshot. Unknown
// ids are inserted. The result is re-sorted and truncated to capacity.
func (s *Store) LoadSnapshot(items []model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID := make(map[string]int, len(s.entries))
	for i, e := range s.entries {
		byID[e.n.ID] = i
	}

	for _, item := range items {
		if item.ID == "" {
			continue
		}
		if i, ok := byID[item.ID]; ok {
			read := s.entries[i].n.Read || item.Read
			s.entries[i].n = item
			s.entries[i].n.Read = read
			continue
		}
		s.nextSeq++
		s.entries = append(s.entries, entry{n: item, seq: s.nextSeq})
		byID[item.ID] = len(s.entries) - 1
	}

	s.reorder()
}

// IngestPush merges one push-delivered notification. First arrival wins:
// an id already in the store is a no-op, which tolerates the same logical
// event being emitted under overlapping event classes. Reports whether the
// item was inserted.
func (s *Store) IngestPush(n model.Notification) bool {
	if n.ID == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.n.ID == n.ID {
			return false
		}
	}

	s.nextSeq++
	s.entries = append(s.entries, entry{n: n, seq: s.nextSeq})
	s.reorder()
	return true
}

// MarkRead sets the read flag for id. Local state is authoritative for
// this session; the REST acknowledgement is the caller's concern. Reports
// whether an unread entry was actually flipped.
func (s *Store) MarkRead(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].n.ID == id {
			if s.entries[i].n.Read {
				return false
			}
			s.entries[i].n.Read = true
			return true
		}
	}
	return false
}

// MarkAllRead flips every unread entry and returns the ids that changed.
func (s *Store) MarkAllRead() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for i := range s.entries {
		if !s.entries[i].n.Read {
			s.entries[i].n.Read = true
			changed = append(changed, s.entries[i].n.ID)
		}
	}
	return changed
}

// MarkThreadRead flips every unread entry whose payload references the
// given chat partner and returns the ids that changed.
func (s *Store) MarkThreadRead(partnerID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	for i := range s.entries {
		e := &s.entries[i]
		if e.n.Read || e.n.Payload[model.PayloadPartnerID] != partnerID {
			continue
		}
		e.n.Read = true
		changed = append(changed, e.n.ID)
	}
	return changed
}

// UnreadCount counts unread entries. With no arguments it counts the whole
// feed; with kinds it counts only the matching partitions, so the system
// tab and the task tab can keep independent counters over one collection.
func (s *Store) UnreadCount(kinds ...model.Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, e := range s.entries {
		if e.n.Read {
			continue
		}
		if len(kinds) == 0 {
			count++
			continue
		}
		for _, k := range kinds {
			if e.n.Kind == k {
				count++
				break
			}
		}
	}
	return count
}

// Snapshot returns a copy of the current feed, newest first.
func (s *Store) Snapshot() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked(len(s.entries))
}

// Recent returns a copy of the newest n entries.
func (s *Store) Recent(n int) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > len(s.entries) {
		n = len(s.entries)
	}
	return s.copyLocked(n)
}

// Len reports the number of entries currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) copyLocked(n int) []model.Notification {
	out := make([]model.Notification, 0, n)
	for _, e := range s.entries[:n] {
		item := e.n
		if item.Payload != nil {
			p := make(map[string]string, len(item.Payload))
			for k, v := range item.Payload {
				p[k] = v
			}
			item.Payload = p
		}
		out = append(out, item)
	}
	return out
}

// reorder re-sorts by created_at descending (ties: newest-inserted first)
// and truncates to capacity, dropping the oldest entries.
func (s *Store) reorder() {
	sort.Slice(s.entries, func(i, j int) bool {
		a, b := s.entries[i], s.entries[j]
		if !a.n.CreatedAt.Equal(b.n.CreatedAt) {
			return a.n.CreatedAt.After(b.n.CreatedAt)
		}
		return a.seq > b.seq
	})
	if len(s.entries) > s.capacity {
		s.entries = s.entries[:s.capacity]
	}
}
