package testutil

import (
	"testing"

	"github.com/edupulse/edupulse/internal/feed"
)

// NewTestPersistStore creates an in-memory SQLite persist store with all
// migrations applied. It automatically closes the store when the test
// completes.
func NewTestPersistStore(t *testing.T) *feed.PersistStore {
	t.Helper()

	s, err := feed.NewPersistStore(":memory:", nil)
	if err != nil {
		t.Fatalf("creating test persist store: %v", err)
	}

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test persist store: %v", err)
		}
	})

	return s
}
