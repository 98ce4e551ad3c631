package feed_test

import (
	"context"
	"testing"
	"time"

	"github.com/edupulse/edupulse/internal/feed"
	"github.com/edupulse/edupulse/internal/model"
	"github.com/edupulse/edupulse/tests/testutil"
)

func TestSaveAndLoadFeedRoundTrip(t *testing.T) {
	s := testutil.NewTestPersistStore(t)
	ctx := context.Background()

	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	items := []model.Notification{
		{
			ID: "n2", Kind: model.KindChat, Message: "hi", Read: false,
			CreatedAt: at.Add(time.Minute),
			Payload:   map[string]string{model.PayloadPartnerID: "u2"},
		},
		{
			ID: "n1", Kind: model.KindSystem, Message: "maintenance", Read: true,
			CreatedAt: at,
		},
	}

	if err := s.SaveFeed(ctx, "u1", items); err != nil {
		t.Fatalf("SaveFeed: %v", err)
	}

	got, err := s.LoadFeed(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadFeed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("LoadFeed returned %d items, want 2", len(got))
	}
	if got[0].ID != "n2" || got[1].ID != "n1" {
		t.Errorf("LoadFeed order = %s, %s; want n2, n1", got[0].ID, got[1].ID)
	}
	if got[0].Payload[model.PayloadPartnerID] != "u2" {
		t.Errorf("payload lost in round trip: %+v", got[0].Payload)
	}
	if !got[1].Read {
		t.Error("read flag lost in round trip")
	}
}

func TestSaveFeedReplacesPreviousSlice(t *testing.T) {
	s := testutil.NewTestPersistStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	first := []model.Notification{
		{ID: "old1", Kind: model.KindSystem, CreatedAt: at},
		{ID: "old2", Kind: model.KindSystem, CreatedAt: at},
	}
	if err := s.SaveFeed(ctx, "u1", first); err != nil {
		t.Fatalf("SaveFeed: %v", err)
	}

	second := []model.Notification{
		{ID: "new1", Kind: model.KindSystem, CreatedAt: at},
	}
	if err := s.SaveFeed(ctx, "u1", second); err != nil {
		t.Fatalf("SaveFeed: %v", err)
	}

	got, err := s.LoadFeed(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadFeed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "new1" {
		t.Errorf("LoadFeed after replace = %+v, want only new1", got)
	}
}

func TestFeedsAreKeyedByUser(t *testing.T) {
	s := testutil.NewTestPersistStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	_ = s.SaveFeed(ctx, "u1", []model.Notification{{ID: "a", Kind: model.KindSystem, CreatedAt: at}})
	_ = s.SaveFeed(ctx, "u2", []model.Notification{{ID: "b", Kind: model.KindSystem, CreatedAt: at}})

	got, err := s.LoadFeed(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadFeed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Errorf("u1 feed = %+v, want only a", got)
	}

	if empty, _ := s.LoadFeed(ctx, "nobody"); len(empty) != 0 {
		t.Errorf("unknown user feed = %+v, want empty", empty)
	}
}

func TestLoadFeedIntoStoreSeedsBeforeSnapshot(t *testing.T) {
	s := testutil.NewTestPersistStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	persisted := []model.Notification{
		{ID: "p1", Kind: model.KindSystem, Message: "stale copy", Read: true, CreatedAt: at},
	}
	if err := s.SaveFeed(ctx, "u1", persisted); err != nil {
		t.Fatalf("SaveFeed: %v", err)
	}

	store := feed.NewStore(10, nil)
	restored, err := s.LoadFeed(ctx, "u1")
	if err != nil {
		t.Fatalf("LoadFeed: %v", err)
	}
	store.LoadSnapshot(restored)

	if store.Len() != 1 {
		t.Fatalf("feed empty after restore")
	}

	// The later REST snapshot merges on top; local read=true survives.
	store.LoadSnapshot([]model.Notification{
		{ID: "p1", Kind: model.KindSystem, Message: "fresh copy", Read: false, CreatedAt: at},
	})
	got := store.Snapshot()
	if got[0].Message != "fresh copy" || !got[0].Read {
		t.Errorf("restore+snapshot merge = %+v, want fresh copy still read", got[0])
	}
}
