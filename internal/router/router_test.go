package router

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/edupulse/edupulse/internal/model"
)

// fakeSinks records everything dispatched to it.
type fakeSinks struct {
	mu          sync.Mutex
	ingested    []model.Notification
	bulks       [][]string
	updates     []model.PresenceDelta
	threadReads []string
}

func (f *fakeSinks) IngestPush(n model.Notification) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingested = append(f.ingested, n)
	return true
}

func (f *fakeSinks) ApplyBulk(ids []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bulks = append(f.bulks, ids)
}

func (f *fakeSinks) ApplyUpdate(userID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, model.PresenceDelta{UserID: userID, Online: online})
}

func (f *fakeSinks) MarkThreadRead(partnerID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threadReads = append(f.threadReads, partnerID)
	return nil
}

// fakeSource feeds canned envelopes.
type fakeSource struct {
	ch chan model.Envelope
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan model.Envelope, 16)}
}

func (s *fakeSource) Events() <-chan model.Envelope { return s.ch }

func (s *fakeSource) emit(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshaling payload: %v", err)
	}
	s.ch <- model.Envelope{Event: event, Payload: raw}
}

func newTestRouter() (*Router, *fakeSinks) {
	sinks := &fakeSinks{}
	return New(sinks, sinks, sinks, nil), sinks
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestDispatchFansOut(t *testing.T) {
	r, sinks := newTestRouter()
	src := newFakeSource()
	sub := r.Attach(src)
	defer sub.Cancel()

	src.emit(t, model.EventNotificationNew, map[string]any{
		"id": "n1", "kind": "system", "message": "grades posted",
		"created_at": "2026-03-10T09:00:00Z",
	})
	src.emit(t, model.EventPresenceBulk, map[string]any{"onlineUserIds": []string{"u2", "u3"}})
	src.emit(t, model.EventPresenceUpdate, map[string]any{"userId": "u4", "online": true})
	src.emit(t, model.EventChatReadAll, map[string]any{"partnerId": "u2"})

	waitFor(t, func() bool {
		sinks.mu.Lock()
		defer sinks.mu.Unlock()
		return len(sinks.ingested) == 1 && len(sinks.bulks) == 1 &&
			len(sinks.updates) == 1 && len(sinks.threadReads) == 1
	})

	sinks.mu.Lock()
	defer sinks.mu.Unlock()
	if sinks.ingested[0].ID != "n1" || sinks.ingested[0].Kind != model.KindSystem {
		t.Errorf("ingested = %+v", sinks.ingested[0])
	}
	if sinks.updates[0] != (model.PresenceDelta{UserID: "u4", Online: true}) {
		t.Errorf("presence update = %+v", sinks.updates[0])
	}
	if sinks.threadReads[0] != "u2" {
		t.Errorf("thread read partner = %q", sinks.threadReads[0])
	}
}

func TestChatAliasesNormalizeToSameShape(t *testing.T) {
	aliases := []struct {
		event   string
		payload map[string]any
	}{
		{model.EventChatNewMessage, map[string]any{"id": "m1", "from": "u2", "message": "hey"}},
		{model.EventChatMessage, map[string]any{"_id": "m2", "senderId": "u2", "text": "hey"}},
		{model.EventChatNewMessage, map[string]any{"id": "m3", "sender_id": "u2", "body": "hey"}},
	}

	r, sinks := newTestRouter()
	src := newFakeSource()
	sub := r.Attach(src)
	defer sub.Cancel()

	for _, alias := range aliases {
		src.emit(t, alias.event, alias.payload)
	}

	waitFor(t, func() bool {
		sinks.mu.Lock()
		defer sinks.mu.Unlock()
		return len(sinks.ingested) == 3
	})

	sinks.mu.Lock()
	defer sinks.mu.Unlock()
	for _, n := range sinks.ingested {
		if n.Kind != model.KindChat {
			t.Errorf("%s kind = %q, want chat", n.ID, n.Kind)
		}
		if n.Payload[model.PayloadPartnerID] != "u2" {
			t.Errorf("%s partner = %q, want u2", n.ID, n.Payload[model.PayloadPartnerID])
		}
		if n.Message != "hey" {
			t.Errorf("%s message = %q, want hey", n.ID, n.Message)
		}
	}
}

func TestChatWithoutIDGetsProvisionalID(t *testing.T) {
	r, sinks := newTestRouter()
	src := newFakeSource()
	sub := r.Attach(src)
	defer sub.Cancel()

	src.emit(t, model.EventChatNewMessage, map[string]any{"from": "u2", "message": "no id here"})

	waitFor(t, func() bool {
		sinks.mu.Lock()
		defer sinks.mu.Unlock()
		return len(sinks.ingested) == 1
	})

	sinks.mu.Lock()
	defer sinks.mu.Unlock()
	if !model.IsProvisional(sinks.ingested[0].ID) {
		t.Errorf("id %q is not provisional", sinks.ingested[0].ID)
	}
}

func TestLifecycleEventsMapToKinds(t *testing.T) {
	tests := []struct {
		event string
		want  model.Kind
	}{
		{model.EventTaskAssigned, model.KindTaskAssigned},
		{model.EventSubmissionNew, model.KindSubmission},
		{model.EventSubmissionGraded, model.KindSubmission},
	}

	r, sinks := newTestRouter()
	src := newFakeSource()
	sub := r.Attach(src)
	defer sub.Cancel()

	for i, tt := range tests {
		src.emit(t, tt.event, map[string]any{"id": string(rune('a' + i)), "title": "Essay 3"})
	}

	waitFor(t, func() bool {
		sinks.mu.Lock()
		defer sinks.mu.Unlock()
		return len(sinks.ingested) == len(tests)
	})

	sinks.mu.Lock()
	defer sinks.mu.Unlock()
	for i, tt := range tests {
		if sinks.ingested[i].Kind != tt.want {
			t.Errorf("%s kind = %q, want %q", tt.event, sinks.ingested[i].Kind, tt.want)
		}
		if sinks.ingested[i].Message != "Essay 3" {
			t.Errorf("%s message = %q", tt.event, sinks.ingested[i].Message)
		}
	}
}

func TestMalformedAndUnknownEventsAreDropped(t *testing.T) {
	r, sinks := newTestRouter()
	src := newFakeSource()
	sub := r.Attach(src)
	defer sub.Cancel()

	src.ch <- model.Envelope{Event: model.EventNotificationNew, Payload: json.RawMessage(`{broken`)}
	src.emit(t, "totally:unknown", map[string]any{"x": 1})
	src.emit(t, model.EventPresenceUpdate, map[string]any{"online": true}) // no user id
	src.emit(t, model.EventNotificationNew, map[string]any{"id": "good", "message": "ok"})

	waitFor(t, func() bool {
		sinks.mu.Lock()
		defer sinks.mu.Unlock()
		return len(sinks.ingested) == 1
	})

	sinks.mu.Lock()
	defer sinks.mu.Unlock()
	if sinks.ingested[0].ID != "good" {
		t.Errorf("surviving event = %+v", sinks.ingested[0])
	}
	if len(sinks.updates) != 0 {
		t.Errorf("malformed presence update reached the tracker: %+v", sinks.updates)
	}
}

func TestCancelIsSynchronousAndTotal(t *testing.T) {
	r, sinks := newTestRouter()
	src := newFakeSource()
	sub := r.Attach(src)

	src.emit(t, model.EventNotificationNew, map[string]any{"id": "before", "message": "x"})
	waitFor(t, func() bool {
		sinks.mu.Lock()
		defer sinks.mu.Unlock()
		return len(sinks.ingested) == 1
	})

	sub.Cancel()
	sub.Cancel() // idempotent

	// Anything emitted after Cancel returns must never be dispatched.
	src.emit(t, model.EventNotificationNew, map[string]any{"id": "after", "message": "x"})
	time.Sleep(50 * time.Millisecond)

	sinks.mu.Lock()
	defer sinks.mu.Unlock()
	if len(sinks.ingested) != 1 {
		t.Errorf("dispatch after Cancel: %+v", sinks.ingested)
	}
}

func TestReattachCancelsPreviousSubscription(t *testing.T) {
	r, sinks := newTestRouter()

	oldSrc := newFakeSource()
	oldSub := r.Attach(oldSrc)

	// Reconnect: a new source replaces the old one.
	newSrc := newFakeSource()
	newSub := r.Attach(newSrc)
	defer newSub.Cancel()

	select {
	case <-oldSub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("previous subscription not cancelled by re-attach")
	}

	// Only the new source is consumed: no duplicate handler registrations.
	newSrc.emit(t, model.EventNotificationNew, map[string]any{"id": "n1", "message": "x"})
	waitFor(t, func() bool {
		sinks.mu.Lock()
		defer sinks.mu.Unlock()
		return len(sinks.ingested) == 1
	})

	oldSrc.emit(t, model.EventNotificationNew, map[string]any{"id": "stale", "message": "x"})
	time.Sleep(50 * time.Millisecond)

	sinks.mu.Lock()
	defer sinks.mu.Unlock()
	if len(sinks.ingested) != 1 {
		t.Errorf("stale source still dispatched: %+v", sinks.ingested)
	}
}

func TestSubscriptionEndsWhenSourceCloses(t *testing.T) {
	r, _ := newTestRouter()
	src := newFakeSource()
	sub := r.Attach(src)

	close(src.ch)

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end when the source closed")
	}
}
