// Package router subscribes to the named event classes on a connection
// and fans normalized payloads out to the feed, the presence tracker, and
// the thread read-state handler. Payload shape quirks are resolved here,
// at the ingestion boundary; nothing downstream branches on wire shape.
package router

import (
	"log/slog"
	"sync"

	"github.com/edupulse/edupulse/internal/model"
)

// EventSource is the inbound side of a connection: an in-order envelope
// stream that closes when the connection dies.
type EventSource interface {
	Events() <-chan model.Envelope
}

// NotificationSink receives normalized feed items.
type NotificationSink interface {
	IngestPush(model.Notification) bool
}

// PresenceSink receives presence snapshots and deltas.
type PresenceSink interface {
	ApplyBulk(onlineIDs []string)
	ApplyUpdate(userID string, online bool)
}

// ThreadReadSink receives thread-read broadcasts from other sessions.
type ThreadReadSink interface {
	MarkThreadRead(partnerID string) []string
}

// Router dispatches inbound envelopes. One subscription is active at a
// time: attaching after a reconnect cancels the previous one first, so
// duplicate handler registrations are structurally impossible.
type Router struct {
	feed     NotificationSink
	presence PresenceSink
	reads    ThreadReadSink
	log      *slog.Logger

	mu     sync.Mutex
	active *Subscription
}

// New creates a Router over the given sinks.
func New(feed NotificationSink, presence PresenceSink, reads ThreadReadSink, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{feed: feed, presence: presence, reads: reads, log: logger}
}

// Subscription is the handle on one active attachment. Cancel is
// synchronous: when it returns, no further event is dispatched.
type Subscription struct {
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Cancel stops dispatching and waits for the consuming goroutine to exit.
// Safe to call more than once.
func (s *Subscription) Cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// Done is closed when the subscription has ended, whether by Cancel or by
// the connection going away.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Attach starts consuming src's event stream. A previously active
// subscription on this router is cancelled before the new one begins.
func (r *Router) Attach(src EventSource) *Subscription {
	sub := &Subscription{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	prev := r.active
	r.active = sub
	r.mu.Unlock()

	if prev != nil {
		prev.Cancel()
	}

	go r.run(src, sub)
	return sub
}

func (r *Router) run(src EventSource, sub *Subscription) {
	defer close(sub.done)
	for {
		select {
		case <-sub.stop:
			return
		case env, ok := <-src.Events():
			if !ok {
				return
			}
			r.dispatch(env)
		}
	}
}

// dispatch routes one envelope by event class. Unknown classes are
// dropped; malformed payloads are logged and dropped, never surfaced.
func (r *Router) dispatch(env model.Envelope) {
	switch env.Event {
	case model.EventNotificationNew:
		n, err := normalizeNotification(env.Payload, model.KindSystem)
		if err != nil {
			r.log.Warn("dropping malformed notification", "event", env.Event, "error", err)
			return
		}
		r.feed.IngestPush(n)

	case model.EventChatNewMessage, model.EventChatMessage:
		n, err := normalizeChatMessage(env.Payload)
		if err != nil {
			r.log.Warn("dropping malformed chat message", "event", env.Event, "error", err)
			return
		}
		r.feed.IngestPush(n)

	case model.EventTaskAssigned:
		n, err := normalizeNotification(env.Payload, model.KindTaskAssigned)
		if err != nil {
			r.log.Warn("dropping malformed task event", "event", env.Event, "error", err)
			return
		}
		r.feed.IngestPush(n)

	case model.EventSubmissionNew, model.EventSubmissionGraded:
		n, err := normalizeNotification(env.Payload, model.KindSubmission)
		if err != nil {
			r.log.Warn("dropping malformed submission event", "event", env.Event, "error", err)
			return
		}
		r.feed.IngestPush(n)

	case model.EventPresenceBulk:
		bulk, err := normalizePresenceBulk(env.Payload)
		if err != nil {
			r.log.Warn("dropping malformed presence snapshot", "error", err)
			return
		}
		r.presence.ApplyBulk(bulk.OnlineUserIDs)

	case model.EventPresenceUpdate:
		delta, err := normalizePresenceDelta(env.Payload)
		if err != nil {
			r.log.Warn("dropping malformed presence update", "error", err)
			return
		}
		r.presence.ApplyUpdate(delta.UserID, delta.Online)

	case model.EventChatReadAll, model.EventThreadRead:
		read, err := normalizeThreadRead(env.Payload)
		if err != nil {
			r.log.Warn("dropping malformed thread-read broadcast", "error", err)
			return
		}
		r.reads.MarkThreadRead(read.PartnerID)

	default:
		r.log.Debug("ignoring event", "event", env.Event)
	}
}
