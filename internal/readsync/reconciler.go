// Package readsync coordinates "mark thread read" across local state, the
// REST acknowledgement, and the push broadcast to other sessions.
package readsync

import (
	"context"
	"log/slog"

	"github.com/edupulse/edupulse/internal/model"
)

// LocalStore is the session-local side: flipping read flags in the feed.
type LocalStore interface {
	MarkThreadRead(partnerID string) []string
}

// Acker acknowledges the read to the server over REST.
type Acker interface {
	MarkThreadRead(ctx context.Context, partnerID string) error
}

// Broadcaster emits the read signal over the connection so other active
// sessions observe it without a REST round trip.
type Broadcaster interface {
	Send(event string, payload any) error
}

// Reconciler fans one thread read out to all three surfaces. Local state
// is the source of truth for this session's UI: the REST ack and the
// broadcast are best-effort, and their failure never rolls the local
// update back.
type Reconciler struct {
	local     LocalStore
	acker     Acker
	broadcast func() Broadcaster
	log       *slog.Logger
}

// New creates a Reconciler. broadcast is re-evaluated per call because the
// connection instance changes across reconnects and may be absent.
func New(local LocalStore, acker Acker, broadcast func() Broadcaster, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{local: local, acker: acker, broadcast: broadcast, log: logger}
}

// markReadSignal is the payload of the emitted read broadcast.
type markReadSignal struct {
	PartnerID string `json:"partnerId"`
}

// MarkThreadRead marks every notification referencing partnerID read
// locally, acknowledges the read to the server, and broadcasts it to other
// sessions. The three actions are independent and order-insensitive; only
// the local result is reported back.
func (r *Reconciler) MarkThreadRead(ctx context.Context, partnerID string) []string {
	changed := r.local.MarkThreadRead(partnerID)

	if err := r.acker.MarkThreadRead(ctx, partnerID); err != nil {
		r.log.Warn("thread-read ack failed", "partner_id", partnerID, "error", err)
	}

	if b := r.broadcast(); b != nil {
		if err := b.Send(model.EventChatMarkRead, markReadSignal{PartnerID: partnerID}); err != nil {
			r.log.Warn("thread-read broadcast failed", "partner_id", partnerID, "error", err)
		}
	}

	return changed
}
