package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a notification by the subsystem that produced it.
type Kind string

const (
	KindChat         Kind = "chat"
	KindTaskAssigned Kind = "task_assigned"
	KindSubmission   Kind = "submission"
	KindSystem       Kind = "system"
)

// Notification represents one item in the merged feed.
type Notification struct {
	// ID is unique within the feed. Server-sourced notifications carry a
	// stable server id; items synthesized client-side carry a provisional
	// id (see ProvisionalID).
	ID string `json:"id"`

	// Kind identifies which subsystem generated this notification.
	Kind Kind `json:"kind"`

	// Message is the human-readable notification text.
	Message string `json:"message"`

	// Read indicates whether the user has seen this notification.
	Read bool `json:"read"`

	// CreatedAt is when this notification was generated. Used only
	// for ordering.
	CreatedAt time.Time `json:"created_at"`

	// Payload holds kind-specific attributes (e.g. the chat partner id
	// under "partner_id"). The merge logic never interprets it.
	Payload map[string]string `json:"payload,omitempty"`
}

// PayloadPartnerID is the payload key carrying the chat partner's user id.
const PayloadPartnerID = "partner_id"

// provisionalPrefix marks ids synthesized client-side.
const provisionalPrefix = "local-"

// ProvisionalID synthesizes a feed id for an event that arrived without a
// stable server id. The sender and timestamp make the id readable in logs;
// the uuid fragment disambiguates events from the same sender in the same
// millisecond. A provisional entry can never be merged with its
// authoritative server copy once that copy arrives, so the same logical
// event may appear twice. This is a known limitation of sources that
// deliver without ids, not something the feed papers over.
func ProvisionalID(sender string, at time.Time) string {
	frag := uuid.NewString()[:8]
	return fmt.Sprintf("%s%s-%d-%s", provisionalPrefix, sender, at.UnixMilli(), frag)
}

// IsProvisional reports whether id was synthesized by ProvisionalID.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, provisionalPrefix)
}
