package model

import "encoding/json"

// Envelope is the wire form of one pushed event: a class name plus an
// uninterpreted payload. Payload shapes vary by upstream emitter; the
// router normalizes them before anything else sees them.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Event class names consumed from the connection. Several upstream
// emitters describe the same logical event under different names; the
// aliases are resolved at the ingestion boundary.
const (
	EventNotificationNew  = "notifications:new"
	EventChatNewMessage   = "chat:newMessage"
	EventChatMessage      = "chat:message" // alias of chat:newMessage
	EventPresenceBulk     = "presence:bulk"
	EventPresenceUpdate   = "presence:update"
	EventChatReadAll      = "chat:readAll"
	EventThreadRead       = "thread:read" // alias of chat:readAll
	EventTaskAssigned     = "task:assigned"
	EventSubmissionNew    = "submission:new"
	EventSubmissionGraded = "submission:graded"
	EventAuthError        = "auth:error"
)

// EventChatMarkRead is the class name of the read signal emitted by this
// client so other sessions observe a thread read without a REST round trip.
const EventChatMarkRead = "chat:markRead"

// PresenceBulk replaces the entire online set.
type PresenceBulk struct {
	OnlineUserIDs []string
}

// PresenceDelta mutates a single presence entry.
type PresenceDelta struct {
	UserID string
	Online bool
}

// ThreadRead reports that some session finished reading a chat thread.
type ThreadRead struct {
	PartnerID string
}
