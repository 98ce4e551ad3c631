package router

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/edupulse/edupulse/internal/model"
)

// flexTime decodes the timestamp shapes upstream emitters actually send:
// RFC3339 strings, unix seconds, and unix milliseconds.
type flexTime struct {
	time.Time
}

func (t *flexTime) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp %s: %w", data, err)
	}
	// Values past the year 2286 in seconds are milliseconds.
	if n > 1e10 {
		t.Time = time.UnixMilli(n)
	} else {
		t.Time = time.Unix(n, 0)
	}
	return nil
}

// firstNonEmpty returns the first non-empty string.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// looseNotification covers the field-name variants generic notification
// and lifecycle events arrive under.
type looseNotification struct {
	ID      string `json:"id"`
	AltID   string `json:"_id"`
	Kind    string `json:"kind"`
	Type    string `json:"type"`
	Message string `json:"message"`
	Text    string `json:"text"`
	Body    string `json:"body"`
	Title   string `json:"title"`
	Read    bool   `json:"read"`
	IsRead  bool   `json:"is_read"`

	CreatedAt  flexTime `json:"created_at"`
	CreatedAt2 flexTime `json:"createdAt"`
	Timestamp  flexTime `json:"timestamp"`

	Payload map[string]string `json:"payload"`
	Data    map[string]string `json:"data"`
}

// normalizeKind maps the wire kind strings onto the tagged variants.
func normalizeKind(raw string, fallback model.Kind) model.Kind {
	switch raw {
	case "chat", "message":
		return model.KindChat
	case "task", "task_assigned":
		return model.KindTaskAssigned
	case "submission":
		return model.KindSubmission
	case "system":
		return model.KindSystem
	default:
		return fallback
	}
}

// normalizeNotification turns a generic notification payload into a feed
// item. Events without a server id get a provisional one.
func normalizeNotification(raw json.RawMessage, fallback model.Kind) (model.Notification, error) {
	var loose looseNotification
	if err := json.Unmarshal(raw, &loose); err != nil {
		return model.Notification{}, fmt.Errorf("parsing notification payload: %w", err)
	}

	createdAt := loose.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = loose.CreatedAt2.Time
	}
	if createdAt.IsZero() {
		createdAt = loose.Timestamp.Time
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	id := firstNonEmpty(loose.ID, loose.AltID)
	if id == "" {
		id = model.ProvisionalID("server", createdAt)
	}

	payload := loose.Payload
	if payload == nil {
		payload = loose.Data
	}

	return model.Notification{
		ID:        id,
		Kind:      normalizeKind(firstNonEmpty(loose.Kind, loose.Type), fallback),
		Message:   firstNonEmpty(loose.Message, loose.Text, loose.Body, loose.Title),
		Read:      loose.Read || loose.IsRead,
		CreatedAt: createdAt,
		Payload:   payload,
	}, nil
}

// looseChatMessage covers the field-name variants chat events arrive under.
type looseChatMessage struct {
	ID        string `json:"id"`
	AltID     string `json:"_id"`
	From      string `json:"from"`
	Sender    string `json:"sender"`
	SenderID  string `json:"sender_id"`
	SenderID2 string `json:"senderId"`
	Message   string `json:"message"`
	Text      string `json:"text"`
	Body      string `json:"body"`

	CreatedAt  flexTime `json:"created_at"`
	CreatedAt2 flexTime `json:"createdAt"`
	Timestamp  flexTime `json:"timestamp"`
}

// normalizeChatMessage turns a chat arrival into a feed item whose payload
// carries the partner id. A message delivered without a server id gets a
// provisional id and will not merge with its authoritative copy later.
func normalizeChatMessage(raw json.RawMessage) (model.Notification, error) {
	var loose looseChatMessage
	if err := json.Unmarshal(raw, &loose); err != nil {
		return model.Notification{}, fmt.Errorf("parsing chat payload: %w", err)
	}

	sender := firstNonEmpty(loose.From, loose.Sender, loose.SenderID, loose.SenderID2)
	if sender == "" {
		return model.Notification{}, fmt.Errorf("chat message has no sender")
	}

	createdAt := loose.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = loose.CreatedAt2.Time
	}
	if createdAt.IsZero() {
		createdAt = loose.Timestamp.Time
	}
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	id := firstNonEmpty(loose.ID, loose.AltID)
	if id == "" {
		id = model.ProvisionalID(sender, createdAt)
	}

	return model.Notification{
		ID:        id,
		Kind:      model.KindChat,
		Message:   firstNonEmpty(loose.Message, loose.Text, loose.Body),
		CreatedAt: createdAt,
		Payload:   map[string]string{model.PayloadPartnerID: sender},
	}, nil
}

// normalizePresenceBulk extracts the online id list from a bulk snapshot.
func normalizePresenceBulk(raw json.RawMessage) (model.PresenceBulk, error) {
	var loose struct {
		OnlineUserIDs  []string `json:"onlineUserIds"`
		OnlineUserIDs2 []string `json:"online_user_ids"`
		Online         []string `json:"online"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return model.PresenceBulk{}, fmt.Errorf("parsing presence snapshot: %w", err)
	}

	ids := loose.OnlineUserIDs
	if ids == nil {
		ids = loose.OnlineUserIDs2
	}
	if ids == nil {
		ids = loose.Online
	}
	if ids == nil {
		return model.PresenceBulk{}, fmt.Errorf("presence snapshot has no id list")
	}
	return model.PresenceBulk{OnlineUserIDs: ids}, nil
}

// normalizePresenceDelta extracts a single-user presence change.
func normalizePresenceDelta(raw json.RawMessage) (model.PresenceDelta, error) {
	var loose struct {
		UserID   string `json:"userId"`
		UserID2  string `json:"user_id"`
		ID       string `json:"id"`
		Online   *bool  `json:"online"`
		IsOnline *bool  `json:"is_online"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return model.PresenceDelta{}, fmt.Errorf("parsing presence update: %w", err)
	}

	userID := firstNonEmpty(loose.UserID, loose.UserID2, loose.ID)
	if userID == "" {
		return model.PresenceDelta{}, fmt.Errorf("presence update has no user id")
	}

	online := false
	switch {
	case loose.Online != nil:
		online = *loose.Online
	case loose.IsOnline != nil:
		online = *loose.IsOnline
	case loose.Status != "":
		online = loose.Status == "online"
	default:
		return model.PresenceDelta{}, fmt.Errorf("presence update has no online flag")
	}

	return model.PresenceDelta{UserID: userID, Online: online}, nil
}

// normalizeThreadRead extracts the partner id from a thread-read broadcast.
func normalizeThreadRead(raw json.RawMessage) (model.ThreadRead, error) {
	var loose struct {
		PartnerID  string `json:"partnerId"`
		PartnerID2 string `json:"partner_id"`
		UserID     string `json:"userId"`
		UserID2    string `json:"user_id"`
		From       string `json:"from"`
	}
	if err := json.Unmarshal(raw, &loose); err != nil {
		return model.ThreadRead{}, fmt.Errorf("parsing thread-read payload: %w", err)
	}

	partner := firstNonEmpty(loose.PartnerID, loose.PartnerID2, loose.UserID, loose.UserID2, loose.From)
	if partner == "" {
		return model.ThreadRead{}, fmt.Errorf("thread-read broadcast has no partner id")
	}
	return model.ThreadRead{PartnerID: partner}, nil
}
