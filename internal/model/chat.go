package model

import "time"

// ChatMessage is one message in a direct thread, as returned by the
// thread history and send endpoints.
type ChatMessage struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Body        string    `json:"body"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}
