package models

import "time"

// Participant holds the per-(chat, user) read cursor: "read up to here".
// Distinct from per-message read receipts; last_read_at only ever moves
// forward for a given pair.
type Participant struct {
	ChatID            string    `bson:"chat_id" json:"chat_id"`
	UserID            string    `bson:"user_id" json:"user_id"`
	LastReadMessageID string    `bson:"last_read_message_id,omitempty" json:"last_read_message_id,omitempty"`
	LastReadAt        time.Time `bson:"last_read_at" json:"last_read_at"`
	UpdatedAt         time.Time `bson:"updated_at" json:"updated_at"`
}
