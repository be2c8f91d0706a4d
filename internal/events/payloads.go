package events

import (
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/models"
)

// Inbound payloads.

type SetupPayload struct {
	UserID string `json:"user_id"`
}

type ChatRoomPayload struct {
	ChatID string `json:"chat_id"`
}

type AckPayload struct {
	MessageID string `json:"message_id"`
}

type AckReadUpToPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

type StatusChangePayload struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
}

type AvatarPayload struct {
	UserID string `json:"user_id"`
	Avatar string `json:"avatar"`
}

// ChatRef is the chat summary clients embed in new-message payloads so
// fan-out can target recipients without a membership lookup.
type ChatRef struct {
	ID    string   `json:"id"`
	Users []string `json:"users"`
}

type NewMessagePayload struct {
	models.Message
	Chat ChatRef `json:"chat"`
}

// Outbound payloads.

type DeliveredPayload struct {
	MessageID    string          `json:"message_id"`
	ChatID       string          `json:"chat_id"`
	DeliveredTo  models.Receipts `json:"delivered_to"`
	DeliveredAll bool            `json:"delivered_all"`
}

type ReadPayload struct {
	MessageID string    `json:"message_id"`
	ChatID    string    `json:"chat_id"`
	ReaderID  string    `json:"reader_id"`
	At        time.Time `json:"at"`
	ReadAll   bool      `json:"read_all"`
}

type LastReadPayload struct {
	ChatID            string    `json:"chat_id"`
	UserID            string    `json:"user_id"`
	LastReadMessageID string    `json:"last_read_message_id"`
	LastReadAt        time.Time `json:"last_read_at"`
}

type TypingPayload struct {
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

type PresencePayload struct {
	UserID string    `json:"user_id"`
	Status string    `json:"status,omitempty"`
	At     time.Time `json:"at"`
}

type OnlineUsersPayload struct {
	Users []string `json:"users"`
}

type MessageDeletedPayload struct {
	MessageID   string `json:"message_id"`
	ChatID      string `json:"chat_id"`
	ForEveryone bool   `json:"for_everyone"`
}
