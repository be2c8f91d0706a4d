package events

import "encoding/json"

// Name identifies an event on the wire. Inbound dispatch goes through
// an explicit table keyed by Name, so an event with no handler is a
// visible gap rather than a silently ignored string.
type Name string

// Inbound events (client -> server).
const (
	Setup            Name = "setup"
	JoinChat         Name = "join-chat"
	LeaveChat        Name = "leave-chat"
	NewMessage       Name = "new-message"
	NewThreadMessage Name = "new-thread-message"
	Typing           Name = "typing"
	StopTyping       Name = "stop-typing"
	AckDelivery      Name = "ack-delivery"
	AckRead          Name = "ack-read"
	AckReadUpTo      Name = "ack-read-up-to"
	StatusChange     Name = "status-change"
	AvatarUpdated    Name = "avatar-updated"
)

// Outbound events (server -> client).
const (
	MessageReceived     Name = "message-received"
	ThreadMessage       Name = "thread:messageCreated"
	ChatUpdated         Name = "chat:updated"
	ChatCreated         Name = "chat:created"
	ChatRemoved         Name = "chat:removed"
	MessageDeleted      Name = "message:deleted"
	MessageDelivered    Name = "message-delivered"
	MessageRead         Name = "message-read"
	ParticipantLastRead Name = "participant-last-read"
	UserOnline          Name = "user-online"
	UserOffline         Name = "user-offline"
	UserStatusChange    Name = "user-status-change"
	UserAvatarUpdated   Name = "user-avatar-updated"
	OnlineUsers         Name = "online-users"
)

// Envelope is the wire format for every event in both directions.
type Envelope struct {
	Type    Name            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal wraps a payload in an envelope and serializes it. Payloads
// are our own structs; a marshal failure here is a programming error,
// so it degrades to an envelope without payload rather than panicking.
func Marshal(name Name, payload any) []byte {
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	b, _ := json.Marshal(Envelope{Type: name, Payload: raw})
	return b
}
