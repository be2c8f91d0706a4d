package typing

import (
	"context"

	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/rooms"
)

// Coordinator relays typing indicators to the chat room, excluding the
// typist's own session. Nothing is persisted and nothing is debounced;
// clients own dedup and timers.
type Coordinator struct {
	hub *rooms.Hub
}

func NewCoordinator(hub *rooms.Hub) *Coordinator {
	return &Coordinator{hub: hub}
}

func (c *Coordinator) Start(ctx context.Context, chatID, userID string, from rooms.Session) {
	if chatID == "" {
		return
	}
	c.hub.ToChat(ctx, chatID, events.Typing, events.TypingPayload{ChatID: chatID, UserID: userID}, from)
}

func (c *Coordinator) Stop(ctx context.Context, chatID, userID string, from rooms.Session) {
	if chatID == "" {
		return
	}
	c.hub.ToChat(ctx, chatID, events.StopTyping, events.TypingPayload{ChatID: chatID, UserID: userID}, from)
}
