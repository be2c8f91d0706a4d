package rooms

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-chat/internal/events"
)

// Session is one live connection. Enqueue must never block; it reports
// false when the session's buffer is full (slow consumer).
type Session interface {
	ID() string
	UserID() string
	Enqueue(b []byte) bool
}

// Hub multiplexes two room kinds: per-chat rooms joined explicitly when
// a client focuses a chat, and per-user rooms that every session joins
// at identify time so all of a user's devices converge on the same
// delivery/read state.
type Hub struct {
	mu             sync.RWMutex
	byChat         map[string]map[Session]struct{}
	byUser         map[string]map[Session]struct{}
	chatsBySession map[Session]map[string]struct{}

	// Optional bridge for multi-instance fan-out. When set, every
	// broadcast is also published to the named channel (Redis pub/sub
	// in the composition root). Nil in the single-node deployment.
	Publish func(ctx context.Context, channel string, b []byte) error

	log *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		byChat:         make(map[string]map[Session]struct{}),
		byUser:         make(map[string]map[Session]struct{}),
		chatsBySession: make(map[Session]map[string]struct{}),
		log:            log,
	}
}

// JoinUser adds the session to its user's room.
func (h *Hub) JoinUser(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byUser[s.UserID()]
	if !ok {
		set = make(map[Session]struct{})
		h.byUser[s.UserID()] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) JoinChat(s Session, chatID string) {
	if chatID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.byChat[chatID]
	if !ok {
		set = make(map[Session]struct{})
		h.byChat[chatID] = set
	}
	set[s] = struct{}{}

	joined, ok := h.chatsBySession[s]
	if !ok {
		joined = make(map[string]struct{})
		h.chatsBySession[s] = joined
	}
	joined[chatID] = struct{}{}
}

func (h *Hub) LeaveChat(s Session, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveChatLocked(s, chatID)
}

func (h *Hub) leaveChatLocked(s Session, chatID string) {
	if set, ok := h.byChat[chatID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byChat, chatID)
		}
	}
	if joined, ok := h.chatsBySession[s]; ok {
		delete(joined, chatID)
		if len(joined) == 0 {
			delete(h.chatsBySession, s)
		}
	}
}

// Remove takes the session out of every room. Called on disconnect.
func (h *Hub) Remove(s Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for chatID := range h.chatsBySession[s] {
		if set, ok := h.byChat[chatID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.byChat, chatID)
			}
		}
	}
	delete(h.chatsBySession, s)
	if set, ok := h.byUser[s.UserID()]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.byUser, s.UserID())
		}
	}
}

// ToChat fans an event out to every session in a chat room, optionally
// excluding the originator. Exclusion is by user, not by session: the
// originator's other tabs are skipped too.
func (h *Hub) ToChat(ctx context.Context, chatID string, name events.Name, payload any, exclude Session) {
	b := events.Marshal(name, payload)
	var skipUser string
	if exclude != nil {
		skipUser = exclude.UserID()
	}
	h.mu.RLock()
	for s := range h.byChat[chatID] {
		if s == exclude || (skipUser != "" && s.UserID() == skipUser) {
			continue
		}
		h.enqueue(s, name, b)
	}
	h.mu.RUnlock()
	h.bridge(ctx, "chat:"+chatID, b)
}

// ToUser fans an event out to every session of one user.
func (h *Hub) ToUser(ctx context.Context, userID string, name events.Name, payload any) {
	b := events.Marshal(name, payload)
	h.mu.RLock()
	for s := range h.byUser[userID] {
		h.enqueue(s, name, b)
	}
	h.mu.RUnlock()
	h.bridge(ctx, "user:"+userID, b)
}

// ToUsers delivers one event to each listed user's room. Fan-out is by
// recipient identity: a user with three tabs open on the same chat
// still receives the event once per session via their user room, never
// duplicated through chat-room membership.
func (h *Hub) ToUsers(ctx context.Context, userIDs []string, name events.Name, payload any) {
	b := events.Marshal(name, payload)
	h.mu.RLock()
	for _, u := range userIDs {
		for s := range h.byUser[u] {
			h.enqueue(s, name, b)
		}
	}
	h.mu.RUnlock()
	for _, u := range userIDs {
		h.bridge(ctx, "user:"+u, b)
	}
}

// ToAll broadcasts to every identified session, excluding one.
func (h *Hub) ToAll(ctx context.Context, name events.Name, payload any, exclude Session) {
	b := events.Marshal(name, payload)
	h.mu.RLock()
	for _, set := range h.byUser {
		for s := range set {
			if s == exclude {
				continue
			}
			h.enqueue(s, name, b)
		}
	}
	h.mu.RUnlock()
	h.bridge(ctx, "global", b)
}

func (h *Hub) enqueue(s Session, name events.Name, b []byte) {
	if !s.Enqueue(b) {
		h.log.Warnw("dropping event for slow consumer", "event", name, "session", s.ID(), "user", s.UserID())
	}
}

func (h *Hub) bridge(ctx context.Context, channel string, b []byte) {
	if h.Publish == nil {
		return
	}
	if err := h.Publish(ctx, channel, b); err != nil {
		h.log.Warnw("cross-instance publish failed", "channel", channel, "err", err)
	}
}
