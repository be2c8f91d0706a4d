package ws

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/models"
	"github.com/fathima-sithara/realtime-chat/internal/presence"
	"github.com/fathima-sithara/realtime-chat/internal/rooms"
)

// StatusWriter persists a last-known presence status. Both the user
// collection and the Redis mirror satisfy it.
type StatusWriter interface {
	SetStatus(ctx context.Context, userID, status string, at time.Time) error
}

// Lifecycle reconciles the presence registry, persisted status and room
// membership on connect and disconnect. Persistence on this path is
// best-effort: failures are logged and swallowed so they can never
// block connection setup or teardown.
type Lifecycle struct {
	registry *presence.Registry
	hub      *rooms.Hub
	writers  []StatusWriter
	audit    *events.Publisher
	timeout  time.Duration
	log      *zap.SugaredLogger

	now func() time.Time
}

func NewLifecycle(registry *presence.Registry, hub *rooms.Hub, audit *events.Publisher, timeout time.Duration, log *zap.SugaredLogger, writers ...StatusWriter) *Lifecycle {
	return &Lifecycle{
		registry: registry,
		hub:      hub,
		writers:  writers,
		audit:    audit,
		timeout:  timeout,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Identify transitions a connection from anonymous to identified:
// registry registration, own-room join, online-users snapshot to the
// new connection, and a user-online broadcast to everyone else when
// this was the user's first live handle.
func (l *Lifecycle) Identify(ctx context.Context, c *Client, userID string) {
	if userID == "" {
		return
	}
	if !c.identify(userID) {
		// duplicate setup on an identified connection
		return
	}
	cameOnline := l.registry.Register(userID, c.ID())
	l.hub.JoinUser(c)

	now := l.now()
	l.persistStatus(ctx, userID, models.UserOnline, now)

	snapshot := events.OnlineUsersPayload{Users: l.registry.Online()}
	c.Enqueue(events.Marshal(events.OnlineUsers, snapshot))

	if cameOnline {
		payload := events.PresencePayload{UserID: userID, Status: models.UserOnline, At: now}
		l.hub.ToAll(ctx, events.UserOnline, payload, c)
		l.audit.Publish(ctx, userID, events.UserOnline, payload)
	}
	l.log.Infow("connection identified", "user_id", userID, "handle", c.ID(), "handles", l.registry.Handles(userID))
}

// Disconnect tears a connection down. Only the loss of the user's last
// handle flips them offline; closing one of several tabs must not emit
// a spurious user-offline.
func (l *Lifecycle) Disconnect(ctx context.Context, c *Client) {
	l.hub.Remove(c)
	userID, wentOffline := l.registry.Unregister(c.ID())
	c.close()
	if userID == "" || !wentOffline {
		return
	}

	now := l.now()
	l.persistStatus(ctx, userID, models.UserOffline, now)
	payload := events.PresencePayload{UserID: userID, Status: models.UserOffline, At: now}
	l.hub.ToAll(ctx, events.UserOffline, payload, nil)
	l.audit.Publish(ctx, userID, events.UserOffline, payload)
	l.log.Infow("user offline", "user_id", userID)
}

// OverrideStatus persists and broadcasts a client-chosen status (away,
// etc.) without touching the registry.
func (l *Lifecycle) OverrideStatus(ctx context.Context, c *Client, userID, status string) {
	now := l.now()
	l.persistStatus(ctx, userID, status, now)
	payload := events.PresencePayload{UserID: userID, Status: status, At: now}
	l.hub.ToAll(ctx, events.UserStatusChange, payload, c)
	l.audit.Publish(ctx, userID, events.UserStatusChange, payload)
}

func (l *Lifecycle) persistStatus(ctx context.Context, userID, status string, at time.Time) {
	cctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	for _, w := range l.writers {
		if err := w.SetStatus(cctx, userID, status, at); err != nil {
			l.log.Warnw("presence persist failed", "user_id", userID, "status", status, "err", err)
		}
	}
}
