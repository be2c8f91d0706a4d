package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-chat/internal/auth"
	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/fathima-sithara/realtime-chat/internal/models"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/fathima-sithara/realtime-chat/internal/rooms"
	"github.com/fathima-sithara/realtime-chat/internal/tracker"
	"github.com/fathima-sithara/realtime-chat/internal/typing"
)

var errBadPayload = errors.New("malformed payload")

type handlerFunc func(ctx context.Context, c *Client, payload json.RawMessage) error

// Options carries the connection tunables from config.
type Options struct {
	PingInterval  time.Duration
	WriteDeadline time.Duration
	MaxMsgSize    int64
	RateLimit     int
	SendBuffer    int
	StoreTimeout  time.Duration
}

// Gateway is the single entry point for inbound events: it reads the
// connection, demultiplexes envelopes by name through an explicit
// dispatch table and hands them to the owning component. Events on one
// connection are handled to completion, in order.
type Gateway struct {
	lifecycle *Lifecycle
	hub       *rooms.Hub
	tracker   *tracker.Tracker
	typing    *typing.Coordinator
	repos     *repository.Repositories
	validator *auth.JWTValidator
	audit     *events.Publisher
	opts      Options
	log       *zap.SugaredLogger

	handlers map[events.Name]handlerFunc
}

func NewGateway(lc *Lifecycle, hub *rooms.Hub, tr *tracker.Tracker, ty *typing.Coordinator, repos *repository.Repositories, jv *auth.JWTValidator, audit *events.Publisher, opts Options, log *zap.SugaredLogger) *Gateway {
	g := &Gateway{
		lifecycle: lc,
		hub:       hub,
		tracker:   tr,
		typing:    ty,
		repos:     repos,
		validator: jv,
		audit:     audit,
		opts:      opts,
		log:       log,
	}
	g.handlers = map[events.Name]handlerFunc{
		events.Setup:            g.onSetup,
		events.JoinChat:         g.onJoinChat,
		events.LeaveChat:        g.onLeaveChat,
		events.NewMessage:       g.onNewMessage,
		events.NewThreadMessage: g.onNewThreadMessage,
		events.Typing:           g.onTyping,
		events.StopTyping:       g.onStopTyping,
		events.AckDelivery:      g.onAckDelivery,
		events.AckRead:          g.onAckRead,
		events.AckReadUpTo:      g.onAckReadUpTo,
		events.StatusChange:     g.onStatusChange,
		events.AvatarUpdated:    g.onAvatarUpdated,
	}
	return g
}

// Handle serves one websocket connection until it drops. A valid token
// query parameter identifies the connection at upgrade time; otherwise
// the connection stays anonymous until a setup event arrives.
func (g *Gateway) Handle(conn *websocket.Conn) {
	c := NewClient(conn, uuid.NewString(), g.opts.SendBuffer, g.opts.RateLimit)
	metrics.Connections.Inc()
	defer metrics.Connections.Dec()

	if token := conn.Query("token"); token != "" && g.validator != nil {
		userID, err := g.validator.Validate(token)
		if err != nil {
			g.log.Warnw("upgrade token rejected", "err", err)
			_ = conn.Close()
			return
		}
		g.lifecycle.Identify(context.Background(), c, userID)
	}

	go c.writePump(g.opts.PingInterval, g.opts.WriteDeadline)

	conn.SetReadLimit(g.opts.MaxMsgSize)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if mt != websocket.TextMessage {
			continue
		}
		if !c.limiter.Allow() {
			continue
		}
		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.log.Debugw("malformed envelope", "handle", c.ID())
			continue
		}
		g.dispatch(context.Background(), c, env)
	}

	// in-flight mutations complete; only this connection's view is torn down
	g.lifecycle.Disconnect(context.Background(), c)
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, env events.Envelope) {
	h, ok := g.handlers[env.Type]
	if !ok {
		// the type is client-controlled; never let it mint new label values
		metrics.EventsInbound.WithLabelValues("unknown").Inc()
		metrics.EventsUnhandled.Inc()
		g.log.Warnw("no handler for event", "type", env.Type)
		return
	}
	metrics.EventsInbound.WithLabelValues(string(env.Type)).Inc()
	if env.Type != events.Setup && c.UserID() == "" {
		g.log.Debugw("event before setup", "type", env.Type, "handle", c.ID())
		return
	}
	if err := h(ctx, c, env.Payload); err != nil {
		g.log.Warnw("event handler failed", "type", env.Type, "user_id", c.UserID(), "err", err)
	}
}

func (g *Gateway) onSetup(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p events.SetupPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.UserID == "" {
		return errBadPayload
	}
	g.lifecycle.Identify(ctx, c, p.UserID)
	return nil
}

// chatID payloads arrive either as {"chat_id": "..."} or as a bare
// string, depending on client version.
func decodeChatID(payload json.RawMessage) string {
	var p events.ChatRoomPayload
	if err := json.Unmarshal(payload, &p); err == nil && p.ChatID != "" {
		return p.ChatID
	}
	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return s
	}
	return ""
}

func (g *Gateway) onJoinChat(ctx context.Context, c *Client, payload json.RawMessage) error {
	chatID := decodeChatID(payload)
	if chatID == "" {
		return errBadPayload
	}
	g.hub.JoinChat(c, chatID)
	return nil
}

func (g *Gateway) onLeaveChat(ctx context.Context, c *Client, payload json.RawMessage) error {
	chatID := decodeChatID(payload)
	if chatID == "" {
		return errBadPayload
	}
	g.hub.LeaveChat(c, chatID)
	return nil
}

func (g *Gateway) onNewMessage(ctx context.Context, c *Client, payload json.RawMessage) error {
	return g.fanOutMessage(ctx, c, payload, false)
}

func (g *Gateway) onNewThreadMessage(ctx context.Context, c *Client, payload json.RawMessage) error {
	return g.fanOutMessage(ctx, c, payload, true)
}

// fanOutMessage persists an inbound message and delivers it to every
// recipient's user room, so each of a recipient's sessions receives it
// exactly once no matter how many chat rooms they joined.
func (g *Gateway) fanOutMessage(ctx context.Context, c *Client, payload json.RawMessage, thread bool) error {
	var p events.NewMessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return errBadPayload
	}
	m := &p.Message
	if m.ChatID == "" {
		m.ChatID = p.Chat.ID
	}
	if m.ChatID == "" {
		return errBadPayload
	}
	if m.Content == "" && len(m.Attachments) == 0 {
		return errBadPayload
	}
	if thread && m.ParentID == "" {
		return errBadPayload
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.SenderID = c.UserID()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.Status = models.StatusSent
	m.DeliveredTo = nil
	// the sender has trivially read their own message
	m.ReadBy = models.Receipts{{UserID: m.SenderID, At: m.CreatedAt}}

	cctx, cancel := context.WithTimeout(ctx, g.opts.StoreTimeout)
	defer cancel()

	if thread {
		parent, err := g.repos.Messages.Get(cctx, m.ParentID)
		if err != nil {
			return err
		}
		if parent.ParentID != "" {
			// threads do not nest
			return errBadPayload
		}
		if parent.ChatID != m.ChatID {
			return errBadPayload
		}
	}

	recipients := p.Chat.Users
	if len(recipients) == 0 {
		members, err := g.repos.Chats.Members(cctx, m.ChatID)
		if err != nil {
			return err
		}
		recipients = members
	}

	if err := g.repos.Messages.Save(cctx, m); err != nil {
		return err
	}
	if thread {
		if err := g.repos.Messages.IncThreadCount(cctx, m.ParentID); err != nil {
			g.log.Warnw("thread count update failed", "parent_id", m.ParentID, "err", err)
		}
	} else {
		if err := g.repos.Chats.SetLatestMessage(cctx, m.ChatID, m); err != nil {
			g.log.Warnw("latest message update failed", "chat_id", m.ChatID, "err", err)
		}
	}

	targets := make([]string, 0, len(recipients))
	for _, u := range recipients {
		if u != m.SenderID {
			targets = append(targets, u)
		}
	}
	name := events.MessageReceived
	if thread {
		name = events.ThreadMessage
	}
	g.hub.ToUsers(ctx, targets, name, m)
	g.audit.Publish(ctx, m.ChatID, name, m)
	return nil
}

func (g *Gateway) onTyping(ctx context.Context, c *Client, payload json.RawMessage) error {
	chatID := decodeChatID(payload)
	if chatID == "" {
		return errBadPayload
	}
	g.typing.Start(ctx, chatID, c.UserID(), c)
	return nil
}

func (g *Gateway) onStopTyping(ctx context.Context, c *Client, payload json.RawMessage) error {
	chatID := decodeChatID(payload)
	if chatID == "" {
		return errBadPayload
	}
	g.typing.Stop(ctx, chatID, c.UserID(), c)
	return nil
}

func (g *Gateway) onAckDelivery(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p events.AckPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.MessageID == "" {
		return errBadPayload
	}
	return g.tracker.AckDelivery(ctx, p.MessageID, c.UserID())
}

func (g *Gateway) onAckRead(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p events.AckPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.MessageID == "" {
		return errBadPayload
	}
	return g.tracker.AckRead(ctx, p.MessageID, c.UserID())
}

func (g *Gateway) onAckReadUpTo(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p events.AckReadUpToPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" || p.MessageID == "" {
		return errBadPayload
	}
	return g.tracker.AckReadUpTo(ctx, p.ConversationID, c.UserID(), p.MessageID)
}

func (g *Gateway) onStatusChange(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p events.StatusChangePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Status == "" {
		return errBadPayload
	}
	// clients may only change their own status
	g.lifecycle.OverrideStatus(ctx, c, c.UserID(), p.Status)
	return nil
}

func (g *Gateway) onAvatarUpdated(ctx context.Context, c *Client, payload json.RawMessage) error {
	var p events.AvatarPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.Avatar == "" {
		return errBadPayload
	}
	p.UserID = c.UserID()
	cctx, cancel := context.WithTimeout(ctx, g.opts.StoreTimeout)
	defer cancel()
	if err := g.repos.Users.SetAvatar(cctx, p.UserID, p.Avatar); err != nil {
		g.log.Warnw("avatar persist failed", "user_id", p.UserID, "err", err)
	}
	g.hub.ToAll(ctx, events.UserAvatarUpdated, p, c)
	return nil
}
