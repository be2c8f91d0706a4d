package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/fathima-sithara/realtime-chat/internal/presence"
	"github.com/fathima-sithara/realtime-chat/internal/rooms"
	"github.com/fathima-sithara/realtime-chat/internal/typing"
)

func newTestGateway(t *testing.T) (*Gateway, *presence.Registry, *rooms.Hub) {
	t.Helper()
	log := zap.NewNop().Sugar()
	reg := presence.NewRegistry()
	hub := rooms.NewHub(log)
	lc := NewLifecycle(reg, hub, nil, time.Second, log)
	opts := Options{
		PingInterval:  30 * time.Second,
		WriteDeadline: 10 * time.Second,
		MaxMsgSize:    1 << 16,
		RateLimit:     100,
		SendBuffer:    16,
		StoreTimeout:  time.Second,
	}
	g := NewGateway(lc, hub, nil, typing.NewCoordinator(hub), nil, nil, nil, opts, log)
	return g, reg, hub
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	assert.NoError(t, err)
	return b
}

func TestDispatchSetupIdentifiesConnection(t *testing.T) {
	g, reg, _ := newTestGateway(t)
	c := newTestClient("h1")

	g.dispatch(context.Background(), c, events.Envelope{
		Type:    events.Setup,
		Payload: raw(t, events.SetupPayload{UserID: "alice"}),
	})

	assert.Equal(t, "alice", c.UserID())
	assert.True(t, reg.IsOnline("alice"))
}

func TestDispatchDropsEventsBeforeSetup(t *testing.T) {
	g, _, hub := newTestGateway(t)
	listener := newTestClient("h0")
	g.lifecycle.Identify(context.Background(), listener, "bob")
	hub.JoinChat(listener, "c1")
	drain(t, listener)

	anon := newTestClient("h1")
	g.dispatch(context.Background(), anon, events.Envelope{
		Type:    events.Typing,
		Payload: raw(t, events.ChatRoomPayload{ChatID: "c1"}),
	})

	assert.Empty(t, drain(t, listener), "anonymous connections must not reach handlers")
}

func TestDispatchUnknownEventIsCountedNotFatal(t *testing.T) {
	g, _, _ := newTestGateway(t)
	c := newTestClient("h1")

	assert.NotPanics(t, func() {
		g.dispatch(context.Background(), c, events.Envelope{Type: "mystery-event"})
	})
}

func TestUnknownEventTypesShareOneLabel(t *testing.T) {
	// the event type is client input; distinct garbage names must all
	// land on the fixed "unknown" label instead of minting new series
	g, _, _ := newTestGateway(t)
	c := newTestClient("h1")
	before := testutil.ToFloat64(metrics.EventsInbound.WithLabelValues("unknown"))

	g.dispatch(context.Background(), c, events.Envelope{Type: "garbage-1"})
	g.dispatch(context.Background(), c, events.Envelope{Type: "garbage-2"})

	assert.Equal(t, before+2, testutil.ToFloat64(metrics.EventsInbound.WithLabelValues("unknown")))
	assert.Zero(t, testutil.ToFloat64(metrics.EventsInbound.WithLabelValues("garbage-1")))
	assert.Zero(t, testutil.ToFloat64(metrics.EventsInbound.WithLabelValues("garbage-2")))
}

func TestJoinAndTypingFlow(t *testing.T) {
	g, _, _ := newTestGateway(t)
	ctx := context.Background()

	alice := newTestClient("h1")
	aliceTab := newTestClient("h2")
	bob := newTestClient("h3")
	g.dispatch(ctx, alice, events.Envelope{Type: events.Setup, Payload: raw(t, events.SetupPayload{UserID: "alice"})})
	g.dispatch(ctx, aliceTab, events.Envelope{Type: events.Setup, Payload: raw(t, events.SetupPayload{UserID: "alice"})})
	g.dispatch(ctx, bob, events.Envelope{Type: events.Setup, Payload: raw(t, events.SetupPayload{UserID: "bob"})})
	drain(t, alice)
	drain(t, aliceTab)
	drain(t, bob)

	g.dispatch(ctx, alice, events.Envelope{Type: events.JoinChat, Payload: raw(t, events.ChatRoomPayload{ChatID: "c1"})})
	g.dispatch(ctx, aliceTab, events.Envelope{Type: events.JoinChat, Payload: raw(t, events.ChatRoomPayload{ChatID: "c1"})})
	// legacy clients send the chat id as a bare string
	g.dispatch(ctx, bob, events.Envelope{Type: events.JoinChat, Payload: raw(t, "c1")})

	g.dispatch(ctx, alice, events.Envelope{Type: events.Typing, Payload: raw(t, events.ChatRoomPayload{ChatID: "c1"})})

	assert.Contains(t, drain(t, bob), events.Typing)
	assert.Empty(t, drain(t, alice), "typist's own session is excluded")
	assert.Empty(t, drain(t, aliceTab), "typist's other tabs are excluded too")

	g.dispatch(ctx, bob, events.Envelope{Type: events.LeaveChat, Payload: raw(t, events.ChatRoomPayload{ChatID: "c1"})})
	g.dispatch(ctx, alice, events.Envelope{Type: events.StopTyping, Payload: raw(t, events.ChatRoomPayload{ChatID: "c1"})})
	assert.Empty(t, drain(t, bob))
}

func TestDecodeChatID(t *testing.T) {
	assert.Equal(t, "c1", decodeChatID(json.RawMessage(`{"chat_id":"c1"}`)))
	assert.Equal(t, "c1", decodeChatID(json.RawMessage(`"c1"`)))
	assert.Equal(t, "", decodeChatID(json.RawMessage(`{"other":"c1"}`)))
	assert.Equal(t, "", decodeChatID(json.RawMessage(`42`)))
}

func TestSetupRejectsEmptyUser(t *testing.T) {
	g, reg, _ := newTestGateway(t)
	c := newTestClient("h1")

	g.dispatch(context.Background(), c, events.Envelope{Type: events.Setup, Payload: raw(t, events.SetupPayload{})})

	assert.Empty(t, c.UserID())
	assert.Empty(t, reg.Online())
}
