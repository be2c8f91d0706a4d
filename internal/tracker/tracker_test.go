package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/models"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/fathima-sithara/realtime-chat/internal/rooms"
)

type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*models.Message
	members  map[string][]string
	cursors  map[string]time.Time

	failAppends bool
	appendCalls int
	upToCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[string]*models.Message),
		members:  make(map[string][]string),
		cursors:  make(map[string]time.Time),
	}
}

func (f *fakeStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *m
	cp.DeliveredTo = append(models.Receipts(nil), m.DeliveredTo...)
	cp.ReadBy = append(models.Receipts(nil), m.ReadBy...)
	return &cp, nil
}

func (f *fakeStore) ChatMembers(_ context.Context, chatID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[chatID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]string(nil), m...), nil
}

func (f *fakeStore) AppendDelivered(_ context.Context, messageID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.failAppends {
		return errors.New("storage down")
	}
	if m, ok := f.messages[messageID]; ok {
		m.DeliveredTo.AddIfAbsent(userID, at)
	}
	return nil
}

func (f *fakeStore) AppendRead(_ context.Context, messageID, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	if f.failAppends {
		return errors.New("storage down")
	}
	if m, ok := f.messages[messageID]; ok {
		m.ReadBy.AddIfAbsent(userID, at)
	}
	return nil
}

func (f *fakeStore) SetStatusAtLeast(_ context.Context, messageID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[messageID]; ok {
		m.Status = models.AdvanceStatus(m.Status, status)
	}
	return nil
}

func (f *fakeStore) MarkReadUpTo(_ context.Context, chatID, userID string, upTo, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upToCalls++
	var n int64
	for _, m := range f.messages {
		if m.ChatID != chatID || m.SenderID == userID || m.CreatedAt.After(upTo) || m.DeletedForEveryone {
			continue
		}
		m.DeliveredTo.AddIfAbsent(userID, at)
		if m.ReadBy.AddIfAbsent(userID, at) {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) RecomputeStatusUpTo(_ context.Context, chatID string, upTo time.Time, members []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ChatID != chatID || m.CreatedAt.After(upTo) || m.DeletedForEveryone {
			continue
		}
		need, read, delivered := 0, 0, 0
		for _, u := range members {
			if u == m.SenderID {
				continue
			}
			need++
			if m.ReadBy.Contains(u) {
				read++
			}
			if m.DeliveredTo.Contains(u) {
				delivered++
			}
		}
		if read >= need {
			m.Status = models.AdvanceStatus(m.Status, models.StatusReadAll)
		} else if delivered >= need {
			m.Status = models.AdvanceStatus(m.Status, models.StatusDeliveredAll)
		}
	}
	return nil
}

func (f *fakeStore) AdvanceCursor(_ context.Context, chatID, userID, _ string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := chatID + "/" + userID
	if cur, ok := f.cursors[key]; !ok || at.After(cur) {
		f.cursors[key] = at
	}
	return nil
}

type broadcastRec struct {
	chatID  string
	name    events.Name
	payload any
}

type fakeBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastRec
}

func (b *fakeBroadcaster) ToChat(_ context.Context, chatID string, name events.Name, payload any, _ rooms.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastRec{chatID: chatID, name: name, payload: payload})
}

func (b *fakeBroadcaster) byName(name events.Name) []broadcastRec {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []broadcastRec
	for _, c := range b.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func newTestTracker(t *testing.T) (*Tracker, *fakeStore, *fakeBroadcaster) {
	t.Helper()
	store := newFakeStore()
	bcast := &fakeBroadcaster{}
	trk := New(store, bcast, nil, time.Second, zap.NewNop().Sugar())
	return trk, store, bcast
}

func seedMessage(store *fakeStore, id, chatID, sender string, at time.Time) {
	store.messages[id] = &models.Message{
		ID:        id,
		ChatID:    chatID,
		SenderID:  sender,
		Content:   "hello",
		Status:    models.StatusSent,
		ReadBy:    models.Receipts{{UserID: sender, At: at}},
		CreatedAt: at,
	}
}

func deliveredSet(t *testing.T, trk *Tracker, messageID string) models.Receipts {
	t.Helper()
	st, err := trk.loadState(context.Background(), messageID)
	require.NoError(t, err)
	sh := trk.shardFor(messageID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return append(models.Receipts(nil), st.delivered...)
}

func statusOf(t *testing.T, trk *Tracker, messageID string) string {
	t.Helper()
	st, err := trk.loadState(context.Background(), messageID)
	require.NoError(t, err)
	sh := trk.shardFor(messageID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return st.status
}

func TestAckDeliveryIdempotent(t *testing.T) {
	trk, store, bcast := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b", "d"}
	seedMessage(store, "m1", "c1", "a", base)
	ctx := context.Background()

	require.NoError(t, trk.AckDelivery(ctx, "m1", "b"))
	first := deliveredSet(t, trk, "m1")
	require.NoError(t, trk.AckDelivery(ctx, "m1", "b"))
	second := deliveredSet(t, trk, "m1")

	assert.Equal(t, first, second)
	assert.Len(t, second, 1)
	// the duplicate must not re-broadcast
	assert.Len(t, bcast.byName(events.MessageDelivered), 1)
}

func TestAckDeliveryCommutes(t *testing.T) {
	run := func(order []string) (models.Receipts, string) {
		trk, store, _ := newTestTracker(t)
		base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		store.members["c1"] = []string{"a", "b", "d"}
		seedMessage(store, "m1", "c1", "a", base)
		for _, u := range order {
			require.NoError(t, trk.AckDelivery(context.Background(), "m1", u))
		}
		return deliveredSet(t, trk, "m1"), statusOf(t, trk, "m1")
	}

	set1, status1 := run([]string{"b", "d"})
	set2, status2 := run([]string{"d", "b"})

	assert.ElementsMatch(t, set1.UserIDs(), set2.UserIDs())
	assert.Equal(t, status1, status2)
	assert.Equal(t, models.StatusDeliveredAll, status1)
}

func TestSenderAcksAreNoOps(t *testing.T) {
	trk, store, bcast := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b"}
	seedMessage(store, "m1", "c1", "a", base)
	ctx := context.Background()

	require.NoError(t, trk.AckDelivery(ctx, "m1", "a"))
	require.NoError(t, trk.AckRead(ctx, "m1", "a"))

	assert.Empty(t, deliveredSet(t, trk, "m1"))
	assert.Equal(t, models.StatusSent, statusOf(t, trk, "m1"))
	assert.Empty(t, bcast.calls)
}

func TestReadImpliesDelivered(t *testing.T) {
	trk, store, _ := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b", "d"}
	seedMessage(store, "m1", "c1", "a", base)

	require.NoError(t, trk.AckRead(context.Background(), "m1", "b"))

	assert.True(t, deliveredSet(t, trk, "m1").Contains("b"))
	store.mu.Lock()
	assert.True(t, store.messages["m1"].DeliveredTo.Contains("b"))
	store.mu.Unlock()
}

func TestGroupScenarioFullLifecycle(t *testing.T) {
	// chat with A, B, D; A sends m1
	trk, store, _ := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b", "d"}
	seedMessage(store, "m1", "c1", "a", base)
	ctx := context.Background()

	require.NoError(t, trk.AckDelivery(ctx, "m1", "b"))
	assert.Equal(t, models.StatusSent, statusOf(t, trk, "m1"))

	require.NoError(t, trk.AckDelivery(ctx, "m1", "d"))
	assert.Equal(t, models.StatusDeliveredAll, statusOf(t, trk, "m1"))

	require.NoError(t, trk.AckRead(ctx, "m1", "b"))
	assert.Equal(t, models.StatusDeliveredAll, statusOf(t, trk, "m1"))

	require.NoError(t, trk.AckRead(ctx, "m1", "d"))
	assert.Equal(t, models.StatusReadAll, statusOf(t, trk, "m1"))
}

func TestStatusNeverRegresses(t *testing.T) {
	trk, store, _ := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b"}
	seedMessage(store, "m1", "c1", "a", base)
	ctx := context.Background()

	require.NoError(t, trk.AckRead(ctx, "m1", "b"))
	assert.Equal(t, models.StatusReadAll, statusOf(t, trk, "m1"))

	// a late delivery ack must not pull the status back
	require.NoError(t, trk.AckDelivery(ctx, "m1", "b"))
	assert.Equal(t, models.StatusReadAll, statusOf(t, trk, "m1"))
}

func TestMembershipShrinkCompletesPending(t *testing.T) {
	// D removed after m2 was sent: recipients becomes {B}, so B's read
	// ack jumps the status straight to read_all
	trk, store, _ := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b", "d"}
	seedMessage(store, "m2", "c1", "a", base)
	ctx := context.Background()

	store.mu.Lock()
	store.members["c1"] = []string{"a", "b"}
	store.mu.Unlock()

	require.NoError(t, trk.AckRead(ctx, "m2", "b"))
	assert.Equal(t, models.StatusReadAll, statusOf(t, trk, "m2"))
}

func TestConcurrentAcksFromDistinctUsers(t *testing.T) {
	trk, store, _ := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	users := []string{"b", "d", "e", "f", "g"}
	store.members["c1"] = append([]string{"a"}, users...)
	seedMessage(store, "m1", "c1", "a", base)

	var wg sync.WaitGroup
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_ = trk.AckDelivery(context.Background(), "m1", u)
		}(u)
	}
	wg.Wait()

	set := deliveredSet(t, trk, "m1")
	assert.ElementsMatch(t, users, set.UserIDs())
	assert.Equal(t, models.StatusDeliveredAll, statusOf(t, trk, "m1"))
}

func TestPersistFailureSuppressesBroadcast(t *testing.T) {
	trk, store, bcast := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b"}
	seedMessage(store, "m1", "c1", "a", base)
	store.failAppends = true

	require.NoError(t, trk.AckDelivery(context.Background(), "m1", "b"))

	assert.Empty(t, bcast.byName(events.MessageDelivered))
	// in-memory state is not rolled back
	assert.True(t, deliveredSet(t, trk, "m1").Contains("b"))
}

func TestAckUnknownMessageIsBenign(t *testing.T) {
	trk, _, bcast := newTestTracker(t)
	require.NoError(t, trk.AckDelivery(context.Background(), "nope", "b"))
	require.NoError(t, trk.AckRead(context.Background(), "nope", "b"))
	assert.Empty(t, bcast.calls)
}

func TestAckReadAdvancesCursorOnce(t *testing.T) {
	trk, store, bcast := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b"}
	seedMessage(store, "m1", "c1", "a", base)
	seedMessage(store, "m2", "c1", "a", base.Add(time.Minute))
	ctx := context.Background()

	require.NoError(t, trk.AckRead(ctx, "m2", "b"))
	require.NoError(t, trk.AckRead(ctx, "m1", "b"))

	// reading the older m1 after m2 must not move the cursor backward
	assert.Equal(t, base.Add(time.Minute), store.cursors["c1/b"])
	assert.Len(t, bcast.byName(events.ParticipantLastRead), 1)
}

func TestAckReadUpToCollapsesBacklog(t *testing.T) {
	trk, store, bcast := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b"}
	for i := 0; i < 5; i++ {
		seedMessage(store, "m"+string(rune('1'+i)), "c1", "a", base.Add(time.Duration(i)*time.Minute))
	}
	ctx := context.Background()

	require.NoError(t, trk.AckReadUpTo(ctx, "c1", "b", "m5"))

	store.mu.Lock()
	for id, m := range store.messages {
		assert.True(t, m.ReadBy.Contains("b"), "message %s missing read receipt", id)
		assert.True(t, m.DeliveredTo.Contains("b"), "message %s missing delivery receipt", id)
	}
	store.mu.Unlock()

	assert.Equal(t, base.Add(4*time.Minute), store.cursors["c1/b"])
	// one aggregate store pass, one cursor broadcast, no per-message events
	assert.Equal(t, 1, store.upToCalls)
	assert.Len(t, bcast.byName(events.ParticipantLastRead), 1)
	assert.Empty(t, bcast.byName(events.MessageRead))
}

func TestAckReadUpToDerivesStatus(t *testing.T) {
	// batch reads must leave the same derived status a per-message ack
	// would: the sole recipient reading up to m1 completes read_all
	trk, store, _ := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b"}
	seedMessage(store, "m1", "c1", "a", base)
	ctx := context.Background()

	require.NoError(t, trk.AckReadUpTo(ctx, "c1", "b", "m1"))

	store.mu.Lock()
	assert.Equal(t, models.StatusReadAll, store.messages["m1"].Status)
	store.mu.Unlock()
	assert.Equal(t, models.StatusReadAll, statusOf(t, trk, "m1"))
}

func TestAckReadUpToDerivesStatusPerReader(t *testing.T) {
	// three members: the first reader's batch leaves the backlog
	// pending, the second completes it
	trk, store, _ := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b", "d"}
	seedMessage(store, "m1", "c1", "a", base)
	seedMessage(store, "m2", "c1", "a", base.Add(time.Minute))
	ctx := context.Background()

	require.NoError(t, trk.AckReadUpTo(ctx, "c1", "b", "m2"))
	assert.Equal(t, models.StatusSent, statusOf(t, trk, "m1"))
	assert.Equal(t, models.StatusSent, statusOf(t, trk, "m2"))

	require.NoError(t, trk.AckReadUpTo(ctx, "c1", "d", "m2"))
	assert.Equal(t, models.StatusReadAll, statusOf(t, trk, "m1"))
	assert.Equal(t, models.StatusReadAll, statusOf(t, trk, "m2"))
}

func TestAckReadUpToEmptyBacklogSucceeds(t *testing.T) {
	trk, store, bcast := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b"}
	seedMessage(store, "m1", "c1", "a", base)
	ctx := context.Background()

	require.NoError(t, trk.AckReadUpTo(ctx, "c1", "b", "m1"))
	require.NoError(t, trk.AckReadUpTo(ctx, "c1", "b", "m1"))

	assert.Len(t, bcast.byName(events.ParticipantLastRead), 1)
}

func TestStateReloadsFromStore(t *testing.T) {
	// receipts persisted by a previous process are visible after the
	// in-memory cache is dropped
	trk, store, _ := newTestTracker(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.members["c1"] = []string{"a", "b", "d"}
	seedMessage(store, "m1", "c1", "a", base)
	ctx := context.Background()

	require.NoError(t, trk.AckDelivery(ctx, "m1", "b"))
	trk.Evict("m1")

	require.NoError(t, trk.AckDelivery(ctx, "m1", "d"))
	set := deliveredSet(t, trk, "m1")
	assert.ElementsMatch(t, []string{"b", "d"}, set.UserIDs())
	assert.Equal(t, models.StatusDeliveredAll, statusOf(t, trk, "m1"))
}
