package tracker

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/fathima-sithara/realtime-chat/internal/events"
	"github.com/fathima-sithara/realtime-chat/internal/metrics"
	"github.com/fathima-sithara/realtime-chat/internal/models"
	"github.com/fathima-sithara/realtime-chat/internal/repository"
	"github.com/fathima-sithara/realtime-chat/internal/rooms"
)

// Store is the persistence surface the tracker needs. Every mutation is
// additive and idempotent (per-user guarded appends, monotonic status,
// guarded cursor upsert); the tracker never overwrites whole documents.
type Store interface {
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	ChatMembers(ctx context.Context, chatID string) ([]string, error)
	AppendDelivered(ctx context.Context, messageID, userID string, at time.Time) error
	AppendRead(ctx context.Context, messageID, userID string, at time.Time) error
	SetStatusAtLeast(ctx context.Context, messageID, status string) error
	MarkReadUpTo(ctx context.Context, chatID, userID string, upTo, at time.Time) (int64, error)
	RecomputeStatusUpTo(ctx context.Context, chatID string, upTo time.Time, members []string) error
	AdvanceCursor(ctx context.Context, chatID, userID, messageID string, at time.Time) error
}

// Broadcaster is the slice of the room hub the tracker uses.
type Broadcaster interface {
	ToChat(ctx context.Context, chatID string, name events.Name, payload any, exclude rooms.Session)
}

const stateShards = 32

type shard struct {
	mu     sync.Mutex
	states map[string]*messageState
}

// messageState is the in-memory receipt state for one message, loaded
// lazily from the store and mutated only under its shard lock.
type messageState struct {
	chatID    string
	senderID  string
	createdAt time.Time
	delivered models.Receipts
	read      models.Receipts
	status    string
}

type cursorKey struct {
	chatID string
	userID string
}

// Tracker is the delivery/read state machine. Status per message moves
// sent -> delivered_all -> read_all as monotonic set unions; concurrent
// acks for distinct users commute.
type Tracker struct {
	store   Store
	bcast   Broadcaster
	audit   *events.Publisher
	breaker *gobreaker.CircuitBreaker
	timeout time.Duration
	log     *zap.SugaredLogger

	shards [stateShards]shard

	cursorMu sync.Mutex
	cursors  map[cursorKey]time.Time

	now func() time.Time
}

func New(store Store, bcast Broadcaster, audit *events.Publisher, timeout time.Duration, log *zap.SugaredLogger) *Tracker {
	t := &Tracker{
		store:   store,
		bcast:   bcast,
		audit:   audit,
		timeout: timeout,
		log:     log,
		cursors: make(map[cursorKey]time.Time),
		now:     func() time.Time { return time.Now().UTC() },
	}
	t.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "receipt-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	for i := range t.shards {
		t.shards[i].states = make(map[string]*messageState)
	}
	return t
}

func (t *Tracker) shardFor(messageID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(messageID))
	return &t.shards[h.Sum32()%stateShards]
}

// loadState returns the in-memory state for a message, fetching the
// document outside the shard lock on a cache miss. If another goroutine
// raced the load, its state wins.
func (t *Tracker) loadState(ctx context.Context, messageID string) (*messageState, error) {
	sh := t.shardFor(messageID)
	sh.mu.Lock()
	if st, ok := sh.states[messageID]; ok {
		sh.mu.Unlock()
		return st, nil
	}
	sh.mu.Unlock()

	m, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	fresh := &messageState{
		chatID:    m.ChatID,
		senderID:  m.SenderID,
		createdAt: m.CreatedAt,
		delivered: append(models.Receipts(nil), m.DeliveredTo...),
		read:      append(models.Receipts(nil), m.ReadBy...),
		status:    m.Status,
	}
	if fresh.status == "" {
		fresh.status = models.StatusSent
	}

	sh.mu.Lock()
	if st, ok := sh.states[messageID]; ok {
		sh.mu.Unlock()
		return st, nil
	}
	sh.states[messageID] = fresh
	sh.mu.Unlock()
	return fresh, nil
}

// AckDelivery records that userID's device received the message.
// Sender acks and duplicates are silent no-ops.
func (t *Tracker) AckDelivery(ctx context.Context, messageID, userID string) error {
	if messageID == "" || userID == "" {
		return nil
	}
	st, err := t.loadState(ctx, messageID)
	if err != nil {
		t.logLoadErr("ack-delivery", messageID, err)
		return nil
	}
	if userID == st.senderID {
		return nil
	}
	recipients, err := t.recipients(ctx, st.chatID, st.senderID)
	if err != nil {
		t.log.Warnw("chat lookup failed", "event", "ack-delivery", "message_id", messageID, "chat_id", st.chatID, "err", err)
		return nil
	}

	at := t.now()
	sh := t.shardFor(messageID)
	sh.mu.Lock()
	changed := st.delivered.AddIfAbsent(userID, at)
	deliveredAll := countExcluding(st.delivered, st.senderID) >= len(recipients)
	if deliveredAll {
		st.status = models.AdvanceStatus(st.status, models.StatusDeliveredAll)
	}
	status := st.status
	snapshot := append(models.Receipts(nil), st.delivered...)
	sh.mu.Unlock()

	if !changed {
		return nil
	}

	if err := t.persist(ctx, func(ctx context.Context) error {
		if err := t.store.AppendDelivered(ctx, messageID, userID, at); err != nil {
			return err
		}
		return t.store.SetStatusAtLeast(ctx, messageID, status)
	}); err != nil {
		t.persistFailed("ack-delivery", messageID, userID, err)
		return nil
	}

	payload := events.DeliveredPayload{
		MessageID:    messageID,
		ChatID:       st.chatID,
		DeliveredTo:  snapshot,
		DeliveredAll: deliveredAll,
	}
	t.bcast.ToChat(ctx, st.chatID, events.MessageDelivered, payload, nil)
	t.audit.Publish(ctx, st.chatID, events.MessageDelivered, payload)
	return nil
}

// AckRead records that userID read the message. A read implies
// delivery: the user is inserted into both sets if absent, covering
// clients that never sent an explicit delivery ack.
func (t *Tracker) AckRead(ctx context.Context, messageID, userID string) error {
	if messageID == "" || userID == "" {
		return nil
	}
	st, err := t.loadState(ctx, messageID)
	if err != nil {
		t.logLoadErr("ack-read", messageID, err)
		return nil
	}
	if userID == st.senderID {
		return nil
	}
	recipients, err := t.recipients(ctx, st.chatID, st.senderID)
	if err != nil {
		t.log.Warnw("chat lookup failed", "event", "ack-read", "message_id", messageID, "chat_id", st.chatID, "err", err)
		return nil
	}

	at := t.now()
	sh := t.shardFor(messageID)
	sh.mu.Lock()
	readChanged := st.read.AddIfAbsent(userID, at)
	deliveredChanged := st.delivered.AddIfAbsent(userID, at)
	readAll := countExcluding(st.read, st.senderID) >= len(recipients)
	deliveredAll := countExcluding(st.delivered, st.senderID) >= len(recipients)
	if readAll {
		st.status = models.AdvanceStatus(st.status, models.StatusReadAll)
	} else if deliveredAll {
		// read acks can retroactively complete delivery
		st.status = models.AdvanceStatus(st.status, models.StatusDeliveredAll)
	}
	status := st.status
	sh.mu.Unlock()

	if !readChanged && !deliveredChanged {
		return nil
	}

	if err := t.persist(ctx, func(ctx context.Context) error {
		if deliveredChanged {
			if err := t.store.AppendDelivered(ctx, messageID, userID, at); err != nil {
				return err
			}
		}
		if readChanged {
			if err := t.store.AppendRead(ctx, messageID, userID, at); err != nil {
				return err
			}
		}
		return t.store.SetStatusAtLeast(ctx, messageID, status)
	}); err != nil {
		t.persistFailed("ack-read", messageID, userID, err)
		return nil
	}

	payload := events.ReadPayload{
		MessageID: messageID,
		ChatID:    st.chatID,
		ReaderID:  userID,
		At:        at,
		ReadAll:   readAll,
	}
	t.bcast.ToChat(ctx, st.chatID, events.MessageRead, payload, nil)
	t.audit.Publish(ctx, st.chatID, events.MessageRead, payload)

	t.advanceCursor(ctx, st.chatID, userID, messageID, st.createdAt)
	return nil
}

// AckReadUpTo marks the whole backlog of a chat up to (and including)
// the target message as read by userID, in one aggregate store
// mutation. Emits exactly one participant-last-read broadcast, no
// per-message events. Fails only on storage errors.
func (t *Tracker) AckReadUpTo(ctx context.Context, chatID, userID, messageID string) error {
	if chatID == "" || userID == "" || messageID == "" {
		return nil
	}
	m, err := t.store.GetMessage(ctx, messageID)
	if err != nil {
		t.logLoadErr("ack-read-up-to", messageID, err)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}

	at := t.now()
	var n int64
	if err := t.persist(ctx, func(ctx context.Context) error {
		var err error
		n, err = t.store.MarkReadUpTo(ctx, chatID, userID, m.CreatedAt, at)
		if err != nil {
			return err
		}
		// the batch touched receipt sets wholesale; re-derive each
		// affected message's status against current membership
		members, err := t.store.ChatMembers(ctx, chatID)
		if err != nil {
			return err
		}
		return t.store.RecomputeStatusUpTo(ctx, chatID, m.CreatedAt, members)
	}); err != nil {
		metrics.ReceiptPersistFailures.Inc()
		return err
	}

	// cached per-message states for this chat are now stale; drop them
	// so the next ack reloads the persisted receipts
	t.evictChat(chatID)

	t.log.Debugw("read backlog collapsed", "chat_id", chatID, "user_id", userID, "messages", n)
	t.advanceCursor(ctx, chatID, userID, messageID, m.CreatedAt)
	return nil
}

// advanceCursor moves the per-(chat, user) read cursor forward if the
// message is newer than the current cursor, persists it, and broadcasts
// the advance. Never moves backward.
func (t *Tracker) advanceCursor(ctx context.Context, chatID, userID, messageID string, createdAt time.Time) {
	key := cursorKey{chatID: chatID, userID: userID}
	t.cursorMu.Lock()
	if cur, ok := t.cursors[key]; ok && !createdAt.After(cur) {
		t.cursorMu.Unlock()
		return
	}
	t.cursors[key] = createdAt
	t.cursorMu.Unlock()

	if err := t.persist(ctx, func(ctx context.Context) error {
		return t.store.AdvanceCursor(ctx, chatID, userID, messageID, createdAt)
	}); err != nil {
		t.persistFailed("participant-last-read", messageID, userID, err)
		return
	}

	payload := events.LastReadPayload{
		ChatID:            chatID,
		UserID:            userID,
		LastReadMessageID: messageID,
		LastReadAt:        createdAt,
	}
	t.bcast.ToChat(ctx, chatID, events.ParticipantLastRead, payload, nil)
	t.audit.Publish(ctx, chatID, events.ParticipantLastRead, payload)
}

// Evict drops a message's cached state, e.g. after a delete.
func (t *Tracker) Evict(messageID string) {
	sh := t.shardFor(messageID)
	sh.mu.Lock()
	delete(sh.states, messageID)
	sh.mu.Unlock()
}

func (t *Tracker) evictChat(chatID string) {
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.Lock()
		for id, st := range sh.states {
			if st.chatID == chatID {
				delete(sh.states, id)
			}
		}
		sh.mu.Unlock()
	}
}

// countExcluding is the receipt-set cardinality that participates in
// the *_all comparisons: the sender's own auto-read entry never counts
// toward the recipient denominator.
func countExcluding(rs models.Receipts, senderID string) int {
	n := 0
	for _, r := range rs {
		if r.UserID != senderID {
			n++
		}
	}
	return n
}

// recipients is the denominator for delivered_all/read_all: current
// chat membership minus the sender, fetched at ack time. Removing a
// member shrinks the denominator for messages already in flight.
func (t *Tracker) recipients(ctx context.Context, chatID, senderID string) ([]string, error) {
	members, err := t.store.ChatMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	out := members[:0:0]
	for _, m := range members {
		if m != senderID {
			out = append(out, m)
		}
	}
	return out, nil
}

// persist runs a storage mutation with a bounded timeout behind the
// circuit breaker. No in-memory lock is ever held here.
func (t *Tracker) persist(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := t.breaker.Execute(func() (any, error) {
		cctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()
		return nil, fn(cctx)
	})
	return err
}

func (t *Tracker) persistFailed(event, messageID, userID string, err error) {
	metrics.ReceiptPersistFailures.Inc()
	t.log.Errorw("receipt persist failed", "event", event, "message_id", messageID, "user_id", userID, "err", err)
}

func (t *Tracker) logLoadErr(event, messageID string, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		// message deleted concurrently; benign
		t.log.Debugw("message gone", "event", event, "message_id", messageID)
		return
	}
	t.log.Warnw("message load failed", "event", event, "message_id", messageID, "err", err)
}
