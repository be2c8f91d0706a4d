package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusStore mirrors last-known presence into Redis so other services
// can read it without holding a connection to this one.
//
// Keys: <prefix>:presence:<userID> -> {"status":..., "last_seen":...}
type StatusStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type statusEntry struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewStatusStore(client *redis.Client, prefix string, ttl time.Duration) *StatusStore {
	return &StatusStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *StatusStore) key(userID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, userID)
}

func (s *StatusStore) SetStatus(ctx context.Context, userID, status string, at time.Time) error {
	b, _ := json.Marshal(statusEntry{Status: status, LastSeen: at.Unix()})
	ttl := s.ttl
	if status == "offline" {
		// offline entries stay until overwritten so last_seen survives
		ttl = 0
	}
	return s.client.Set(ctx, s.key(userID), b, ttl).Err()
}

func (s *StatusStore) Get(ctx context.Context, userID string) (status string, lastSeen time.Time, err error) {
	b, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		return "", time.Time{}, err
	}
	var e statusEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return "", time.Time{}, err
	}
	return e.Status, time.Unix(e.LastSeen, 0).UTC(), nil
}
