package repository

import (
	"context"
	"time"

	"github.com/fathima-sithara/realtime-chat/internal/models"
)

// ReceiptStore is the facade the delivery/read tracker persists
// through. It narrows the repositories to additive, idempotent
// mutations only.
type ReceiptStore struct {
	repos *Repositories
}

func NewReceiptStore(repos *Repositories) *ReceiptStore {
	return &ReceiptStore{repos: repos}
}

func (s *ReceiptStore) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	return s.repos.Messages.Get(ctx, id)
}

func (s *ReceiptStore) ChatMembers(ctx context.Context, chatID string) ([]string, error) {
	return s.repos.Chats.Members(ctx, chatID)
}

func (s *ReceiptStore) AppendDelivered(ctx context.Context, messageID, userID string, at time.Time) error {
	return s.repos.Messages.AppendDelivered(ctx, messageID, userID, at)
}

func (s *ReceiptStore) AppendRead(ctx context.Context, messageID, userID string, at time.Time) error {
	return s.repos.Messages.AppendRead(ctx, messageID, userID, at)
}

func (s *ReceiptStore) SetStatusAtLeast(ctx context.Context, messageID, status string) error {
	return s.repos.Messages.SetStatusAtLeast(ctx, messageID, status)
}

func (s *ReceiptStore) MarkReadUpTo(ctx context.Context, chatID, userID string, upTo, at time.Time) (int64, error) {
	return s.repos.Messages.MarkReadUpTo(ctx, chatID, userID, upTo, at)
}

func (s *ReceiptStore) RecomputeStatusUpTo(ctx context.Context, chatID string, upTo time.Time, members []string) error {
	return s.repos.Messages.RecomputeStatusUpTo(ctx, chatID, upTo, members)
}

func (s *ReceiptStore) AdvanceCursor(ctx context.Context, chatID, userID, messageID string, at time.Time) error {
	return s.repos.Participants.AdvanceCursor(ctx, chatID, userID, messageID, at)
}
