package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/realtime-chat/internal/models"
)

type UserRepository struct {
	coll *mongo.Collection
}

func NewUserRepository(coll *mongo.Collection) *UserRepository {
	return &UserRepository{coll: coll}
}

// SetStatus persists the last-known presence status and timestamp.
// Best-effort from the caller's point of view; the presence registry
// remains the live source of truth.
func (r *UserRepository) SetStatus(ctx context.Context, userID, status string, lastActive time.Time) error {
	update := bson.M{"$set": bson.M{"status": status, "last_active": lastActive}}
	opts := options.Update().SetUpsert(true)
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID}, update, opts)
	return err
}

func (r *UserRepository) SetAvatar(ctx context.Context, userID, avatar string) error {
	update := bson.M{"$set": bson.M{"avatar": avatar}}
	opts := options.Update().SetUpsert(true)
	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": userID}, update, opts)
	return err
}

func (r *UserRepository) Get(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	if err := r.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&u); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
