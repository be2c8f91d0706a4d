package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/realtime-chat/internal/models"
)

type ChatRepository struct {
	coll *mongo.Collection
}

func NewChatRepository(coll *mongo.Collection) *ChatRepository {
	ensureIndex(coll,
		bson.D{{Key: "members", Value: 1}},
		options.Index().SetName("members_idx"))
	return &ChatRepository{coll: coll}
}

func (r *ChatRepository) Create(ctx context.Context, c *models.Chat) error {
	filter := bson.M{"_id": c.ID}
	update := bson.M{"$setOnInsert": c}
	opts := options.Update().SetUpsert(true)
	_, err := r.coll.UpdateOne(ctx, filter, update, opts)
	return err
}

func (r *ChatRepository) Get(ctx context.Context, id string) (*models.Chat, error) {
	var c models.Chat
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Members returns the current membership only. The tracker calls this
// on every ack so the recipient denominator always reflects membership
// at ack time.
func (r *ChatRepository) Members(ctx context.Context, id string) ([]string, error) {
	var c struct {
		Members []string `bson:"members"`
	}
	opts := options.FindOne().SetProjection(bson.M{"members": 1})
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}, opts).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c.Members, nil
}

func (r *ChatRepository) SetLatestMessage(ctx context.Context, chatID string, m *models.Message) error {
	update := bson.M{"$set": bson.M{"latest_message": m, "updated_at": time.Now().UTC()}}
	_, err := r.coll.UpdateByID(ctx, chatID, update)
	return err
}

func (r *ChatRepository) ClearLatestMessage(ctx context.Context, chatID string) error {
	update := bson.M{
		"$unset": bson.M{"latest_message": ""},
		"$set":   bson.M{"updated_at": time.Now().UTC()},
	}
	_, err := r.coll.UpdateByID(ctx, chatID, update)
	return err
}

func (r *ChatRepository) AddMember(ctx context.Context, chatID, userID string) error {
	update := bson.M{
		"$addToSet": bson.M{"members": userID},
		"$set":      bson.M{"updated_at": time.Now().UTC()},
	}
	_, err := r.coll.UpdateByID(ctx, chatID, update)
	return err
}

func (r *ChatRepository) RemoveMember(ctx context.Context, chatID, userID string) error {
	update := bson.M{
		"$pull": bson.M{"members": userID},
		"$set":  bson.M{"updated_at": time.Now().UTC()},
	}
	_, err := r.coll.UpdateByID(ctx, chatID, update)
	return err
}

func (r *ChatRepository) Rename(ctx context.Context, chatID, name string) error {
	update := bson.M{"$set": bson.M{"name": name, "updated_at": time.Now().UTC()}}
	_, err := r.coll.UpdateByID(ctx, chatID, update)
	return err
}

func (r *ChatRepository) SetGroupAdmin(ctx context.Context, chatID, userID string) error {
	update := bson.M{"$set": bson.M{"group_admin_id": userID, "updated_at": time.Now().UTC()}}
	_, err := r.coll.UpdateByID(ctx, chatID, update)
	return err
}

func (r *ChatRepository) Delete(ctx context.Context, chatID string) error {
	_, err := r.coll.DeleteOne(ctx, bson.M{"_id": chatID})
	return err
}
