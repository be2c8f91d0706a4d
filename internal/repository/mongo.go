package repository

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/realtime-chat/internal/config"
)

var ErrNotFound = errors.New("not found")

func NewMongoClient(cfg *config.Config) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Mongo.URI))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return client, nil
}

// Repositories bundles the per-collection repositories over one database.
type Repositories struct {
	Messages     *MessageRepository
	Chats        *ChatRepository
	Participants *ParticipantRepository
	Users        *UserRepository
}

func New(db *mongo.Database) *Repositories {
	return &Repositories{
		Messages:     NewMessageRepository(db.Collection("messages")),
		Chats:        NewChatRepository(db.Collection("chats")),
		Participants: NewParticipantRepository(db.Collection("participants")),
		Users:        NewUserRepository(db.Collection("users")),
	}
}

func ensureIndex(coll *mongo.Collection, keys bson.D, opts *options.IndexOptions) {
	ix := mongo.IndexModel{Keys: keys, Options: opts}
	_, _ = coll.Indexes().CreateOne(context.Background(), ix)
}
