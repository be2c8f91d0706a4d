package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/realtime-chat/internal/models"
)

type ParticipantRepository struct {
	coll *mongo.Collection
}

func NewParticipantRepository(coll *mongo.Collection) *ParticipantRepository {
	ensureIndex(coll,
		bson.D{{Key: "chat_id", Value: 1}, {Key: "user_id", Value: 1}},
		options.Index().SetName("chat_user_idx").SetUnique(true))
	return &ParticipantRepository{coll: coll}
}

func (r *ParticipantRepository) Get(ctx context.Context, chatID, userID string) (*models.Participant, error) {
	var p models.Participant
	filter := bson.M{"chat_id": chatID, "user_id": userID}
	if err := r.coll.FindOne(ctx, filter).Decode(&p); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// AdvanceCursor moves the (chat, user) read cursor forward to the given
// message. The first update is guarded on last_read_at so a stale ack
// can never move the cursor backward; the upsert only fires when no
// cursor document exists yet.
func (r *ParticipantRepository) AdvanceCursor(ctx context.Context, chatID, userID, messageID string, at time.Time) error {
	now := time.Now().UTC()
	set := bson.M{
		"last_read_message_id": messageID,
		"last_read_at":         at,
		"updated_at":           now,
	}

	guarded := bson.M{"chat_id": chatID, "user_id": userID, "last_read_at": bson.M{"$lt": at}}
	res, err := r.coll.UpdateOne(ctx, guarded, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	insert := bson.M{"$setOnInsert": models.Participant{
		ChatID:            chatID,
		UserID:            userID,
		LastReadMessageID: messageID,
		LastReadAt:        at,
		UpdatedAt:         now,
	}}
	opts := options.Update().SetUpsert(true)
	_, err = r.coll.UpdateOne(ctx, bson.M{"chat_id": chatID, "user_id": userID}, insert, opts)
	if mongo.IsDuplicateKeyError(err) {
		// lost the race to a newer cursor; nothing to do
		return nil
	}
	return err
}
