package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/fathima-sithara/realtime-chat/internal/models"
)

type MessageRepository struct {
	coll *mongo.Collection
}

func NewMessageRepository(coll *mongo.Collection) *MessageRepository {
	ensureIndex(coll,
		bson.D{{Key: "chat_id", Value: 1}, {Key: "created_at", Value: -1}},
		options.Index().SetName("chat_created_idx"))
	return &MessageRepository{coll: coll}
}

// Save inserts the message if it does not exist yet. Re-sends of the
// same id are no-ops.
func (r *MessageRepository) Save(ctx context.Context, m *models.Message) error {
	filter := bson.M{"_id": m.ID}
	update := bson.M{"$setOnInsert": m}
	opts := options.Update().SetUpsert(true)
	_, err := r.coll.UpdateOne(ctx, filter, update, opts)
	return err
}

func (r *MessageRepository) Get(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// List returns up to limit messages of a chat, newest first, optionally
// only those created before the given time.
func (r *MessageRepository) List(ctx context.Context, chatID string, limit int64, before time.Time) ([]*models.Message, error) {
	filter := bson.M{"chat_id": chatID, "deleted_for_everyone": false}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*models.Message{}
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

// AppendDelivered adds a delivery receipt for userID unless one exists.
// The filter keys the push on the absence of the user, so concurrent
// acks cannot produce a duplicate entry.
func (r *MessageRepository) AppendDelivered(ctx context.Context, messageID, userID string, at time.Time) error {
	filter := bson.M{"_id": messageID, "delivered_to.user_id": bson.M{"$ne": userID}}
	update := bson.M{"$push": bson.M{"delivered_to": models.Receipt{UserID: userID, At: at}}}
	_, err := r.coll.UpdateOne(ctx, filter, update)
	return err
}

// AppendRead adds a read receipt for userID unless one exists.
func (r *MessageRepository) AppendRead(ctx context.Context, messageID, userID string, at time.Time) error {
	filter := bson.M{"_id": messageID, "read_by.user_id": bson.M{"$ne": userID}}
	update := bson.M{"$push": bson.M{"read_by": models.Receipt{UserID: userID, At: at}}}
	_, err := r.coll.UpdateOne(ctx, filter, update)
	return err
}

// SetStatusAtLeast advances the stored status. The filter restricts the
// write to documents whose current status ranks below the target, so a
// stale writer can never downgrade.
func (r *MessageRepository) SetStatusAtLeast(ctx context.Context, messageID, status string) error {
	var lesser []string
	switch status {
	case models.StatusDeliveredAll:
		lesser = []string{models.StatusSent}
	case models.StatusReadAll:
		lesser = []string{models.StatusSent, models.StatusDeliveredAll}
	default:
		return nil
	}
	filter := bson.M{"_id": messageID, "status": bson.M{"$in": lesser}}
	_, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"status": status}})
	return err
}

// MarkReadUpTo marks every message of the chat created at or before
// upTo, sent by someone else and not yet read by userID, as delivered
// and read by userID. Two aggregate statements regardless of backlog
// size. Returns the number of newly-read messages.
func (r *MessageRepository) MarkReadUpTo(ctx context.Context, chatID, userID string, upTo, at time.Time) (int64, error) {
	base := bson.M{
		"chat_id":              chatID,
		"created_at":           bson.M{"$lte": upTo},
		"sender_id":            bson.M{"$ne": userID},
		"deleted_for_everyone": false,
	}

	deliveredFilter := bson.M{"delivered_to.user_id": bson.M{"$ne": userID}}
	for k, v := range base {
		deliveredFilter[k] = v
	}
	_, err := r.coll.UpdateMany(ctx, deliveredFilter,
		bson.M{"$push": bson.M{"delivered_to": models.Receipt{UserID: userID, At: at}}})
	if err != nil {
		return 0, err
	}

	readFilter := bson.M{"read_by.user_id": bson.M{"$ne": userID}}
	for k, v := range base {
		readFilter[k] = v
	}
	res, err := r.coll.UpdateMany(ctx, readFilter,
		bson.M{"$push": bson.M{"read_by": models.Receipt{UserID: userID, At: at}}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// RecomputeStatusUpTo re-derives the stored status of every message of
// the chat up to upTo after a batch receipt mutation. Coverage compares
// each message's receipt sets against the given membership minus that
// message's own sender. Two aggregate statements regardless of backlog
// size; the status $in guards keep stale writers from downgrading.
func (r *MessageRepository) RecomputeStatusUpTo(ctx context.Context, chatID string, upTo time.Time, members []string) error {
	base := bson.M{
		"chat_id":              chatID,
		"created_at":           bson.M{"$lte": upTo},
		"deleted_for_everyone": false,
	}
	covered := func(field string) bson.M {
		return bson.M{"$setIsSubset": bson.A{
			bson.M{"$setDifference": bson.A{members, bson.A{"$sender_id"}}},
			bson.M{"$ifNull": bson.A{"$" + field + ".user_id", bson.A{}}},
		}}
	}

	readFilter := bson.M{
		"status": bson.M{"$in": []string{models.StatusSent, models.StatusDeliveredAll}},
		"$expr":  covered("read_by"),
	}
	for k, v := range base {
		readFilter[k] = v
	}
	if _, err := r.coll.UpdateMany(ctx, readFilter,
		bson.M{"$set": bson.M{"status": models.StatusReadAll}}); err != nil {
		return err
	}

	deliveredFilter := bson.M{
		"status": models.StatusSent,
		"$expr":  covered("delivered_to"),
	}
	for k, v := range base {
		deliveredFilter[k] = v
	}
	_, err := r.coll.UpdateMany(ctx, deliveredFilter,
		bson.M{"$set": bson.M{"status": models.StatusDeliveredAll}})
	return err
}

func (r *MessageRepository) IncThreadCount(ctx context.Context, parentID string) error {
	_, err := r.coll.UpdateByID(ctx, parentID, bson.M{"$inc": bson.M{"thread_count": 1}})
	return err
}

// SoftDelete hides the message for one user.
func (r *MessageRepository) SoftDelete(ctx context.Context, messageID, userID string) error {
	_, err := r.coll.UpdateByID(ctx, messageID, bson.M{"$addToSet": bson.M{"deleted_for": userID}})
	return err
}

// DeleteForEveryone tombstones the message for all participants.
func (r *MessageRepository) DeleteForEveryone(ctx context.Context, messageID string) error {
	_, err := r.coll.UpdateByID(ctx, messageID,
		bson.M{"$set": bson.M{"deleted_for_everyone": true, "content": "", "attachments": nil}})
	return err
}

// NewestVisible returns the most recent top-level message of a chat
// that is not deleted for everyone. Used to recompute the chat's
// latest-message pointer after a delete.
func (r *MessageRepository) NewestVisible(ctx context.Context, chatID string) (*models.Message, error) {
	filter := bson.M{
		"chat_id":              chatID,
		"deleted_for_everyone": false,
		"parent_id":            bson.M{"$exists": false},
	}
	opts := options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})
	var m models.Message
	if err := r.coll.FindOne(ctx, filter, opts).Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// AddReaction records a (user, emoji) pair once.
func (r *MessageRepository) AddReaction(ctx context.Context, messageID, userID, emoji string) error {
	filter := bson.M{
		"_id":       messageID,
		"reactions": bson.M{"$not": bson.M{"$elemMatch": bson.M{"user_id": userID, "emoji": emoji}}},
	}
	update := bson.M{"$push": bson.M{"reactions": models.Reaction{UserID: userID, Emoji: emoji}}}
	_, err := r.coll.UpdateOne(ctx, filter, update)
	return err
}

func (r *MessageRepository) RemoveReaction(ctx context.Context, messageID, userID, emoji string) error {
	update := bson.M{"$pull": bson.M{"reactions": bson.M{"user_id": userID, "emoji": emoji}}}
	_, err := r.coll.UpdateByID(ctx, messageID, update)
	return err
}
